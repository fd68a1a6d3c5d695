package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/visaprep/backend/models"
	"golang.org/x/sync/singleflight"
)

const (
	feedbackTemperature = 0.35
	feedbackMaxTokens   = 500

	emptyInterviewFeedback = "Interview finished, but there were no turns to analyze."
	feedbackUnavailable    = "We could not generate AI feedback for this interview right now."
	defaultOverallFeedback = "Here is your overall feedback on the interview."

	FeedbackNotSavedWarning = "Feedback generated but not saved."
)

const feedbackSystemPrompt = `You are an experienced U.S. visa interview coach reviewing an F-1 mock interview transcript.
Return ONLY a JSON object, with no code fences and no extra text, shaped exactly like:
{"overall": string, "strengths": [string], "improvements": [string], "example_rewrite": string}
"overall" is a short paragraph on how convincing the candidate was.
"strengths" and "improvements" hold 2 to 4 concise points each.
"example_rewrite" rewrites the candidate's weakest answer the way a strong applicant would say it.`

type FinalizeResult struct {
	Feedback *models.Feedback `json:"feedback"`
	Warning  string           `json:"warning,omitempty"`
}

// FeedbackSynthesizer turns a finished transcript into stored feedback.
type FeedbackSynthesizer struct {
	store     SessionStore
	completer TextCompleter
	timeout   time.Duration
	now       func() time.Time
	group     singleflight.Group
}

const defaultFeedbackTimeout = 45 * time.Second

func NewFeedbackSynthesizer(store SessionStore, completer TextCompleter, timeout time.Duration) *FeedbackSynthesizer {
	if timeout <= 0 {
		timeout = defaultFeedbackTimeout
	}
	return &FeedbackSynthesizer{
		store:     store,
		completer: completer,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Finalize produces feedback for the session, or returns the stored feedback
// if it was already produced. Concurrent calls for one session share a
// single model call, which is bounded by the synthesizer timeout and not by
// any one caller's context.
func (f *FeedbackSynthesizer) Finalize(ctx context.Context, sessionID, userID string) (*FinalizeResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}

	shared := context.WithoutCancel(ctx)
	ch := f.group.DoChan(sessionID+"/"+userID, func() (interface{}, error) {
		return f.finalize(shared, sessionID, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		result := *res.Val.(*FinalizeResult)
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FeedbackSynthesizer) finalize(ctx context.Context, sessionID, userID string) (*FinalizeResult, error) {
	session, err := f.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load session: %w", ErrInternal, err)
	}
	if session == nil {
		return nil, ErrNotFound
	}
	if session.Feedback != nil {
		return &FinalizeResult{Feedback: session.Feedback}, nil
	}
	if session.Status == models.SessionStatusAbandoned {
		return nil, ErrSessionAbandoned
	}

	turns, err := f.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load turns: %w", ErrInternal, err)
	}

	var feedback *models.Feedback
	if len(turns) == 0 {
		feedback = &models.Feedback{Overall: emptyInterviewFeedback}
	} else {
		feedback = f.generate(ctx, sessionID, turns)
	}
	normalizeFeedback(feedback)

	endedAt := f.now().UTC()
	if session.EndedAt != nil {
		endedAt = session.EndedAt.UTC()
	}
	feedback.TotalTurns = len(turns)
	feedback.EndedAt = endedAt

	saved, err := f.store.SaveFeedback(ctx, sessionID, userID, feedback)
	if err != nil {
		slog.Error("Failed to save feedback", "error", err, "session_id", sessionID)
		return &FinalizeResult{Feedback: feedback, Warning: FeedbackNotSavedWarning}, nil
	}
	if !saved {
		// lost the race against another finalizer, or the session was
		// abandoned in the meantime
		current, err := f.store.GetSession(ctx, sessionID, userID)
		if err == nil && current != nil {
			if current.Feedback != nil {
				return &FinalizeResult{Feedback: current.Feedback}, nil
			}
			if current.Status == models.SessionStatusAbandoned {
				return nil, ErrSessionAbandoned
			}
		}
		return &FinalizeResult{Feedback: feedback, Warning: FeedbackNotSavedWarning}, nil
	}

	slog.Info("Feedback saved", "session_id", sessionID, "user_id", userID, "total_turns", len(turns))
	return &FinalizeResult{Feedback: feedback}, nil
}

func (f *FeedbackSynthesizer) generate(ctx context.Context, sessionID string, turns []models.Turn) *models.Feedback {
	req := CompletionRequest{
		SystemPrompt: feedbackSystemPrompt,
		Messages: []ChatMessage{{
			Role:    RoleUser,
			Content: "Mock visa interview transcript:\n\n" + strings.Join(transcriptBlocks(turns), "\n\n"),
		}},
		Temperature: feedbackTemperature,
		MaxTokens:   feedbackMaxTokens,
	}

	text, err := completeWithTimeout(ctx, f.completer, f.timeout, req)
	if err == nil && text == "" {
		err = errors.New("empty feedback response")
	}
	if err != nil {
		slog.Warn("Failed to generate feedback, using placeholder", "error", err, "session_id", sessionID)
		return &models.Feedback{Overall: feedbackUnavailable}
	}
	return parseFeedback(text)
}

// parseFeedback reads the model's JSON answer. Output that is not a JSON
// object is kept verbatim as the overall comment.
func parseFeedback(text string) *models.Feedback {
	cleaned := stripCodeFences(text)

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil || raw == nil {
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		raw = nil
		if start >= 0 && end > start {
			if json.Unmarshal([]byte(cleaned[start:end+1]), &raw) != nil {
				raw = nil
			}
		}
	}
	if raw == nil {
		trimmed := strings.TrimSpace(text)
		return &models.Feedback{Overall: trimmed, Raw: trimmed}
	}

	return &models.Feedback{
		Overall:        scalarString(raw["overall"]),
		Strengths:      normalizeList(raw["strengths"]),
		Improvements:   normalizeList(raw["improvements"]),
		ExampleRewrite: scalarString(raw["example_rewrite"]),
	}
}

// normalizeFeedback guarantees list fields are non-nil and overall is set.
func normalizeFeedback(fb *models.Feedback) {
	if fb.Strengths == nil {
		fb.Strengths = []string{}
	}
	if fb.Improvements == nil {
		fb.Improvements = []string{}
	}
	if strings.TrimSpace(fb.Overall) == "" {
		fb.Overall = defaultOverallFeedback
	}
}

func stripCodeFences(text string) string {
	out := strings.TrimSpace(text)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```JSON")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}

// normalizeList coerces a decoded JSON value to a list of strings: absent or
// null becomes empty, a scalar becomes a one element list.
func normalizeList(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return []string{}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := strings.TrimSpace(scalarString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := strings.TrimSpace(scalarString(val)); s != "" {
			return []string{s}
		}
		return []string{}
	}
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
