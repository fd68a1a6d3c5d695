package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/visaprep/backend/models"
	"github.com/visaprep/backend/repository"
)

const (
	maxTurnAttempts     = 3
	officerHistoryTurns = 10

	officerTemperature = 0.25
	officerMaxTokens   = 120
)

const officerSystemPrompt = `You are a U.S. consular officer running an F-1 visa mock interview.
Your job is to ask the NEXT QUESTION ONLY.
Do NOT add prefixes like "Officer:" or "Consular Officer:".
Keep it short, direct and professional, the way a real officer speaks at the window.
You may briefly acknowledge the candidate's previous answer, but never evaluate it.
Do not end the interview and do not say goodbye.`

// TurnResult is what the client sees after submitting one answer.
type TurnResult struct {
	AIText      string `json:"aiText"`
	TurnNo      int    `json:"turnNo"`
	Done        bool   `json:"done"`
	QuestionKey string `json:"questionKey,omitempty"`
	Code        string `json:"code,omitempty"`
}

// TurnEngine runs the interview state machine: one call per candidate answer.
type TurnEngine struct {
	store      SessionStore
	bank       *QuestionBank
	completer  TextCompleter
	locker     SessionLocker
	timeout    time.Duration
	now        func() time.Time
	onComplete func(sessionID, userID string)
}

type TurnEngineOption func(*TurnEngine)

// WithCompletionTimeout bounds each officer line model call.
func WithCompletionTimeout(d time.Duration) TurnEngineOption {
	return func(e *TurnEngine) { e.timeout = d }
}

func WithClock(now func() time.Time) TurnEngineOption {
	return func(e *TurnEngine) { e.now = now }
}

// WithCompletionHook registers fn to run whenever a turn completes its
// session. fn must not block.
func WithCompletionHook(fn func(sessionID, userID string)) TurnEngineOption {
	return func(e *TurnEngine) { e.onComplete = fn }
}

// NewTurnEngine wires an engine. A nil locker falls back to an in-process one.
func NewTurnEngine(store SessionStore, bank *QuestionBank, completer TextCompleter, locker SessionLocker, opts ...TurnEngineOption) *TurnEngine {
	if locker == nil {
		locker, _ = NewSessionLocker(LockerTypeMemory)
	}
	e := &TurnEngine{
		store:     store,
		bank:      bank,
		completer: completer,
		locker:    locker,
		timeout:   20 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitTurn records the candidate's answer and returns the officer's next
// line. Repeating a call with the same clientTurnToken returns the recorded
// result without side effects.
func (e *TurnEngine) SubmitTurn(ctx context.Context, sessionID, userID, userText, clientTurnToken string) (*TurnResult, error) {
	clientTurnToken = strings.TrimSpace(clientTurnToken)
	if sessionID == "" || clientTurnToken == "" {
		return nil, fmt.Errorf("%w: sessionId and clientTurnToken are required", ErrInvalidRequest)
	}

	unlock, err := e.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to lock session: %w", ErrInternal, err)
	}
	defer unlock()

	for attempt := 1; attempt <= maxTurnAttempts; attempt++ {
		result, err := e.submit(ctx, sessionID, userID, userText, clientTurnToken)
		if errors.Is(err, repository.ErrTurnConflict) {
			slog.Warn("Turn number conflict, retrying", "session_id", sessionID, "attempt", attempt)
			continue
		}
		return result, err
	}
	return nil, fmt.Errorf("%w: turn number conflict persisted after %d attempts", ErrInternal, maxTurnAttempts)
}

func (e *TurnEngine) submit(ctx context.Context, sessionID, userID, userText, token string) (*TurnResult, error) {
	session, err := e.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load session: %w", ErrInternal, err)
	}
	if session == nil {
		return nil, ErrNotFound
	}

	existing, err := e.store.FindTurnByToken(ctx, sessionID, token)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to look up turn token: %w", ErrInternal, err)
	}

	if session.Status != models.SessionStatusActive {
		// a retry of the turn that closed the session gets its recorded answer
		if existing != nil {
			if replay := replayTurn(existing, session.MaxTurns); replay.Done {
				return replay, nil
			}
		}
		return closedResult(session.TotalTurns, CodeSessionCompleted), nil
	}

	if existing != nil {
		slog.Info("Replaying recorded turn", "session_id", sessionID, "turn_no", existing.TurnNo)
		return replayTurn(existing, session.MaxTurns), nil
	}

	nextTurnNo := session.TotalTurns + 1
	if nextTurnNo > session.MaxTurns {
		e.completeSession(ctx, session)
		return closedResult(session.TotalTurns, CodeMaxTurnsReached), nil
	}

	turns, err := e.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load turns: %w", ErrInternal, err)
	}

	// a closing turn was stored but the status update that should have
	// followed it was lost
	if n := len(turns); n > 0 && turns[n-1].AIText == ClosingText {
		e.completeSession(ctx, session)
		return closedResult(session.TotalTurns, CodeSessionCompleted), nil
	}

	if userAskedToStop(userText) {
		return e.persist(ctx, session, &models.Turn{
			SessionID:       sessionID,
			TurnNo:          nextTurnNo,
			UserText:        userText,
			AIText:          ClosingText,
			QuestionKey:     QuestionKeyUserEnded,
			ClientTurnToken: token,
		}, true)
	}

	question := e.selectQuestion(nextTurnNo, turns, userText)
	if question == nil {
		e.completeSession(ctx, session)
		return closedResult(session.TotalTurns, ""), nil
	}

	final := nextTurnNo >= session.MaxTurns
	aiText := ClosingText
	if !final {
		aiText = e.composeOfficerLine(ctx, turns, question, userText)
		if officerSaidGoodbye(aiText) {
			final = true
			aiText = ClosingText
		}
	}

	return e.persist(ctx, session, &models.Turn{
		SessionID:       sessionID,
		TurnNo:          nextTurnNo,
		UserText:        userText,
		AIText:          aiText,
		QuestionKey:     question.ID,
		ClientTurnToken: token,
	}, final)
}

func (e *TurnEngine) selectQuestion(nextTurnNo int, turns []models.Turn, userText string) *Question {
	if nextTurnNo <= e.bank.FixedLen() {
		return e.bank.NextFixedQuestion(nextTurnNo)
	}

	asked := make(map[string]bool, len(turns))
	answers := make([]string, 0, len(turns)+1)
	for _, t := range turns {
		asked[t.QuestionKey] = true
		answers = append(answers, t.UserText)
	}
	answers = append(answers, userText)
	return e.bank.PickRandomQuestion(asked, answers)
}

// composeOfficerLine asks the model to phrase the selected question. The raw
// question text is used whenever the model fails or returns nothing.
func (e *TurnEngine) composeOfficerLine(ctx context.Context, history []models.Turn, q *Question, userText string) string {
	req := CompletionRequest{
		SystemPrompt: officerSystemPrompt,
		Temperature:  officerTemperature,
		MaxTokens:    officerMaxTokens,
	}

	blocks := transcriptBlocks(history)
	if len(blocks) > officerHistoryTurns {
		blocks = blocks[len(blocks)-officerHistoryTurns:]
	}
	if len(blocks) > 0 {
		req.Messages = append(req.Messages, ChatMessage{
			Role:    RoleUser,
			Content: "Previous Q&A:\n" + strings.Join(blocks, "\n\n"),
		})
	}
	req.Messages = append(req.Messages, ChatMessage{
		Role:    RoleUser,
		Content: fmt.Sprintf("Ask the candidate this question, without changing the meaning: \"%s\"", q.Text),
	})
	if strings.TrimSpace(userText) != "" {
		req.Messages = append(req.Messages, ChatMessage{
			Role:    RoleUser,
			Content: fmt.Sprintf("Candidate's latest answer: \"%s\"", userText),
		})
	}

	text, err := completeWithTimeout(ctx, e.completer, e.timeout, req)
	if err != nil {
		slog.Warn("Failed to compose officer line, asking question verbatim", "error", err, "question_key", q.ID)
		return q.Text
	}
	text = stripOfficerPrefix(text)
	if text == "" {
		return q.Text
	}
	return text
}

func (e *TurnEngine) persist(ctx context.Context, session *models.Session, turn *models.Turn, final bool) (*TurnResult, error) {
	if err := e.store.InsertTurn(ctx, turn); err != nil {
		switch {
		case errors.Is(err, repository.ErrTurnConflict):
			return nil, err
		case errors.Is(err, repository.ErrDuplicateTurnToken):
			existing, lookupErr := e.store.FindTurnByToken(ctx, turn.SessionID, turn.ClientTurnToken)
			if lookupErr != nil || existing == nil {
				return nil, fmt.Errorf("%w: duplicate turn token could not be replayed", ErrInternal)
			}
			return replayTurn(existing, session.MaxTurns), nil
		default:
			return nil, fmt.Errorf("%w: failed to save turn: %w", ErrInternal, err)
		}
	}

	if final {
		e.completeSession(ctx, session)
	}
	return &TurnResult{
		AIText:      turn.AIText,
		TurnNo:      turn.TurnNo,
		Done:        final,
		QuestionKey: turn.QuestionKey,
	}, nil
}

// completeSession is best effort; a lost update is repaired by the closing
// turn check on the next call.
func (e *TurnEngine) completeSession(ctx context.Context, session *models.Session) {
	status := models.SessionStatusCompleted
	endedAt := e.now()
	changed, err := e.store.UpdateSession(ctx, session.ID, session.UserID, repository.SessionUpdate{
		Status:       &status,
		EndedAt:      &endedAt,
		OnlyIfActive: true,
	})
	if err != nil {
		slog.Error("Failed to mark session completed", "error", err, "session_id", session.ID)
		return
	}
	if !changed {
		return
	}

	slog.Info("Session completed", "session_id", session.ID, "user_id", session.UserID)
	if e.onComplete != nil {
		e.onComplete(session.ID, session.UserID)
	}
}

func closedResult(turnNo int, code string) *TurnResult {
	return &TurnResult{AIText: ClosingText, TurnNo: turnNo, Done: true, Code: code}
}

func replayTurn(t *models.Turn, maxTurns int) *TurnResult {
	return &TurnResult{
		AIText:      t.AIText,
		TurnNo:      t.TurnNo,
		Done:        t.TurnNo >= maxTurns || t.AIText == ClosingText,
		QuestionKey: t.QuestionKey,
	}
}

// transcriptBlocks renders turns as "Officer: ...\nCandidate: ..." blocks,
// pairing each officer line with the answer recorded on the following turn.
func transcriptBlocks(turns []models.Turn) []string {
	blocks := make([]string, 0, len(turns)+1)
	if len(turns) > 0 && strings.TrimSpace(turns[0].UserText) != "" {
		blocks = append(blocks, "Candidate: "+turns[0].UserText)
	}
	for i, t := range turns {
		block := "Officer: " + t.AIText
		if i+1 < len(turns) && strings.TrimSpace(turns[i+1].UserText) != "" {
			block += "\nCandidate: " + turns[i+1].UserText
		}
		blocks = append(blocks, block)
	}
	return blocks
}
