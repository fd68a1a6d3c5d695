package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

const ModelName = "gemini-2.5-flash"

// GeminiService completes officer lines and feedback through the Gemini API.
type GeminiService struct {
	genaiClient *genai.Client
	model       string
}

func NewGeminiService(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = ModelName
	}
	return &GeminiService{genaiClient: genaiClient, model: model}, nil
}

// Complete runs one GenerateContent call and returns the response text.
func (g *GeminiService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if g.genaiClient == nil {
		return "", fmt.Errorf("genai client not initialized")
	}

	contents := g.buildContents(req.Messages)
	if len(contents) == 0 {
		return "", fmt.Errorf("no messages to complete")
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: req.MaxTokens,
		// short officer lines do not need a thinking budget eating the output tokens
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	result, err := g.genaiClient.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		slog.Error("Failed to generate content", "error", err, "model", g.model)
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// buildContents maps chat messages onto Gemini roles, merging consecutive
// messages of the same role into one content block.
func (g *GeminiService) buildContents(messages []ChatMessage) []*genai.Content {
	var contents []*genai.Content
	var lastRole genai.Role
	var buf []string

	flush := func() {
		if len(buf) > 0 {
			contents = append(contents, genai.NewContentFromText(strings.Join(buf, "\n\n"), lastRole))
			buf = nil
		}
	}

	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		if role != lastRole {
			flush()
			lastRole = role
		}
		buf = append(buf, m.Content)
	}
	flush()
	return contents
}
