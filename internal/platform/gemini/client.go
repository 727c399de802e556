package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/verbatimhq/verbatim-api/internal/config"
	"github.com/verbatimhq/verbatim-api/internal/provider"
	"google.golang.org/genai"
)

// Client wraps the shared genai client and model selection used by both
// the transcriber and the analyzer. Retry policy is NOT applied here; the
// orchestrator's retry controller owns attempt budgets so the circuit
// breaker sees every individual call.
type Client struct {
	logger *slog.Logger
	client *genai.Client
	model  string
}

// NewClient creates a Gemini client from the LLM configuration.
func NewClient(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name cannot be empty")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		logger: logger,
		client: client,
		model:  cfg.ModelName,
	}, nil
}

// generate issues a single GenerateContent call and returns the
// concatenated text of the first candidate. All failure modes are mapped
// onto provider error kinds.
func (c *Client) generate(ctx context.Context, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{{Parts: parts}}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", classifyAPIError(err)
	}

	return extractText(resp)
}

// extractText pulls the concatenated text of the first candidate out of a
// response, mapping the degenerate response shapes onto provider error kinds.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", provider.Errorf(provider.KindServer, "no content generated")
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		// Safety blocks are input-specific; retrying the same audio can
		// never succeed.
		return "", provider.Errorf(provider.KindValidation, "content blocked by safety filters")
	}
	if candidate.Content == nil {
		return "", provider.Errorf(provider.KindServer, "empty content in response")
	}

	text := ""
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text += part.Text
		}
	}

	if text == "" {
		return "", provider.Errorf(provider.KindServer, "response contained no text")
	}
	return text, nil
}

// estimateTokens approximates token consumption when the API does not
// report it: roughly four characters per token for English-like text.
func estimateTokens(text string) int64 {
	return int64(len(text)/4) + 1
}
