package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/verbatimhq/verbatim-api/internal/platform/logger"
	"github.com/verbatimhq/verbatim-api/internal/provider"
	"google.golang.org/genai"
)

// analyzePromptTemplate asks for strict JSON so the response can be
// unmarshalled directly. The transcript is delimited to keep instructions
// and content separate.
const analyzePromptTemplate = `You are analyzing the transcript of a voice note.
{{if .Title}}The note is titled "{{.Title}}".
{{end}}{{if .Language}}The transcript language is {{.Language}}.
{{end}}
Produce a JSON object with exactly these fields:
- "summary": a concise summary of the note in 1-3 sentences
- "tasks": an array of action items mentioned in the note (empty if none)
- "tags": an array of 1-5 short topical tags

Respond with only the JSON object. Do not wrap it in markdown fences.

Transcript:
---
{{.Transcript}}
---`

// analysisPayload mirrors the JSON shape requested from the model.
type analysisPayload struct {
	Summary string   `json:"summary"`
	Tasks   []string `json:"tasks"`
	Tags    []string `json:"tags"`
}

// Analyzer extracts structured knowledge from a transcript using Gemini.
type Analyzer struct {
	client *Client
	tmpl   *template.Template
}

// Ensure Analyzer implements provider.Analyzer.
var _ provider.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates an Analyzer over the shared client.
func NewAnalyzer(client *Client) (*Analyzer, error) {
	tmpl, err := template.New("analyze").Parse(analyzePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analysis prompt template: %w", err)
	}

	return &Analyzer{
		client: client,
		tmpl:   tmpl,
	}, nil
}

// Analyze sends the transcript with the analysis prompt and parses the
// model's JSON response.
func (a *Analyzer) Analyze(ctx context.Context, text string, actx provider.AnalysisContext) (*provider.Analysis, error) {
	log := logger.FromContextOrDefault(ctx, a.client.logger)

	if strings.TrimSpace(text) == "" {
		return nil, provider.NewError(provider.KindValidation, ErrEmptyTranscript)
	}

	prompt, err := a.renderPrompt(text, actx)
	if err != nil {
		return nil, provider.NewError(provider.KindUnknown, err)
	}

	raw, err := a.client.generate(ctx, []*genai.Part{{Text: prompt}})
	if err != nil {
		return nil, err
	}

	payload, err := parseAnalysisResponse(raw)
	if err != nil {
		// A malformed response is a server-side defect: the model ignored
		// the output contract. Treat it as transient.
		return nil, provider.NewError(provider.KindServer, err)
	}

	log.Debug("analysis completed",
		"model", a.client.model,
		"tasks", len(payload.Tasks),
		"tags", len(payload.Tags))

	return &provider.Analysis{
		Summary:    payload.Summary,
		Tasks:      payload.Tasks,
		Tags:       payload.Tags,
		TokensUsed: estimateTokens(prompt) + estimateTokens(raw),
	}, nil
}

// renderPrompt fills the analysis template with the transcript and hints.
func (a *Analyzer) renderPrompt(text string, actx provider.AnalysisContext) (string, error) {
	data := struct {
		Transcript string
		Title      string
		Language   string
	}{
		Transcript: text,
		Title:      actx.Title,
		Language:   actx.Language,
	}

	var sb strings.Builder
	if err := a.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render analysis prompt: %w", err)
	}
	return sb.String(), nil
}

// parseAnalysisResponse unmarshals the model output, tolerating markdown
// code fences that some model versions emit despite instructions.
func parseAnalysisResponse(raw string) (*analysisPayload, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload analysisPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}
	if payload.Summary == "" {
		return nil, fmt.Errorf("analysis response missing summary")
	}

	if payload.Tasks == nil {
		payload.Tasks = []string{}
	}
	if payload.Tags == nil {
		payload.Tags = []string{}
	}
	return &payload, nil
}
