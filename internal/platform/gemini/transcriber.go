package gemini

import (
	"context"
	"strings"

	"github.com/verbatimhq/verbatim-api/internal/platform/logger"
	"github.com/verbatimhq/verbatim-api/internal/provider"
	"google.golang.org/genai"
)

// transcribePrompt instructs the model to return a verbatim transcript
// with no commentary. Keeping the instruction short reduces the chance
// the model answers conversationally.
const transcribePrompt = `Transcribe the following audio recording verbatim.
Return only the spoken words as plain text. Do not add speaker labels,
timestamps, commentary, or formatting. If the audio contains no speech,
return an empty response.`

// Transcriber converts audio into text using Gemini's multimodal input.
type Transcriber struct {
	client *Client
}

// Ensure Transcriber implements provider.Transcriber.
var _ provider.Transcriber = (*Transcriber)(nil)

// NewTranscriber creates a Transcriber over the shared client.
func NewTranscriber(client *Client) *Transcriber {
	return &Transcriber{client: client}
}

// Transcribe sends the audio bytes with the transcription prompt and
// returns the resulting transcript.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*provider.Transcript, error) {
	log := logger.FromContextOrDefault(ctx, t.client.logger)

	if len(audio) == 0 {
		return nil, provider.NewError(provider.KindValidation, ErrEmptyAudio)
	}
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	parts := []*genai.Part{
		{Text: transcribePrompt},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: audio}},
	}

	text, err := t.client.generate(ctx, parts)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	log.Debug("transcription completed",
		"model", t.client.model,
		"audio_bytes", len(audio),
		"transcript_chars", len(text))

	return &provider.Transcript{
		Text:       text,
		TokensUsed: estimateTokens(text),
	}, nil
}
