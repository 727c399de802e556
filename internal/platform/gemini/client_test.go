package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verbatimhq/verbatim-api/internal/provider"
	"google.golang.org/genai"
)

func TestExtractText(t *testing.T) {
	t.Parallel()

	t.Run("nil response is a server error", func(t *testing.T) {
		t.Parallel()
		_, err := extractText(nil)
		require.Error(t, err)
		assert.Equal(t, provider.KindServer, provider.Classify(err))
	})

	t.Run("no candidates is a server error", func(t *testing.T) {
		t.Parallel()
		_, err := extractText(&genai.GenerateContentResponse{})
		require.Error(t, err)
		assert.Equal(t, provider.KindServer, provider.Classify(err))
	})

	t.Run("safety block is a validation error", func(t *testing.T) {
		t.Parallel()
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{FinishReason: genai.FinishReasonSafety},
			},
		}
		_, err := extractText(resp)
		require.Error(t, err)
		assert.Equal(t, provider.KindValidation, provider.Classify(err))
	})

	t.Run("nil candidate content is a server error", func(t *testing.T) {
		t.Parallel()
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{}},
		}
		_, err := extractText(resp)
		require.Error(t, err)
		assert.Equal(t, provider.KindServer, provider.Classify(err))
	})

	t.Run("concatenates text parts", func(t *testing.T) {
		t.Parallel()
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{
					Content: &genai.Content{
						Parts: []*genai.Part{
							{Text: "hello "},
							nil,
							{Text: "world"},
						},
					},
				},
			},
		}
		text, err := extractText(resp)
		require.NoError(t, err)
		assert.Equal(t, "hello world", text)
	})

	t.Run("candidate without text parts is a server error", func(t *testing.T) {
		t.Parallel()
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{
					Content: &genai.Content{
						Parts: []*genai.Part{
							{InlineData: &genai.Blob{MIMEType: "audio/ogg", Data: []byte{1}}},
						},
					},
				},
			},
		}
		_, err := extractText(resp)
		require.Error(t, err)
		assert.Equal(t, provider.KindServer, provider.Classify(err))
	})
}
