package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/verbatimhq/verbatim-api/internal/provider"
)

// Error definitions for the gemini package.
var (
	// ErrEmptyAudio is returned when a transcription call receives no audio bytes.
	ErrEmptyAudio = errors.New("audio cannot be empty")

	// ErrEmptyTranscript is returned when an analysis call receives no transcript text.
	ErrEmptyTranscript = errors.New("transcript text cannot be empty")
)

// classifyAPIError maps a raw Gemini API error onto the provider error
// kinds. The genai client surfaces HTTP-level failures as opaque errors,
// so classification falls back to status-code substrings; anything
// unrecognized stays KindUnknown, which the retry controller treats as
// transient.
func classifyAPIError(err error) *provider.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return provider.NewError(provider.KindTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return provider.NewError(provider.KindRateLimit, err)

	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission"):
		return provider.NewError(provider.KindAuth, err)

	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "internal"):
		return provider.NewError(provider.KindServer, err)

	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return provider.NewError(provider.KindTimeout, err)

	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid_argument"):
		return provider.NewError(provider.KindValidation, err)

	default:
		return provider.NewError(provider.KindUnknown, err)
	}
}
