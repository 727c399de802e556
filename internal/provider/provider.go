package provider

import "context"

// Transcript is the result of a transcription call.
type Transcript struct {
	// Text is the full transcript of the audio.
	Text string

	// TokensUsed is the provider-reported (or estimated) token consumption
	// of the call, used for quota accounting.
	TokensUsed int64
}

// Analysis is the structured result of an analysis call.
type Analysis struct {
	Summary    string
	Tasks      []string
	Tags       []string
	TokensUsed int64
}

// AnalysisContext carries optional hints passed alongside the transcript.
type AnalysisContext struct {
	// Title is the user-supplied note title, if any.
	Title string

	// Language is a BCP-47 language hint, if known.
	Language string
}

// Transcriber converts raw audio into text.
type Transcriber interface {
	// Transcribe converts the given audio bytes into a transcript.
	// Errors are classified via the package error kinds.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcript, error)
}

// Analyzer derives structured knowledge from a transcript.
type Analyzer interface {
	// Analyze extracts a summary, tasks and tags from the transcript text.
	// Errors are classified via the package error kinds.
	Analyze(ctx context.Context, text string, actx AnalysisContext) (*Analysis, error)
}
