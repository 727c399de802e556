// Package gemini implements the transcription and analysis providers on
// top of Google's Gemini API.
package gemini
