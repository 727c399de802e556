// Package provider defines the interfaces and error taxonomy for the
// external AI providers that transcribe and analyze audio notes.
package provider
