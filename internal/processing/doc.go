// Package processing implements the orchestration engine that drives each
// audio note through the transcribe, analyze and persist pipeline under the
// system's operational constraints: per-note locking, admission control,
// rate limiting, circuit breaking and bounded retry.
package processing
