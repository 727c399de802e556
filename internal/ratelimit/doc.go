// Package ratelimit implements a fixed-window counter rate limiter backed
// by a durable counter store, degrading to a process-local in-memory window
// when the store is unavailable. The same windowing primitive backs the
// quota manager's rate and token ceilings.
package ratelimit
