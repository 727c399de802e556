// Package quota enforces per-principal resource ceilings (note count,
// processing rate, token budget, storage) before new work is admitted.
// Checks fail closed when the durable store is unreachable; usage recording
// is fire-and-forget and never blocks the caller's primary operation.
package quota
