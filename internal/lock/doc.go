// Package lock provides a per-resource exclusive, TTL-bounded lock backed
// by the durable store, guaranteeing at most one active processor per note
// across concurrent orchestration passes.
package lock
