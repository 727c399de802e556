// Package retry wraps a unit of work with bounded, exponentially
// backed-off retries. Only errors classified as transient are retried;
// everything else propagates on first occurrence.
package retry
