// Package jobs implements the durable, priority-ordered background job
// queue. Jobs progress through pending, running and the terminal states
// completed, failed and cancelled; selection order is total and
// deterministic so batch runs are reproducible.
package jobs
