// Package harness drives benchmark sessions: it fans operations out to a
// backend through a shared admission gate, times each phase, drains change
// streams and collects the per-phase results.
package harness

import "time"

// Phase names one of the four timed operation types.
type Phase string

// Phases in execution order.
const (
	PhaseCreate Phase = "create"
	PhaseRead   Phase = "read"
	PhaseWatch  Phase = "watch"
	PhaseDelete Phase = "delete"
)

// Phases returns every phase in the order a session runs them.
func Phases() []Phase {
	return []Phase{PhaseCreate, PhaseRead, PhaseWatch, PhaseDelete}
}

// PhaseResult holds the outcome of one timed phase.
type PhaseResult struct {
	Phase   Phase         `json:"phase"`
	Items   int           `json:"items"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Seconds returns the elapsed wall-clock time in seconds.
func (r PhaseResult) Seconds() float64 {
	return r.Elapsed.Seconds()
}

// Throughput returns items per second, or 0 when no time elapsed.
func (r PhaseResult) Throughput() float64 {
	if r.Elapsed == 0 {
		return 0
	}

	return float64(r.Items) / r.Elapsed.Seconds()
}

// SessionResult is the read-only outcome of a completed session.
type SessionResult struct {
	Backend string        `json:"backend"`
	RunID   string        `json:"run_id"`
	Results []PhaseResult `json:"results"`
}
