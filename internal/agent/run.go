package agent

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/cortexcart/internal/scratchpad"
)

// ErrRunFailed marks a run that ended without a recommendation because
// the reasoning backend kept failing. The cause is wrapped alongside it.
var ErrRunFailed = errors.New("run failed")

// State is the position of a run in the agent loop.
type State string

const (
	Planning  State = "planning"
	Acting    State = "acting"
	Observing State = "observing"
	Finishing State = "finishing"
	Failed    State = "failed"
	Done      State = "done"
)

// Reason says why a run stopped.
type Reason string

const (
	// ReasonFinished: the backend chose to finish.
	ReasonFinished Reason = "finished"
	// ReasonStepBudget: MaxSteps actions ran without a finish.
	ReasonStepBudget Reason = "step_budget"
	// ReasonDeadline: the run timeout or the caller's context ended the loop.
	ReasonDeadline Reason = "deadline"
	// ReasonFailed: the backend failed past its retry budget.
	ReasonFailed Reason = "failed"
	// ReasonSynthesisFailed: the loop ended but the final answer was
	// rendered from the digest without the backend.
	ReasonSynthesisFailed Reason = "synthesis_failed"
)

// Answer is what a turn returns to the shopper.
type Answer struct {
	Text        string `json:"text"`
	IsPartial   bool   `json:"is_partial"`
	SourceCount int    `json:"source_count"`

	RunID  string `json:"run_id"`
	Steps  int    `json:"steps"`
	Reason Reason `json:"reason"`
}

// Run is the state of one turn. It is created by the orchestrator,
// mutated only by the goroutine executing the turn, and returned once
// terminal.
type Run struct {
	ID    string
	Query string
	Pad   *scratchpad.Pad
	State State

	// Steps counts executed search and scrape actions.
	Steps int

	// MalformedPlans counts consecutive unparseable planning replies.
	MalformedPlans int

	Answer Answer

	// Err wraps ErrRunFailed when State is Failed.
	Err error

	Started  time.Time
	Finished time.Time

	reason Reason
	draft  string
	cache  *pageCache
}

func newRun(query string) *Run {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Run{
		ID:      id.String(),
		Query:   query,
		Pad:     scratchpad.New(),
		State:   Planning,
		Started: time.Now(),
	}
}

// Elapsed returns the run's wall-clock duration so far.
func (r *Run) Elapsed() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}
