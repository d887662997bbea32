// Package engine drives the per-candidate resolution workflow: a bounded
// state machine that evaluates a candidate, generates pattern versions,
// confirms the resulting matches, and escalates when the iteration budget
// runs out. Batches run candidates in bounded parallel and finish with a
// cross-candidate tie-resolution phase.
package engine

import (
	"context"
	"time"

	"github.com/merchantiq/matchd/internal/model"
	"github.com/merchantiq/matchd/internal/tiebreak"
)

// Status is the lifecycle state of one candidate's workflow.
type Status string

const (
	StatusPending        Status = "pending"
	StatusEvaluating     Status = "evaluating"
	StatusGenerating     Status = "generating"
	StatusConfirming     Status = "confirming"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusAwaitingReview Status = "awaiting_review"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAwaitingReview:
		return true
	}
	return false
}

// maxFailureRecords bounds the failure history kept on a state. Older
// entries are dropped first.
const maxFailureRecords = 20

// FailureRecord captures one step failure on a candidate's workflow.
type FailureRecord struct {
	Step       string    `json:"step"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DecisionCounts tallies confirmation decisions by recommendation.
type DecisionCounts struct {
	Confirmed int `json:"confirmed"`
	Excluded  int `json:"excluded"`
	Review    int `json:"review"`
}

// Add accumulates another tally into this one.
func (c *DecisionCounts) Add(other DecisionCounts) {
	c.Confirmed += other.Confirmed
	c.Excluded += other.Excluded
	c.Review += other.Review
}

// Total is the number of decisions counted.
func (c DecisionCounts) Total() int {
	return c.Confirmed + c.Excluded + c.Review
}

// WorkflowState is the full per-candidate workflow record. Versions is
// append-only: every generation produces a new immutable entry.
type WorkflowState struct {
	CandidateID int64                  `json:"candidate_id"`
	Status      Status                 `json:"status"`
	Iterations  int                    `json:"iterations"`
	Confidence  float64                `json:"confidence"`
	Versions    []model.PatternVersion `json:"versions,omitempty"`
	Failures    []FailureRecord        `json:"failures,omitempty"`
	Counts      DecisionCounts         `json:"counts"`
	StartedAt   time.Time              `json:"started_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// NewWorkflowState returns a pending state for the candidate.
func NewWorkflowState(candidateID int64) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		CandidateID: candidateID,
		Status:      StatusPending,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// RecordFailure appends a failure, trimming the history to the most recent
// maxFailureRecords entries.
func (s *WorkflowState) RecordFailure(step string, err error) {
	s.Failures = append(s.Failures, FailureRecord{
		Step:       step,
		Error:      err.Error(),
		OccurredAt: time.Now().UTC(),
	})
	if len(s.Failures) > maxFailureRecords {
		s.Failures = s.Failures[len(s.Failures)-maxFailureRecords:]
	}
}

// WorkflowStore persists per-candidate workflow states.
type WorkflowStore interface {
	SaveState(ctx context.Context, state *WorkflowState) error
	GetState(ctx context.Context, candidateID int64) (*WorkflowState, error)
	ListStates(ctx context.Context) ([]*WorkflowState, error)
}

// DecisionLog records the audit trail: every confirmation decision with its
// factor list, and every tie resolution.
type DecisionLog interface {
	AppendDecisions(ctx context.Context, candidateID int64, iteration int, decisions []model.Decision) error
	AppendResolutions(ctx context.Context, resolutions []tiebreak.Resolution) error
}

// TieCounts tallies the outcome of the tie-resolution phase.
type TieCounts struct {
	Contested    int `json:"contested"`
	Assigned     int `json:"assigned"`
	ManualReview int `json:"manual_review"`
}

// Summary aggregates the outcome of one batch run.
type Summary struct {
	Processed         int            `json:"processed"`
	StatusBreakdown   map[Status]int `json:"status_breakdown"`
	AverageIterations float64        `json:"average_iterations"`
	Decisions         DecisionCounts `json:"decisions"`
	Ties              TieCounts      `json:"ties"`
}
