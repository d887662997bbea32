// Package workflows provides Temporal workflow definitions for durable
// candidate resolution. The workflows mirror the in-process coordinator:
// evaluate, generate, confirm, refine within an iteration bound, escalate on
// exhaustion. Temporal owns retries and recovery; activities stay thin.
package workflows

import (
	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/model"
)

// ResolutionConfig carries the routing knobs into a workflow run. Workflow
// code cannot read process configuration, so the caller snapshots it here.
type ResolutionConfig struct {
	MaxIterations       int     `json:"max_iterations"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxParallel         int     `json:"max_parallel"`
}

// CandidateResolutionInput starts one candidate's resolution workflow.
type CandidateResolutionInput struct {
	Candidate  model.Candidate            `json:"candidate"`
	Categories map[int]model.CategoryInfo `json:"categories,omitempty"`
	Config     ResolutionConfig           `json:"config"`
}

// CandidateResolutionResult is the terminal outcome of one candidate.
type CandidateResolutionResult struct {
	CandidateID int64                 `json:"candidate_id"`
	Status      engine.Status         `json:"status"`
	Iterations  int                   `json:"iterations"`
	Counts      engine.DecisionCounts `json:"counts"`
	TicketID    string                `json:"ticket_id,omitempty"`
	Errors      []string              `json:"errors,omitempty"`
}

// BatchResolutionInput starts a batch of candidate workflows.
type BatchResolutionInput struct {
	Candidates []model.Candidate          `json:"candidates"`
	Categories map[int]model.CategoryInfo `json:"categories,omitempty"`
	Config     ResolutionConfig           `json:"config"`
}

// BatchResolutionResult aggregates the batch outcome.
type BatchResolutionResult struct {
	Results   []*CandidateResolutionResult `json:"results"`
	Completed int                          `json:"completed"`
	Failed    int                          `json:"failed"`
	Escalated int                          `json:"escalated"`
}

// EvaluateInput is the input to the evaluation activity.
type EvaluateInput struct {
	Candidate model.Candidate `json:"candidate"`
}

// GenerateInput is the input to the pattern generation activity.
type GenerateInput struct {
	Candidate  model.Candidate `json:"candidate"`
	Confidence float64         `json:"confidence"`
	Issues     []string        `json:"issues,omitempty"`
	Feedback   string          `json:"feedback,omitempty"`
	Iteration  int             `json:"iteration"`
}

// ConfirmInput is the input to the confirmation activity.
type ConfirmInput struct {
	Candidate  model.Candidate            `json:"candidate"`
	Version    model.PatternVersion       `json:"version"`
	Categories map[int]model.CategoryInfo `json:"categories,omitempty"`
	Iteration  int                        `json:"iteration"`
}

// ConfirmResult is the output of the confirmation activity.
type ConfirmResult struct {
	Decisions []model.Decision      `json:"decisions"`
	Counts    engine.DecisionCounts `json:"counts"`
	Matched   int                   `json:"matched"`
}

// EscalateInput is the input to the escalation activity.
type EscalateInput struct {
	CandidateID int64  `json:"candidate_id"`
	Iterations  int    `json:"iterations"`
	Reason      string `json:"reason"`
}
