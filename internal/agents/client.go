// Package agents defines the contracts for the external collaborators the
// coordinator drives: candidate evaluation, pattern generation, and pattern
// application. The HTTP client talks to the real agent service; the fake
// client serves tests with deterministic fixtures.
package agents

import (
	"context"

	"github.com/merchantiq/matchd/internal/model"
)

// Evaluation is the output of the evaluation collaborator for one candidate.
type Evaluation struct {
	ConfidenceScore float64  `json:"confidence_score"`
	Issues          []string `json:"issues,omitempty"`
	TiesDetected    []int64  `json:"ties_detected,omitempty"`
}

// Generation is the output of the generation collaborator: one new
// metadata version for a candidate.
type Generation struct {
	Pattern   string `json:"pattern"`
	AllowList []int  `json:"allow_list"`
	Iteration int    `json:"iteration"`
}

// AgentClient is the coordinator's view of the remote agent service.
// Implementations must be safe for concurrent use; the coordinator calls
// them from many candidate workflows at once.
type AgentClient interface {
	// Evaluate scores the candidate's current metadata and reports issues.
	Evaluate(ctx context.Context, candidate model.Candidate) (*Evaluation, error)

	// Generate produces a new pattern and category allow-list, optionally
	// steered by feedback from a prior confirmation pass.
	Generate(ctx context.Context, candidate model.Candidate, eval *Evaluation, feedback string) (*Generation, error)

	// ApplyPattern returns the records matched by the given metadata
	// version (narrative matches pattern, category code in allow-list).
	ApplyPattern(ctx context.Context, candidate model.Candidate, version model.PatternVersion) ([]model.Record, error)
}
