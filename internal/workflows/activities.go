package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/merchantiq/matchd/internal/agents"
	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/escalation"
	"github.com/merchantiq/matchd/internal/logging"
	"github.com/merchantiq/matchd/internal/model"
	"github.com/merchantiq/matchd/internal/scoring"
)

// invalidMetadataError marks generation output that can never match. The
// workflow must not retry it.
const invalidMetadataError = "InvalidGeneratedMetadata"

// Activities holds the external collaborators the workflows call into.
// Registered once per worker.
type Activities struct {
	agents    agents.AgentClient
	store     engine.WorkflowStore
	decisions engine.DecisionLog
	escalator *escalation.Manager
	logger    *logging.Logger
}

// NewActivities wires the activity set.
func NewActivities(client agents.AgentClient, store engine.WorkflowStore, decisions engine.DecisionLog, escalator *escalation.Manager, logger *logging.Logger) *Activities {
	return &Activities{
		agents:    client,
		store:     store,
		decisions: decisions,
		escalator: escalator,
		logger:    logger.Named("activities"),
	}
}

// EvaluateCandidate scores the candidate's current metadata.
func (a *Activities) EvaluateCandidate(ctx context.Context, input EvaluateInput) (*agents.Evaluation, error) {
	start := time.Now()
	eval, err := a.agents.Evaluate(ctx, input.Candidate)
	observe(ctx, "evaluate", start, err)
	return eval, err
}

// GeneratePattern produces the next metadata version. Unusable output fails
// the workflow without retry.
func (a *Activities) GeneratePattern(ctx context.Context, input GenerateInput) (*model.PatternVersion, error) {
	start := time.Now()
	eval := &agents.Evaluation{ConfidenceScore: input.Confidence, Issues: input.Issues}
	gen, err := a.agents.Generate(ctx, input.Candidate, eval, input.Feedback)
	observe(ctx, "generate", start, err)
	if err != nil {
		return nil, err
	}

	var fields []string
	if gen.Pattern == "" {
		fields = append(fields, "pattern is empty")
	}
	if len(gen.AllowList) == 0 {
		fields = append(fields, "allow list is empty")
	}
	if len(fields) > 0 {
		verr := &engine.ValidationError{CandidateID: input.Candidate.ID, Fields: fields}
		return nil, temporal.NewNonRetryableApplicationError(verr.Error(), invalidMetadataError, verr)
	}

	return &model.PatternVersion{
		Version:   input.Iteration,
		Pattern:   gen.Pattern,
		AllowList: gen.AllowList,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ConfirmMatches applies a metadata version, scores every matched record,
// and logs the decisions.
func (a *Activities) ConfirmMatches(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	start := time.Now()
	records, err := a.agents.ApplyPattern(ctx, input.Candidate, input.Version)
	observe(ctx, "apply", start, err)
	if err != nil {
		return nil, err
	}

	scored := input.Candidate
	scored.Pattern = input.Version.Pattern
	scored.AllowList = input.Version.AllowList
	decisions := scoring.ScoreMatchSet(scored, records, input.Categories)

	if err := a.decisions.AppendDecisions(ctx, input.Candidate.ID, input.Iteration, decisions); err != nil {
		a.logger.Warn(ctx, "decision log append failed",
			zap.Int64("candidate_id", input.Candidate.ID),
			zap.Error(err),
		)
	}

	confirmed, excluded, review := scoring.Partition(decisions)
	return &ConfirmResult{
		Decisions: decisions,
		Counts: engine.DecisionCounts{
			Confirmed: len(confirmed),
			Excluded:  len(excluded),
			Review:    len(review),
		},
		Matched: len(records),
	}, nil
}

// EscalateCandidate opens a high-priority review ticket.
func (a *Activities) EscalateCandidate(ctx context.Context, input EscalateInput) (string, error) {
	ticket, err := a.escalator.Escalate(ctx, []int64{input.CandidateID}, input.Iterations, input.Reason)
	if err != nil {
		return "", fmt.Errorf("escalate candidate %d: %w", input.CandidateID, err)
	}
	return ticket.ID, nil
}

// RecordState upserts the candidate's workflow state.
func (a *Activities) RecordState(ctx context.Context, state engine.WorkflowState) error {
	return a.store.SaveState(ctx, &state)
}

// IsInvalidMetadata reports whether err is the non-retryable generation
// validation failure.
func IsInvalidMetadata(err error) bool {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type() == invalidMetadataError
	}
	return false
}
