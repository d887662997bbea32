package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/merchantiq/matchd/internal/agents"
	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/model"
)

// CandidateResolutionWorkflow drives one candidate to a terminal state.
//
// This workflow:
// 1. Evaluates the candidate's current metadata
// 2. Generates a new pattern version
// 3. Confirms the matches the version produces
// 4. Refines (back to 2) while every match is rejected, within the bound
// 5. Escalates to human review when the iteration budget is exhausted
func CandidateResolutionWorkflow(ctx workflow.Context, input CandidateResolutionInput) (*CandidateResolutionResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting candidate resolution",
		"candidate_id", input.Candidate.ID,
		"max_iterations", input.Config.MaxIterations)

	start := workflow.Now(ctx)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	result := &CandidateResolutionResult{CandidateID: input.Candidate.ID}

	state := engine.WorkflowState{
		CandidateID: input.Candidate.ID,
		Status:      engine.StatusPending,
		StartedAt:   start,
		UpdatedAt:   start,
	}
	recordState := func(status engine.Status) {
		state.Status = status
		state.UpdatedAt = workflow.Now(ctx)
		if err := workflow.ExecuteActivity(ctx, a.RecordState, state).Get(ctx, nil); err != nil {
			logger.Warn("state persist failed", "error", err)
		}
	}
	finish := func(status engine.Status) *CandidateResolutionResult {
		recordState(status)
		result.Status = status
		result.Iterations = state.Iterations
		result.Counts = state.Counts
		return result
	}

	recordState(engine.StatusEvaluating)
	var eval agents.Evaluation
	if err := workflow.ExecuteActivity(ctx, a.EvaluateCandidate, EvaluateInput{Candidate: input.Candidate}).Get(ctx, &eval); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("evaluation failed: %v", err))
		state.RecordFailure("evaluate", err)
		return finish(engine.StatusFailed), nil
	}
	state.Confidence = eval.ConfidenceScore

	var feedback string
	for {
		if state.Iterations >= input.Config.MaxIterations {
			reason := fmt.Sprintf("iteration budget exhausted after %d iterations", state.Iterations)
			var ticketID string
			if err := workflow.ExecuteActivity(ctx, a.EscalateCandidate, EscalateInput{
				CandidateID: input.Candidate.ID,
				Iterations:  state.Iterations,
				Reason:      reason,
			}).Get(ctx, &ticketID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("escalation failed: %v", err))
				state.RecordFailure("escalate", err)
			}
			result.TicketID = ticketID
			return finish(engine.StatusAwaitingReview), nil
		}

		recordState(engine.StatusGenerating)
		state.Iterations++
		var version model.PatternVersion
		err := workflow.ExecuteActivity(ctx, a.GeneratePattern, GenerateInput{
			Candidate:  input.Candidate,
			Confidence: eval.ConfidenceScore,
			Issues:     eval.Issues,
			Feedback:   feedback,
			Iteration:  state.Iterations,
		}).Get(ctx, &version)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("generation failed: %v", err))
			state.RecordFailure("generate", err)
			return finish(engine.StatusFailed), nil
		}
		state.Versions = append(state.Versions, version)

		if eval.ConfidenceScore >= input.Config.ConfidenceThreshold {
			logger.Info("confidence above threshold, skipping confirmation",
				"confidence", eval.ConfidenceScore)
			return finish(engine.StatusCompleted), nil
		}

		recordState(engine.StatusConfirming)
		var confirm ConfirmResult
		err = workflow.ExecuteActivity(ctx, a.ConfirmMatches, ConfirmInput{
			Candidate:  input.Candidate,
			Version:    version,
			Categories: input.Categories,
			Iteration:  state.Iterations,
		}).Get(ctx, &confirm)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("confirmation failed: %v", err))
			state.RecordFailure("apply", err)
			return finish(engine.StatusFailed), nil
		}
		state.Counts = confirm.Counts

		if confirm.Matched > 0 && confirm.Counts.Confirmed == 0 {
			feedback = fmt.Sprintf("all %d matched records were rejected", confirm.Matched)
			logger.Info("no confirmed matches, refining",
				"iteration", state.Iterations,
				"excluded", confirm.Counts.Excluded)
			continue
		}

		return finish(engine.StatusCompleted), nil
	}
}

// BatchResolutionWorkflow runs one child workflow per candidate, at most
// Config.MaxParallel at a time. A child failure never aborts the batch.
func BatchResolutionWorkflow(ctx workflow.Context, input BatchResolutionInput) (*BatchResolutionResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting batch resolution",
		"candidates", len(input.Candidates),
		"max_parallel", input.Config.MaxParallel)

	results := make([]*CandidateResolutionResult, len(input.Candidates))
	maxParallel := input.Config.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	childInput := func(i int) CandidateResolutionInput {
		return CandidateResolutionInput{
			Candidate:  input.Candidates[i],
			Categories: input.Categories,
			Config:     input.Config,
		}
	}
	childCtx := func(i int) workflow.Context {
		return workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: fmt.Sprintf("candidate-%d", input.Candidates[i].ID),
		})
	}
	recordFailure := func(i int, err error) {
		logger.Error("Candidate workflow failed", "candidate_id", input.Candidates[i].ID, "error", err)
		results[i] = &CandidateResolutionResult{
			CandidateID: input.Candidates[i].ID,
			Status:      engine.StatusFailed,
			Errors:      []string{err.Error()},
		}
	}

	var futures []workflow.ChildWorkflowFuture
	var futureIndexes []int
	nextIndex := 0

	for nextIndex < len(input.Candidates) {
		for len(futures) < maxParallel && nextIndex < len(input.Candidates) {
			futures = append(futures, workflow.ExecuteChildWorkflow(childCtx(nextIndex), CandidateResolutionWorkflow, childInput(nextIndex)))
			futureIndexes = append(futureIndexes, nextIndex)
			nextIndex++
		}

		selector := workflow.NewSelector(ctx)
		for i, future := range futures {
			i := i
			selector.AddFuture(future, func(f workflow.Future) {
				var res CandidateResolutionResult
				if err := f.Get(ctx, &res); err != nil {
					recordFailure(futureIndexes[i], err)
				} else {
					results[futureIndexes[i]] = &res
				}
			})
		}
		selector.Select(ctx)

		// Select runs a single callback, but several futures can become
		// ready in the same workflow task. Drain every ready future whose
		// slot was not recorded before dropping it.
		var remaining []workflow.ChildWorkflowFuture
		var remainingIndexes []int
		for i, future := range futures {
			if future.IsReady() {
				if results[futureIndexes[i]] == nil {
					var res CandidateResolutionResult
					if err := future.Get(ctx, &res); err != nil {
						recordFailure(futureIndexes[i], err)
					} else {
						results[futureIndexes[i]] = &res
					}
				}
				continue
			}
			remaining = append(remaining, future)
			remainingIndexes = append(remainingIndexes, futureIndexes[i])
		}
		futures = remaining
		futureIndexes = remainingIndexes
	}

	for i, future := range futures {
		var res CandidateResolutionResult
		if err := future.Get(ctx, &res); err != nil {
			recordFailure(futureIndexes[i], err)
		} else {
			results[futureIndexes[i]] = &res
		}
	}

	batch := &BatchResolutionResult{Results: results}
	for _, res := range results {
		switch res.Status {
		case engine.StatusCompleted:
			batch.Completed++
		case engine.StatusFailed:
			batch.Failed++
		case engine.StatusAwaitingReview:
			batch.Escalated++
		}
	}

	logger.Info("Batch resolution complete",
		"completed", batch.Completed,
		"failed", batch.Failed,
		"escalated", batch.Escalated)
	return batch, nil
}
