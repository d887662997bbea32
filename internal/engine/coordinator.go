package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/merchantiq/matchd/internal/agents"
	"github.com/merchantiq/matchd/internal/config"
	"github.com/merchantiq/matchd/internal/escalation"
	"github.com/merchantiq/matchd/internal/logging"
	"github.com/merchantiq/matchd/internal/model"
	"github.com/merchantiq/matchd/internal/retry"
	"github.com/merchantiq/matchd/internal/scoring"
	"github.com/merchantiq/matchd/internal/tiebreak"
)

// Coordinator runs candidate resolution workflows. One coordinator serves
// the whole process; ProcessBatch may be called repeatedly.
type Coordinator struct {
	workflow  config.WorkflowConfig
	retryCfg  *retry.Config
	agents    agents.AgentClient
	store     WorkflowStore
	decisions DecisionLog
	escalator *escalation.Manager
	logger    *logging.Logger
}

// NewCoordinator wires a coordinator from configuration and collaborators.
func NewCoordinator(
	cfg *config.Config,
	client agents.AgentClient,
	store WorkflowStore,
	decisions DecisionLog,
	escalator *escalation.Manager,
	logger *logging.Logger,
) *Coordinator {
	return &Coordinator{
		workflow: cfg.Workflow,
		retryCfg: &retry.Config{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff.Duration(),
			MaxBackoff:     cfg.Retry.MaxBackoff.Duration(),
		},
		agents:    client,
		store:     store,
		decisions: decisions,
		escalator: escalator,
		logger:    logger.Named("engine"),
	}
}

// candidateResult carries one finished workflow back to the batch phase.
type candidateResult struct {
	candidate model.Candidate
	state     *WorkflowState
	decisions []model.Decision
	records   []model.Record
}

// ProcessBatch runs every candidate to a terminal state, at most
// workflow.batch_size in parallel, then resolves contested records across
// candidates. A candidate failure never affects its batch peers; the
// returned error covers batch-level problems only.
func (c *Coordinator) ProcessBatch(ctx context.Context, candidates []model.Candidate, categories map[int]model.CategoryInfo) (*Summary, error) {
	if len(candidates) == 0 {
		return &Summary{StatusBreakdown: map[Status]int{}}, nil
	}

	c.logger.Info(ctx, "batch started",
		zap.Int("candidates", len(candidates)),
		zap.Int("batch_size", c.workflow.BatchSize),
	)

	var (
		mu      sync.Mutex
		results = make([]candidateResult, 0, len(candidates))
		sem     = make(chan struct{}, c.workflow.BatchSize)
		wg      sync.WaitGroup
	)

	for _, cand := range candidates {
		wg.Add(1)
		sem <- struct{}{}
		go func(cand model.Candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			res := c.runCandidate(ctx, cand, categories)

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(cand)
	}
	wg.Wait()

	summary := c.summarize(results)
	c.resolveTies(ctx, results, summary)

	c.logger.Info(ctx, "batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("completed", summary.StatusBreakdown[StatusCompleted]),
		zap.Int("failed", summary.StatusBreakdown[StatusFailed]),
		zap.Int("awaiting_review", summary.StatusBreakdown[StatusAwaitingReview]),
		zap.Int("contested_records", summary.Ties.Contested),
	)

	return summary, nil
}

// runCandidate drives one candidate from pending to a terminal state. All
// errors are absorbed into the state; the caller only sees the result.
func (c *Coordinator) runCandidate(ctx context.Context, cand model.Candidate, categories map[int]model.CategoryInfo) candidateResult {
	ctx = logging.WithCandidateID(ctx, cand.ID)
	start := time.Now()

	state := NewWorkflowState(cand.ID)
	c.saveState(ctx, state)

	res := candidateResult{candidate: cand, state: state}

	c.transition(ctx, state, StatusEvaluating)
	eval, err := retry.Do(ctx, c.retryCfg, "evaluate", func(ctx context.Context) (*agents.Evaluation, error) {
		return c.agents.Evaluate(ctx, cand)
	})
	if err != nil {
		c.fail(ctx, state, "evaluate", err)
		c.finish(ctx, state, start)
		return res
	}
	state.Confidence = eval.ConfidenceScore

	var feedback string
	for {
		if state.Iterations >= c.workflow.MaxIterations {
			c.escalate(ctx, state)
			break
		}

		c.transition(ctx, state, StatusGenerating)
		state.Iterations++
		gen, err := retry.Do(ctx, c.retryCfg, "generate", func(ctx context.Context) (*agents.Generation, error) {
			return c.agents.Generate(ctx, cand, eval, feedback)
		})
		if err != nil {
			c.fail(ctx, state, "generate", err)
			break
		}

		if verr := validateGeneration(cand.ID, gen); verr != nil {
			// Unusable metadata is permanent; retrying would regenerate
			// from the same inputs.
			c.fail(ctx, state, "validate", verr)
			break
		}

		version := model.PatternVersion{
			Version:   state.Iterations,
			Pattern:   gen.Pattern,
			AllowList: gen.AllowList,
			CreatedAt: time.Now().UTC(),
		}
		state.Versions = append(state.Versions, version)
		c.saveState(ctx, state)

		if eval.ConfidenceScore >= c.workflow.ConfidenceThreshold {
			// High-confidence candidates skip confirmation entirely.
			c.transition(ctx, state, StatusCompleted)
			break
		}

		c.transition(ctx, state, StatusConfirming)
		records, err := retry.Do(ctx, c.retryCfg, "apply pattern", func(ctx context.Context) ([]model.Record, error) {
			return c.agents.ApplyPattern(ctx, cand, version)
		})
		if err != nil {
			c.fail(ctx, state, "apply", err)
			break
		}

		scored := cand
		scored.Pattern = version.Pattern
		scored.AllowList = version.AllowList
		decisions := scoring.ScoreMatchSet(scored, records, categories)
		decisionsTotal.Add(ctx, int64(len(decisions)))

		if err := c.decisions.AppendDecisions(ctx, cand.ID, state.Iterations, decisions); err != nil {
			c.logger.Warn(ctx, "decision log append failed", zap.Error(err))
		}

		confirmed, excluded, review := scoring.Partition(decisions)
		state.Counts = DecisionCounts{
			Confirmed: len(confirmed),
			Excluded:  len(excluded),
			Review:    len(review),
		}
		c.saveState(ctx, state)

		res.decisions = decisions
		res.records = records

		if len(records) > 0 && len(confirmed) == 0 {
			// Every match was rejected; feed the exclusions back into the
			// next generation.
			feedback = buildFeedback(decisions)
			c.logger.Info(ctx, "no confirmed matches, refining",
				zap.Int("iteration", state.Iterations),
				zap.Int("excluded", len(excluded)),
			)
			continue
		}

		c.transition(ctx, state, StatusCompleted)
		break
	}

	c.finish(ctx, state, start)
	return res
}

// escalate moves an exhausted candidate to awaiting_review and opens a
// ticket. The bound check runs at the loop top, so the source state is
// confirming (the last full cycle ended there), not generating. A ticket
// failure is recorded but the state still parks for review.
func (c *Coordinator) escalate(ctx context.Context, state *WorkflowState) {
	c.transition(ctx, state, StatusAwaitingReview)
	escalationsTotal.Add(ctx, 1)

	reason := fmt.Sprintf("iteration budget exhausted after %d iterations", state.Iterations)
	if _, err := c.escalator.Escalate(ctx, []int64{state.CandidateID}, state.Iterations, reason); err != nil {
		state.RecordFailure("escalate", err)
		c.saveState(ctx, state)
		c.logger.Error(ctx, "escalation failed", zap.Error(err))
	}
}

func (c *Coordinator) fail(ctx context.Context, state *WorkflowState, step string, err error) {
	severity := SeverityTransient
	if IsValidation(err) {
		severity = SeverityPermanent
	}
	stepErr := NewStepError(step, state.CandidateID, severity, err)

	state.RecordFailure(step, err)
	c.transition(ctx, state, StatusFailed)
	c.logger.Error(ctx, "workflow failed",
		zap.String("step", step),
		zap.String("severity", string(severity)),
		zap.Error(stepErr),
	)
}

func (c *Coordinator) transition(ctx context.Context, state *WorkflowState, to Status) {
	from := state.Status
	state.Status = to
	state.UpdatedAt = time.Now().UTC()
	c.saveState(ctx, state)
	c.logger.Debug(ctx, "state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("iteration", state.Iterations),
	)
}

// saveState persists best-effort; the in-memory state is authoritative for
// the rest of the run.
func (c *Coordinator) saveState(ctx context.Context, state *WorkflowState) {
	if err := c.store.SaveState(ctx, state); err != nil {
		c.logger.Warn(ctx, "state persist failed", zap.Error(err))
	}
}

func (c *Coordinator) finish(ctx context.Context, state *WorkflowState, start time.Time) {
	candidatesProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(state.Status)),
	))
	candidateDuration.Record(ctx, time.Since(start).Seconds())
	iterationsUsed.Record(ctx, int64(state.Iterations))
}

// resolveTies assigns records matched by more than one candidate. Excluded
// matches carry no claim; every other decision makes its candidate a
// contender. Each contested record ends up owned by exactly one candidate
// or flagged for manual review.
func (c *Coordinator) resolveTies(ctx context.Context, results []candidateResult, summary *Summary) {
	contenders := make(map[int64][]tiebreak.Contender)
	recordByID := make(map[int64]model.Record)

	for _, res := range results {
		for _, d := range res.decisions {
			if d.Recommendation == model.RecommendExclude {
				continue
			}
			contenders[d.RecordID] = append(contenders[d.RecordID], tiebreak.Contender{
				CandidateID:   res.candidate.ID,
				CandidateName: res.candidate.Name,
				Confidence:    d.Score,
			})
		}
		for _, rec := range res.records {
			recordByID[rec.ID] = rec
		}
	}

	contested := make([]int64, 0)
	for recordID, cs := range contenders {
		if len(cs) > 1 {
			contested = append(contested, recordID)
		}
	}
	sort.Slice(contested, func(i, j int) bool { return contested[i] < contested[j] })

	resolutions := make([]tiebreak.Resolution, 0, len(contested))
	for _, recordID := range contested {
		resolution, err := tiebreak.Resolve(recordByID[recordID], contenders[recordID])
		if err != nil {
			c.logger.Error(ctx, "tie resolution failed",
				zap.Int64("record_id", recordID),
				zap.Error(err),
			)
			continue
		}
		resolutions = append(resolutions, resolution)

		summary.Ties.Contested++
		if resolution.ManualReview {
			summary.Ties.ManualReview++
		} else {
			summary.Ties.Assigned++
			tiesResolved.Add(ctx, 1)
		}
	}

	if len(resolutions) > 0 {
		if err := c.decisions.AppendResolutions(ctx, resolutions); err != nil {
			c.logger.Warn(ctx, "resolution log append failed", zap.Error(err))
		}
	}
}

func (c *Coordinator) summarize(results []candidateResult) *Summary {
	summary := &Summary{
		Processed:       len(results),
		StatusBreakdown: make(map[Status]int),
	}

	totalIterations := 0
	for _, res := range results {
		summary.StatusBreakdown[res.state.Status]++
		summary.Decisions.Add(res.state.Counts)
		totalIterations += res.state.Iterations
	}
	if len(results) > 0 {
		summary.AverageIterations = float64(totalIterations) / float64(len(results))
	}
	return summary
}

// Status returns the persisted state for one candidate.
func (c *Coordinator) Status(ctx context.Context, candidateID int64) (*WorkflowState, error) {
	return c.store.GetState(ctx, candidateID)
}

// States returns every persisted workflow state.
func (c *Coordinator) States(ctx context.Context) ([]*WorkflowState, error) {
	return c.store.ListStates(ctx)
}

// Summary aggregates every persisted workflow state. Tie counts are only
// known within a batch run and are zero here.
func (c *Coordinator) Summary(ctx context.Context) (*Summary, error) {
	states, err := c.store.ListStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}

	summary := &Summary{
		Processed:       len(states),
		StatusBreakdown: make(map[Status]int),
	}
	totalIterations := 0
	for _, state := range states {
		summary.StatusBreakdown[state.Status]++
		summary.Decisions.Add(state.Counts)
		totalIterations += state.Iterations
	}
	if len(states) > 0 {
		summary.AverageIterations = float64(totalIterations) / float64(len(states))
	}
	return summary, nil
}

// validateGeneration rejects metadata that can never match anything.
func validateGeneration(candidateID int64, gen *agents.Generation) error {
	var fields []string
	if gen.Pattern == "" {
		fields = append(fields, "pattern is empty")
	}
	if len(gen.AllowList) == 0 {
		fields = append(fields, "allow list is empty")
	}
	if len(fields) > 0 {
		return &ValidationError{CandidateID: candidateID, Fields: fields}
	}
	return nil
}

// buildFeedback summarizes why a confirmation pass rejected everything, for
// the next generation attempt.
func buildFeedback(decisions []model.Decision) string {
	const maxExamples = 3
	fb := fmt.Sprintf("all %d matched records were rejected", len(decisions))
	n := 0
	for _, d := range decisions {
		if d.Recommendation != model.RecommendExclude || len(d.Factors) == 0 {
			continue
		}
		fb += fmt.Sprintf("; record %d: %s", d.RecordID, d.Factors[len(d.Factors)-1])
		n++
		if n == maxExamples {
			break
		}
	}
	return fb
}
