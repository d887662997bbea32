package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchantiq/matchd/internal/agents"
	"github.com/merchantiq/matchd/internal/config"
	"github.com/merchantiq/matchd/internal/escalation"
	"github.com/merchantiq/matchd/internal/logging"
	"github.com/merchantiq/matchd/internal/model"
	"github.com/merchantiq/matchd/internal/tiebreak"
)

// --- test fakes ---

type memStore struct {
	mu     sync.Mutex
	states map[int64]*WorkflowState
}

func newMemStore() *memStore {
	return &memStore{states: make(map[int64]*WorkflowState)}
}

func (s *memStore) SaveState(ctx context.Context, state *WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.CandidateID] = &cp
	return nil
}

func (s *memStore) GetState(ctx context.Context, candidateID int64) (*WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[candidateID], nil
}

func (s *memStore) ListStates(ctx context.Context) ([]*WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkflowState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out, nil
}

type memLog struct {
	mu          sync.Mutex
	decisions   []model.Decision
	resolutions []tiebreak.Resolution
}

func (l *memLog) AppendDecisions(ctx context.Context, candidateID int64, iteration int, ds []model.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, ds...)
	return nil
}

func (l *memLog) AppendResolutions(ctx context.Context, rs []tiebreak.Resolution) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolutions = append(l.resolutions, rs...)
	return nil
}

type memTickets struct {
	mu      sync.Mutex
	tickets []escalation.Ticket
}

func (s *memTickets) AppendTicket(ctx context.Context, t escalation.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, t)
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Retry.InitialBackoff = config.Duration(time.Millisecond)
	cfg.Retry.MaxBackoff = config.Duration(5 * time.Millisecond)
	return cfg
}

type fixture struct {
	coord   *Coordinator
	client  *agents.FakeClient
	store   *memStore
	log     *memLog
	tickets *memTickets
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	logger := logging.NewTestLogger(t)
	client := agents.NewFakeClient()
	store := newMemStore()
	log := &memLog{}
	tickets := &memTickets{}
	esc := escalation.NewManager(tickets, nil, logger)
	return &fixture{
		coord:   NewCoordinator(cfg, client, store, log, esc, logger),
		client:  client,
		store:   store,
		log:     log,
		tickets: tickets,
	}
}

var testCategories = map[int]model.CategoryInfo{
	5814: {Code: 5814, Sector: "restaurant", Label: "Fast Food"},
	5411: {Code: 5411, Sector: "grocery", Label: "Grocery Stores"},
}

func confirmableRecords() []model.Record {
	return []model.Record{
		{ID: 1, Narrative: "STARBUCKS STORE #1234 SEATTLE", CategoryCode: 5814},
		{ID: 2, Narrative: "STARBUCKS STORE #5678 PORTLAND", CategoryCode: 5814},
	}
}

func excludableRecords() []model.Record {
	return []model.Record{
		{ID: 3, Narrative: "APPLE ORCHARD FARM VISIT", CategoryCode: 5411},
	}
}

// --- tests ---

func TestProcessBatch_CompletesWithConfirmedMatches(t *testing.T) {
	f := newFixture(t, testConfig())
	cand := model.Candidate{ID: 1, Name: "Starbucks", Sector: "restaurant"}

	f.client.Evaluations[1] = &agents.Evaluation{ConfidenceScore: 0.5}
	f.client.Generations[1] = []*agents.Generation{{Pattern: "STARBUCKS", AllowList: []int{5814}}}
	f.client.MatchSets[1] = confirmableRecords()

	summary, err := f.coord.ProcessBatch(context.Background(), []model.Candidate{cand}, testCategories)
	require.NoError(t, err)

	state, err := f.coord.Status(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 1, state.Iterations)
	require.Len(t, state.Versions, 1)
	assert.Equal(t, 1, state.Versions[0].Version)

	assert.Equal(t, 1, summary.StatusBreakdown[StatusCompleted])
	assert.Equal(t, 2, summary.Decisions.Confirmed)
	assert.Len(t, f.log.decisions, 2, "every decision reaches the audit log")
}

func TestProcessBatch_HighConfidenceSkipsConfirmation(t *testing.T) {
	f := newFixture(t, testConfig())
	cand := model.Candidate{ID: 2, Name: "Starbucks", Sector: "restaurant"}

	f.client.Evaluations[2] = &agents.Evaluation{ConfidenceScore: 0.9}
	f.client.Generations[2] = []*agents.Generation{{Pattern: "STARBUCKS", AllowList: []int{5814}}}

	_, err := f.coord.ProcessBatch(context.Background(), []model.Candidate{cand}, testCategories)
	require.NoError(t, err)

	state, _ := f.coord.Status(context.Background(), 2)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Zero(t, f.client.ApplyCalls[2], "confirmation is skipped above the confidence threshold")
}

func TestProcessBatch_IterationBudgetEscalates(t *testing.T) {
	cfg := testConfig()
	cfg.Workflow.MaxIterations = 3
	f := newFixture(t, cfg)
	cand := model.Candidate{ID: 3, Name: "Apple", Sector: "technology"}

	f.client.Evaluations[3] = &agents.Evaluation{ConfidenceScore: 0.4}
	f.client.Generations[3] = []*agents.Generation{{Pattern: "APPLE", AllowList: []int{5411}}}
	f.client.MatchSets[3] = excludableRecords()

	summary, err := f.coord.ProcessBatch(context.Background(), []model.Candidate{cand}, testCategories)
	require.NoError(t, err)

	state, _ := f.coord.Status(context.Background(), 3)
	assert.Equal(t, StatusAwaitingReview, state.Status)
	assert.Equal(t, 3, state.Iterations, "iterations stop exactly at the bound")
	assert.Equal(t, 3, f.client.GenerateCalls[3])
	assert.Equal(t, 3, f.client.ApplyCalls[3])
	assert.Len(t, state.Versions, 3, "one immutable version per iteration")

	require.Len(t, f.tickets.tickets, 1, "exactly one escalation ticket")
	ticket := f.tickets.tickets[0]
	assert.Equal(t, escalation.PriorityHigh, ticket.Priority)
	assert.Equal(t, []int64{3}, ticket.CandidateIDs)
	assert.Equal(t, 3, ticket.IterationCount)

	assert.Equal(t, 1, summary.StatusBreakdown[StatusAwaitingReview])
}

func TestProcessBatch_RetryExhaustionFails(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg)
	cand := model.Candidate{ID: 4, Name: "Starbucks", Sector: "restaurant"}

	f.client.FailNext(4, "evaluate", cfg.Retry.MaxAttempts)

	_, err := f.coord.ProcessBatch(context.Background(), []model.Candidate{cand}, testCategories)
	require.NoError(t, err, "candidate failures never surface as batch errors")

	state, _ := f.coord.Status(context.Background(), 4)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, cfg.Retry.MaxAttempts, f.client.EvaluateCalls[4], "attempt budget fully spent")
	require.NotEmpty(t, state.Failures)
	assert.Equal(t, "evaluate", state.Failures[0].Step)
}

func TestProcessBatch_TransientFailureRecovers(t *testing.T) {
	f := newFixture(t, testConfig())
	cand := model.Candidate{ID: 5, Name: "Starbucks", Sector: "restaurant"}

	f.client.Evaluations[5] = &agents.Evaluation{ConfidenceScore: 0.5}
	f.client.Generations[5] = []*agents.Generation{{Pattern: "STARBUCKS", AllowList: []int{5814}}}
	f.client.MatchSets[5] = confirmableRecords()
	f.client.FailNext(5, "evaluate", 1)

	_, err := f.coord.ProcessBatch(context.Background(), []model.Candidate{cand}, testCategories)
	require.NoError(t, err)

	state, _ := f.coord.Status(context.Background(), 5)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 2, f.client.EvaluateCalls[5])
}

func TestProcessBatch_InvalidGenerationFailsWithoutRetry(t *testing.T) {
	f := newFixture(t, testConfig())
	cand := model.Candidate{ID: 6, Name: "Starbucks", Sector: "restaurant"}

	f.client.Evaluations[6] = &agents.Evaluation{ConfidenceScore: 0.5}
	f.client.Generations[6] = []*agents.Generation{{Pattern: "", AllowList: nil}}

	_, err := f.coord.ProcessBatch(context.Background(), []model.Candidate{cand}, testCategories)
	require.NoError(t, err)

	state, _ := f.coord.Status(context.Background(), 6)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, 1, f.client.GenerateCalls[6], "validation failures are not retried")
	assert.Empty(t, state.Versions, "rejected metadata is never persisted as a version")
}

func TestProcessBatch_FailureIsolation(t *testing.T) {
	f := newFixture(t, testConfig())
	good := model.Candidate{ID: 7, Name: "Starbucks", Sector: "restaurant"}
	bad := model.Candidate{ID: 8, Name: "Chevron", Sector: "fuel"}

	f.client.Evaluations[7] = &agents.Evaluation{ConfidenceScore: 0.5}
	f.client.Generations[7] = []*agents.Generation{{Pattern: "STARBUCKS", AllowList: []int{5814}}}
	f.client.MatchSets[7] = confirmableRecords()
	// Candidate 8 has no scripted evaluation: every attempt fails.

	summary, err := f.coord.ProcessBatch(context.Background(), []model.Candidate{good, bad}, testCategories)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.StatusBreakdown[StatusCompleted])
	assert.Equal(t, 1, summary.StatusBreakdown[StatusFailed])

	goodState, _ := f.coord.Status(context.Background(), 7)
	assert.Equal(t, StatusCompleted, goodState.Status)
}

func TestProcessBatch_TieGoesToHighestConfidence(t *testing.T) {
	f := newFixture(t, testConfig())
	// Both candidates match record 1; the sector-aligned candidate scores
	// higher and takes the record.
	strong := model.Candidate{ID: 9, Name: "Starbucks", Sector: "restaurant"}
	weak := model.Candidate{ID: 10, Name: "Biggby", Sector: "retail"}
	shared := []model.Record{{ID: 1, Narrative: "STARBUCKS STORE #1234 SEATTLE", CategoryCode: 5814}}

	for _, c := range []model.Candidate{strong, weak} {
		f.client.Evaluations[c.ID] = &agents.Evaluation{ConfidenceScore: 0.5}
		f.client.Generations[c.ID] = []*agents.Generation{{Pattern: c.Name, AllowList: []int{5814}}}
		f.client.MatchSets[c.ID] = shared
	}

	summary, err := f.coord.ProcessBatch(context.Background(), []model.Candidate{strong, weak}, testCategories)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Ties.Contested)
	assert.Equal(t, 1, summary.Ties.Assigned)
	assert.Zero(t, summary.Ties.ManualReview)

	require.Len(t, f.log.resolutions, 1)
	res := f.log.resolutions[0]
	assert.Equal(t, int64(1), res.RecordID)
	assert.Equal(t, int64(9), res.CandidateID)
	assert.False(t, res.ManualReview)
}

func TestProcessBatch_ExactTieGoesToManualReview(t *testing.T) {
	f := newFixture(t, testConfig())
	a := model.Candidate{ID: 11, Name: "Starbucks", Sector: "restaurant"}
	b := model.Candidate{ID: 12, Name: "Dunkin", Sector: "restaurant"}
	shared := []model.Record{{ID: 2, Narrative: "COFFEE STORE #42 DOWNTOWN", CategoryCode: 5814}}

	for _, c := range []model.Candidate{a, b} {
		f.client.Evaluations[c.ID] = &agents.Evaluation{ConfidenceScore: 0.5}
		f.client.Generations[c.ID] = []*agents.Generation{{Pattern: c.Name, AllowList: []int{5814}}}
		f.client.MatchSets[c.ID] = shared
	}

	summary, err := f.coord.ProcessBatch(context.Background(), []model.Candidate{a, b}, testCategories)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Ties.Contested)
	assert.Equal(t, 1, summary.Ties.ManualReview)
	require.Len(t, f.log.resolutions, 1)
	assert.True(t, f.log.resolutions[0].ManualReview)
	assert.Zero(t, f.log.resolutions[0].CandidateID, "manual review assigns no owner")
}

// gateClient tracks peak concurrency across agent calls.
type gateClient struct {
	inner *agents.FakeClient
	mu    sync.Mutex
	cur   int
	peak  int
}

func (g *gateClient) enter() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
}

func (g *gateClient) leave() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

func (g *gateClient) Evaluate(ctx context.Context, c model.Candidate) (*agents.Evaluation, error) {
	g.enter()
	defer g.leave()
	return g.inner.Evaluate(ctx, c)
}

func (g *gateClient) Generate(ctx context.Context, c model.Candidate, e *agents.Evaluation, fb string) (*agents.Generation, error) {
	g.enter()
	defer g.leave()
	return g.inner.Generate(ctx, c, e, fb)
}

func (g *gateClient) ApplyPattern(ctx context.Context, c model.Candidate, v model.PatternVersion) ([]model.Record, error) {
	g.enter()
	defer g.leave()
	return g.inner.ApplyPattern(ctx, c, v)
}

func TestProcessBatch_ParallelismBoundedByBatchSize(t *testing.T) {
	cfg := testConfig()
	cfg.Workflow.BatchSize = 2
	logger := logging.NewTestLogger(t)

	inner := agents.NewFakeClient()
	gate := &gateClient{inner: inner}
	store := newMemStore()
	tickets := &memTickets{}
	coord := NewCoordinator(cfg, gate, store, &memLog{}, escalation.NewManager(tickets, nil, logger), logger)

	candidates := make([]model.Candidate, 0, 6)
	for i := int64(1); i <= 6; i++ {
		candidates = append(candidates, model.Candidate{ID: i, Name: "Starbucks", Sector: "restaurant"})
		inner.Evaluations[i] = &agents.Evaluation{ConfidenceScore: 0.9}
		inner.Generations[i] = []*agents.Generation{{Pattern: "STARBUCKS", AllowList: []int{5814}}}
	}

	summary, err := coord.ProcessBatch(context.Background(), candidates, testCategories)
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Processed)
	assert.LessOrEqual(t, gate.peak, 2, "no more than batch_size candidates in flight")
	assert.Greater(t, gate.peak, 0)
}

func TestProcessBatch_EmptyInput(t *testing.T) {
	f := newFixture(t, testConfig())
	summary, err := f.coord.ProcessBatch(context.Background(), nil, testCategories)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}
