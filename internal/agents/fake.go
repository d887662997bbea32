package agents

import (
	"context"
	"fmt"
	"sync"

	"github.com/merchantiq/matchd/internal/model"
)

// FakeClient is a deterministic AgentClient for tests and offline runs.
// Responses are scripted per candidate id; unscripted candidates get an
// error. Call counts are tracked so tests can assert retry and iteration
// behavior.
type FakeClient struct {
	mu sync.Mutex

	Evaluations map[int64]*Evaluation
	Generations map[int64][]*Generation // consumed in order, last one repeats
	MatchSets   map[int64][]model.Record

	// Errs injects failures: remaining error count per (candidate, op).
	Errs map[string]int

	EvaluateCalls map[int64]int
	GenerateCalls map[int64]int
	ApplyCalls    map[int64]int
}

// NewFakeClient returns an empty fake ready for scripting.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Evaluations:   make(map[int64]*Evaluation),
		Generations:   make(map[int64][]*Generation),
		MatchSets:     make(map[int64][]model.Record),
		Errs:          make(map[string]int),
		EvaluateCalls: make(map[int64]int),
		GenerateCalls: make(map[int64]int),
		ApplyCalls:    make(map[int64]int),
	}
}

// FailNext makes the next n calls of op for the candidate fail. op is one
// of "evaluate", "generate", "apply".
func (f *FakeClient) FailNext(candidateID int64, op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errs[errKey(candidateID, op)] = n
}

func errKey(id int64, op string) string {
	return fmt.Sprintf("%d/%s", id, op)
}

func (f *FakeClient) takeErr(id int64, op string) error {
	key := errKey(id, op)
	if f.Errs[key] > 0 {
		f.Errs[key]--
		return fmt.Errorf("injected %s failure for candidate %d", op, id)
	}
	return nil
}

// Evaluate implements AgentClient.
func (f *FakeClient) Evaluate(ctx context.Context, candidate model.Candidate) (*Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.EvaluateCalls[candidate.ID]++
	if err := f.takeErr(candidate.ID, "evaluate"); err != nil {
		return nil, err
	}
	eval, ok := f.Evaluations[candidate.ID]
	if !ok {
		return nil, fmt.Errorf("no scripted evaluation for candidate %d", candidate.ID)
	}
	return eval, nil
}

// Generate implements AgentClient.
func (f *FakeClient) Generate(ctx context.Context, candidate model.Candidate, eval *Evaluation, feedback string) (*Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.GenerateCalls[candidate.ID]++
	if err := f.takeErr(candidate.ID, "generate"); err != nil {
		return nil, err
	}
	gens := f.Generations[candidate.ID]
	if len(gens) == 0 {
		return nil, fmt.Errorf("no scripted generation for candidate %d", candidate.ID)
	}
	idx := f.GenerateCalls[candidate.ID] - 1
	if idx >= len(gens) {
		idx = len(gens) - 1
	}
	return gens[idx], nil
}

// ApplyPattern implements AgentClient.
func (f *FakeClient) ApplyPattern(ctx context.Context, candidate model.Candidate, version model.PatternVersion) ([]model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ApplyCalls[candidate.ID]++
	if err := f.takeErr(candidate.ID, "apply"); err != nil {
		return nil, err
	}
	return f.MatchSets[candidate.ID], nil
}
