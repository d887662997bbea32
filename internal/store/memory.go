// Package store provides persistence for workflow states, decision audit
// trails, and escalation tickets. Two backends: an in-memory store for tests
// and single runs, and SQLite for durable runs.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/escalation"
	"github.com/merchantiq/matchd/internal/model"
	"github.com/merchantiq/matchd/internal/tiebreak"
)

// loggedDecision is one audit-trail entry.
type loggedDecision struct {
	CandidateID int64          `json:"candidate_id"`
	Iteration   int            `json:"iteration"`
	Decision    model.Decision `json:"decision"`
}

// Memory is an in-process store. Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	states      map[int64]*engine.WorkflowState
	decisions   []loggedDecision
	resolutions []tiebreak.Resolution
	tickets     []escalation.Ticket
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[int64]*engine.WorkflowState)}
}

// SaveState implements engine.WorkflowStore.
func (m *Memory) SaveState(ctx context.Context, state *engine.WorkflowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	cp.Versions = append([]model.PatternVersion(nil), state.Versions...)
	cp.Failures = append([]engine.FailureRecord(nil), state.Failures...)
	m.states[state.CandidateID] = &cp
	return nil
}

// GetState implements engine.WorkflowStore. A missing candidate returns
// (nil, nil).
func (m *Memory) GetState(ctx context.Context, candidateID int64) (*engine.WorkflowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[candidateID]
	if !ok {
		return nil, nil
	}
	cp := *state
	return &cp, nil
}

// ListStates implements engine.WorkflowStore, ordered by candidate id.
func (m *Memory) ListStates(ctx context.Context) ([]*engine.WorkflowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.WorkflowState, 0, len(m.states))
	for _, state := range m.states {
		cp := *state
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CandidateID < out[j].CandidateID })
	return out, nil
}

// AppendDecisions implements engine.DecisionLog.
func (m *Memory) AppendDecisions(ctx context.Context, candidateID int64, iteration int, decisions []model.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range decisions {
		m.decisions = append(m.decisions, loggedDecision{
			CandidateID: candidateID,
			Iteration:   iteration,
			Decision:    d,
		})
	}
	return nil
}

// AppendResolutions implements engine.DecisionLog.
func (m *Memory) AppendResolutions(ctx context.Context, resolutions []tiebreak.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions = append(m.resolutions, resolutions...)
	return nil
}

// AppendTicket implements escalation.TicketStore.
func (m *Memory) AppendTicket(ctx context.Context, ticket escalation.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets = append(m.tickets, ticket)
	return nil
}

// Decisions returns the audit trail for one candidate in append order.
func (m *Memory) Decisions(ctx context.Context, candidateID int64) ([]model.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Decision
	for _, ld := range m.decisions {
		if ld.CandidateID == candidateID {
			out = append(out, ld.Decision)
		}
	}
	return out, nil
}

// Tickets returns all escalation tickets in append order.
func (m *Memory) Tickets(ctx context.Context) ([]escalation.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]escalation.Ticket(nil), m.tickets...), nil
}

// Close implements io.Closer for symmetry with the SQLite store.
func (m *Memory) Close() error { return nil }
