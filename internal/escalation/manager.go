// Package escalation creates and delivers escalation tickets for candidates
// that exhaust their refinement-iteration budget. Resolution is a human
// concern; this package only records and notifies.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/merchantiq/matchd/internal/logging"
)

// PriorityHigh is the priority of every iteration-exhaustion ticket.
const PriorityHigh = "high"

// Ticket is an immutable escalation record. One ticket per escalation
// event; an event may bundle multiple candidates.
type Ticket struct {
	ID             string    `json:"id"`
	CandidateIDs   []int64   `json:"candidate_ids"`
	Reason         string    `json:"reason"`
	IterationCount int       `json:"iteration_count"`
	Priority       string    `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// TicketStore persists tickets append-only.
type TicketStore interface {
	AppendTicket(ctx context.Context, ticket Ticket) error
}

// Notifier delivers a ticket to a human-review channel. Delivery is
// best-effort; failures must not fail the escalation.
type Notifier interface {
	Notify(ctx context.Context, ticket Ticket) error
}

// Manager builds, persists, and delivers escalation tickets.
type Manager struct {
	store    TicketStore
	notifier Notifier
	logger   *logging.Logger
	now      func() time.Time
}

// NewManager creates an escalation manager. notifier may be nil to disable
// delivery.
func NewManager(store TicketStore, notifier Notifier, logger *logging.Logger) *Manager {
	return &Manager{
		store:    store,
		notifier: notifier,
		logger:   logger.Named("escalation"),
		now:      time.Now,
	}
}

// Escalate creates one high-priority ticket for the given candidates,
// persists it, and delivers it best-effort.
func (m *Manager) Escalate(ctx context.Context, candidateIDs []int64, iterationCount int, reason string) (*Ticket, error) {
	if len(candidateIDs) == 0 {
		return nil, fmt.Errorf("escalation requires at least one candidate")
	}

	ticket := Ticket{
		ID:             uuid.NewString(),
		CandidateIDs:   candidateIDs,
		Reason:         reason,
		IterationCount: iterationCount,
		Priority:       PriorityHigh,
		CreatedAt:      m.now().UTC(),
	}

	if err := m.store.AppendTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("persist escalation ticket: %w", err)
	}

	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, ticket); err != nil {
			// Best-effort delivery: the ticket is already durable.
			m.logger.Warn(ctx, "escalation delivery failed",
				zap.String("ticket_id", ticket.ID),
				zap.Error(err),
			)
		}
	}

	m.logger.Info(ctx, "candidate escalated",
		zap.String("ticket_id", ticket.ID),
		zap.Int64s("candidate_ids", candidateIDs),
		zap.Int("iterations", iterationCount),
	)

	return &ticket, nil
}
