package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchantiq/matchd/internal/logging"
)

type memTicketStore struct {
	mu      sync.Mutex
	tickets []Ticket
	err     error
}

func (s *memTicketStore) AppendTicket(ctx context.Context, t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.tickets = append(s.tickets, t)
	return nil
}

type recordingNotifier struct {
	delivered []Ticket
	err       error
}

func (n *recordingNotifier) Notify(ctx context.Context, t Ticket) error {
	if n.err != nil {
		return n.err
	}
	n.delivered = append(n.delivered, t)
	return nil
}

func TestEscalate_CreatesHighPriorityTicket(t *testing.T) {
	store := &memTicketStore{}
	notifier := &recordingNotifier{}
	m := NewManager(store, notifier, logging.NewTestLogger(t))

	ticket, err := m.Escalate(context.Background(), []int64{7}, 5, "iteration budget exhausted")
	require.NoError(t, err)

	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, PriorityHigh, ticket.Priority)
	assert.Equal(t, []int64{7}, ticket.CandidateIDs)
	assert.Equal(t, 5, ticket.IterationCount)
	assert.False(t, ticket.CreatedAt.IsZero())

	require.Len(t, store.tickets, 1)
	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, ticket.ID, notifier.delivered[0].ID)
}

func TestEscalate_BundlesMultipleCandidates(t *testing.T) {
	store := &memTicketStore{}
	m := NewManager(store, nil, logging.NewTestLogger(t))

	ticket, err := m.Escalate(context.Background(), []int64{1, 2, 3}, 5, "shared pattern conflict")
	require.NoError(t, err)
	assert.Len(t, ticket.CandidateIDs, 3)
	assert.Len(t, store.tickets, 1, "one ticket per escalation event")
}

func TestEscalate_NotifyFailureIsNonFatal(t *testing.T) {
	store := &memTicketStore{}
	notifier := &recordingNotifier{err: errors.New("nats down")}
	m := NewManager(store, notifier, logging.NewTestLogger(t))

	ticket, err := m.Escalate(context.Background(), []int64{9}, 5, "exhausted")
	require.NoError(t, err, "delivery failure must not fail the escalation")
	assert.NotNil(t, ticket)
	assert.Len(t, store.tickets, 1)
}

func TestEscalate_StoreFailurePropagates(t *testing.T) {
	store := &memTicketStore{err: errors.New("disk full")}
	m := NewManager(store, nil, logging.NewTestLogger(t))

	_, err := m.Escalate(context.Background(), []int64{9}, 5, "exhausted")
	require.Error(t, err)
}

func TestEscalate_RequiresCandidates(t *testing.T) {
	m := NewManager(&memTicketStore{}, nil, logging.NewTestLogger(t))
	_, err := m.Escalate(context.Background(), nil, 5, "exhausted")
	require.Error(t, err)
}
