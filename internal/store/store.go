package store

import (
	"context"
	"fmt"

	"github.com/merchantiq/matchd/internal/config"
	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/escalation"
	"github.com/merchantiq/matchd/internal/model"
)

// Store is the full persistence surface: workflow states, the decision
// audit trail, and escalation tickets.
type Store interface {
	engine.WorkflowStore
	engine.DecisionLog
	escalation.TicketStore

	// Decisions returns the audit trail for one candidate in append order.
	Decisions(ctx context.Context, candidateID int64) ([]model.Decision, error)

	Close() error
}

// Open selects the backend from configuration.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
