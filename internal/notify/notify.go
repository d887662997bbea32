// Package notify delivers escalation tickets to a NATS subject so review
// tooling can pick them up. Delivery is best-effort by contract; the ticket
// store is the source of truth.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/merchantiq/matchd/internal/config"
	"github.com/merchantiq/matchd/internal/escalation"
	"github.com/merchantiq/matchd/internal/logging"
)

// NATS publishes tickets as JSON messages on a fixed subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  *logging.Logger
}

// NewNATS connects to the configured NATS server. An empty URL returns
// (nil, nil): delivery disabled, escalations persist only.
func NewNATS(cfg config.NotifyConfig, logger *logging.Logger) (*NATS, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATSURL, err)
	}

	return &NATS{
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger.Named("notify"),
	}, nil
}

// Notify implements escalation.Notifier.
func (n *NATS) Notify(ctx context.Context, ticket escalation.Ticket) error {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("marshal ticket %s: %w", ticket.ID, err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("publish ticket %s: %w", ticket.ID, err)
	}
	n.logger.Debug(ctx, "ticket published",
		zap.String("ticket_id", ticket.ID),
		zap.String("subject", n.subject),
	)
	return nil
}

// Close drains the connection.
func (n *NATS) Close() {
	if n != nil && n.conn != nil {
		n.conn.Close()
	}
}
