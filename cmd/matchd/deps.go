package main

import (
	"fmt"

	"github.com/merchantiq/matchd/internal/agents"
	"github.com/merchantiq/matchd/internal/config"
	"github.com/merchantiq/matchd/internal/escalation"
	"github.com/merchantiq/matchd/internal/logging"
	"github.com/merchantiq/matchd/internal/notify"
	"github.com/merchantiq/matchd/internal/store"
)

// deps holds the wired process dependencies shared by the subcommands.
type deps struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     store.Store
	agents    agents.AgentClient
	notifier  *notify.NATS
	escalator *escalation.Manager
}

// buildDeps loads configuration and wires the dependency graph.
func buildDeps() (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.NewLogger(logging.NewDefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	client, err := agents.NewHTTPClient(cfg.Agents, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating agent client: %w", err)
	}

	notifier, err := notify.NewNATS(cfg.Notify, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connecting notifier: %w", err)
	}

	var n escalation.Notifier
	if notifier != nil {
		n = notifier
	}

	return &deps{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		agents:    client,
		notifier:  notifier,
		escalator: escalation.NewManager(st, n, logger),
	}, nil
}

// close releases the process dependencies in reverse wiring order.
func (d *deps) close() {
	d.notifier.Close()
	if err := d.store.Close(); err != nil {
		d.logger.Underlying().Warn("store close failed")
	}
	_ = d.logger.Sync()
}
