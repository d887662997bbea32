// Package config provides configuration loading for matchd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, with validated typed fields and hard limits on the workflow
// iteration bound.
package config

import (
	"errors"
	"fmt"
	"time"
)

// MaxIterationCeiling is the enforced upper bound on refinement iterations,
// regardless of configuration. Validation rejects anything above it.
const MaxIterationCeiling = 10

// Config holds the complete matchd configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Retry    RetryConfig    `koanf:"retry"`
	Agents   AgentsConfig   `koanf:"agents"`
	Store    StoreConfig    `koanf:"store"`
	Notify   NotifyConfig   `koanf:"notify"`
	Temporal TemporalConfig `koanf:"temporal"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// WorkflowConfig holds the coordinator's routing and bounding knobs.
type WorkflowConfig struct {
	// MaxIterations bounds refinement cycles per candidate. Default 5,
	// hard ceiling 10.
	MaxIterations int `koanf:"max_iterations"`

	// ConfidenceThreshold routes candidates past confirmation when the
	// evaluation confidence meets it. Default 0.75.
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`

	// BatchSize bounds how many candidates are processed in parallel.
	// Default 10.
	BatchSize int `koanf:"batch_size"`
}

// RetryConfig holds retry settings for external collaborator calls.
type RetryConfig struct {
	MaxAttempts    int      `koanf:"max_attempts"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
}

// AgentsConfig holds settings for the remote agent service.
type AgentsConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`

	// RequestsPerSecond rate-limits outbound agent calls. Default 5.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Timeout           Duration `koanf:"timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `koanf:"driver"`
	// Path is the SQLite database path when Driver is "sqlite".
	Path string `koanf:"path"`
}

// NotifyConfig holds escalation delivery settings. An empty URL disables
// delivery (escalations are still persisted).
type NotifyConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// TemporalConfig holds Temporal worker settings.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	TaskQueue string `koanf:"task_queue"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8085,
			ShutdownTimeout: 10 * time.Second,
		},
		Workflow: WorkflowConfig{
			MaxIterations:       5,
			ConfidenceThreshold: 0.75,
			BatchSize:           10,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
		},
		Agents: AgentsConfig{
			RequestsPerSecond: 5,
			Timeout:           Duration(30 * time.Second),
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Notify: NotifyConfig{
			Subject: "matchd.escalations",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			TaskQueue: "match-resolution-queue",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Workflow.MaxIterations < 1 {
		return fmt.Errorf("workflow.max_iterations must be at least 1, got %d", c.Workflow.MaxIterations)
	}
	if c.Workflow.MaxIterations > MaxIterationCeiling {
		return fmt.Errorf("workflow.max_iterations %d exceeds ceiling %d",
			c.Workflow.MaxIterations, MaxIterationCeiling)
	}
	if c.Workflow.ConfidenceThreshold <= 0 || c.Workflow.ConfidenceThreshold > 1 {
		return fmt.Errorf("workflow.confidence_threshold must be in (0, 1], got %v",
			c.Workflow.ConfidenceThreshold)
	}
	if c.Workflow.BatchSize < 1 {
		return fmt.Errorf("workflow.batch_size must be at least 1, got %d", c.Workflow.BatchSize)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoff.Duration() <= 0 {
		return errors.New("retry.initial_backoff must be positive")
	}
	if c.Retry.MaxBackoff.Duration() < c.Retry.InitialBackoff.Duration() {
		return errors.New("retry.max_backoff must be >= retry.initial_backoff")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path required when store.driver is sqlite")
		}
	default:
		return fmt.Errorf("store.driver must be 'memory' or 'sqlite', got %q", c.Store.Driver)
	}

	if c.Agents.RequestsPerSecond <= 0 {
		return errors.New("agents.requests_per_second must be positive")
	}

	return nil
}
