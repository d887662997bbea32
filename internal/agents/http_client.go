package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/merchantiq/matchd/internal/config"
	"github.com/merchantiq/matchd/internal/logging"
	"github.com/merchantiq/matchd/internal/model"
)

// HTTPClient calls the remote agent service over HTTP. Outbound calls are
// rate-limited so a large batch cannot stampede the agent service.
type HTTPClient struct {
	baseURL string
	apiKey  config.Secret
	http    *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewHTTPClient creates a client for the agent service at cfg.BaseURL.
func NewHTTPClient(cfg config.AgentsConfig, logger *logging.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("agents base URL is required")
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.Named("agents"),
	}, nil
}

type evaluateRequest struct {
	Candidate model.Candidate `json:"candidate"`
}

type generateRequest struct {
	Candidate  model.Candidate `json:"candidate"`
	Evaluation *Evaluation     `json:"evaluation,omitempty"`
	Feedback   string          `json:"feedback,omitempty"`
}

type applyPatternRequest struct {
	Candidate model.Candidate      `json:"candidate"`
	Version   model.PatternVersion `json:"version"`
}

// Evaluate implements AgentClient.
func (c *HTTPClient) Evaluate(ctx context.Context, candidate model.Candidate) (*Evaluation, error) {
	var eval Evaluation
	path := fmt.Sprintf("/v1/candidates/%d/evaluate", candidate.ID)
	if err := c.post(ctx, path, evaluateRequest{Candidate: candidate}, &eval); err != nil {
		return nil, fmt.Errorf("evaluate candidate %d: %w", candidate.ID, err)
	}
	return &eval, nil
}

// Generate implements AgentClient.
func (c *HTTPClient) Generate(ctx context.Context, candidate model.Candidate, eval *Evaluation, feedback string) (*Generation, error) {
	var gen Generation
	path := fmt.Sprintf("/v1/candidates/%d/generate", candidate.ID)
	req := generateRequest{Candidate: candidate, Evaluation: eval, Feedback: feedback}
	if err := c.post(ctx, path, req, &gen); err != nil {
		return nil, fmt.Errorf("generate for candidate %d: %w", candidate.ID, err)
	}
	return &gen, nil
}

// ApplyPattern implements AgentClient.
func (c *HTTPClient) ApplyPattern(ctx context.Context, candidate model.Candidate, version model.PatternVersion) ([]model.Record, error) {
	var records []model.Record
	path := fmt.Sprintf("/v1/candidates/%d/matches", candidate.ID)
	req := applyPatternRequest{Candidate: candidate, Version: version}
	if err := c.post(ctx, path, req, &records); err != nil {
		return nil, fmt.Errorf("apply pattern for candidate %d: %w", candidate.ID, err)
	}
	return records, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.apiKey.Value())
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug(ctx, "agent call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("request_id", requestID),
	)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode agent response: %w", err)
	}
	return nil
}
