// Package httpapi exposes workflow status, decision audit trails, and batch
// execution over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/merchantiq/matchd/internal/config"
	"github.com/merchantiq/matchd/internal/engine"
	"github.com/merchantiq/matchd/internal/logging"
	"github.com/merchantiq/matchd/internal/model"
	"github.com/merchantiq/matchd/internal/store"
)

// Server provides the HTTP endpoints for matchd.
type Server struct {
	echo   *echo.Echo
	coord  *engine.Coordinator
	store  store.Store
	logger *logging.Logger
	config config.ServerConfig
}

// NewServer creates the HTTP server.
func NewServer(coord *engine.Coordinator, st store.Store, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		coord:  coord,
		store:  st,
		logger: logger.Named("http"),
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/workflows", s.handleListWorkflows)
	v1.GET("/workflows/:id", s.handleGetWorkflow)
	v1.GET("/summary", s.handleSummary)
	v1.POST("/batches", s.handleRunBatch)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// WorkflowResponse is the response body for GET /api/v1/workflows/:id.
type WorkflowResponse struct {
	State     *engine.WorkflowState `json:"state"`
	Decisions []model.Decision      `json:"decisions,omitempty"`
}

// BatchRequest is the request body for POST /api/v1/batches.
type BatchRequest struct {
	Candidates []model.Candidate    `json:"candidates"`
	Categories []model.CategoryInfo `json:"categories,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListWorkflows(c echo.Context) error {
	states, err := s.coord.States(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "list workflows failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list workflows")
	}
	return c.JSON(http.StatusOK, states)
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "candidate id must be an integer")
	}

	ctx := c.Request().Context()
	state, err := s.coord.Status(ctx, id)
	if err != nil {
		s.logger.Error(ctx, "get workflow failed", zap.Int64("candidate_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load workflow")
	}
	if state == nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no workflow for candidate %d", id))
	}

	decisions, err := s.store.Decisions(ctx, id)
	if err != nil {
		s.logger.Error(ctx, "load decisions failed", zap.Int64("candidate_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load decisions")
	}

	return c.JSON(http.StatusOK, WorkflowResponse{State: state, Decisions: decisions})
}

func (s *Server) handleSummary(c echo.Context) error {
	summary, err := s.coord.Summary(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "summary failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build summary")
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleRunBatch(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Candidates) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "candidates field is required")
	}

	categories := make(map[int]model.CategoryInfo, len(req.Categories))
	for _, ci := range req.Categories {
		categories[ci.Code] = ci
	}

	summary, err := s.coord.ProcessBatch(c.Request().Context(), req.Candidates, categories)
	if err != nil {
		s.logger.Error(c.Request().Context(), "batch failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "batch execution failed")
	}
	return c.JSON(http.StatusOK, summary)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
