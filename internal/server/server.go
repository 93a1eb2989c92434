// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/mia-platform/tallysync/internal/aggregate"
	"github.com/mia-platform/tallysync/internal/info"
	"github.com/mia-platform/tallysync/internal/ledger"
	"github.com/mia-platform/tallysync/internal/logger"
	"github.com/mia-platform/tallysync/internal/orchestrator"
	"github.com/mia-platform/tallysync/internal/progress"
)

const (
	serviceName = "tallysync"
	loggerName  = "tallysync:server"
)

type Server interface {
	Start() error
	Stop() error
	StartAsync(ctx context.Context)
}

// SyncService runs and describes sync runs.
type SyncService interface {
	Trigger(ctx context.Context, request orchestrator.Request) (orchestrator.Report, error)
	Status() orchestrator.Status
}

// ProgressReader returns the live ingestion state of the entity types.
type ProgressReader interface {
	Get(entityType string) progress.State
	All() []progress.State
}

// HistoryReader returns the recent runs of a tenant.
type HistoryReader interface {
	RecentHistory(ctx context.Context, tenant, entityType string, limit int) ([]ledger.HistoryEntry, error)
}

// AggregateReader serves the precomputed aggregates of a tenant.
type AggregateReader interface {
	Aging(ctx context.Context, tenant string) ([]aggregate.PartyAging, error)
	Stats(ctx context.Context, tenant string) (aggregate.Stats, error)
}

// ReadinessChecker reports whether the backing store can serve requests.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators behind the routes.
type Dependencies struct {
	Sync       SyncService
	Progress   ProgressReader
	History    HistoryReader
	Aggregates AggregateReader
	Readiness  ReadinessChecker
}

type impServer struct {
	Config

	app *fiber.App
}

var (
	ErrServerListen   = errors.New("server listen error")
	ErrServerShutdown = errors.New("server shutdown error")
)

// NewServer reads its configuration from the environment and registers every route.
func NewServer(ctx context.Context, deps Dependencies) (Server, error) {
	cfg, err := LoadServerConfig()
	if err != nil {
		return nil, err
	}

	return newServer(ctx, *cfg, deps), nil
}

func newServer(ctx context.Context, cfg Config, deps Dependencies) *impServer {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: cfg.DisableStartupMessage,
		ReadTimeout:           cfg.ReadTimeout,
		ErrorHandler:          errorHandler,
		Immutable:             true, // params and query values outlive the handler in run reports
	})
	log := logger.FromContext(ctx)
	app.Use(logger.RequestMiddlewareLogger(log, []string{"/-/"}))

	statusRoutes(app, serviceName, info.Version, deps.Readiness)
	apiRoutes(ctx, app, deps)

	return &impServer{
		app:    app,
		Config: cfg,
	}
}

func (s *impServer) Start() error {
	if err := s.app.Listen(fmt.Sprintf("%s:%d", s.HTTPHost, s.HTTPPort)); err != nil {
		return fmt.Errorf("%w: %w", ErrServerListen, err)
	}
	return nil
}

func (s *impServer) Stop() error {
	if err := s.app.ShutdownWithTimeout(s.ShutdownTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrServerShutdown, err)
	}
	return nil
}

func (s *impServer) StartAsync(ctx context.Context) {
	log := logger.FromContext(ctx).WithName(loggerName)
	go func() {
		if err := s.Start(); err != nil {
			log.Error(err.Error())
		}
	}()
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// errorHandler renders every handler error as an errorResponse.
func errorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code >= http.StatusInternalServerError {
		logger.FromContext(c.UserContext()).WithName(loggerName).Error("request failed", "path", c.Path(), "error", err)
	}

	return c.Status(code).JSON(errorResponse{
		StatusCode: code,
		Error:      http.StatusText(code),
		Message:    message,
	})
}
