// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/logger"
	"github.com/mia-platform/tallysync/internal/orchestrator"
	"github.com/mia-platform/tallysync/internal/pipeline"
)

const (
	dateLayout = "2006-01-02"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type handlers struct {
	Dependencies

	// runCtx bounds manual runs: it is done when the server is shutting down,
	// unlike the request context.
	runCtx context.Context
}

// apiRoutes registers the sync and aggregate endpoints.
func apiRoutes(ctx context.Context, app fiber.Router, deps Dependencies) {
	h := &handlers{Dependencies: deps, runCtx: ctx}

	sync := app.Group("/api/sync")
	sync.Get("/status", h.status)
	sync.Get("/progress", h.allProgress)
	sync.Get("/progress/:entity", h.progress)
	sync.Get("/:tenant/history", h.history)
	sync.Post("/:tenant", h.trigger)

	companies := app.Group("/api/companies/:tenant")
	companies.Get("/aging", h.aging)
	companies.Get("/stats", h.stats)
}

func (h *handlers) status(c *fiber.Ctx) error {
	return c.JSON(h.Sync.Status())
}

func (h *handlers) allProgress(c *fiber.Ctx) error {
	return c.JSON(h.Progress.All())
}

func (h *handlers) progress(c *fiber.Ctx) error {
	return c.JSON(h.Progress.Get(c.Params("entity")))
}

func (h *handlers) history(c *fiber.Ctx) error {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return fiber.NewError(http.StatusBadRequest, "limit must be a positive number")
		}
		limit = min(parsed, maxHistoryLimit)
	}

	entries, err := h.History.RecentHistory(c.UserContext(), c.Params("tenant"), c.Query("entity"), limit)
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

type triggerResponse struct {
	Success     bool                  `json:"success"`
	SyncedCount int                   `json:"syncedCount"`
	Total       int                   `json:"total"`
	Errors      []pipeline.BatchError `json:"errors"`
	Report      orchestrator.Report   `json:"report"`
}

func (h *handlers) trigger(c *fiber.Ctx) error {
	request, err := triggerRequest(c)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	runCtx := logger.WithContext(h.runCtx, logger.FromContext(c.UserContext()))
	report, err := h.Sync.Trigger(runCtx, request)
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning), errors.Is(err, orchestrator.ErrTooSoon):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrNoTenants), errors.Is(err, config.ErrUnknownEntity):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case err != nil && report.RunID == "":
		return err
	}

	return c.JSON(summarize(report))
}

// triggerRequest reads the manual run parameters: force, from, to and a comma separated entity list.
func triggerRequest(c *fiber.Ctx) (orchestrator.Request, error) {
	request := orchestrator.Request{
		Tenants: []string{c.Params("tenant")},
		Manual:  true,
	}

	if raw := c.Query("force"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			return request, errors.New("force must be a boolean")
		}
		request.ForceFull = force
	}

	var err error
	if request.StartDate, err = queryDate(c, "from"); err != nil {
		return request, err
	}
	if request.EndDate, err = queryDate(c, "to"); err != nil {
		return request, err
	}
	if request.StartDate != nil && request.EndDate != nil && request.EndDate.Before(*request.StartDate) {
		return request, errors.New("to must not be before from")
	}

	for entity := range strings.SplitSeq(c.Query("entity"), ",") {
		if entity = strings.TrimSpace(entity); entity != "" {
			request.Entities = append(request.Entities, entity)
		}
	}
	return request, nil
}

func queryDate(c *fiber.Ctx, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}

	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, errors.New(name + " must be a YYYY-MM-DD date")
	}
	return &parsed, nil
}

func summarize(report orchestrator.Report) triggerResponse {
	response := triggerResponse{
		Success: report.Success,
		Errors:  make([]pipeline.BatchError, 0),
		Report:  report,
	}
	for _, entity := range report.Entities {
		response.SyncedCount += entity.Result.SyncedCount
		response.Total += entity.Result.Total
		response.Errors = append(response.Errors, entity.Result.Errors...)
	}
	return response
}

func (h *handlers) aging(c *fiber.Ctx) error {
	rows, err := h.Aggregates.Aging(c.UserContext(), c.Params("tenant"))
	if err != nil {
		return err
	}
	return c.JSON(rows)
}

func (h *handlers) stats(c *fiber.Ctx) error {
	stats, err := h.Aggregates.Stats(c.UserContext(), c.Params("tenant"))
	if err != nil {
		return err
	}
	return c.JSON(stats)
}
