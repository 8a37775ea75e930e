// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/models"
	"github.com/AleutianAI/AleutianInfer/services/infer/runner"
	"github.com/AleutianAI/AleutianInfer/services/infer/runstore"
	"github.com/AleutianAI/AleutianInfer/services/infer/telemetry"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// Handlers serves the /v1/infer endpoints.
type Handlers struct {
	runner     *runner.Runner
	defaults   imh.Options
	maxSamples int
	logger     *slog.Logger
}

// NewHandlers returns handlers that run requests on r. Requests without
// options use defaults; Samples above maxSamples are rejected.
func NewHandlers(r *runner.Runner, defaults imh.Options, maxSamples int, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{runner: r, defaults: defaults, maxSamples: maxSamples, logger: logger}
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	l := h.logger.With("request_id", getRequestID(c), "handler", handler)
	return telemetry.LoggerWithTrace(c.Request.Context(), l)
}

func abort(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: getRequestID(c),
	})
}

// HandleHealth handles GET /v1/infer/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Models:  len(h.runner.Catalog().List()),
		Storage: h.runner.Store() != nil,
	})
}

// HandleListModels handles GET /v1/infer/models.
func (h *Handlers) HandleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, ModelsResponse{Models: h.runner.Catalog().List()})
}

// HandleCreateRun handles POST /v1/infer/runs.
//
// The run executes within the request. The response is the merged run,
// with an id when storage is enabled.
//
// Response:
//
//	201 Created: runstore.Run
//	400 Bad Request: malformed body or options
//	404 Not Found: unknown model
//	504 Gateway Timeout: run exceeded the runner timeout
func (h *Handlers) HandleCreateRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateRun")

	var body RunRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		logger.WarnContext(c.Request.Context(), "invalid run request", "error", err)
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}

	req := runner.Request{Model: body.Model, Chains: body.Chains, Options: h.defaults}
	if body.Options != nil {
		req.Options = *body.Options
	}
	if body.Samples > 0 {
		req.Options.Samples = body.Samples
	}
	if body.Seed != nil {
		req.Options.Seed = *body.Seed
	}
	if req.Chains == 0 {
		req.Chains = 1
	}
	if h.maxSamples > 0 && req.Options.Samples > h.maxSamples {
		abort(c, http.StatusBadRequest, CodeInvalidRequest,
			errors.New("samples exceeds the server limit of "+strconv.Itoa(h.maxSamples)))
		return
	}

	logger.InfoContext(c.Request.Context(), "run requested", "model", req.Model, "chains", req.Chains, "samples", req.Options.Samples)
	run, err := h.runner.Run(c.Request.Context(), req)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request.Context(), "run failed", "error", err)
		} else {
			logger.WarnContext(c.Request.Context(), "run rejected", "error", err)
		}
		abort(c, status, code, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, runner.ErrInvalidRequest), errors.Is(err, imh.ErrInvalidOptions):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, CodeModelNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, imh.ErrInvariant):
		return http.StatusInternalServerError, CodeInferenceFailed
	}
	return http.StatusInternalServerError, CodeInternal
}

// HandleListRuns handles GET /v1/infer/runs?limit=N.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	store := h.runner.Store()
	if store == nil {
		abort(c, http.StatusServiceUnavailable, CodeStorageDisabled, errors.New("run storage is disabled"))
		return
	}
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			abort(c, http.StatusBadRequest, CodeInvalidRequest,
				errors.New("limit must be between 1 and "+strconv.Itoa(maxListLimit)))
			return
		}
		limit = n
	}

	runs, err := store.List(c.Request.Context(), limit)
	if err != nil {
		h.requestLogger(c, "HandleListRuns").ErrorContext(c.Request.Context(), "list runs failed", "error", err)
		abort(c, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	resp := RunsResponse{Runs: make([]RunSummary, 0, len(runs))}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, summarize(r))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGetRun handles GET /v1/infer/runs/:id.
func (h *Handlers) HandleGetRun(c *gin.Context) {
	store := h.runner.Store()
	if store == nil {
		abort(c, http.StatusServiceUnavailable, CodeStorageDisabled, errors.New("run storage is disabled"))
		return
	}
	run, err := store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeStoreError(c, "HandleGetRun", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// HandleDeleteRun handles DELETE /v1/infer/runs/:id.
func (h *Handlers) HandleDeleteRun(c *gin.Context) {
	store := h.runner.Store()
	if store == nil {
		abort(c, http.StatusServiceUnavailable, CodeStorageDisabled, errors.New("run storage is disabled"))
		return
	}
	if err := store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeStoreError(c, "HandleDeleteRun", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) writeStoreError(c *gin.Context, handler string, err error) {
	switch {
	case errors.Is(err, runstore.ErrInvalidID):
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err)
	case errors.Is(err, runstore.ErrNotFound):
		abort(c, http.StatusNotFound, CodeRunNotFound, err)
	default:
		h.requestLogger(c, handler).ErrorContext(c.Request.Context(), "run store failed", "error", err)
		abort(c, http.StatusInternalServerError, CodeInternal, err)
	}
}
