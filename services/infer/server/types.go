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
	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/models"
	"github.com/AleutianAI/AleutianInfer/services/infer/runstore"
)

// ServiceVersion is reported by the health endpoint.
var ServiceVersion = "dev"

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeModelNotFound   = "MODEL_NOT_FOUND"
	CodeRunNotFound     = "RUN_NOT_FOUND"
	CodeStorageDisabled = "STORAGE_DISABLED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeTimeout         = "TIMEOUT"
	CodeInferenceFailed = "INFERENCE_FAILED"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is returned by GET /v1/infer/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Models  int    `json:"models"`
	Storage bool   `json:"storage"`
}

// ModelsResponse is returned by GET /v1/infer/models.
type ModelsResponse struct {
	Models []models.Model `json:"models"`
}

// RunRequest is the body of POST /v1/infer/runs.
//
// Samples overrides Options.Samples when set. Options fields that are not
// given keep the server's configured defaults.
type RunRequest struct {
	Model   string       `json:"model" binding:"required"`
	Samples int          `json:"samples" binding:"omitempty,gte=1,lte=1000000"`
	Chains  int          `json:"chains" binding:"omitempty,gte=1,lte=64"`
	Seed    *uint64      `json:"seed"`
	Options *imh.Options `json:"options"`
}

// RunsResponse is returned by GET /v1/infer/runs.
type RunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

// RunSummary is one entry of RunsResponse.
type RunSummary struct {
	ID              string  `json:"id"`
	Model           string  `json:"model"`
	CreatedAt       string  `json:"created_at"`
	Samples         int     `json:"samples"`
	Chains          int     `json:"chains"`
	AcceptanceRatio float64 `json:"acceptance_ratio"`
}

func summarize(r *runstore.Run) RunSummary {
	return RunSummary{
		ID:              r.ID,
		Model:           r.Model,
		CreatedAt:       r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Samples:         r.Options.Samples,
		Chains:          len(r.Chains),
		AcceptanceRatio: r.AcceptanceRatio,
	}
}
