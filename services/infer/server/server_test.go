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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfer/services/infer/config"
	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/models"
	"github.com/AleutianAI/AleutianInfer/services/infer/runner"
	"github.com/AleutianAI/AleutianInfer/services/infer/runstore"
	badgerstore "github.com/AleutianAI/AleutianInfer/services/infer/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testServerConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.RateLimit = 0
	return cfg
}

func newStore(t *testing.T) *runstore.Store {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return runstore.New(db)
}

func newTestServer(t *testing.T, cfg config.ServerConfig, withStore bool, opts ...Option) *Server {
	t.Helper()
	ropts := []runner.Option{runner.WithLogger(quiet())}
	if withStore {
		ropts = append(ropts, runner.WithStore(newStore(t)))
	}
	r := runner.New(models.Default(), runner.DefaultConfig(), ropts...)
	defaults := imh.DefaultOptions()
	defaults.Samples = 200
	return New(cfg, r, append([]Option{WithLogger(quiet()), WithDefaults(defaults)}, opts...)...)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testServerConfig(), false)
	rec := do(t, s.Handler(), http.MethodGet, "/v1/infer/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, len(models.Builtin()), resp.Models)
	assert.False(t, resp.Storage)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t, testServerConfig(), false)
	req := httptest.NewRequest(http.MethodGet, "/v1/infer/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestListModels(t *testing.T) {
	s := newTestServer(t, testServerConfig(), false)
	rec := do(t, s.Handler(), http.MethodGet, "/v1/infer/models", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ModelsResponse](t, rec)
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "coin")
	assert.Contains(t, names, "geometric")
	assert.IsNonDecreasing(t, names)
}

func TestCreateRun(t *testing.T) {
	s := newTestServer(t, testServerConfig(), true)
	rec := do(t, s.Handler(), http.MethodPost, "/v1/infer/runs", RunRequest{
		Model:   "coin",
		Samples: 3000,
		Chains:  2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	run := decode[runstore.Run](t, rec)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "coin", run.Model)
	assert.Len(t, run.Chains, 2)
	assert.Equal(t, 3000, run.Options.Samples)
	require.NotNil(t, run.Marginal)
	assert.InDelta(t, 0.75, run.Marginal.Prob(true), 0.04)

	got := do(t, s.Handler(), http.MethodGet, "/v1/infer/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, run.ID, decode[runstore.Run](t, got).ID)

	list := do(t, s.Handler(), http.MethodGet, "/v1/infer/runs?limit=5", nil)
	require.Equal(t, http.StatusOK, list.Code)
	runs := decode[RunsResponse](t, list).Runs
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, 2, runs[0].Chains)

	del := do(t, s.Handler(), http.MethodDelete, "/v1/infer/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusNoContent, del.Code)
	gone := do(t, s.Handler(), http.MethodGet, "/v1/infer/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)
	assert.Equal(t, CodeRunNotFound, decode[ErrorResponse](t, gone).Code)
}

func TestCreateRun_UsesOptionsAndSeed(t *testing.T) {
	s := newTestServer(t, testServerConfig(), false)
	opts := imh.DefaultOptions()
	opts.Samples = 100
	opts.OnlyMAP = true
	seed := uint64(42)

	rec := do(t, s.Handler(), http.MethodPost, "/v1/infer/runs", RunRequest{Model: "coin", Seed: &seed, Options: &opts})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[runstore.Run](t, rec)
	assert.Equal(t, uint64(42), run.Options.Seed)
	assert.True(t, run.Options.OnlyMAP)
	assert.Equal(t, 1, run.Marginal.Len())
	assert.Empty(t, run.ID, "runs are not saved without storage")
}

func TestCreateRun_Errors(t *testing.T) {
	cfg := testServerConfig()
	cfg.MaxSamples = 1000
	s := newTestServer(t, cfg, false)
	badOpts := imh.DefaultOptions()
	badOpts.Registry = "tree"

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"missing model", map[string]any{"samples": 10}, http.StatusBadRequest, CodeInvalidRequest},
		{"too many chains", RunRequest{Model: "coin", Chains: 65}, http.StatusBadRequest, CodeInvalidRequest},
		{"over server sample limit", RunRequest{Model: "coin", Samples: 5000}, http.StatusBadRequest, CodeInvalidRequest},
		{"invalid options", RunRequest{Model: "coin", Options: &badOpts}, http.StatusBadRequest, CodeInvalidRequest},
		{"unknown model", RunRequest{Model: "unicorn"}, http.StatusNotFound, CodeModelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s.Handler(), http.MethodPost, "/v1/infer/runs", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}

	malformed := httptest.NewRequest(http.MethodPost, "/v1/infer/runs", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, malformed)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRun_Timeout(t *testing.T) {
	r := runner.New(models.Default(), runner.Config{MaxParallel: 1, Timeout: time.Nanosecond}, runner.WithLogger(quiet()))
	s := New(testServerConfig(), r, WithLogger(quiet()))

	rec := do(t, s.Handler(), http.MethodPost, "/v1/infer/runs", RunRequest{Model: "coin", Samples: 500000})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	assert.Equal(t, CodeTimeout, decode[ErrorResponse](t, rec).Code)
}

func TestRuns_StorageDisabled(t *testing.T) {
	s := newTestServer(t, testServerConfig(), false)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/infer/runs"},
		{http.MethodGet, "/v1/infer/runs/0190a5a4-4c1e-7b1a-9c1d-2b3c4d5e6f70"},
		{http.MethodDelete, "/v1/infer/runs/0190a5a4-4c1e-7b1a-9c1d-2b3c4d5e6f70"},
	} {
		rec := do(t, s.Handler(), tc.method, tc.path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
		assert.Equal(t, CodeStorageDisabled, decode[ErrorResponse](t, rec).Code)
	}
}

func TestRuns_BadInput(t *testing.T) {
	s := newTestServer(t, testServerConfig(), true)

	rec := do(t, s.Handler(), http.MethodGet, "/v1/infer/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, limit := range []string{"0", "abc", "501"} {
		rec := do(t, s.Handler(), http.MethodGet, "/v1/infer/runs?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}

	rec = do(t, s.Handler(), http.MethodGet, "/v1/infer/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[RunsResponse](t, rec).Runs)
}

func TestRateLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	s := newTestServer(t, cfg, false)
	body := RunRequest{Model: "coin", Samples: 10}

	first := do(t, s.Handler(), http.MethodPost, "/v1/infer/runs", body)
	assert.Equal(t, http.StatusCreated, first.Code)

	second := do(t, s.Handler(), http.MethodPost, "/v1/infer/runs", body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, CodeRateLimited, decode[ErrorResponse](t, second).Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/v1/infer/health", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestServer(t, testServerConfig(), false,
		WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), reg))

	do(t, s.Handler(), http.MethodGet, "/v1/infer/health", nil)
	do(t, s.Handler(), http.MethodGet, "/v1/infer/models", nil)
	do(t, s.Handler(), http.MethodGet, "/nope", nil)

	count, err := testutil.GatherAndCount(reg, "infer_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/v1/infer/health"`)
	assert.Contains(t, rec.Body.String(), `route="unmatched"`)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, testServerConfig(), false)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/v1/infer/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
