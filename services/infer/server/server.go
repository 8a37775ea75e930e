// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package server exposes the inference runner over HTTP.
//
// Endpoints:
//
//	GET    /v1/infer/health     service status
//	GET    /v1/infer/models     model catalogue
//	POST   /v1/infer/runs       run a model and return the merged result
//	GET    /v1/infer/runs       list stored runs, newest first
//	GET    /v1/infer/runs/:id   fetch a stored run
//	DELETE /v1/infer/runs/:id   delete a stored run
//	GET    /metrics             Prometheus metrics, when enabled
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianInfer/services/infer/config"
	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/runner"
)

// Server is the HTTP front end of a Runner.
type Server struct {
	cfg      config.ServerConfig
	engine   *gin.Engine
	logger   *slog.Logger
	defaults imh.Options

	metricsHandler http.Handler
	registerer     prometheus.Registerer
	serviceName    string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts handler at /metrics and registers the HTTP collectors
// on reg.
func WithMetrics(handler http.Handler, reg prometheus.Registerer) Option {
	return func(s *Server) {
		s.metricsHandler = handler
		s.registerer = reg
	}
}

// WithDefaults sets the options used for requests that carry none.
func WithDefaults(opts imh.Options) Option {
	return func(s *Server) { s.defaults = opts }
}

// WithServiceName names the service in spans.
func WithServiceName(name string) Option {
	return func(s *Server) { s.serviceName = name }
}

// New builds the router for r.
func New(cfg config.ServerConfig, r *runner.Runner, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      slog.Default(),
		defaults:    imh.DefaultOptions(),
		serviceName: "aleutian-infer",
	}
	for _, o := range opts {
		o(s)
	}
	if s.registerer == nil {
		s.registerer = prometheus.NewRegistry()
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), otelgin.Middleware(s.serviceName), newHTTPMetrics(s.registerer).middleware())

	h := NewHandlers(r, s.defaults, cfg.MaxSamples, s.logger)
	RegisterRoutes(engine.Group("/v1"), h, newLimiter(cfg.RateLimit, cfg.RateBurst))
	if s.metricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(s.metricsHandler))
	}
	s.engine = engine
	return s
}

// RegisterRoutes mounts the /infer endpoints on rg. Run submissions pass
// through limiter when it is non-nil.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers, limiter *rate.Limiter) {
	infer := rg.Group("/infer")
	{
		infer.GET("/health", h.HandleHealth)
		infer.GET("/models", h.HandleListModels)

		runs := infer.Group("/runs")
		runs.GET("", h.HandleListRuns)
		runs.GET("/:id", h.HandleGetRun)
		runs.DELETE("/:id", h.HandleDeleteRun)
		runs.POST("", rateLimit(limiter), h.HandleCreateRun)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully within cfg.ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("inference API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.logger.Info("inference API shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
