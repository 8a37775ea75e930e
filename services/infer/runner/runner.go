// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes inference requests: one or more independent MH
// chains over a catalogue model, merged into a single run record.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianInfer/services/infer/aggregation"
	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/models"
	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
	"github.com/AleutianAI/AleutianInfer/services/infer/runstore"
)

// MaxChains bounds Request.Chains.
const MaxChains = 64

// ErrInvalidRequest is returned for requests that fail validation.
var ErrInvalidRequest = errors.New("invalid inference request")

var requestValidate = imh.NewValidator()

// Config controls chain execution.
type Config struct {
	// MaxParallel is the number of chains that run at once.
	MaxParallel int `yaml:"max_parallel" json:"max_parallel" validate:"gte=1"`

	// Timeout bounds a whole request. Zero means no limit.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// DefaultConfig runs up to four chains at once without a timeout.
func DefaultConfig() Config {
	return Config{MaxParallel: 4}
}

// Request asks for Chains independent runs of Model. Chain i is seeded with
// Options.Seed + i.
type Request struct {
	Model   string      `json:"model" validate:"required"`
	Chains  int         `json:"chains" validate:"gte=1,lte=64"`
	Options imh.Options `json:"options"`
}

// Runner runs requests against a model catalogue and optionally persists
// the results.
//
// Thread Safety: safe for concurrent use.
type Runner struct {
	catalog *models.Catalog
	store   *runstore.Store
	cfg     Config
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore saves every completed run to s.
func WithStore(s *runstore.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Runner over catalog.
func New(catalog *models.Catalog, cfg Config, opts ...Option) *Runner {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	r := &Runner{catalog: catalog, cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Catalog returns the model catalogue.
func (r *Runner) Catalog() *models.Catalog { return r.catalog }

// Store returns the run store, or nil when runs are not persisted.
func (r *Runner) Store() *runstore.Store { return r.store }

// Run executes req and returns the merged run.
//
// Outputs:
//   - *runstore.Run: merged marginal, MAP and per-chain statistics. Saved
//     (and given an id) when the runner has a store.
//   - error: ErrInvalidRequest, models.ErrNotFound, or the first chain
//     error. A failing chain cancels the others.
func (r *Runner) Run(ctx context.Context, req Request) (*runstore.Run, error) {
	if err := requestValidate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Options.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	m, err := r.catalog.Get(req.Model)
	if err != nil {
		return nil, err
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	logger := r.logger.With("model", m.Name, "chains", req.Chains)
	logger.InfoContext(ctx, "inference run starting", "samples", req.Options.Samples, "seed", req.Options.Seed)

	results := make([]*imh.Result, req.Chains)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxParallel)
	for i := 0; i < req.Chains; i++ {
		g.Go(func() error {
			opts := req.Options
			opts.Seed += uint64(i)
			d, err := imh.NewDriver(ppl.NewEnv(nil), m.Program, opts,
				imh.WithLogger(logger.With("chain", i)),
				imh.WithArgs(m.Args...),
			)
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			res, err := d.Run(gctx)
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.ErrorContext(ctx, "inference run failed", "error", err)
		return nil, err
	}

	run, err := merge(m.Name, req, results)
	if err != nil {
		return nil, err
	}
	run.Duration = time.Since(start)

	if r.store != nil {
		if err := r.store.Save(ctx, run); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}
	logger.InfoContext(ctx, "inference run finished",
		"run_id", run.ID,
		"acceptance_ratio", run.AcceptanceRatio,
		"duration", run.Duration,
	)
	return run, nil
}

// merge combines chain results into one run record.
func merge(model string, req Request, results []*imh.Result) (*runstore.Run, error) {
	counts := aggregation.NewCount()
	best := aggregation.NewMax(req.Options.JustSample)
	run := &runstore.Run{
		Model:   model,
		Options: req.Options,
		Chains:  make([]runstore.ChainSummary, len(results)),
	}

	accepted, iterations := 0, 0
	for i, res := range results {
		counts.Merge(res.Counts)
		for _, s := range res.Samples {
			best.Add(s.Value, s.Score)
		}
		if !req.Options.JustSample {
			best.Add(res.MAP.Value, res.MAP.Score)
		}
		accepted += res.Accepted
		iterations += res.Iterations
		run.Chains[i] = runstore.ChainSummary{
			Chain:           i,
			Seed:            req.Options.Seed + uint64(i),
			Accepted:        res.Accepted,
			Rejected:        res.Rejected,
			AcceptanceRatio: res.AcceptanceRatio,
			InitRestarts:    res.InitRestarts,
			SitesDisabled:   res.SitesDisabled,
			CacheStats:      res.CacheStats,
			Duration:        res.Duration,
		}
	}
	if iterations > 0 {
		run.AcceptanceRatio = float64(accepted) / float64(iterations)
	}

	var err error
	if req.Options.JustSample || req.Options.OnlyMAP {
		run.Marginal, err = best.Marginal()
	} else {
		run.Marginal, err = counts.Marginal()
	}
	if err != nil {
		return nil, fmt.Errorf("merge chains: %w", err)
	}
	run.MAP, _ = best.MAP()
	return run, nil
}
