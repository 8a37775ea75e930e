// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package imh

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for the inference engine.
var (
	tracer = otel.Tracer("aleutian.infer.imh")
	meter  = otel.Meter("aleutian.infer.imh")
)

// Metrics for MH runs.
var (
	iterationsTotal   metric.Int64Counter
	proposalsTotal    metric.Int64Counter
	cacheLookupsTotal metric.Int64Counter
	sitesDisabled     metric.Int64Counter
	runDuration       metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		iterationsTotal, err = meter.Int64Counter(
			"imh_iterations_total",
			metric.WithDescription("Total number of MH iterations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		proposalsTotal, err = meter.Int64Counter(
			"imh_proposals_total",
			metric.WithDescription("Total number of MH proposals by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheLookupsTotal, err = meter.Int64Counter(
			"imh_cache_lookups_total",
			metric.WithDescription("Total number of call cache lookups by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sitesDisabled, err = meter.Int64Counter(
			"imh_cache_sites_disabled_total",
			metric.WithDescription("Total number of call sites the cache adapter turned off"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"imh_run_duration_seconds",
			metric.WithDescription("Duration of incremental MH runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordProposal records one accept/reject decision.
func recordProposal(ctx context.Context, accepted bool) {
	if err := initMetrics(); err != nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	iterationsTotal.Add(ctx, 1)
	proposalsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// recordCacheLookup records a call cache hit or miss.
func recordCacheLookup(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// recordSitesDisabled records call sites turned off by adaptation.
func recordSitesDisabled(ctx context.Context, n int) {
	if err := initMetrics(); err != nil || n == 0 {
		return
	}
	sitesDisabled.Add(ctx, int64(n))
}

// recordRunDuration records the wall time of a completed run.
func recordRunDuration(ctx context.Context, d time.Duration, fullRerun bool) {
	if err := initMetrics(); err != nil {
		return
	}
	runDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.Bool("full_rerun", fullRerun)),
	)
}

// startRunSpan creates a span covering one Run.
func startRunSpan(ctx context.Context, opts Options) (context.Context, trace.Span) {
	return tracer.Start(ctx, "imh.run",
		trace.WithAttributes(
			attribute.Int("imh.samples", opts.Samples),
			attribute.Int("imh.burn", opts.Burn),
			attribute.Int("imh.lag", opts.Lag),
			attribute.Bool("imh.full_rerun", opts.DoFullRerun),
			attribute.String("imh.registry", opts.Registry),
		),
	)
}

// startAdaptSpan creates a span covering one cache adaptation.
func startAdaptSpan(ctx context.Context, iteration int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "imh.adapt",
		trace.WithAttributes(attribute.Int("imh.iteration", iteration)),
	)
}
