// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianInfer/pkg/logging"
)

func TestSpanEventExporter_AttachesRecords(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logger := logging.New(logging.Config{
		Quiet:    true,
		Service:  "infer",
		Level:    logging.LevelDebug,
		Exporter: NewSpanEventExporter(),
	})
	t.Cleanup(func() { _ = logger.Close() })

	ctx, span := tp.Tracer("test").Start(context.Background(), "run")
	logger.Slog().With("model", "coin").InfoContext(ctx, "incremental MH finished",
		"accepted", 12,
		"ratio", 0.5,
		"full_rerun", false,
		"duration", 2*time.Second,
		"sites", []string{"a", "b"},
	)
	logger.Slog().Info("no span in context")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	events := ended[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "incremental MH finished", events[0].Name)

	got := make(map[attribute.Key]attribute.Value)
	for _, kv := range events[0].Attributes {
		got[kv.Key] = kv.Value
	}
	assert.Equal(t, "INFO", got["log.severity"].AsString())
	assert.Equal(t, "infer", got["log.service"].AsString())
	assert.Equal(t, "coin", got["model"].AsString())
	assert.Equal(t, int64(12), got["accepted"].AsInt64())
	assert.Equal(t, 0.5, got["ratio"].AsFloat64())
	assert.False(t, got["full_rerun"].AsBool())
	assert.Equal(t, "2s", got["duration"].AsString())
	assert.Equal(t, []string{"a", "b"}, got["sites"].AsStringSlice())
}

func TestSpanEventExporter_NoSpan(t *testing.T) {
	e := NewSpanEventExporter()
	err := e.Export(context.Background(), logging.LogEntry{Message: "dropped"})
	assert.NoError(t, err)
	assert.NoError(t, e.Flush(context.Background()))
	assert.NoError(t, e.Close())
}
