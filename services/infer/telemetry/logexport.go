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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInfer/pkg/logging"
)

// SpanEventExporter attaches log records to the span active in the
// record's context, so a trace shows the log lines emitted while it ran.
// Records logged without a recording span are dropped.
//
// Thread Safety: safe for concurrent use.
type SpanEventExporter struct{}

// NewSpanEventExporter returns a SpanEventExporter.
func NewSpanEventExporter() *SpanEventExporter {
	return &SpanEventExporter{}
}

// Export adds entry as an event named after its message.
func (e *SpanEventExporter) Export(ctx context.Context, entry logging.LogEntry) error {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(entry.Attrs)+2)
	attrs = append(attrs, attribute.String("log.severity", entry.Level.String()))
	if entry.Service != "" {
		attrs = append(attrs, attribute.String("log.service", entry.Service))
	}
	for k, v := range entry.Attrs {
		attrs = append(attrs, logAttribute(k, v))
	}
	span.AddEvent(entry.Message, trace.WithTimestamp(entry.Timestamp), trace.WithAttributes(attrs...))
	return nil
}

// Flush is a no-op; events are flushed with their span.
func (e *SpanEventExporter) Flush(context.Context) error { return nil }

// Close is a no-op.
func (e *SpanEventExporter) Close() error { return nil }

func logAttribute(key string, v any) attribute.KeyValue {
	switch x := v.(type) {
	case string:
		return attribute.String(key, x)
	case bool:
		return attribute.Bool(key, x)
	case int64:
		return attribute.Int64(key, x)
	case uint64:
		return attribute.Int64(key, int64(x))
	case float64:
		return attribute.Float64(key, x)
	case time.Duration:
		return attribute.String(key, x.String())
	case []string:
		return attribute.StringSlice(key, x)
	case error:
		return attribute.String(key, x.Error())
	}
	return attribute.String(key, fmt.Sprint(v))
}

var _ logging.LogExporter = (*SpanEventExporter)(nil)
