// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_ZeroIsInfo(t *testing.T) {
	var cfg Config
	if cfg.Level != LevelInfo {
		t.Errorf("zero Level = %v, want INFO", cfg.Level)
	}
	if !(LevelDebug < LevelInfo && LevelInfo < LevelWarn && LevelWarn < LevelError) {
		t.Error("levels are not ordered by severity")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"", LevelInfo, false},
		{" info ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"warn", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownLevel) {
					t.Fatalf("ParseLevel(%q) error = %v, want ErrUnknownLevel", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfig_DecodesLevelNames(t *testing.T) {
	var fromYAML Config
	if err := yaml.Unmarshal([]byte("level: warn\nservice: infer\n"), &fromYAML); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if fromYAML.Level != LevelWarn || fromYAML.Service != "infer" {
		t.Errorf("yaml config = %+v", fromYAML)
	}

	var fromJSON Config
	if err := json.Unmarshal([]byte(`{"level":"debug","json":true}`), &fromJSON); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if fromJSON.Level != LevelDebug || !fromJSON.JSON {
		t.Errorf("json config = %+v", fromJSON)
	}

	if err := yaml.Unmarshal([]byte("level: loud\n"), &fromYAML); err == nil {
		t.Error("expected error for unknown level")
	}

	out, err := json.Marshal(Config{Level: LevelError})
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"level":"error"`) {
		t.Errorf("marshalled config = %s", out)
	}
}

func TestNew_ConsoleOutput(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		check  func(t *testing.T, out string)
	}{
		{
			name:   "text filters below level",
			config: Config{Level: LevelWarn},
			check: func(t *testing.T, out string) {
				if strings.Contains(out, "info message") {
					t.Error("info message passed a warn filter")
				}
				if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "warn message") {
					t.Errorf("missing warn record: %q", out)
				}
			},
		},
		{
			name:   "json with service",
			config: Config{JSON: true, Service: "infer-test"},
			check: func(t *testing.T, out string) {
				lines := strings.Split(strings.TrimSpace(out), "\n")
				if len(lines) != 2 {
					t.Fatalf("got %d lines, want 2: %q", len(lines), out)
				}
				var rec map[string]any
				if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
					t.Fatalf("line is not JSON: %v", err)
				}
				if rec["service"] != "infer-test" || rec["msg"] != "info message" || rec["k"] != "v" {
					t.Errorf("record = %v", rec)
				}
			},
		},
		{
			name:   "quiet",
			config: Config{Quiet: true},
			check: func(t *testing.T, out string) {
				if out != "" {
					t.Errorf("quiet logger wrote %q", out)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf
			logger := New(tt.config)
			defer logger.Close()

			logger.Debug("debug message")
			logger.Info("info message", "k", "v")
			logger.Warn("warn message")
			tt.check(t, buf.String())
		})
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger := New(Config{LogDir: dir, Service: "filetest", Quiet: true})
	logger.Info("to file", "n", 1)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "filetest_*.log"))
	if err != nil || len(files) != 1 {
		t.Fatalf("log files = %v, err = %v", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file log is not JSON: %v", err)
	}
	if rec["msg"] != "to file" {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_UnwritableLogDirFallsBack(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "sub"), Output: &buf})
	defer logger.Close()

	logger.Info("still logs")
	if logger.file != nil {
		t.Error("expected no log file")
	}
	if !strings.Contains(buf.String(), "still logs") {
		t.Errorf("console output = %q", buf.String())
	}
}

func TestExporter_ReceivesSlogRecords(t *testing.T) {
	exp := newBufferedExporter()
	logger := New(Config{Quiet: true, Service: "svc", Exporter: exp})

	logger.Debug("dropped")
	logger.With("run", "r1").Info("started", "chains", 2)
	logger.Slog().WithGroup("imh").Warn("adapted", "sites", 3)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if exp.Flushes() != 1 {
		t.Errorf("Flushes() = %d, want 1", exp.Flushes())
	}

	entries := exp.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	first := entries[0]
	if first.Message != "started" || first.Level != LevelInfo || first.Service != "svc" {
		t.Errorf("first entry = %+v", first)
	}
	if first.Attrs["run"] != "r1" || first.Attrs["chains"] != int64(2) {
		t.Errorf("first attrs = %v", first.Attrs)
	}
	if _, ok := first.Attrs["service"]; ok {
		t.Error("service should not be repeated in attrs")
	}
	second := entries[1]
	if second.Level != LevelWarn || second.Attrs["imh.sites"] != int64(3) {
		t.Errorf("second entry = %+v", second)
	}
}

func TestClose_Idempotent(t *testing.T) {
	exp := newBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exp})
	child := logger.With("k", "v")

	if err := child.Close(); err != nil {
		t.Errorf("child Close() error = %v", err)
	}
	if exp.Flushes() != 0 {
		t.Error("closing a child flushed the parent's exporter")
	}
	for i := 0; i < 2; i++ {
		if err := logger.Close(); err != nil {
			t.Errorf("Close() #%d error = %v", i, err)
		}
	}
	if exp.Flushes() != 1 {
		t.Errorf("Flushes() = %d, want 1", exp.Flushes())
	}
}

func TestLogger_Concurrent(t *testing.T) {
	exp := newBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exp})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Info("tick", "worker", i, "j", j)
			}
		}(i)
	}
	wg.Wait()
	if got := len(exp.Entries()); got != 400 {
		t.Errorf("got %d entries, want 400", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}

// bufferedExporter keeps entries in memory for inspection.
type bufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
	flushed int
}

func newBufferedExporter() *bufferedExporter {
	return &bufferedExporter{}
}

func (e *bufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *bufferedExporter) Flush(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushed++
	return nil
}

func (e *bufferedExporter) Close() error { return nil }

func (e *bufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

func (e *bufferedExporter) Flushes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushed
}
