// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianInfer/pkg/logging"
	"github.com/AleutianAI/AleutianInfer/pkg/ux"
	"github.com/AleutianAI/AleutianInfer/services/infer/config"
	"github.com/AleutianAI/AleutianInfer/services/infer/models"
	"github.com/AleutianAI/AleutianInfer/services/infer/runner"
	"github.com/AleutianAI/AleutianInfer/services/infer/runstore"
	badgerstore "github.com/AleutianAI/AleutianInfer/services/infer/storage/badger"
	"github.com/AleutianAI/AleutianInfer/services/infer/telemetry"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	output     string
}

// app holds what a command needs, built from the loaded configuration.
type app struct {
	cfg       config.Config
	logger    *logging.Logger
	telemetry *telemetry.Provider
	db        *badgerstore.DB
	store     *runstore.Store
	runner    *runner.Runner
	out       *ux.Printer

	// status receives progress animation. It is nil unless output is
	// styled and stderr is a terminal.
	status io.Writer
}

type appSetup struct {
	// storage opens the run store even when persistence is disabled.
	storage bool

	// metrics keeps the configured metric exporter. Short-lived commands
	// export nothing.
	metrics bool

	// adjust edits the loaded configuration before anything is built.
	adjust func(*config.Config)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newApp(ctx context.Context, g *globalOptions, stdout, stderr io.Writer, setup appSetup) (a *app, err error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		if cfg.Logging.Level, err = logging.ParseLevel(g.logLevel); err != nil {
			return nil, err
		}
	}
	if setup.adjust != nil {
		setup.adjust(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if !setup.metrics {
		cfg.Telemetry.MetricExporter = telemetry.ExporterNone
	}

	logCfg := cfg.Logging
	logCfg.Output = stderr
	if !isTerminal(stderr) {
		logCfg.JSON = true
	}
	if cfg.Telemetry.TraceExporter != telemetry.ExporterNone {
		logCfg.Exporter = telemetry.NewSpanEventExporter()
	}
	a = &app{cfg: cfg, logger: logging.New(logCfg)}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	mode := ux.ParseMode(g.output)
	if g.output == "" && !isTerminal(stdout) {
		mode = ux.ModePlain
	}
	a.out = ux.NewPrinter(stdout, mode)
	if mode == ux.ModeStyled && isTerminal(stderr) {
		a.status = stderr
	}

	cfg.Telemetry.Output = stderr
	if a.telemetry, err = telemetry.Init(ctx, cfg.Telemetry); err != nil {
		return nil, err
	}

	if cfg.Storage.Enabled || setup.storage {
		if a.db, err = badgerstore.Open(cfg.Storage.Config, a.logger.Slog().With("component", "badger")); err != nil {
			return nil, fmt.Errorf("open run store: %w", err)
		}
		a.store = runstore.New(a.db)
	}

	ropts := []runner.Option{runner.WithLogger(a.logger.Slog())}
	if cfg.Storage.Enabled && a.store != nil {
		ropts = append(ropts, runner.WithStore(a.store))
	}
	a.runner = runner.New(models.Default(), cfg.Runner, ropts...)
	return a, nil
}

// Close releases the store, flushes telemetry and closes the logger.
func (a *app) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	errs = append(errs, a.telemetry.Shutdown(context.Background()))
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
