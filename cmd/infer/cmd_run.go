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
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInfer/pkg/ux"
	"github.com/AleutianAI/AleutianInfer/services/infer/config"
	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/runner"
	"github.com/AleutianAI/AleutianInfer/services/infer/runstore"
)

type runFlags struct {
	model      string
	samples    int
	chains     int
	seed       uint64
	burn       int
	lag        int
	fullRerun  bool
	noAdapt    bool
	verbose    bool
	debugLevel int
	registry   string
	onlyMAP    bool
	justSample bool
	save       bool
	json       bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run inference on a model and print its marginal",
		Example: `  infer run --model coin --samples 20000
  infer run --model geometric --chains 4 --seed 7 --json
  infer run --model hmm --full-rerun --no-adapt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), g, cmd.OutOrStdout(), cmd.ErrOrStderr(), appSetup{
				adjust: func(c *config.Config) {
					applyRunFlags(cmd, f, &c.Inference)
					if f.save {
						c.Storage.Enabled = true
					}
				},
			})
			if err != nil {
				return err
			}
			defer a.Close()

			status := a.status
			if a.cfg.Inference.Verbose || a.cfg.Inference.DebugLevel > 0 {
				status = nil
			}
			var run *runstore.Run
			err = ux.WithSpinner(status, fmt.Sprintf("sampling %s", f.model), func() error {
				var err error
				run, err = a.runner.Run(cmd.Context(), runner.Request{
					Model:   f.model,
					Chains:  f.chains,
					Options: a.cfg.Inference,
				})
				return err
			})
			if err != nil {
				return err
			}
			if f.json {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			renderRun(a.out, run)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.model, "model", "m", "", "model to run (see `infer models`)")
	fl.IntVarP(&f.samples, "samples", "n", 0, "number of samples to record per chain (default from config)")
	fl.IntVarP(&f.chains, "chains", "c", 1, "number of independent chains")
	fl.Uint64Var(&f.seed, "seed", 0, "random seed of the first chain")
	fl.IntVar(&f.burn, "burn", 0, "iterations discarded before recording")
	fl.IntVar(&f.lag, "lag", imh.DefaultLag, "iterations skipped between recorded samples")
	fl.BoolVar(&f.fullRerun, "full-rerun", false, "re-execute the whole program on every proposal")
	fl.BoolVar(&f.noAdapt, "no-adapt", false, "keep every call site cached")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log progress")
	fl.IntVar(&f.debugLevel, "debug-level", 0, "diagnostics level 0-6")
	fl.StringVar(&f.registry, "registry", imh.RegistryHash, "choice registry: hash or array")
	fl.BoolVar(&f.onlyMAP, "only-map", false, "return only the maximum a posteriori value")
	fl.BoolVar(&f.justSample, "just-sample", false, "retain raw samples with their scores")
	fl.BoolVar(&f.save, "save", false, "persist the run")
	fl.BoolVar(&f.json, "json", false, "print the run as JSON")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

// applyRunFlags copies explicitly set flags over the configured options.
func applyRunFlags(cmd *cobra.Command, f *runFlags, o *imh.Options) {
	set := cmd.Flags().Changed
	if set("samples") {
		o.Samples = f.samples
	}
	if set("seed") {
		o.Seed = f.seed
	}
	if set("burn") {
		o.Burn = f.burn
	}
	if set("lag") {
		o.Lag = f.lag
	}
	if set("full-rerun") {
		o.DoFullRerun = f.fullRerun
	}
	if set("no-adapt") {
		o.DontAdapt = f.noAdapt
	}
	if set("verbose") {
		o.Verbose = f.verbose
	}
	if set("debug-level") {
		o.DebugLevel = f.debugLevel
	}
	if set("registry") {
		o.Registry = f.registry
	}
	if set("only-map") {
		o.OnlyMAP = f.onlyMAP
	}
	if set("just-sample") {
		o.JustSample = f.justSample
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
