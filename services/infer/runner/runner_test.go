// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/models"
	"github.com/AleutianAI/AleutianInfer/services/infer/runstore"
	badgerstore "github.com/AleutianAI/AleutianInfer/services/infer/storage/badger"
)

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func coinRequest(chains, samples int) Request {
	opts := imh.DefaultOptions()
	opts.Samples = samples
	opts.Seed = 10
	return Request{Model: "coin", Chains: chains, Options: opts}
}

func TestRunner_MergesChains(t *testing.T) {
	r := New(models.Default(), DefaultConfig(), WithLogger(quiet()))
	run, err := r.Run(context.Background(), coinRequest(4, 5000))
	require.NoError(t, err)

	require.Len(t, run.Chains, 4)
	for i, c := range run.Chains {
		assert.Equal(t, i, c.Chain)
		assert.Equal(t, uint64(10+i), c.Seed)
		assert.Greater(t, c.AcceptanceRatio, 0.0)
	}
	assert.InDelta(t, 0.75, run.Marginal.Prob(true), 0.02)
	assert.Equal(t, true, run.MAP.Value)
	assert.Empty(t, run.ID, "runs are only given ids when saved")
	assert.Greater(t, run.Duration.Nanoseconds(), int64(0))
}

func TestRunner_OnlyMAP(t *testing.T) {
	r := New(models.Default(), DefaultConfig(), WithLogger(quiet()))
	req := coinRequest(2, 50)
	req.Options.OnlyMAP = true
	run, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Marginal.Len())
}

func TestRunner_RegistryOptionIsValidated(t *testing.T) {
	r := New(models.Default(), DefaultConfig(), WithLogger(quiet()))

	for _, registry := range []string{"", imh.RegistryHash, imh.RegistryArray} {
		t.Run("registry "+registry, func(t *testing.T) {
			req := coinRequest(1, 20)
			req.Options.Registry = registry
			require.NotPanics(t, func() {
				run, err := r.Run(context.Background(), req)
				require.NoError(t, err)
				assert.Equal(t, "coin", run.Model)
			})
		})
	}

	t.Run("unknown registry", func(t *testing.T) {
		req := coinRequest(1, 20)
		req.Options.Registry = "tree"
		require.NotPanics(t, func() {
			_, err := r.Run(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	})
}

func TestRunner_InvalidRequests(t *testing.T) {
	r := New(models.Default(), DefaultConfig(), WithLogger(quiet()))
	badOpts := coinRequest(1, 10)
	badOpts.Options.Samples = 0

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"missing model", Request{Chains: 1, Options: imh.DefaultOptions()}, ErrInvalidRequest},
		{"zero chains", Request{Model: "coin", Options: imh.DefaultOptions()}, ErrInvalidRequest},
		{"too many chains", Request{Model: "coin", Chains: MaxChains + 1, Options: imh.DefaultOptions()}, ErrInvalidRequest},
		{"invalid options", badOpts, ErrInvalidRequest},
		{"unknown model", Request{Model: "nope", Chains: 1, Options: imh.DefaultOptions()}, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Run(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRunner_SavesRuns(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	store := runstore.New(db)

	r := New(models.Default(), DefaultConfig(), WithLogger(quiet()), WithStore(store))
	run, err := r.Run(context.Background(), coinRequest(2, 100))
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	got, err := store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "coin", got.Model)
	assert.Len(t, got.Chains, 2)
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(models.Default(), Config{MaxParallel: 2}, WithLogger(quiet()))
	_, err := r.Run(ctx, coinRequest(2, 100000))
	assert.ErrorIs(t, err, context.Canceled)
}
