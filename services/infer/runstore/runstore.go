// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runstore persists completed inference runs in BadgerDB.
//
// Runs are stored as JSON under run/<id>. Ids are version 7 UUIDs, which
// sort by creation time, so a reverse prefix scan lists the newest runs
// first.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianInfer/pkg/validation"
	"github.com/AleutianAI/AleutianInfer/services/infer/aggregation"
	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	badgerstore "github.com/AleutianAI/AleutianInfer/services/infer/storage/badger"
)

const keyPrefix = "run/"

var (
	// ErrNotFound is returned for unknown run ids.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidID is returned for ids that are not canonical UUIDs.
	ErrInvalidID = errors.New("invalid run id")
)

// ChainSummary describes one chain of a run.
type ChainSummary struct {
	Chain           int             `json:"chain"`
	Seed            uint64          `json:"seed"`
	Accepted        int             `json:"accepted"`
	Rejected        int             `json:"rejected"`
	AcceptanceRatio float64         `json:"acceptance_ratio"`
	InitRestarts    int             `json:"init_restarts"`
	SitesDisabled   []string        `json:"sites_disabled,omitempty"`
	CacheStats      []imh.SiteStats `json:"cache_stats,omitempty"`
	Duration        time.Duration   `json:"duration"`
}

// Run is a completed inference run.
type Run struct {
	ID              string                `json:"id"`
	Model           string                `json:"model"`
	CreatedAt       time.Time             `json:"created_at"`
	Duration        time.Duration         `json:"duration"`
	Options         imh.Options           `json:"options"`
	Chains          []ChainSummary        `json:"chains"`
	Marginal        *aggregation.Marginal `json:"marginal"`
	MAP             aggregation.Sample    `json:"map"`
	AcceptanceRatio float64               `json:"acceptance_ratio"`
}

// Store reads and writes runs.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db  *badgerstore.DB
	now func() time.Time
}

// New returns a store backed by db.
func New(db *badgerstore.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

// Save writes r, assigning an id and creation time when missing.
func (s *Store) Save(ctx context.Context, r *Run) error {
	if r.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
		r.ID = id.String()
	} else if err := validation.ValidateRunID(r.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", r.ID, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key(r.ID), data)
	})
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	if err := validation.ValidateRunID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	var r Run
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns up to limit runs, newest first. A limit <= 0 lists all.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	var out []*Run
	err := s.db.ScanPrefix(ctx, []byte(keyPrefix), true, func(k, v []byte) (bool, error) {
		var r Run
		if err := json.Unmarshal(v, &r); err != nil {
			return false, fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, &r)
		return limit <= 0 || len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a run. Deleting an unknown id returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := validation.ValidateRunID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		} else if err != nil {
			return err
		}
		return txn.Delete(key(id))
	})
}
