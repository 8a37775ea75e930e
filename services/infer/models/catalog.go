// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package models is the catalogue of built-in probabilistic programs.
//
// Programs are written directly in continuation-passing style against
// ppl.Env: every random choice, factor and cached call is a primitive that
// receives the continuation to resume with.
package models

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianInfer/pkg/validation"
	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

var (
	// ErrNotFound is returned by Get for unknown model names.
	ErrNotFound = errors.New("model not found")

	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("model already registered")

	// ErrInvalidModel is returned for models without a valid name or program.
	ErrInvalidModel = errors.New("invalid model")
)

// Model is a named program with the arguments it is run with.
type Model struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Returns     string      `json:"returns"`
	Program     *ppl.Fn     `json:"-"`
	Args        []ppl.Value `json:"-"`
}

// Catalog is a concurrency-safe set of models keyed by name.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewCatalog returns an empty catalogue.
func NewCatalog() *Catalog {
	return &Catalog{models: make(map[string]Model)}
}

// Register adds m to the catalogue.
func (c *Catalog) Register(m Model) error {
	if err := validation.ValidateModelName(m.Name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if m.Program == nil {
		return fmt.Errorf("%w: %s has no program", ErrInvalidModel, m.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[m.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, m.Name)
	}
	c.models[m.Name] = m
	return nil
}

// Get returns the model registered under name.
func (c *Catalog) Get(name string) (Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m, nil
}

// List returns every model ordered by name.
func (c *Catalog) List() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the catalogue of built-in models.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog = NewCatalog()
		for _, m := range Builtin() {
			if err := defaultCatalog.Register(m); err != nil {
				panic(fmt.Sprintf("models: registering builtin %s: %v", m.Name, err))
			}
		}
	})
	return defaultCatalog
}

// Builtin returns fresh copies of the built-in models.
func Builtin() []Model {
	return []Model{
		Coin(),
		Geometric(GeometricLimit),
		HMM(DefaultObservations),
		Regression(DefaultPoints),
		Burglary(),
		Nested(),
	}
}
