// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregation turns the stream of values recorded by an inference
// run into a distribution.
//
// Count builds a normalized histogram. Max keeps the highest-scoring value
// (the MAP estimate) and optionally every raw sample.
package aggregation

import (
	"errors"
	"math"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

var (
	// ErrEmpty is returned when a distribution is requested before any
	// value was recorded.
	ErrEmpty = errors.New("no samples recorded")

	// ErrNotNormalized is returned for entries whose probabilities do not
	// form a distribution.
	ErrNotNormalized = errors.New("marginal is not normalized")

	// ErrNotNumeric is returned by Mean for non-numeric supports.
	ErrNotNumeric = errors.New("marginal support is not numeric")
)

// Aggregator accumulates recorded values.
type Aggregator interface {
	Add(v ppl.Value, score float64)
	Marginal() (*Marginal, error)
}

type bucket struct {
	value ppl.Value
	count int
}

// Count is a histogram keyed by the canonical form of each value.
type Count struct {
	hist  map[string]*bucket
	total int
}

// NewCount returns an empty histogram.
func NewCount() *Count {
	return &Count{hist: make(map[string]*bucket)}
}

// Add records one occurrence of v. The score is ignored.
func (c *Count) Add(v ppl.Value, _ float64) {
	c.addN(ppl.Key(v), v, 1)
}

func (c *Count) addN(key string, v ppl.Value, n int) {
	b, ok := c.hist[key]
	if !ok {
		b = &bucket{value: v}
		c.hist[key] = b
	}
	b.count += n
	c.total += n
}

// Merge adds every count of o into c.
func (c *Count) Merge(o *Count) {
	for k, b := range o.hist {
		c.addN(k, b.value, b.count)
	}
}

// Total is the number of recorded values.
func (c *Count) Total() int { return c.total }

// Marginal normalizes the histogram.
func (c *Count) Marginal() (*Marginal, error) {
	if c.total == 0 {
		return nil, ErrEmpty
	}
	entries := make([]Entry, 0, len(c.hist))
	for k, b := range c.hist {
		entries = append(entries, Entry{
			Key:   k,
			Value: b.value,
			Prob:  float64(b.count) / float64(c.total),
			Count: b.count,
		})
	}
	return NewMarginal(entries)
}

// Max tracks the highest-scoring value seen.
type Max struct {
	best    Sample
	has     bool
	retain  bool
	samples []Sample
}

// NewMax returns a MAP tracker. With retain set it also keeps every sample.
func NewMax(retain bool) *Max {
	return &Max{best: Sample{Score: math.Inf(-1)}, retain: retain}
}

// Add records v with the score of its trace.
func (m *Max) Add(v ppl.Value, score float64) {
	if m.retain {
		m.samples = append(m.samples, Sample{Value: v, Score: score})
	}
	if !m.has || score > m.best.Score {
		m.best = Sample{Value: v, Score: score}
		m.has = true
	}
}

// MAP returns the best sample, if any.
func (m *Max) MAP() (Sample, bool) {
	return m.best, m.has
}

// Samples returns the retained samples.
func (m *Max) Samples() []Sample {
	return m.samples
}

// Marginal returns a point mass on the MAP value, carrying the retained
// samples.
func (m *Max) Marginal() (*Marginal, error) {
	if !m.has {
		return nil, ErrEmpty
	}
	out, err := NewMarginal([]Entry{{Value: m.best.Value, Prob: 1, Count: 1}})
	if err != nil {
		return nil, err
	}
	if m.retain {
		out.Samples = m.samples
	}
	return out, nil
}
