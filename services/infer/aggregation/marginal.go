// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/exp/rand"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

// normTolerance bounds how far the probabilities of a Marginal may sum from 1.
const normTolerance = 1e-8

// Entry is one support point of a Marginal.
type Entry struct {
	Key   string    `json:"key"`
	Value ppl.Value `json:"value"`
	Prob  float64   `json:"prob"`
	Count int       `json:"count,omitempty"`
}

// Sample is a retained draw with the score of the trace it came from.
type Sample struct {
	Value ppl.Value `json:"value"`
	Score float64   `json:"score"`
}

// Marginal is the finite-support distribution produced by an inference run.
//
// Entries are ordered by decreasing probability, ties broken by key, so
// printing and iteration are deterministic.
type Marginal struct {
	entries []Entry
	index   map[string]int

	// Samples holds raw draws when the run retained them.
	Samples []Sample
}

var (
	_ ppl.Distribution = (*Marginal)(nil)
	_ ppl.Supporter    = (*Marginal)(nil)
)

// NewMarginal validates and indexes entries. Keys are filled in from values
// when missing.
func NewMarginal(entries []Entry) (*Marginal, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	m := &Marginal{
		entries: make([]Entry, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	copy(m.entries, entries)

	total := 0.0
	for i := range m.entries {
		if m.entries[i].Key == "" {
			m.entries[i].Key = ppl.Key(m.entries[i].Value)
		}
		if m.entries[i].Prob < 0 || math.IsNaN(m.entries[i].Prob) {
			return nil, fmt.Errorf("%w: entry %s has probability %v", ErrNotNormalized, m.entries[i].Key, m.entries[i].Prob)
		}
		total += m.entries[i].Prob
	}
	if math.Abs(1-total) > normTolerance {
		return nil, fmt.Errorf("%w: probabilities sum to %v", ErrNotNormalized, total)
	}

	sort.SliceStable(m.entries, func(i, j int) bool {
		if m.entries[i].Prob != m.entries[j].Prob {
			return m.entries[i].Prob > m.entries[j].Prob
		}
		return m.entries[i].Key < m.entries[j].Key
	})
	for i, e := range m.entries {
		if _, dup := m.index[e.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate value %s", ErrNotNormalized, e.Key)
		}
		m.index[e.Key] = i
	}
	return m, nil
}

func (m *Marginal) Kind() string { return "marginal" }

func (m *Marginal) Params() []ppl.Value {
	out := make([]ppl.Value, 0, 2*len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Key, e.Prob)
	}
	return out
}

// Sample draws a support value with its probability.
func (m *Marginal) Sample(r *rand.Rand) ppl.Value {
	x := r.Float64()
	acc := 0.0
	for _, e := range m.entries {
		acc += e.Prob
		if x < acc {
			return e.Value
		}
	}
	return m.entries[len(m.entries)-1].Value
}

// Score returns the log-probability of v, or -Inf outside the support.
func (m *Marginal) Score(v ppl.Value) float64 {
	p := m.Prob(v)
	if p == 0 {
		return math.Inf(-1)
	}
	return math.Log(p)
}

// Prob returns the probability of v.
func (m *Marginal) Prob(v ppl.Value) float64 {
	if i, ok := m.index[ppl.Key(v)]; ok {
		return m.entries[i].Prob
	}
	return 0
}

// Support returns the values with non-zero probability.
func (m *Marginal) Support() []ppl.Value {
	out := make([]ppl.Value, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Value
	}
	return out
}

// Entries returns a copy of the support points.
func (m *Marginal) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Len is the support size.
func (m *Marginal) Len() int { return len(m.entries) }

// Mean returns the expectation for numeric supports.
func (m *Marginal) Mean() (float64, error) {
	mean := 0.0
	for _, e := range m.entries {
		var x float64
		switch t := e.Value.(type) {
		case float64:
			x = t
		case int:
			x = float64(t)
		case bool:
			if t {
				x = 1
			}
		default:
			return 0, fmt.Errorf("%w: %T", ErrNotNumeric, e.Value)
		}
		mean += x * e.Prob
	}
	return mean, nil
}

func (m *Marginal) String() string {
	var b strings.Builder
	b.WriteString("Marginal:")
	for _, e := range m.entries {
		fmt.Fprintf(&b, "\n    %s : %v", e.Key, e.Prob)
	}
	return b.String()
}

type marginalJSON struct {
	Entries []Entry  `json:"entries"`
	Samples []Sample `json:"samples,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m *Marginal) MarshalJSON() ([]byte, error) {
	return json.Marshal(marginalJSON{Entries: m.entries, Samples: m.Samples})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Marginal) UnmarshalJSON(data []byte) error {
	var raw marginalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewMarginal(raw.Entries)
	if err != nil {
		return err
	}
	*m = *parsed
	m.Samples = raw.Samples
	return nil
}
