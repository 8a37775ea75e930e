// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dist

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

// Bernoulli is a biased coin returning bool.
type Bernoulli struct {
	P float64
}

func (d Bernoulli) Kind() string        { return "bernoulli" }
func (d Bernoulli) Params() []ppl.Value { return []ppl.Value{d.P} }

func (d Bernoulli) Sample(r *rand.Rand) ppl.Value {
	return distuv.Bernoulli{P: d.P, Src: r}.Rand() == 1
}

func (d Bernoulli) Score(v ppl.Value) float64 {
	b, ok := v.(bool)
	if !ok {
		return negInf
	}
	x := 0.0
	if b {
		x = 1
	}
	return distuv.Bernoulli{P: d.P}.LogProb(x)
}

func (d Bernoulli) Support() []ppl.Value { return []ppl.Value{true, false} }

// Categorical draws an index in [0, len(Weights)) with probability
// proportional to its weight.
type Categorical struct {
	Weights []float64
}

func (d Categorical) Kind() string        { return "categorical" }
func (d Categorical) Params() []ppl.Value { return []ppl.Value{d.Weights} }

func (d Categorical) Sample(r *rand.Rand) ppl.Value {
	return int(distuv.NewCategorical(d.Weights, r).Rand())
}

func (d Categorical) Score(v ppl.Value) float64 {
	i, ok := asInt(v)
	if !ok || i < 0 || i >= len(d.Weights) {
		return negInf
	}
	return distuv.NewCategorical(d.Weights, nil).LogProb(float64(i))
}

func (d Categorical) Support() []ppl.Value {
	out := make([]ppl.Value, 0, len(d.Weights))
	for i, w := range d.Weights {
		if w > 0 {
			out = append(out, i)
		}
	}
	return out
}

// UniformDraw picks one of Items uniformly. Items are compared with
// ppl.ValuesEqual when scoring.
type UniformDraw struct {
	Items []ppl.Value
}

func (d UniformDraw) Kind() string        { return "uniformDraw" }
func (d UniformDraw) Params() []ppl.Value { return []ppl.Value{d.Items} }

func (d UniformDraw) Sample(r *rand.Rand) ppl.Value {
	return d.Items[r.Intn(len(d.Items))]
}

func (d UniformDraw) Score(v ppl.Value) float64 {
	n := 0
	for _, it := range d.Items {
		if ppl.ValuesEqual(it, v) {
			n++
		}
	}
	if n == 0 {
		return negInf
	}
	return math.Log(float64(n) / float64(len(d.Items)))
}

func (d UniformDraw) Support() []ppl.Value { return append([]ppl.Value(nil), d.Items...) }

// RandomInteger is uniform over [0, N).
type RandomInteger struct {
	N int
}

func (d RandomInteger) Kind() string        { return "randomInteger" }
func (d RandomInteger) Params() []ppl.Value { return []ppl.Value{d.N} }

func (d RandomInteger) Sample(r *rand.Rand) ppl.Value {
	return r.Intn(d.N)
}

func (d RandomInteger) Score(v ppl.Value) float64 {
	i, ok := asInt(v)
	if !ok || i < 0 || i >= d.N {
		return negInf
	}
	return -math.Log(float64(d.N))
}

func (d RandomInteger) Support() []ppl.Value {
	out := make([]ppl.Value, d.N)
	for i := range out {
		out[i] = i
	}
	return out
}

// Poisson counts events with rate Lambda, returning int.
type Poisson struct {
	Lambda float64
}

func (d Poisson) Kind() string        { return "poisson" }
func (d Poisson) Params() []ppl.Value { return []ppl.Value{d.Lambda} }

func (d Poisson) Sample(r *rand.Rand) ppl.Value {
	return int(distuv.Poisson{Lambda: d.Lambda, Src: r}.Rand())
}

func (d Poisson) Score(v ppl.Value) float64 {
	k, ok := asInt(v)
	if !ok || k < 0 {
		return negInf
	}
	return distuv.Poisson{Lambda: d.Lambda}.LogProb(float64(k))
}
