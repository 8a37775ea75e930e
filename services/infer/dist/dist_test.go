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
	"testing"

	"golang.org/x/exp/rand"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		d    ppl.Distribution
		v    ppl.Value
		want float64
	}{
		{"bernoulli true", Bernoulli{P: 0.25}, true, math.Log(0.25)},
		{"bernoulli false", Bernoulli{P: 0.25}, false, math.Log(0.75)},
		{"bernoulli wrong type", Bernoulli{P: 0.25}, 1.0, math.Inf(-1)},
		{"categorical", Categorical{Weights: []float64{1, 3}}, 1, math.Log(0.75)},
		{"categorical out of range", Categorical{Weights: []float64{1, 3}}, 2, math.Inf(-1)},
		{"uniform draw", UniformDraw{Items: []ppl.Value{"a", "b", "a"}}, "a", math.Log(2.0 / 3.0)},
		{"uniform draw missing", UniformDraw{Items: []ppl.Value{"a"}}, "z", math.Inf(-1)},
		{"random integer", RandomInteger{N: 4}, 3, -math.Log(4)},
		{"random integer outside", RandomInteger{N: 4}, 4, math.Inf(-1)},
		{"poisson zero", Poisson{Lambda: 2}, 0, -2},
		{"poisson negative", Poisson{Lambda: 2}, -1, math.Inf(-1)},
		{"gaussian mode", Gaussian{Mu: 0, Sigma: 1}, 0.0, -0.5 * math.Log(2*math.Pi)},
		{"gaussian int value", Gaussian{Mu: 0, Sigma: 1}, 0, -0.5 * math.Log(2*math.Pi)},
		{"uniform inside", Uniform{Min: 0, Max: 4}, 1.0, -math.Log(4)},
		{"uniform outside", Uniform{Min: 0, Max: 4}, 5.0, math.Inf(-1)},
		{"beta flat", Beta{Alpha: 1, Beta: 1}, 0.3, 0},
		{"beta outside", Beta{Alpha: 1, Beta: 1}, 1.3, math.Inf(-1)},
		{"gamma exponential", Gamma{Shape: 1, Scale: 1}, 1.0, -1},
		{"exponential", Exponential{Rate: 2}, 1.0, math.Log(2) - 2},
		{"exponential negative", Exponential{Rate: 2}, -1.0, math.Inf(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.d.Score(tt.v)
			if math.IsInf(tt.want, -1) {
				if !math.IsInf(got, -1) {
					t.Errorf("Score(%v) = %v, want -Inf", tt.v, got)
				}
				return
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestSample_InSupport(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	dists := []ppl.Distribution{
		Bernoulli{P: 0.3},
		Categorical{Weights: []float64{0.2, 0.5, 0.3}},
		UniformDraw{Items: []ppl.Value{1, 2, 3}},
		RandomInteger{N: 10},
		Poisson{Lambda: 3},
		Gaussian{Mu: 1, Sigma: 2},
		GaussianDrift{Mu: 1, Sigma: 2},
		Uniform{Min: -1, Max: 1},
		Beta{Alpha: 2, Beta: 3},
		Gamma{Shape: 2, Scale: 0.5},
		Exponential{Rate: 1},
	}

	for _, d := range dists {
		t.Run(d.Kind(), func(t *testing.T) {
			for i := 0; i < 200; i++ {
				v := d.Sample(r)
				if s := d.Score(v); math.IsInf(s, -1) || math.IsNaN(s) {
					t.Fatalf("sample %v has score %v", v, s)
				}
			}
		})
	}
}

func TestBernoulli_Frequency(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	d := Bernoulli{P: 0.3}
	n, hits := 20000, 0
	for i := 0; i < n; i++ {
		if d.Sample(r).(bool) {
			hits++
		}
	}
	if got := float64(hits) / float64(n); math.Abs(got-0.3) > 0.02 {
		t.Errorf("frequency = %v, want ~0.3", got)
	}
}

func TestGaussianDrift_Kernel(t *testing.T) {
	d := GaussianDrift{Mu: 0, Sigma: 10}
	k := d.DriftKernel(3.0)
	g, ok := k.(Gaussian)
	if !ok {
		t.Fatalf("DriftKernel() returned %T", k)
	}
	if g.Mu != 3 || math.Abs(g.Sigma-7) > 1e-12 {
		t.Errorf("DriftKernel() = %+v, want mu 3 sigma 7", g)
	}
	if _, ok := d.DriftKernel("x").(Gaussian); !ok {
		t.Error("non-numeric current value should fall back to the prior")
	}
}

func TestParamsDistinguishDistributions(t *testing.T) {
	tests := []struct {
		name string
		a, b ppl.Distribution
		want bool
	}{
		{"same bernoulli", Bernoulli{P: 0.5}, Bernoulli{P: 0.5}, true},
		{"different p", Bernoulli{P: 0.5}, Bernoulli{P: 0.6}, false},
		{"same weights", Categorical{Weights: []float64{1, 2}}, Categorical{Weights: []float64{1, 2}}, true},
		{"different weights", Categorical{Weights: []float64{1, 2}}, Categorical{Weights: []float64{2, 1}}, false},
		{"gaussian vs drift", Gaussian{Mu: 0, Sigma: 1}, GaussianDrift{Mu: 0, Sigma: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ppl.SameDistribution(tt.a, tt.b); got != tt.want {
				t.Errorf("SameDistribution() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSupport(t *testing.T) {
	if got := len(Bernoulli{P: 0.1}.Support()); got != 2 {
		t.Errorf("bernoulli support size = %d", got)
	}
	if got := len(Categorical{Weights: []float64{1, 0, 1}}.Support()); got != 2 {
		t.Errorf("categorical support should skip zero weights, got %d", got)
	}
	if got := len(RandomInteger{N: 5}.Support()); got != 5 {
		t.Errorf("random integer support size = %d", got)
	}
}
