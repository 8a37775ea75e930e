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
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

// DriftScale shrinks the prior width to get the drift proposal width.
const DriftScale = 0.7

// Gaussian is the normal distribution.
type Gaussian struct {
	Mu, Sigma float64
}

func (d Gaussian) Kind() string        { return "gaussian" }
func (d Gaussian) Params() []ppl.Value { return []ppl.Value{d.Mu, d.Sigma} }

func (d Gaussian) Sample(r *rand.Rand) ppl.Value {
	return distuv.Normal{Mu: d.Mu, Sigma: d.Sigma, Src: r}.Rand()
}

func (d Gaussian) Score(v ppl.Value) float64 {
	x, ok := asFloat(v)
	if !ok {
		return negInf
	}
	return distuv.Normal{Mu: d.Mu, Sigma: d.Sigma}.LogProb(x)
}

// GaussianDrift has the density of Gaussian but proposes locally: MH moves
// are drawn from a narrower Gaussian centred on the current value.
type GaussianDrift struct {
	Mu, Sigma float64
}

func (d GaussianDrift) Kind() string        { return "gaussianDrift" }
func (d GaussianDrift) Params() []ppl.Value { return []ppl.Value{d.Mu, d.Sigma} }

func (d GaussianDrift) Sample(r *rand.Rand) ppl.Value {
	return Gaussian(d).Sample(r)
}

func (d GaussianDrift) Score(v ppl.Value) float64 {
	return Gaussian(d).Score(v)
}

// DriftKernel implements ppl.Drifter.
func (d GaussianDrift) DriftKernel(current ppl.Value) ppl.Distribution {
	x, ok := asFloat(current)
	if !ok {
		return Gaussian(d)
	}
	return Gaussian{Mu: x, Sigma: d.Sigma * DriftScale}
}

// Uniform is continuous on [Min, Max].
type Uniform struct {
	Min, Max float64
}

func (d Uniform) Kind() string        { return "uniform" }
func (d Uniform) Params() []ppl.Value { return []ppl.Value{d.Min, d.Max} }

func (d Uniform) Sample(r *rand.Rand) ppl.Value {
	return distuv.Uniform{Min: d.Min, Max: d.Max, Src: r}.Rand()
}

func (d Uniform) Score(v ppl.Value) float64 {
	x, ok := asFloat(v)
	if !ok || x < d.Min || x > d.Max {
		return negInf
	}
	return distuv.Uniform{Min: d.Min, Max: d.Max}.LogProb(x)
}

// Beta is on (0, 1).
type Beta struct {
	Alpha, Beta float64
}

func (d Beta) Kind() string        { return "beta" }
func (d Beta) Params() []ppl.Value { return []ppl.Value{d.Alpha, d.Beta} }

func (d Beta) Sample(r *rand.Rand) ppl.Value {
	return distuv.Beta{Alpha: d.Alpha, Beta: d.Beta, Src: r}.Rand()
}

func (d Beta) Score(v ppl.Value) float64 {
	x, ok := asFloat(v)
	if !ok || x <= 0 || x >= 1 {
		return negInf
	}
	return distuv.Beta{Alpha: d.Alpha, Beta: d.Beta}.LogProb(x)
}

// Gamma uses the shape/scale parameterization.
type Gamma struct {
	Shape, Scale float64
}

func (d Gamma) Kind() string        { return "gamma" }
func (d Gamma) Params() []ppl.Value { return []ppl.Value{d.Shape, d.Scale} }

func (d Gamma) gonum(r *rand.Rand) distuv.Gamma {
	g := distuv.Gamma{Alpha: d.Shape, Beta: 1 / d.Scale}
	if r != nil {
		g.Src = r
	}
	return g
}

func (d Gamma) Sample(r *rand.Rand) ppl.Value {
	return d.gonum(r).Rand()
}

func (d Gamma) Score(v ppl.Value) float64 {
	x, ok := asFloat(v)
	if !ok || x <= 0 {
		return negInf
	}
	return d.gonum(nil).LogProb(x)
}

// Exponential has rate Rate.
type Exponential struct {
	Rate float64
}

func (d Exponential) Kind() string        { return "exponential" }
func (d Exponential) Params() []ppl.Value { return []ppl.Value{d.Rate} }

func (d Exponential) Sample(r *rand.Rand) ppl.Value {
	return distuv.Exponential{Rate: d.Rate, Src: r}.Rand()
}

func (d Exponential) Score(v ppl.Value) float64 {
	x, ok := asFloat(v)
	if !ok || x < 0 {
		return negInf
	}
	return distuv.Exponential{Rate: d.Rate}.LogProb(x)
}
