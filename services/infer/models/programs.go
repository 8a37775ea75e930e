// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package models

import (
	"log/slog"
	"math"

	"github.com/AleutianAI/AleutianInfer/services/infer/dist"
	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

// Coin flips a fair coin and weights heads three times as much as tails.
// P(true) = 0.75.
func Coin() Model {
	program := ppl.NewFn("coin", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Sample(s, func(s ppl.Store, heads ppl.Value) ppl.Step {
			w := 0.0
			if heads.(bool) {
				w = math.Log(3)
			}
			return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
				return k(s, heads)
			}, a.Extend("weight"), w)
		}, a.Extend("flip"), dist.Bernoulli{P: 0.5})
	})
	return Model{
		Name:        "coin",
		Description: "Fair coin with heads weighted by a factor of 3",
		Returns:     "bool",
		Program:     program,
	}
}

// GeometricLimit truncates the geometric model.
const GeometricLimit = 10

// Geometric counts tails before the first heads of a fair coin, truncated
// at limit. Every recursion is a cached call, so traces change dimension.
func Geometric(limit int) Model {
	var geom *ppl.Fn
	geom = ppl.NewFn("geometric.step", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
		n := args[0].(int)
		if n >= limit {
			return k(s, n)
		}
		return env.Sample(s, func(s ppl.Store, heads ppl.Value) ppl.Step {
			if heads.(bool) {
				return k(s, n)
			}
			return env.Call(s, k, a.Extend("next"), geom, n+1)
		}, a.Extend("flip"), dist.Bernoulli{P: 0.5})
	}, limit)

	program := ppl.NewFn("geometric", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Call(s, k, a.Extend("count"), geom, 0)
	}, limit)
	return Model{
		Name:        "geometric",
		Description: "Tails before the first heads of a fair coin",
		Returns:     "int",
		Program:     program,
	}
}

// HMM parameters.
const (
	hmmInit        = 0.5
	hmmStay        = 0.7
	hmmEmitCorrect = 0.9
)

// DefaultObservations is the observation sequence of the built-in HMM.
var DefaultObservations = []bool{true, true, false, true}

// HMM is a two-state hidden Markov model conditioned on obs. It returns the
// posterior state sequence. Step t is a cached call on step t-1, so a
// proposal to a late state reuses every earlier step.
func HMM(obs []bool) Model {
	obs = append([]bool(nil), obs...)
	emit := func(state bool, t int) float64 {
		if state == obs[t] {
			return math.Log(hmmEmitCorrect)
		}
		return math.Log(1 - hmmEmitCorrect)
	}

	var step *ppl.Fn
	step = ppl.NewFn("hmm.step", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
		t := args[0].(int)
		observe := func(s ppl.Store, prev []bool, state ppl.Value) ppl.Step {
			st := state.(bool)
			return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
				states := make([]bool, len(prev), len(prev)+1)
				copy(states, prev)
				return k(s, append(states, st))
			}, a.Extend("obs"), emit(st, t))
		}
		if t == 0 {
			return env.Sample(s, func(s ppl.Store, state ppl.Value) ppl.Step {
				return observe(s, nil, state)
			}, a.Extend("state"), dist.Bernoulli{P: hmmInit})
		}
		return env.Call(s, func(s ppl.Store, prevV ppl.Value) ppl.Step {
			prev := prevV.([]bool)
			p := 1 - hmmStay
			if prev[len(prev)-1] {
				p = hmmStay
			}
			return env.Sample(s, func(s ppl.Store, state ppl.Value) ppl.Step {
				return observe(s, prev, state)
			}, a.Extend("state"), dist.Bernoulli{P: p})
		}, a.Extend("prev"), step, t-1)
	}, obs)

	program := ppl.NewFn("hmm", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		if len(obs) == 0 {
			return k(s, []bool{})
		}
		return env.Call(s, k, a.Extend("states"), step, len(obs)-1)
	}, obs)
	return Model{
		Name:        "hmm",
		Description: "Two-state hidden Markov model conditioned on a boolean observation sequence",
		Returns:     "[]bool",
		Program:     program,
	}
}

// Point is one (x, y) observation for Regression.
type Point struct {
	X, Y float64
}

// DefaultPoints lie close to y = 2x + 1.
var DefaultPoints = []Point{{0, 1.1}, {1, 2.9}, {2, 5.2}, {3, 6.8}, {4, 9.1}}

const regressionNoise = 0.5

// Regression is Bayesian linear regression with drift proposals. It returns
// the slope rounded to one decimal. Observations are scored by a chain of
// calls whose arguments change on every proposal, which makes their call
// site a candidate for the cache adapter.
func Regression(points []Point) Model {
	points = append([]Point(nil), points...)

	var fit *ppl.Fn
	fit = ppl.NewFn("regression.fit", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
		i, slope, intercept := args[0].(int), args[1].(float64), args[2].(float64)
		if i == len(points) {
			return k(s, nil)
		}
		p := points[i]
		ll := dist.Gaussian{Mu: slope*p.X + intercept, Sigma: regressionNoise}.Score(p.Y)
		return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
			return env.Call(s, k, a.Extend("next"), fit, i+1, slope, intercept)
		}, a.Extend("obs"), ll)
	}, points)

	program := ppl.NewFn("regression", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Sample(s, func(s ppl.Store, slope ppl.Value) ppl.Step {
			return env.Sample(s, func(s ppl.Store, intercept ppl.Value) ppl.Step {
				return env.Call(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
					return k(s, math.Round(slope.(float64)*10)/10)
				}, a.Extend("fit"), fit, 0, slope, intercept)
			}, a.Extend("intercept"), dist.GaussianDrift{Mu: 0, Sigma: 2})
		}, a.Extend("slope"), dist.GaussianDrift{Mu: 0, Sigma: 2})
	}, points)
	return Model{
		Name:        "regression",
		Description: "Bayesian linear regression; returns the slope rounded to 0.1",
		Returns:     "float64",
		Program:     program,
	}
}

// Burglary network probabilities.
const (
	PBurglary   = 0.1
	PEarthquake = 0.2
)

// PAlarm is P(alarm | burglary, earthquake).
func PAlarm(burglary, earthquake bool) float64 {
	switch {
	case burglary && earthquake:
		return 0.95
	case burglary:
		return 0.94
	case earthquake:
		return 0.29
	default:
		return 0.001
	}
}

// PJohnCalls and PMaryCalls are P(call | alarm).
func PJohnCalls(alarm bool) float64 {
	if alarm {
		return 0.9
	}
	return 0.05
}

func PMaryCalls(alarm bool) float64 {
	if alarm {
		return 0.7
	}
	return 0.01
}

// Burglary is the alarm network with both neighbours calling. It returns
// whether there was a burglary.
func Burglary() Model {
	alarm := ppl.NewFn("burglary.alarm", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
		b, e := args[0].(bool), args[1].(bool)
		return env.Sample(s, k, a.Extend("alarm"), dist.Bernoulli{P: PAlarm(b, e)})
	})

	program := ppl.NewFn("burglary", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Sample(s, func(s ppl.Store, b ppl.Value) ppl.Step {
			return env.Sample(s, func(s ppl.Store, e ppl.Value) ppl.Step {
				return env.Call(s, func(s ppl.Store, av ppl.Value) ppl.Step {
					on := av.(bool)
					return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
						return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
							return k(s, b)
						}, a.Extend("mary"), math.Log(PMaryCalls(on)))
					}, a.Extend("john"), math.Log(PJohnCalls(on)))
				}, a.Extend("alarm"), alarm, b, e)
			}, a.Extend("earthquake"), dist.Bernoulli{P: PEarthquake})
		}, a.Extend("burglary"), dist.Bernoulli{P: PBurglary})
	})
	return Model{
		Name:        "burglary",
		Description: "Alarm network given that John and Mary both called; returns burglary",
		Returns:     "bool",
		Program:     program,
	}
}

// NestedSamples is the sample count of the inner inference in Nested.
const NestedSamples = 500

// Nested picks x uniformly from {0, 1, 2} and weights it by the probability,
// estimated with an inner MH run on the same environment, that a coin with
// bias (x+1)/4 lands heads. P(x) ≈ (x+1)/6.
func Nested() Model {
	quiet := slog.New(slog.DiscardHandler)

	inner := func(x int) *ppl.Fn {
		bias := float64(x+1) / 4
		return ppl.NewFn("nested.coin", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
			return env.Sample(s, k, a.Extend("flip"), dist.Bernoulli{P: bias})
		}, x)
	}

	estimate := ppl.NewFn("nested.estimate", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
		x := args[0].(int)
		opts := imh.DefaultOptions()
		opts.Samples = NestedSamples
		opts.Seed = uint64(x) + 1
		d, err := imh.NewDriver(env, inner(x), opts, imh.WithLogger(quiet), imh.WithAddress(a.Extend("inner")))
		if err != nil {
			panic(err)
		}
		res, err := d.Run(env.Context())
		if err != nil {
			// A failed inner run gives its outer trace zero probability. A
			// cancelled one ends the outer run at its next context check.
			return k(s, 0.0)
		}
		return k(s, res.Marginal.Prob(true))
	})

	program := ppl.NewFn("nested", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Sample(s, func(s ppl.Store, xv ppl.Value) ppl.Step {
			return env.Call(s, func(s ppl.Store, p ppl.Value) ppl.Step {
				return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
					return k(s, xv)
				}, a.Extend("weight"), math.Log(p.(float64)))
			}, a.Extend("estimate"), estimate, xv)
		}, a.Extend("x"), dist.RandomInteger{N: 3})
	})
	return Model{
		Name:        "nested",
		Description: "Outer choice weighted by an inner MH estimate on the same environment",
		Returns:     "int",
		Program:     program,
	}
}
