// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package imh

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/AleutianAI/AleutianInfer/services/infer/dist"
	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

// Test programs shared by the driver tests.

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// coinProgram flips a fair coin and triples the weight of heads.
// P(true) = 0.75.
func coinProgram() *ppl.Fn {
	return ppl.NewFn("coin", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Sample(s, func(s ppl.Store, v ppl.Value) ppl.Step {
			score := 0.0
			if v.(bool) {
				score = math.Log(3)
			}
			return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
				return k(s, v)
			}, a.Extend("2"), score)
		}, a.Extend("1"), dist.Bernoulli{P: 0.5})
	})
}

// geometricFn counts failures of a fair coin, truncated at limit. Each
// recursion is a cached call, so the trace changes dimension.
func geometricFn(limit int) *ppl.Fn {
	var geom *ppl.Fn
	geom = ppl.NewFn("geom", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
		n := args[0].(int)
		if n >= limit {
			return k(s, n)
		}
		return env.Sample(s, func(s ppl.Store, v ppl.Value) ppl.Step {
			if v.(bool) {
				return k(s, n)
			}
			return env.Call(s, k, a.Extend("rec"), geom, n+1)
		}, a.Extend("flip"), dist.Bernoulli{P: 0.5})
	}, limit)
	return geom
}

func geometricProgram(limit int) *ppl.Fn {
	geom := geometricFn(limit)
	return ppl.NewFn("geomMain", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Call(s, k, a.Extend("g"), geom, 0)
	})
}

// geometricExact is the enumerated marginal of geometricFn(limit).
func geometricExact(limit int) map[int]float64 {
	out := make(map[int]float64, limit+1)
	for n := 0; n < limit; n++ {
		out[n] = math.Pow(0.5, float64(n+1))
	}
	out[limit] = math.Pow(0.5, float64(limit))
	return out
}

// mixtureProgram draws a geometric count, a drifting mean around it and
// conditions on an observation. It also calls a pure helper whose inputs
// never change.
func mixtureProgram() *ppl.Fn {
	geom := geometricFn(5)
	square := ppl.NewFn("square", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
		x := args[0].(float64)
		return k(s, x*x)
	})
	return ppl.NewFn("mixture", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Call(s, func(s ppl.Store, sq ppl.Value) ppl.Step {
			return env.Call(s, func(s ppl.Store, nv ppl.Value) ppl.Step {
				n := nv.(int)
				return env.Sample(s, func(s ppl.Store, mu ppl.Value) ppl.Step {
					obs := dist.Gaussian{Mu: mu.(float64), Sigma: 0.5}.Score(1.3 + sq.(float64))
					return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
						return k(s, n)
					}, a.Extend("obs"), obs)
				}, a.Extend("mu"), dist.GaussianDrift{Mu: float64(n), Sigma: 1})
			}, a.Extend("g"), geom, 0)
		}, a.Extend("sq"), square, 0.0)
	})
}

// switchProgram takes an expensive branch only when x is true; that branch
// is penalized so hard that moves into it are always rejected.
func switchProgram() *ppl.Fn {
	inner := ppl.NewFn("inner", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
		return env.Sample(s, k, a.Extend("z"), dist.Bernoulli{P: 0.5})
	})
	return ppl.NewFn("switch", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Sample(s, func(s ppl.Store, xv ppl.Value) ppl.Step {
			x := xv.(bool)
			if !x {
				return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
					return k(s, x)
				}, a.Extend("f"), 0)
			}
			return env.Sample(s, func(s ppl.Store, y ppl.Value) ppl.Step {
				return env.Call(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
					return env.Factor(s, func(s ppl.Store, _ ppl.Value) ppl.Step {
						return k(s, x)
					}, a.Extend("f"), -50)
				}, a.Extend("inner"), inner, y)
			}, a.Extend("y"), dist.Gaussian{Mu: 0, Sigma: 1})
		}, a.Extend("x"), dist.Bernoulli{P: 0.5})
	})
}

// chainProgram draws b, then calls a helper whose argument is b. The
// helper's result always changes, so its call site never hits the cache.
// Joint encoding: 2*b + c.
func chainProgram() *ppl.Fn {
	helper := ppl.NewFn("helper", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
		p := 0.1
		if args[0].(bool) {
			p = 0.9
		}
		return env.Sample(s, k, a.Extend("c"), dist.Bernoulli{P: p})
	})
	return ppl.NewFn("chain", func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, _ ...ppl.Value) ppl.Step {
		return env.Sample(s, func(s ppl.Store, bv ppl.Value) ppl.Step {
			return env.Call(s, func(s ppl.Store, cv ppl.Value) ppl.Step {
				v := 0
				if bv.(bool) {
					v += 2
				}
				if cv.(bool) {
					v++
				}
				return k(s, v)
			}, a.Extend("h"), helper, bv)
		}, a.Extend("b"), dist.Bernoulli{P: 0.3})
	})
}

var chainExact = map[int]float64{3: 0.27, 2: 0.03, 1: 0.07, 0: 0.63}

func newTestDriver(t *testing.T, program *ppl.Fn, opts Options, extra ...DriverOption) *Driver {
	t.Helper()
	env := ppl.NewEnv(nil)
	d, err := NewDriver(env, program, opts, append([]DriverOption{WithLogger(quietLogger())}, extra...)...)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	return d
}

func runDriver(t *testing.T, d *Driver) *Result {
	t.Helper()
	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func assertMarginal(t *testing.T, res *Result, exact map[int]float64, tol float64) {
	t.Helper()
	for v, want := range exact {
		if got := res.Marginal.Prob(v); math.Abs(got-want) > tol {
			t.Errorf("P(%d) = %.4f, want %.4f ± %.3f", v, got, want, tol)
		}
	}
}
