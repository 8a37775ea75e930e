// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ppl

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
)

// Forward runs programs without caching: every choice is drawn fresh and
// every call executes its body. It accumulates the log-probability of the
// execution in Score.
//
// Forward is the default handler at the bottom of an Env and the fallback
// inference handlers use for call sites they do not cache.
type Forward struct {
	Rand  *rand.Rand
	Score float64
}

// NewForward returns a Forward handler drawing from r.
func NewForward(r *rand.Rand) *Forward {
	return &Forward{Rand: r}
}

// Sample implements Handler.
func (f *Forward) Sample(_ *Env, s Store, k Cont, _ Address, d Distribution) Step {
	v := d.Sample(f.Rand)
	f.Score += d.Score(v)
	return k(s, v)
}

// Factor implements Handler.
func (f *Forward) Factor(_ *Env, s Store, k Cont, _ Address, score float64) Step {
	f.Score += score
	return k(s, nil)
}

// Call implements Handler.
func (f *Forward) Call(env *Env, s Store, k Cont, a Address, fn *Fn, args []Value) Step {
	return fn.Body(env, s, k, a, args...)
}

// Result is the outcome of a single forward execution.
type Result struct {
	Value Value
	Store Store
	Score float64
}

// RunForward executes program once on env with a fresh Forward handler and
// returns its value and log-probability. The handler is popped on return.
func RunForward(ctx context.Context, env *Env, r *rand.Rand, program *Fn, s Store, a Address, args ...Value) (Result, error) {
	if program == nil {
		return Result{}, fmt.Errorf("run forward: nil program")
	}
	h := NewForward(r)
	env.Push(h)
	defer env.Pop()

	var res Result
	done := false
	exit := func(s Store, v Value) Step {
		res.Value, res.Store, done = v, s, true
		return nil
	}
	step := func() Step { return program.Body(env, s.Clone(), exit, a, args...) }
	if err := Trampoline(ctx, step); err != nil {
		return Result{}, fmt.Errorf("run forward: %w", err)
	}
	if !done {
		return Result{}, fmt.Errorf("run forward: program returned without calling its continuation")
	}
	res.Score = h.Score
	if math.IsNaN(res.Score) {
		return Result{}, fmt.Errorf("run forward: score is NaN")
	}
	return res, nil
}
