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
	"errors"
)

// ErrNoHandler is returned when a program runs on an Env with an empty
// handler stack.
var ErrNoHandler = errors.New("no handler installed")

// ctxCheckInterval is how many bounces Trampoline runs between context checks.
const ctxCheckInterval = 1024

// Handler interprets the random primitives of a program.
type Handler interface {
	// Sample draws (or reuses) a value from d at address a and passes it to k.
	Sample(env *Env, s Store, k Cont, a Address, d Distribution) Step

	// Factor adds score to the log-probability of the current execution.
	Factor(env *Env, s Store, k Cont, a Address, score float64) Step

	// Call invokes fn at address a, possibly reusing a cached result.
	Call(env *Env, s Store, k Cont, a Address, fn *Fn, args []Value) Step
}

// Env carries the handler stack a program runs under.
//
// Thread Safety: an Env belongs to one goroutine. Independent chains each
// get their own Env.
type Env struct {
	handlers []Handler
	ctx      context.Context
}

// NewEnv creates an Env with base as the bottom handler.
func NewEnv(base Handler) *Env {
	e := &Env{}
	if base != nil {
		e.handlers = append(e.handlers, base)
	}
	return e
}

// Push installs h as the current handler.
func (e *Env) Push(h Handler) {
	e.handlers = append(e.handlers, h)
}

// Pop removes and returns the current handler.
func (e *Env) Pop() Handler {
	n := len(e.handlers)
	if n == 0 {
		return nil
	}
	h := e.handlers[n-1]
	e.handlers[n-1] = nil
	e.handlers = e.handlers[:n-1]
	return h
}

// Current returns the handler on top of the stack, or nil.
func (e *Env) Current() Handler {
	if len(e.handlers) == 0 {
		return nil
	}
	return e.handlers[len(e.handlers)-1]
}

// Depth returns the number of installed handlers.
func (e *Env) Depth() int {
	return len(e.handlers)
}

// Context returns the context of the inference running on e, or
// context.Background if none is set. Bodies that start blocking work of
// their own, such as an inner inference, should use it.
func (e *Env) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// SetContext installs ctx and returns the previous one so the caller can
// restore it when its run ends.
func (e *Env) SetContext(ctx context.Context) context.Context {
	prev := e.ctx
	e.ctx = ctx
	return prev
}

// Sample requests a draw from d at address a.
func (e *Env) Sample(s Store, k Cont, a Address, d Distribution) Step {
	return func() Step {
		return e.mustCurrent().Sample(e, s, k, a, d)
	}
}

// Factor conditions the execution on score.
func (e *Env) Factor(s Store, k Cont, a Address, score float64) Step {
	return func() Step {
		return e.mustCurrent().Factor(e, s, k, a, score)
	}
}

// Call invokes fn through the current handler.
func (e *Env) Call(s Store, k Cont, a Address, fn *Fn, args ...Value) Step {
	return func() Step {
		return e.mustCurrent().Call(e, s, k, a, fn, args)
	}
}

func (e *Env) mustCurrent() Handler {
	h := e.Current()
	if h == nil {
		panic(ErrNoHandler)
	}
	return h
}

// Trampoline runs step until a bounce returns nil. The context is checked
// periodically and its error is returned if it is done.
func Trampoline(ctx context.Context, step Step) error {
	for i := 0; step != nil; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		step = step()
	}
	return nil
}
