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

// Step is one bounce of the trampoline. Returning nil ends the run.
type Step func() Step

// Cont receives the store and value produced by a computation.
type Cont func(s Store, v Value) Step

// Body is the compiled code of a program function.
type Body func(env *Env, s Store, k Cont, a Address, args ...Value) Step

// Fn is a program function together with its lexical identity.
//
// Site names the source location the closure was created at. Free holds the
// values of the variables it closes over, in a fixed order. Two *Fn with the
// same Site and equal Free values compute the same thing.
type Fn struct {
	Site string
	Free []Value
	Body Body
}

// NewFn builds a function value for site closing over free.
func NewFn(site string, body Body, free ...Value) *Fn {
	return &Fn{Site: site, Free: free, Body: body}
}

// FnComparator decides function identity for cache reuse.
//
// Results for a pair of closures are memoized, since the same pair tends to
// be compared on every proposal. A comparator is not safe for concurrent
// use; give each inference run its own.
type FnComparator struct {
	memo map[[2]*Fn]bool
}

// NewFnComparator returns an empty comparator.
func NewFnComparator() *FnComparator {
	return &FnComparator{memo: make(map[[2]*Fn]bool)}
}

// FnEqual reports whether f and g are the same closure, or closures created
// at the same site over pairwise equal free values. Nested functions among
// the free values are compared recursively.
func (c *FnComparator) FnEqual(f, g *Fn) bool {
	if f == g {
		return true
	}
	if f == nil || g == nil || f.Site == "" || f.Site != g.Site || len(f.Free) != len(g.Free) {
		return false
	}
	key := [2]*Fn{f, g}
	if eq, ok := c.memo[key]; ok {
		return eq
	}
	// Provisional entry so self-referential closures terminate.
	c.memo[key] = true
	eq := true
	for i := range f.Free {
		if !c.Equal(f.Free[i], g.Free[i]) {
			eq = false
			break
		}
	}
	c.memo[key] = eq
	return eq
}

// Equal compares two values, treating *Fn structurally.
func (c *FnComparator) Equal(a, b Value) bool {
	fa, okA := a.(*Fn)
	fb, okB := b.(*Fn)
	if okA && okB {
		return c.FnEqual(fa, fb)
	}
	if okA || okB {
		return false
	}
	return ValuesEqual(a, b)
}

// ArgsEqual compares argument lists element-wise.
func (c *FnComparator) ArgsEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !c.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Len reports how many pairs are memoized.
func (c *FnComparator) Len() int {
	return len(c.memo)
}
