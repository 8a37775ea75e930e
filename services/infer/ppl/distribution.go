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

import "golang.org/x/exp/rand"

// Distribution is a parameterized primitive random procedure.
type Distribution interface {
	// Kind names the distribution family. Two distributions of the same
	// kind with equal Params score every value identically.
	Kind() string

	// Params returns the parameters in a fixed order.
	Params() []Value

	// Sample draws a value using r.
	Sample(r *rand.Rand) Value

	// Score returns log p(v). Values outside the support score -Inf.
	Score(v Value) float64
}

// Drifter is implemented by distributions with a local proposal kernel.
type Drifter interface {
	DriftKernel(current Value) Distribution
}

// Supporter is implemented by distributions with finite support.
type Supporter interface {
	Support() []Value
}

// SameDistribution reports whether a and b are of the same kind with
// element-wise equal parameters. Only a shallow check is made: a mismatch
// costs one rescore.
func SameDistribution(a, b Distribution) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	pa, pb := a.Params(), b.Params()
	if len(pa) != len(pb) {
		return false
	}
	for i := range pa {
		if !ValuesEqual(pa[i], pb[i]) {
			return false
		}
	}
	return true
}
