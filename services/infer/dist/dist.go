// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dist provides the primitive distributions programs sample from.
//
// Densities and samplers delegate to gonum's stat/distuv. Every type is a
// small value struct, so a program constructs a fresh distribution at each
// sample site and the runtime compares them by Kind and Params.
package dist

import (
	"math"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

var negInf = math.Inf(-1)

// Compile-time interface checks.
var (
	_ ppl.Distribution = Bernoulli{}
	_ ppl.Distribution = Gaussian{}
	_ ppl.Distribution = GaussianDrift{}
	_ ppl.Distribution = Uniform{}
	_ ppl.Distribution = Categorical{}
	_ ppl.Distribution = UniformDraw{}
	_ ppl.Distribution = RandomInteger{}
	_ ppl.Distribution = Poisson{}
	_ ppl.Distribution = Beta{}
	_ ppl.Distribution = Gamma{}
	_ ppl.Distribution = Exponential{}

	_ ppl.Drifter   = GaussianDrift{}
	_ ppl.Supporter = Bernoulli{}
	_ ppl.Supporter = Categorical{}
	_ ppl.Supporter = UniformDraw{}
	_ ppl.Supporter = RandomInteger{}
)

// asFloat accepts the numeric value types programs produce.
func asFloat(v ppl.Value) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func asInt(v ppl.Value) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t == math.Trunc(t) {
			return int(t), true
		}
	}
	return 0, false
}
