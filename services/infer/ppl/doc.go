// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ppl defines the contract between compiled probabilistic programs
// and the inference runtime.
//
// # Programs
//
// A program is written in continuation-passing style. Every function takes
// the current Store, a continuation, a structural Address and its arguments,
// and returns a Step. Random choices, soft conditioning and cached calls are
// requested through the Env:
//
//	body := func(env *ppl.Env, s ppl.Store, k ppl.Cont, a ppl.Address, args ...ppl.Value) ppl.Step {
//	    return env.Sample(s, func(s ppl.Store, v ppl.Value) ppl.Step {
//	        return k(s, v)
//	    }, a.Extend("1"), dist.Bernoulli{P: 0.5})
//	}
//
// # Handlers
//
// The Env keeps a stack of Handlers. Sample, Factor and Call dispatch to the
// handler on top of the stack at the moment the returned Step is run, so an
// inference algorithm installs itself with Push for the duration of a run and
// nested runs restore the outer handler with Pop.
//
// # Trampolining
//
// Steps are thunks. Trampoline runs them in a loop, which keeps the native
// stack bounded no matter how deep the program recursion goes.
package ppl
