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
	"math"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

type factorState struct {
	common
	score float64
}

// FactorNode records a soft condition added to the trace score.
type FactorNode struct {
	nodeBase
	st snapshot[factorState]
}

func newFactorNode(d *Driver, parent *CallNode, s ppl.Store, k ppl.Cont, a ppl.Address, score float64) *FactorNode {
	f := &FactorNode{nodeBase: newBase(d, parent, a)}
	f.st.cur = factorState{common: newCommon(parent, s.Clone(), k), score: score}
	d.score += score
	return f
}

// Score returns the factor's contribution to the trace score.
func (f *FactorNode) Score() float64 { return f.st.cur.score }

func (f *FactorNode) state() *common { return &f.st.cur.common }
func (f *FactorNode) kind() NodeKind { return KindFactor }

func (f *FactorNode) touch() {
	if f.st.save() {
		f.d.touched = append(f.d.touched, f)
	}
}

func (f *FactorNode) restoreSnapshot() { f.st.restore() }
func (f *FactorNode) discardSnapshot() { f.st.discard() }

func (f *FactorNode) execute() ppl.Step {
	if math.IsInf(f.st.cur.score, -1) {
		f.d.logDebug(4, f, "factor is -Inf; exiting early")
		return f.d.exitStep
	}
	return f.kontinue()
}

// registerInputChanges rescores immediately: a factor's only input is its
// score.
func (f *FactorNode) registerInputChanges(s ppl.Store, k ppl.Cont, score float64) {
	f.touch()
	st := &f.st.cur
	st.store = s.Clone()
	st.k = k
	st.index = f.parent.st.cur.nextChildIdx
	st.reachable = true
	if st.score != score {
		old := st.score
		st.score = score
		f.d.adjustScore(old, score)
	}
}

func (f *FactorNode) kontinue() ppl.Step {
	f.parent.notifyChildExecuted(f)
	return f.st.cur.k(f.st.cur.store.Clone(), nil)
}

func (f *FactorNode) killDescendantLeaves() {
	f.d.logDebug(3, f, "kill factor")
	f.d.score -= f.st.cur.score
}
