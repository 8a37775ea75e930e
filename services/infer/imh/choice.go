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

type choiceState struct {
	common
	dist        ppl.Distribution
	value       ppl.Value
	score       float64
	needsUpdate bool
}

// ChoiceNode records one random choice: its distribution, the sampled value
// and that value's log-probability.
type ChoiceNode struct {
	nodeBase
	st snapshot[choiceState]
}

// newChoiceNode samples a fresh value from dist and registers the node.
func newChoiceNode(d *Driver, parent *CallNode, s ppl.Store, k ppl.Cont, a ppl.Address, dist ppl.Distribution) *ChoiceNode {
	c := &ChoiceNode{nodeBase: newBase(d, parent, a)}
	c.st.cur = choiceState{
		common: newCommon(parent, s.Clone(), k),
		dist:   dist,
		value:  dist.Sample(d.rng),
	}
	c.st.cur.score = dist.Score(c.st.cur.value)
	d.score += c.st.cur.score
	d.addChoice(c)
	return c
}

// Value returns the current value.
func (c *ChoiceNode) Value() ppl.Value { return c.st.cur.value }

// Score returns the log-probability of the current value.
func (c *ChoiceNode) Score() float64 { return c.st.cur.score }

// Distribution returns the distribution the value was drawn from.
func (c *ChoiceNode) Distribution() ppl.Distribution { return c.st.cur.dist }

func (c *ChoiceNode) state() *common { return &c.st.cur.common }
func (c *ChoiceNode) kind() NodeKind { return KindChoice }

func (c *ChoiceNode) touch() {
	if c.st.save() {
		c.d.touched = append(c.d.touched, c)
	}
}

func (c *ChoiceNode) restoreSnapshot() { c.st.restore() }
func (c *ChoiceNode) discardSnapshot() { c.st.discard() }

// execute rescores if the distribution changed and continues, or exits
// straight to the accept/reject decision if the trace became impossible.
func (c *ChoiceNode) execute() ppl.Step {
	if c.st.cur.needsUpdate {
		c.touch()
		c.st.cur.needsUpdate = false
		c.rescore()
	}
	if math.IsInf(c.st.cur.score, -1) {
		c.d.logDebug(4, c, "score became -Inf; exiting early")
		return c.d.exitStep
	}
	return c.kontinue()
}

func (c *ChoiceNode) registerInputChanges(s ppl.Store, k ppl.Cont, dist ppl.Distribution) {
	c.touch()
	st := &c.st.cur
	st.store = s.Clone()
	st.k = k
	st.index = c.parent.st.cur.nextChildIdx
	st.reachable = true
	if !ppl.SameDistribution(dist, st.dist) {
		st.needsUpdate = true
		st.dist = dist
	}
}

func (c *ChoiceNode) kontinue() ppl.Step {
	c.parent.notifyChildExecuted(c)
	st := &c.st.cur
	return st.k(st.store.Clone(), st.value)
}

func (c *ChoiceNode) killDescendantLeaves() {
	c.d.removeChoice(c)
}

// propose draws a new value from the drift kernel (or the prior) and
// resumes the program from this choice.
func (c *ChoiceNode) propose() ppl.Step {
	d := c.d
	oldVal := c.st.cur.value
	fwd := proposalDist(c.st.cur.dist, oldVal)
	newVal := fwd.Sample(d.rng)
	if ppl.ValuesEqual(oldVal, newVal) {
		c.d.logDebug(4, c, "proposal kept the value; exiting early")
		return d.exitStep
	}

	c.touch()
	c.st.cur.value = newVal
	c.rescore()
	d.rvsPropLP = proposalDist(c.st.cur.dist, newVal).Score(oldVal)
	d.fwdPropLP = fwd.Score(newVal)
	c.st.cur.needsUpdate = false

	if d.opts.DoFullRerun {
		for p := c.parent; p != nil; p = p.parent {
			p.touch()
			p.st.cur.needsUpdate = true
		}
		return d.runFromStart()
	}
	c.parent.notifyChildChanged(c)
	d.restoreStackUpTo(c.parent)
	return c.execute()
}

func (c *ChoiceNode) rescore() {
	c.touch()
	old := c.st.cur.score
	c.st.cur.score = c.st.cur.dist.Score(c.st.cur.value)
	c.d.adjustScore(old, c.st.cur.score)
}

// proposalDist returns the drift kernel around current when the
// distribution has one, else the distribution itself.
func proposalDist(d ppl.Distribution, current ppl.Value) ppl.Distribution {
	if dr, ok := d.(ppl.Drifter); ok {
		return dr.DriftKernel(current)
	}
	return d
}
