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
	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

// NodeKind distinguishes the cache node variants.
type NodeKind int

const (
	KindChoice NodeKind = iota
	KindFactor
	KindCall
)

// String implements fmt.Stringer.
func (k NodeKind) String() string {
	switch k {
	case KindChoice:
		return "choice"
	case KindFactor:
		return "factor"
	case KindCall:
		return "call"
	default:
		return "unknown"
	}
}

// common is the snapshot-covered state every node has.
type common struct {
	index     int
	reachable bool
	store     ppl.Store
	k         ppl.Cont
}

// nodeBase is the structural part of a node. It is only rewritten by the
// cache adapter between proposals and is not snapshotted.
type nodeBase struct {
	d       *Driver
	address ppl.Address
	parent  *CallNode
	depth   int
}

// Address returns the structural address of the node.
func (b *nodeBase) Address() ppl.Address { return b.address }

// Depth returns the distance from the cache root.
func (b *nodeBase) Depth() int { return b.depth }

func (b *nodeBase) base() *nodeBase { return b }

// node is the capability set shared by all cache node variants.
type node interface {
	base() *nodeBase
	state() *common
	kind() NodeKind

	// touch backs up the node's state before its first write in a proposal.
	touch()

	execute() ppl.Step
	kontinue() ppl.Step
	killDescendantLeaves()
	restoreSnapshot()
	discardSnapshot()
}

func setIndex(n node, i int) {
	if n.state().index == i {
		return
	}
	n.touch()
	n.state().index = i
}

func markUnreachable(n node) {
	n.touch()
	n.state().reachable = false
}

// newCommon initializes the shared state of a node created under parent.
func newCommon(parent *CallNode, s ppl.Store, k ppl.Cont) common {
	c := common{reachable: true, store: s, k: k}
	if parent != nil {
		c.index = parent.st.cur.nextChildIdx
	}
	return c
}

func newBase(d *Driver, parent *CallNode, a ppl.Address) nodeBase {
	b := nodeBase{d: d, address: a, parent: parent}
	if parent != nil {
		b.depth = parent.depth + 1
	}
	return b
}
