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
	"fmt"

	"golang.org/x/exp/rand"
)

// Registry kinds accepted by Options.Registry.
const (
	RegistryHash  = "hash"
	RegistryArray = "array"
)

// ChoiceRegistry is the set of live choice nodes MH proposals are drawn
// from. It supports uniform random selection and undo of a rejected
// proposal.
type ChoiceRegistry interface {
	Add(c *ChoiceNode)
	Remove(c *ChoiceNode)

	// Size is the number of live choices. OldSize is the size at the last
	// PreProposal.
	Size() int
	OldSize() int

	PreProposal()
	PostProposal()
	RestoreOnReject()

	// Random picks a live choice uniformly, or nil if there is none.
	Random(r *rand.Rand) *ChoiceNode

	// Choices lists the live choices in registry order.
	Choices() []*ChoiceNode
}

// NewRegistry builds the registry named by kind.
func NewRegistry(kind string) (ChoiceRegistry, error) {
	switch kind {
	case RegistryHash, "":
		return NewHashRegistry(), nil
	case RegistryArray:
		return NewArrayRegistry(), nil
	default:
		return nil, fmt.Errorf("%w: unknown registry %q", ErrInvalidOptions, kind)
	}
}

// ArrayRegistry keeps choices in a slice. Removal only marks a node
// unreachable; PostProposal filters the slice.
type ArrayRegistry struct {
	nodes []*ChoiceNode
	old   []*ChoiceNode
}

// NewArrayRegistry returns an empty array registry.
func NewArrayRegistry() *ArrayRegistry {
	return &ArrayRegistry{}
}

func (r *ArrayRegistry) Add(c *ChoiceNode) { r.nodes = append(r.nodes, c) }

func (r *ArrayRegistry) Remove(c *ChoiceNode) { markUnreachable(c) }

func (r *ArrayRegistry) Size() int    { return len(r.nodes) }
func (r *ArrayRegistry) OldSize() int { return len(r.old) }

func (r *ArrayRegistry) PreProposal() {
	r.old = append(r.old[:0:0], r.nodes...)
}

func (r *ArrayRegistry) PostProposal() {
	live := r.nodes[:0:0]
	for _, c := range r.nodes {
		if c.st.cur.reachable {
			live = append(live, c)
		}
	}
	r.nodes = live
}

func (r *ArrayRegistry) RestoreOnReject() {
	r.nodes = r.old
	r.old = append(r.old[:0:0], r.nodes...)
}

func (r *ArrayRegistry) Random(rng *rand.Rand) *ChoiceNode {
	if len(r.nodes) == 0 {
		return nil
	}
	return r.nodes[rng.Intn(len(r.nodes))]
}

func (r *ArrayRegistry) Choices() []*ChoiceNode {
	return append([]*ChoiceNode(nil), r.nodes...)
}

type registryOp struct {
	node  *ChoiceNode
	added bool
	pos   int
}

// HashRegistry indexes choices in a dense slice with a position map, giving
// O(1) add, remove and random selection. A per-proposal operation log is
// replayed backwards on reject, which restores the exact pre-proposal
// order.
type HashRegistry struct {
	nodes   []*ChoiceNode
	pos     map[*ChoiceNode]int
	log     []registryOp
	oldSize int
}

// NewHashRegistry returns an empty hash registry.
func NewHashRegistry() *HashRegistry {
	return &HashRegistry{pos: make(map[*ChoiceNode]int)}
}

func (r *HashRegistry) Add(c *ChoiceNode) {
	if _, ok := r.pos[c]; ok {
		return
	}
	r.pos[c] = len(r.nodes)
	r.nodes = append(r.nodes, c)
	r.log = append(r.log, registryOp{node: c, added: true, pos: len(r.nodes) - 1})
}

func (r *HashRegistry) Remove(c *ChoiceNode) {
	i, ok := r.pos[c]
	if !ok {
		return
	}
	last := len(r.nodes) - 1
	if i != last {
		moved := r.nodes[last]
		r.nodes[i] = moved
		r.pos[moved] = i
	}
	r.nodes[last] = nil
	r.nodes = r.nodes[:last]
	delete(r.pos, c)
	r.log = append(r.log, registryOp{node: c, pos: i})
}

func (r *HashRegistry) Size() int    { return len(r.nodes) }
func (r *HashRegistry) OldSize() int { return r.oldSize }

func (r *HashRegistry) PreProposal() {
	r.oldSize = len(r.nodes)
	r.log = r.log[:0]
}

func (r *HashRegistry) PostProposal() {}

func (r *HashRegistry) RestoreOnReject() {
	for i := len(r.log) - 1; i >= 0; i-- {
		op := r.log[i]
		if op.added {
			last := len(r.nodes) - 1
			r.nodes[last] = nil
			r.nodes = r.nodes[:last]
			delete(r.pos, op.node)
			continue
		}
		if op.pos < len(r.nodes) {
			moved := r.nodes[op.pos]
			r.pos[moved] = len(r.nodes)
			r.nodes = append(r.nodes, moved)
			r.nodes[op.pos] = op.node
		} else {
			r.nodes = append(r.nodes, op.node)
		}
		r.pos[op.node] = op.pos
	}
	r.log = r.log[:0]
}

func (r *HashRegistry) Random(rng *rand.Rand) *ChoiceNode {
	if len(r.nodes) == 0 {
		return nil
	}
	return r.nodes[rng.Intn(len(r.nodes))]
}

func (r *HashRegistry) Choices() []*ChoiceNode {
	return append([]*ChoiceNode(nil), r.nodes...)
}
