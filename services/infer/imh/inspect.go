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
	"io"
	"math"
	"strings"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

// scoreTolerance bounds the drift between the incrementally maintained
// trace score and a fresh sum over the tree.
const scoreTolerance = 1e-6

// TreeNode is a read-only copy of one cache node, for inspection and
// structural comparison.
type TreeNode struct {
	Kind      NodeKind    `json:"kind"`
	Address   string      `json:"address"`
	Depth     int         `json:"depth"`
	Index     int         `json:"index"`
	Reachable bool        `json:"reachable"`
	Value     ppl.Value   `json:"value,omitempty"`
	Score     float64     `json:"score"`
	Children  []*TreeNode `json:"children,omitempty"`
}

// Tree copies the current cache tree. It returns nil before the first
// execution.
func (d *Driver) Tree() *TreeNode {
	if d.cacheRoot == nil {
		return nil
	}
	return copyTree(d.cacheRoot)
}

func copyTree(n node) *TreeNode {
	t := &TreeNode{
		Kind:      n.kind(),
		Address:   string(n.base().address),
		Depth:     n.base().depth,
		Index:     n.state().index,
		Reachable: n.state().reachable,
	}
	switch v := n.(type) {
	case *ChoiceNode:
		t.Value = v.st.cur.value
		t.Score = v.st.cur.score
	case *FactorNode:
		t.Score = v.st.cur.score
	case *CallNode:
		t.Value = v.st.cur.retval
		for _, c := range v.st.cur.children {
			t.Children = append(t.Children, copyTree(c))
		}
	}
	return t
}

// Dump writes an indented rendering of the cache tree to w.
func (d *Driver) Dump(w io.Writer) error {
	if d.cacheRoot == nil {
		_, err := fmt.Fprintln(w, "<empty cache>")
		return err
	}
	return dumpNode(w, d.cacheRoot)
}

// DumpString returns Dump as a string.
func (d *Driver) DumpString() string {
	var b strings.Builder
	_ = d.Dump(&b)
	return b.String()
}

func dumpNode(w io.Writer, n node) error {
	if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", n.base().depth), describeNode(n)); err != nil {
		return err
	}
	if call, ok := n.(*CallNode); ok {
		for _, c := range call.st.cur.children {
			if err := dumpNode(w, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func describeNode(n node) string {
	if n == nil {
		return "<nil>"
	}
	var suffix string
	if !n.state().reachable {
		suffix = " !!UNREACHABLE!!"
	}
	switch v := n.(type) {
	case *ChoiceNode:
		return fmt.Sprintf("ChoiceNode %s %s value=%v score=%.6g%s",
			v.address, v.st.cur.dist.Kind(), v.st.cur.value, v.st.cur.score, suffix)
	case *FactorNode:
		return fmt.Sprintf("FactorNode %s score=%.6g%s", v.address, v.st.cur.score, suffix)
	case *CallNode:
		return fmt.Sprintf("CallNode %s args=%v retval=%v%s", v.address, v.st.cur.args, v.st.cur.retval, suffix)
	}
	return "<unknown>"
}

// CheckInvariants verifies the cache tree between proposals: every node is
// reachable, parent links, indices and depths agree with the tree shape,
// the trace score equals the sum of choice and factor scores, the registry
// holds exactly the choices in the tree and no backup is left behind.
func (d *Driver) CheckInvariants() error {
	if ie := d.checkInvariants(); ie != nil {
		return ie
	}
	return nil
}

func (d *Driver) checkInvariants() *InvariantError {
	if d.cacheRoot == nil {
		return nil
	}
	const op = "check invariants"
	sum := 0.0
	choices := make(map[*ChoiceNode]bool)

	stack := []node{d.cacheRoot}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		addr := string(n.base().address)
		if !n.state().reachable {
			return invariantf(op, addr, "unreachable node in cache")
		}
		switch v := n.(type) {
		case *ChoiceNode:
			if v.st.saved() {
				return invariantf(op, addr, "choice snapshot left live")
			}
			sum += v.st.cur.score
			choices[v] = true
		case *FactorNode:
			if v.st.saved() {
				return invariantf(op, addr, "factor snapshot left live")
			}
			sum += v.st.cur.score
		case *CallNode:
			if v.st.saved() {
				return invariantf(op, addr, "call snapshot left live")
			}
			for i, c := range v.st.cur.children {
				if c.base().parent != v {
					return invariantf(op, string(c.base().address), "parent link does not match tree")
				}
				if c.state().index != i {
					return invariantf(op, string(c.base().address), "index %d at position %d", c.state().index, i)
				}
				if c.base().depth != v.depth+1 {
					return invariantf(op, string(c.base().address), "depth %d under parent depth %d", c.base().depth, v.depth)
				}
				stack = append(stack, c)
			}
		}
	}

	if diff := math.Abs(sum - d.score); diff > scoreTolerance*math.Max(1, math.Abs(sum)) {
		return invariantf(op, "", "trace score %v differs from tree sum %v", d.score, sum)
	}
	if d.registry.Size() != len(choices) {
		return invariantf(op, "", "registry holds %d choices, tree holds %d", d.registry.Size(), len(choices))
	}
	for _, c := range d.registry.Choices() {
		if !choices[c] {
			return invariantf(op, string(c.address), "registered choice not in cache")
		}
	}
	return nil
}
