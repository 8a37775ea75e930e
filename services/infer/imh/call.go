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

type callState struct {
	common
	needsUpdate  bool
	children     []node
	inStore      ppl.Store
	args         []ppl.Value
	fn           *ppl.Fn
	retval       ppl.Value
	outStore     ppl.Store
	entered      bool
	initialized  bool
	nextChildIdx int
}

// CallNode caches one invocation of a program function: its inputs, its
// return value and output store, and the nodes created while it ran, in
// execution order.
type CallNode struct {
	nodeBase
	st snapshot[callState]

	// ownsChildren is set once the children slice was copied in the current
	// proposal, so in-place edits do not leak into the backup.
	ownsChildren bool

	onReturn ppl.Cont
}

func newCallNode(d *Driver, parent *CallNode, s ppl.Store, k ppl.Cont, a ppl.Address, fn *ppl.Fn, args []ppl.Value) *CallNode {
	n := &CallNode{nodeBase: newBase(d, parent, a)}
	n.st.cur = callState{
		common:      newCommon(parent, nil, k),
		needsUpdate: true,
		inStore:     s.Clone(),
		args:        args,
		fn:          fn,
	}
	n.onReturn = n.returned
	return n
}

// ReturnValue returns the cached return value.
func (n *CallNode) ReturnValue() ppl.Value { return n.st.cur.retval }

// NumChildren returns the number of cached child nodes.
func (n *CallNode) NumChildren() int { return len(n.st.cur.children) }

func (n *CallNode) state() *common { return &n.st.cur.common }
func (n *CallNode) kind() NodeKind { return KindCall }

func (n *CallNode) touch() {
	if n.st.save() {
		n.d.touched = append(n.d.touched, n)
	}
}

func (n *CallNode) restoreSnapshot() {
	n.st.restore()
	n.ownsChildren = false
}

func (n *CallNode) discardSnapshot() {
	n.st.discard()
	n.ownsChildren = false
}

// mutableChildren returns a children slice that may be edited in place
// without corrupting the proposal backup.
func (n *CallNode) mutableChildren() []node {
	n.touch()
	if !n.ownsChildren {
		n.st.cur.children = append([]node(nil), n.st.cur.children...)
		n.ownsChildren = true
	}
	return n.st.cur.children
}

func (n *CallNode) execute() ppl.Step {
	d := n.d
	if !n.st.cur.needsUpdate {
		d.adapter.registerHit(n)
		d.logDebug(4, n, "inputs unchanged; reusing cached return")
		return n.kontinue()
	}
	if n.st.cur.initialized {
		d.adapter.registerMiss(n)
	}
	d.logDebug(4, n, "inputs changed; executing")

	n.touch()
	st := &n.st.cur
	st.needsUpdate = false
	st.nextChildIdx = 0
	st.entered = true
	for _, c := range st.children {
		markUnreachable(c)
	}
	d.nodeStack = append(d.nodeStack, n)
	return st.fn.Body(d.env, st.inStore.Clone(), n.onReturn, n.address, st.args...)
}

// returned is the continuation handed to the function body. It reconciles
// the children against what the body just did and either stops early,
// when nothing observable changed, or passes the new result on.
func (n *CallNode) returned(s ppl.Store, retval ppl.Value) ppl.Step {
	d := n.d
	if !d.adapter.ShouldCache(n.address) {
		return n.st.cur.k(s, retval)
	}
	if top := d.popStack(); top != n {
		panic(invariantf("call return", string(n.address), "node stack top is %s", describeNode(top)))
	}

	n.touch()
	st := &n.st.cur
	st.initialized = true

	kept := make([]node, 0, len(st.children))
	for _, c := range st.children {
		if !c.state().reachable {
			c.killDescendantLeaves()
			continue
		}
		setIndex(c, len(kept))
		kept = append(kept, c)
	}
	st.children = kept
	n.ownsChildren = true

	if !st.entered && d.cmp.Equal(st.retval, retval) && ppl.StoresEqual(st.outStore, s) {
		d.logDebug(4, n, "return value unchanged; exiting early")
		d.adapter.registerHit(n)
		return d.exitStep
	}
	if !st.entered {
		if n.parent != nil {
			n.parent.notifyChildChanged(n)
		}
		d.adapter.registerMiss(n)
	}
	st.entered = false
	st.retval = retval
	st.outStore = s.Clone()
	return n.kontinue()
}

func (n *CallNode) registerInputChanges(s ppl.Store, k ppl.Cont, fn *ppl.Fn, args []ppl.Value) {
	n.touch()
	d := n.d
	st := &n.st.cur
	st.k = k
	if n.parent != nil {
		st.index = n.parent.st.cur.nextChildIdx
	}
	st.reachable = true
	if !d.cmp.FnEqual(fn, st.fn) {
		st.needsUpdate = true
		st.fn = fn
	}
	if !d.cmp.ArgsEqual(args, st.args) {
		st.needsUpdate = true
		st.args = args
	}
	if !ppl.StoresEqual(st.inStore, s) {
		st.needsUpdate = true
		st.inStore = s.Clone()
	}
}

func (n *CallNode) kontinue() ppl.Step {
	if n.parent != nil {
		n.parent.notifyChildExecuted(n)
	}
	st := &n.st.cur
	return st.k(st.outStore.Clone(), st.retval)
}

// killDescendantLeaves removes every choice and factor below n from the
// trace score and the registry.
func (n *CallNode) killDescendantLeaves() {
	n.d.logDebug(3, n, "kill call and descendant leaves")
	stack := []node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		call, ok := cur.(*CallNode)
		if !ok {
			cur.killDescendantLeaves()
			continue
		}
		for i := len(call.st.cur.children) - 1; i >= 0; i-- {
			stack = append(stack, call.st.cur.children[i])
		}
	}
}

func (n *CallNode) notifyChildExecuted(child node) {
	next := child.state().index + 1
	if n.st.cur.nextChildIdx == next {
		return
	}
	n.touch()
	n.st.cur.nextChildIdx = next
}

// notifyChildChanged marks every child after child unreachable; the
// resumed execution marks the ones it hits again.
func (n *CallNode) notifyChildChanged(child node) {
	children := n.st.cur.children
	marked := 0
	for i := child.state().index + 1; i < len(children); i++ {
		markUnreachable(children[i])
		marked++
	}
	n.d.logDebug(4, n, "children marked unreachable on child change: %d", marked)
}

// findChild looks for a cached child at address a among the children not
// yet executed, moving it to the next execution slot.
func (n *CallNode) findChild(a ppl.Address) node {
	next := n.st.cur.nextChildIdx
	children := n.st.cur.children
	for i := next; i < len(children); i++ {
		if children[i].base().address != a {
			continue
		}
		if i != next {
			children = n.mutableChildren()
			children[i], children[next] = children[next], children[i]
			setIndex(children[i], i)
		}
		return children[next]
	}
	return nil
}

// insertChild splices a freshly created node into the next execution slot.
func (n *CallNode) insertChild(c node) {
	children := n.mutableChildren()
	at := n.st.cur.nextChildIdx
	children = append(children, nil)
	copy(children[at+1:], children[at:])
	children[at] = c
	n.st.cur.children = children
}

// removeFromCache splices n's children into its parent in n's place. It runs
// between proposals, when no snapshot is live, and edits state directly.
func (n *CallNode) removeFromCache() bool {
	p := n.parent
	if p == nil {
		return false
	}
	siblings := p.st.cur.children
	at := n.st.cur.index
	if at < 0 || at >= len(siblings) || siblings[at] != n {
		return false
	}
	kids := n.st.cur.children
	for i, c := range kids {
		c.base().parent = p
		c.state().index = at + i
		shiftDepth(c, -1)
	}
	for i := at + 1; i < len(siblings); i++ {
		siblings[i].state().index = i + len(kids) - 1
	}

	merged := make([]node, 0, len(siblings)-1+len(kids))
	merged = append(merged, siblings[:at]...)
	merged = append(merged, kids...)
	merged = append(merged, siblings[at+1:]...)
	p.st.cur.children = merged
	return true
}

func shiftDepth(root node, delta int) {
	stack := []node{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cur.base().depth += delta
		if call, ok := cur.(*CallNode); ok {
			stack = append(stack, call.st.cur.children...)
		}
	}
}
