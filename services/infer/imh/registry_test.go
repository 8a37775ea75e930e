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
	"errors"
	"reflect"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/AleutianAI/AleutianInfer/services/infer/ppl"
)

func bareChoices(n int) []*ChoiceNode {
	d := &Driver{}
	out := make([]*ChoiceNode, n)
	for i := range out {
		out[i] = &ChoiceNode{nodeBase: nodeBase{d: d, address: ppl.Address("c").Extend(string(rune('a' + i)))}}
		out[i].st.cur.reachable = true
	}
	return out
}

func TestHashRegistry_RestoreOnRejectIsExact(t *testing.T) {
	c := bareChoices(6)
	r := NewHashRegistry()
	for _, n := range c[:4] {
		r.Add(n)
	}
	r.PreProposal()
	before := r.Choices()

	r.Remove(c[1])
	r.Add(c[4])
	r.Remove(c[0])
	r.Add(c[5])
	r.Remove(c[4])
	if r.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", r.Size())
	}
	if r.OldSize() != 4 {
		t.Fatalf("OldSize() = %d, want 4", r.OldSize())
	}

	r.RestoreOnReject()
	if got := r.Choices(); !reflect.DeepEqual(got, before) {
		t.Errorf("order after reject = %v, want %v", addrs(got), addrs(before))
	}
	for i, n := range r.nodes {
		if r.pos[n] != i {
			t.Errorf("pos[%s] = %d, want %d", n.address, r.pos[n], i)
		}
	}
	if len(r.pos) != 4 {
		t.Errorf("position map has %d entries, want 4", len(r.pos))
	}
}

func TestHashRegistry_DuplicateAndMissing(t *testing.T) {
	c := bareChoices(2)
	r := NewHashRegistry()
	r.Add(c[0])
	r.Add(c[0])
	r.Remove(c[1])
	if r.Size() != 1 {
		t.Errorf("Size() = %d, want 1", r.Size())
	}
}

func TestArrayRegistry(t *testing.T) {
	c := bareChoices(4)
	r := NewArrayRegistry()
	for _, n := range c[:3] {
		r.Add(n)
	}
	r.PreProposal()

	r.Remove(c[1])
	r.Add(c[3])
	// Removal is deferred until PostProposal.
	if r.Size() != 4 {
		t.Fatalf("Size() before PostProposal = %d, want 4", r.Size())
	}
	r.PostProposal()
	if got := addrs(r.Choices()); !reflect.DeepEqual(got, []string{"c_a", "c_c", "c_d"}) {
		t.Errorf("Choices() = %v", got)
	}
	if r.OldSize() != 3 {
		t.Errorf("OldSize() = %d, want 3", r.OldSize())
	}

	r.RestoreOnReject()
	if got := addrs(r.Choices()); !reflect.DeepEqual(got, []string{"c_a", "c_b", "c_c"}) {
		t.Errorf("Choices() after reject = %v", got)
	}
}

func TestRegistry_Random(t *testing.T) {
	for _, kind := range []string{RegistryHash, RegistryArray} {
		t.Run(kind, func(t *testing.T) {
			r, err := NewRegistry(kind)
			if err != nil {
				t.Fatal(err)
			}
			rng := rand.New(rand.NewSource(1))
			if r.Random(rng) != nil {
				t.Error("Random() on an empty registry should be nil")
			}
			c := bareChoices(3)
			for _, n := range c {
				r.Add(n)
			}
			seen := make(map[*ChoiceNode]int)
			for i := 0; i < 3000; i++ {
				seen[r.Random(rng)]++
			}
			for _, n := range c {
				if seen[n] < 800 {
					t.Errorf("%s picked %d times of 3000", n.address, seen[n])
				}
			}
		})
	}
}

func TestNewRegistry_Unknown(t *testing.T) {
	if _, err := NewRegistry("tree"); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("NewRegistry(tree) error = %v", err)
	}
	r, err := NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*HashRegistry); !ok {
		t.Errorf("default registry is %T, want *HashRegistry", r)
	}
}

func addrs(cs []*ChoiceNode) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c.address)
	}
	return out
}
