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

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Value is any value a program may compute, sample or store.
type Value = any

// Store is the threaded, program-visible key/value state.
//
// A Store handed to a continuation belongs to that continuation. Code that
// keeps a Store for later must Clone it.
type Store map[string]Value

// Clone returns a shallow copy of s. Cloning nil returns an empty store.
func (s Store) Clone() Store {
	out := make(Store, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// StoresEqual reports whether two stores hold the same keys bound to equal
// values. Values are compared with ValuesEqual, which does not look inside
// functions.
func StoresEqual(a, b Store) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !ValuesEqual(va, vb) {
			return false
		}
	}
	return true
}

// ValuesEqual reports whether two values are identical for caching purposes.
//
// Comparable values use ==. Slices, maps and other incomparable values fall
// back to reflect.DeepEqual. Functions (*Fn) compare by pointer; use an
// FnComparator for structural function identity.
func ValuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return safeEqual(a, b)
	}
	return reflect.DeepEqual(a, b)
}

// safeEqual is == for values whose static type claims comparability but
// which may still hold an incomparable dynamic value inside an interface.
func safeEqual(a, b Value) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}

// Key returns a canonical string for v, used to bucket values in
// histograms. JSON is used when possible so that equal composite values map
// to the same key.
func Key(v Value) string {
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("%q", t)
	case *Fn:
		return fmt.Sprintf("fn<%s@%p>", t.Site, t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
