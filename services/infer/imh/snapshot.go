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

// snapshot holds the mutable state of a cache node together with an
// optional backup taken at the first write of the current proposal.
type snapshot[T any] struct {
	cur  T
	prev *T
}

// save backs up the current state unless a backup already exists. It
// reports whether a new backup was taken.
func (s *snapshot[T]) save() bool {
	if s.prev != nil {
		return false
	}
	p := s.cur
	s.prev = &p
	return true
}

// saved reports whether a backup exists.
func (s *snapshot[T]) saved() bool {
	return s.prev != nil
}

// restore reinstates the backup, if any, and drops it.
func (s *snapshot[T]) restore() {
	if s.prev != nil {
		s.cur = *s.prev
		s.prev = nil
	}
}

// discard drops the backup, keeping the current state.
func (s *snapshot[T]) discard() {
	s.prev = nil
}
