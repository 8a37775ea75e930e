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

import "strings"

// AddressSeparator joins the segments of an Address.
const AddressSeparator = "_"

// Address identifies a dynamic program point: the call-site path from the
// program entry to the current primitive or call.
//
// The last segment is the lexical call site. All dynamic instances of the
// same source location share it.
type Address string

// Extend returns the address of call site within a.
func (a Address) Extend(site string) Address {
	return a + AddressSeparator + Address(site)
}

// Site returns the last segment of the address.
func (a Address) Site() string {
	s := string(a)
	if i := strings.LastIndex(s, AddressSeparator); i >= 0 {
		return s[i+len(AddressSeparator):]
	}
	return s
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}
