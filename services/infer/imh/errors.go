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
	"fmt"
)

// Sentinel errors for the inference engine.
var (
	// ErrInvariant indicates the cache tree or driver state became
	// inconsistent. The run is aborted without a result.
	ErrInvariant = errors.New("incremental MH invariant violated")

	// ErrNilProgram indicates a driver was created without a program.
	ErrNilProgram = errors.New("program is nil")

	// ErrNilEnv indicates a driver was created without an environment.
	ErrNilEnv = errors.New("environment is nil")

	// ErrInvalidOptions indicates options failed validation.
	ErrInvalidOptions = errors.New("invalid inference options")

	// ErrAlreadyRun indicates Run was called twice on the same driver.
	ErrAlreadyRun = errors.New("driver already ran")
)

// InvariantError describes a structural inconsistency detected while
// running. It is raised as a panic deep inside the trampoline and converted
// to an error at the Run boundary.
type InvariantError struct {
	Op      string
	Address string
	Detail  string
}

func (e *InvariantError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	}
	return fmt.Sprintf("%s at %s: %s", e.Op, e.Address, e.Detail)
}

// Unwrap lets errors.Is match ErrInvariant.
func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

func invariantf(op, address, format string, args ...any) *InvariantError {
	return &InvariantError{Op: op, Address: address, Detail: fmt.Sprintf(format, args...)}
}
