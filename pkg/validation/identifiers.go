// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers that reach
// storage keys, URLs and log lines.
//
// Model names and run ids arrive from HTTP requests and CLI flags. They are
// used as BadgerDB key suffixes and path parameters, so they are restricted
// to a small alphabet before use.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// modelNamePattern matches catalogue model names.
// Allows: lowercase letters, digits, hyphens and underscores, starting with a letter.
// Max length: 64 characters
var modelNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_\-]{0,63}$`)

// ValidateModelName validates a model name.
//
// Valid names:
//   - 1-64 characters
//   - Lowercase letters a-z and digits 0-9
//   - Hyphens (-) and underscores (_)
//   - Starting with a letter
//
// Example:
//
//	if err := validation.ValidateModelName(name); err != nil {
//	    return nil, fmt.Errorf("invalid model: %w", err)
//	}
func ValidateModelName(name string) error {
	if name == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	if !modelNamePattern.MatchString(name) {
		return fmt.Errorf("invalid model name format: %q (must be 1-64 lowercase alphanumeric chars, hyphens, or underscores, starting with a letter)", name)
	}

	return nil
}

// ValidateModelNames validates multiple model names.
// Returns an error listing all invalid names if any fail validation.
func ValidateModelNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateModelName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid model names: %v", invalid)
	}
	return nil
}

// SanitizeModelName normalizes and validates a model name.
// Returns the lowercase, trimmed name if valid.
func SanitizeModelName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateModelName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateRunID checks that id is a canonical UUID, the format run ids are
// issued in.
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", id, err)
	}
	if parsed.String() != strings.ToLower(id) {
		return fmt.Errorf("invalid run id %q: not in canonical form", id)
	}
	return nil
}
