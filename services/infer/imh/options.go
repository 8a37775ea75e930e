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

	"github.com/go-playground/validator/v10"
)

// Defaults for Options.
const (
	DefaultSamples             = 1
	DefaultLag                 = 1
	DefaultVerboseLag          = 1
	DefaultCacheMinHitRate     = 1e-8
	DefaultCacheFuseLength     = 50
	DefaultCacheIterFuseLength = 10

	// MaxDebugLevel enables every diagnostic, including tree dumps after
	// each iteration.
	MaxDebugLevel = 6
)

// optionsValidate is shared by all Options values.
var optionsValidate = NewValidator()

// NewValidator returns a validator that knows the rules Options uses. Any
// validator that may reach an Options value, directly or nested, needs them.
func NewValidator() *validator.Validate {
	v := validator.New()
	RegisterValidations(v)
	return v
}

// RegisterValidations adds the custom Options rules to v.
func RegisterValidations(v *validator.Validate) {
	_ = v.RegisterValidation("registry", validRegistry)
}

func validRegistry(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", RegistryHash, RegistryArray:
		return true
	}
	return false
}

// Options configures an incremental MH run.
//
// The number of MH iterations is Samples*(Lag+1)+Burn. An iteration's
// return value is recorded when its index is a multiple of Lag+1 and not
// below Burn.
type Options struct {
	// Samples is the number of values to record.
	Samples int `json:"samples" yaml:"samples" validate:"gte=1"`

	// Burn is the number of initial iterations that are not recorded.
	Burn int `json:"burn" yaml:"burn" validate:"gte=0"`

	// Lag is the number of iterations skipped between recorded samples.
	Lag int `json:"lag" yaml:"lag" validate:"gte=0"`

	// Verbose logs progress every VerboseLag iterations.
	Verbose    bool `json:"verbose" yaml:"verbose"`
	VerboseLag int  `json:"verbose_lag" yaml:"verbose_lag" validate:"gte=1"`

	// DebugLevel enables diagnostics: 1 proposals, 2 reachability checks,
	// 3-4 cache traces, 5 cache adapter report, 6 tree dumps.
	DebugLevel int `json:"debug_level" yaml:"debug_level" validate:"gte=0,lte=6"`

	// DontAdapt keeps every call site cached.
	DontAdapt bool `json:"dont_adapt" yaml:"dont_adapt"`

	// DoFullRerun re-runs the program from the root on every proposal. It
	// disables adaptation.
	DoFullRerun bool `json:"do_full_rerun" yaml:"do_full_rerun"`

	// JustSample retains every recorded value with its score and returns the
	// MAP as the marginal.
	JustSample bool `json:"just_sample" yaml:"just_sample"`

	// OnlyMAP returns the MAP as the marginal.
	OnlyMAP bool `json:"only_map" yaml:"only_map"`

	CacheMinHitRate     float64 `json:"cache_min_hit_rate" yaml:"cache_min_hit_rate" validate:"gte=0,lte=1"`
	CacheFuseLength     int     `json:"cache_fuse_length" yaml:"cache_fuse_length" validate:"gte=0"`
	CacheIterFuseLength int     `json:"cache_iter_fuse_length" yaml:"cache_iter_fuse_length" validate:"gte=0"`

	// Seed seeds the driver's random source.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Registry selects the choice registry: "hash" or "array".
	Registry string `json:"registry" yaml:"registry" validate:"registry"`
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Samples:             DefaultSamples,
		Lag:                 DefaultLag,
		VerboseLag:          DefaultVerboseLag,
		CacheMinHitRate:     DefaultCacheMinHitRate,
		CacheFuseLength:     DefaultCacheFuseLength,
		CacheIterFuseLength: DefaultCacheIterFuseLength,
		Registry:            RegistryHash,
	}
}

// Validate checks field ranges.
func (o Options) Validate() error {
	if err := optionsValidate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// Iterations returns the total number of MH iterations.
func (o Options) Iterations() int {
	return o.Samples*(o.Lag+1) + o.Burn
}

// adapting reports whether the cache adapter may turn sites off.
func (o Options) adapting() bool {
	return !o.DontAdapt && !o.DoFullRerun
}
