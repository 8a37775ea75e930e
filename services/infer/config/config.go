// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package config loads AleutianInfer's configuration.
//
// Values are layered: built-in defaults, then a YAML (or JSON) file, then
// INFER_* environment variables. The result is validated before use.
//
//	cfg, err := config.Load("infer.yaml")
//
// A missing file is not an error; the defaults and environment apply.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInfer/pkg/logging"
	"github.com/AleutianAI/AleutianInfer/services/infer/imh"
	"github.com/AleutianAI/AleutianInfer/services/infer/runner"
	badgerstore "github.com/AleutianAI/AleutianInfer/services/infer/storage/badger"
	"github.com/AleutianAI/AleutianInfer/services/infer/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INFER_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

var configValidate = imh.NewValidator()

// Config is the complete service configuration.
type Config struct {
	// Inference holds the default MH options for runs that do not
	// override them.
	Inference imh.Options      `yaml:"inference" json:"inference"`
	Runner    runner.Config    `yaml:"runner" json:"runner"`
	Logging   logging.Config   `yaml:"logging" json:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Storage   StorageConfig    `yaml:"storage" json:"storage"`
	Server    ServerConfig     `yaml:"server" json:"server"`
}

// StorageConfig enables run persistence.
type StorageConfig struct {
	// Enabled persists every completed run.
	Enabled bool `yaml:"enabled" json:"enabled"`

	badgerstore.Config `yaml:",inline"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`

	// RateLimit is the sustained number of run submissions per second.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst" validate:"gte=0"`

	// MaxSamples caps Options.Samples on submitted runs.
	MaxSamples int `yaml:"max_samples" json:"max_samples" validate:"gte=1"`
}

// Default returns the built-in configuration.
func Default() Config {
	inference := imh.DefaultOptions()
	inference.Samples = 1000
	return Config{
		Inference: inference,
		Runner:    runner.DefaultConfig(),
		Logging:   logging.Config{Level: logging.LevelInfo, Service: "infer"},
		Telemetry: telemetry.DefaultConfig(),
		Storage: StorageConfig{
			Config: badgerstore.DefaultConfig(defaultStoragePath()),
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:12220",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       2,
			RateBurst:       4,
			MaxSamples:      1_000_000,
		},
	}
}

func defaultStoragePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.aleutian/infer/runs"
	}
	return ".aleutian-infer/runs"
}

// Load builds a Config from defaults, the file at path (if any) and the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if yerr := yaml.Unmarshal(data, cfg); yerr != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", yerr, jerr)
		}
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	if err := c.Inference.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("inference: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, err)
	}
	for name, section := range map[string]any{
		"runner":  c.Runner,
		"storage": c.Storage.Config,
		"server":  c.Server,
	} {
		if err := configValidate.Struct(section); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Storage.Enabled && !c.Storage.InMemory && c.Storage.Path == "" {
		errs = append(errs, fmt.Errorf("storage: %w", badgerstore.ErrNoPath))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// applyEnv overrides cfg from INFER_* variables. Malformed values are
// reported, not skipped.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setInt("SAMPLES", &cfg.Inference.Samples)
	e.setInt("BURN", &cfg.Inference.Burn)
	e.setInt("LAG", &cfg.Inference.Lag)
	e.setUint("SEED", &cfg.Inference.Seed)
	e.setString("REGISTRY", &cfg.Inference.Registry)
	e.setInt("DEBUG_LEVEL", &cfg.Inference.DebugLevel)
	e.setBool("VERBOSE", &cfg.Inference.Verbose)
	e.setBool("DONT_ADAPT", &cfg.Inference.DontAdapt)
	e.setBool("FULL_RERUN", &cfg.Inference.DoFullRerun)
	e.setFloat("CACHE_MIN_HIT_RATE", &cfg.Inference.CacheMinHitRate)

	e.setInt("MAX_PARALLEL", &cfg.Runner.MaxParallel)
	e.setDuration("RUN_TIMEOUT", &cfg.Runner.Timeout)

	if v, ok := e.get("LOG_LEVEL"); ok {
		lvl, err := logging.ParseLevel(v)
		if err != nil {
			e.fail("LOG_LEVEL", err)
		} else {
			cfg.Logging.Level = lvl
		}
	}
	e.setBool("LOG_JSON", &cfg.Logging.JSON)
	e.setString("LOG_DIR", &cfg.Logging.LogDir)

	e.setString("TRACE_EXPORTER", &cfg.Telemetry.TraceExporter)
	e.setString("METRIC_EXPORTER", &cfg.Telemetry.MetricExporter)
	e.setString("OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	e.setString("ENV", &cfg.Telemetry.Environment)

	e.setBool("STORAGE_ENABLED", &cfg.Storage.Enabled)
	if v, ok := e.get("STORAGE_PATH"); ok {
		cfg.Storage.Path = v
		cfg.Storage.Enabled = true
	}
	e.setBool("STORAGE_IN_MEMORY", &cfg.Storage.InMemory)

	e.setString("ADDR", &cfg.Server.Addr)
	e.setFloat("RATE_LIMIT", &cfg.Server.RateLimit)
	e.setInt("RATE_BURST", &cfg.Server.RateBurst)

	if len(e.errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(e.errs...))
	}
	return nil
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(name string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
}

func (e *envReader) setString(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) setInt(name string, dst *int) {
	if v, ok := e.get(name); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = i
	}
}

func (e *envReader) setUint(name string, dst *uint64) {
	if v, ok := e.get(name); ok {
		u, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = u
	}
}

func (e *envReader) setFloat(name string, dst *float64) {
	if v, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}
