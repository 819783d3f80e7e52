// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration: YAML file first, then
// environment variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize bounds config file reads.
const MaxYAMLFileSize = 1 << 20

// Defaults.
const (
	DefaultListenAddr        = ":8080"
	DefaultPoolWorkers       = 4
	DefaultResultTTLSeconds  = 300
	DefaultSpecTimeoutSecond = 30
	DefaultLexicalIndexPath  = "data/lexical.idx"
	DefaultSemanticIndexPath = "data/semantic.idx"
	DefaultReadmePath        = "README.md"
)

// Config is the full service configuration.
//
// Description:
//
//	Loaded from an optional YAML file, then overridden by environment
//	variables. Immutable after loading; safe for concurrent use.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// Pool tunes the specialist worker pool.
	Pool PoolConfig `yaml:"pool"`

	// Index points at the persisted retrieval artifacts.
	Index IndexConfig `yaml:"index"`

	// ReadmePath feeds the documentation tool.
	ReadmePath string `yaml:"readme_path"`
}

// PoolConfig tunes the specialist worker pool.
type PoolConfig struct {
	// MaxWorkers is the concurrent specialist run cap.
	MaxWorkers int `yaml:"max_workers"`

	// TTLSeconds is the absolute lifetime of a cached specialist result.
	TTLSeconds int `yaml:"ttl_seconds"`

	// TimeoutSeconds is how long an immediate query waits for its
	// specialist before degrading to the anchor answer.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// IndexConfig points at the persisted retrieval artifacts.
type IndexConfig struct {
	LexicalPath  string `yaml:"lexical_path"`
	SemanticPath string `yaml:"semantic_path"`
}

// ResultTTL returns the pool TTL as a duration.
func (p PoolConfig) ResultTTL() time.Duration {
	return time.Duration(p.TTLSeconds) * time.Second
}

// SpecialistTimeout returns the immediate-path deadline as a duration.
func (p PoolConfig) SpecialistTimeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Load reads the config file at path (skipped when path is empty or the
// file is absent), applies defaults, then environment overrides.
//
// Inputs:
//
//   - path: YAML config file path. Optional.
//
// Outputs:
//
//   - *Config: The resolved configuration. Never nil on success.
//   - error: Non-nil on unreadable or malformed YAML.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Info("config file absent, using defaults", slog.String("path", path))
		case err != nil:
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		case len(data) > MaxYAMLFileSize:
			return nil, fmt.Errorf("config: %s exceeds maximum size (%d > %d)", path, len(data), MaxYAMLFileSize)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		slog.String("listen_addr", cfg.ListenAddr),
		slog.Int("pool_workers", cfg.Pool.MaxWorkers),
		slog.Int("pool_ttl_seconds", cfg.Pool.TTLSeconds),
		slog.Int("specialist_timeout_seconds", cfg.Pool.TimeoutSeconds))
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Pool.MaxWorkers <= 0 {
		cfg.Pool.MaxWorkers = DefaultPoolWorkers
	}
	if cfg.Pool.TTLSeconds <= 0 {
		cfg.Pool.TTLSeconds = DefaultResultTTLSeconds
	}
	if cfg.Pool.TimeoutSeconds <= 0 {
		cfg.Pool.TimeoutSeconds = DefaultSpecTimeoutSecond
	}
	if cfg.Index.LexicalPath == "" {
		cfg.Index.LexicalPath = DefaultLexicalIndexPath
	}
	if cfg.Index.SemanticPath == "" {
		cfg.Index.SemanticPath = DefaultSemanticIndexPath
	}
	if cfg.ReadmePath == "" {
		cfg.ReadmePath = DefaultReadmePath
	}
}

// applyEnv layers environment overrides on top of file values. Unset or
// malformed variables leave the current value in place.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	overrideInt("SPECIALIST_MAX_WORKERS", &cfg.Pool.MaxWorkers)
	overrideInt("SPECIALIST_TTL_SECONDS", &cfg.Pool.TTLSeconds)
	overrideInt("SPECIALIST_TIMEOUT_SECONDS", &cfg.Pool.TimeoutSeconds)
	if v := os.Getenv("LEXICAL_INDEX_PATH"); v != "" {
		cfg.Index.LexicalPath = v
	}
	if v := os.Getenv("SEMANTIC_INDEX_PATH"); v != "" {
		cfg.Index.SemanticPath = v
	}
	if v := os.Getenv("README_PATH"); v != "" {
		cfg.ReadmePath = v
	}
}

func overrideInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("ignoring invalid env override", slog.String("key", key), slog.String("value", v))
		return
	}
	*dst = n
}

func validate(cfg *Config) error {
	if cfg.Pool.MaxWorkers > 64 {
		return fmt.Errorf("config: pool.max_workers %d exceeds sane cap 64", cfg.Pool.MaxWorkers)
	}
	return nil
}
