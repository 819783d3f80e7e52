// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Pool.MaxWorkers != 4 || cfg.Pool.TTLSeconds != 300 || cfg.Pool.TimeoutSeconds != 30 {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	if cfg.Index.LexicalPath != "data/lexical.idx" || cfg.Index.SemanticPath != "data/semantic.idx" {
		t.Errorf("index = %+v", cfg.Index)
	}
	if cfg.ReadmePath != "README.md" {
		t.Errorf("readme path = %q", cfg.ReadmePath)
	}
}

func TestLoadAbsentFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9090"
pool:
  max_workers: 8
  ttl_seconds: 120
index:
  lexical_path: /srv/lexical.idx
readme_path: docs/README.md
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Pool.MaxWorkers != 8 || cfg.Pool.TTLSeconds != 120 {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	// Unset file fields still take defaults.
	if cfg.Pool.TimeoutSeconds != 30 {
		t.Errorf("timeout = %d", cfg.Pool.TimeoutSeconds)
	}
	if cfg.Index.SemanticPath != "data/semantic.idx" {
		t.Errorf("semantic path = %q", cfg.Index.SemanticPath)
	}
	if cfg.ReadmePath != "docs/README.md" {
		t.Errorf("readme path = %q", cfg.ReadmePath)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "listen_addr: [:::")
	if _, err := Load(path); err == nil {
		t.Error("malformed YAML accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("SPECIALIST_MAX_WORKERS", "2")
	t.Setenv("SPECIALIST_TTL_SECONDS", "60")
	t.Setenv("SPECIALIST_TIMEOUT_SECONDS", "10")
	t.Setenv("LEXICAL_INDEX_PATH", "/tmp/lex.idx")
	t.Setenv("SEMANTIC_INDEX_PATH", "/tmp/sem.idx")
	t.Setenv("README_PATH", "/tmp/README.md")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Pool.MaxWorkers != 2 || cfg.Pool.TTLSeconds != 60 || cfg.Pool.TimeoutSeconds != 10 {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	if cfg.Index.LexicalPath != "/tmp/lex.idx" || cfg.Index.SemanticPath != "/tmp/sem.idx" {
		t.Errorf("index = %+v", cfg.Index)
	}
	if cfg.ReadmePath != "/tmp/README.md" {
		t.Errorf("readme path = %q", cfg.ReadmePath)
	}
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	path := writeConfig(t, "pool:\n  max_workers: 8\n")
	t.Setenv("SPECIALIST_MAX_WORKERS", "16")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaxWorkers != 16 {
		t.Errorf("workers = %d, want env override 16", cfg.Pool.MaxWorkers)
	}
}

func TestInvalidEnvIgnored(t *testing.T) {
	t.Setenv("SPECIALIST_MAX_WORKERS", "not-a-number")
	t.Setenv("SPECIALIST_TTL_SECONDS", "-5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.MaxWorkers != 4 || cfg.Pool.TTLSeconds != 300 {
		t.Errorf("pool = %+v, want defaults kept", cfg.Pool)
	}
}

func TestWorkerCap(t *testing.T) {
	t.Setenv("SPECIALIST_MAX_WORKERS", "128")
	if _, err := Load(""); err == nil {
		t.Error("worker count past the cap accepted")
	}
}

func TestDurationHelpers(t *testing.T) {
	p := PoolConfig{TTLSeconds: 300, TimeoutSeconds: 30}
	if p.ResultTTL() != 5*time.Minute {
		t.Errorf("ttl = %v", p.ResultTTL())
	}
	if p.SpecialistTimeout() != 30*time.Second {
		t.Errorf("timeout = %v", p.SpecialistTimeout())
	}
}
