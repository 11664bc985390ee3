package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Replica == "" {
		t.Fatalf("default replica should not be empty")
	}
	if len(cfg.Queues) != 1 || cfg.Queues[0].Name != "workitems" {
		t.Fatalf("unexpected default queues %+v", cfg.Queues)
	}
	if cfg.StateStore.Backend != "pebble" {
		t.Fatalf("default backend")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "maestro.yaml")
	data := []byte(`
replica: pcs-1
fsync: never
shutdownTimeout: 90s
queues:
  - name: builds
    consumers: 2
    visibilityTimeout: 1m
  - name: subscriptions
    consumers: 1
stateStore:
  backend: s3
  s3:
    bucket: fleet
log:
  level: debug
`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Replica != "pcs-1" || cfg.Fsync != "never" {
		t.Fatalf("unexpected scalars %+v", cfg)
	}
	if cfg.ShutdownTimeout != 90*time.Second {
		t.Fatalf("expected 90s shutdown timeout, got %s", cfg.ShutdownTimeout)
	}
	if len(cfg.Queues) != 2 || cfg.Queues[0].Name != "builds" || cfg.Queues[0].VisibilityTimeout != time.Minute {
		t.Fatalf("file queues must replace defaults: %+v", cfg.Queues)
	}
	if cfg.StateStore.S3.Bucket != "fleet" || cfg.StateStore.PublishInterval != 30*time.Second {
		t.Fatalf("unexpected state store %+v", cfg.StateStore)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "maestro.json")
	data := []byte(`{"httpAddr":":18080","startStopped":true}`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":18080" || !cfg.StartStopped {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Queues) != 1 {
		t.Fatalf("defaults should survive when file has no queues")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("MAESTRO_REPLICA", "replica-7")
	t.Setenv("MAESTRO_STATE_BACKEND", "memory")
	t.Setenv("MAESTRO_CONSUMERS", "8")
	t.Setenv("MAESTRO_SHUTDOWN_TIMEOUT", "10s")
	t.Setenv("MAESTRO_START_STOPPED", "true")
	t.Setenv("MAESTRO_STATE_PUBLISH_INTERVAL", "not-a-duration")
	t.Setenv("MAESTRO_JOURNAL_RETENTION", "24h")
	FromEnv(&cfg)
	if cfg.Replica != "replica-7" || cfg.StateStore.Backend != "memory" {
		t.Fatalf("env override strings: %+v", cfg)
	}
	if cfg.Queues[0].Consumers != 8 {
		t.Fatalf("env override consumers")
	}
	if cfg.ShutdownTimeout != 10*time.Second || !cfg.StartStopped {
		t.Fatalf("env override timeout/bool")
	}
	if cfg.StateStore.PublishInterval != 30*time.Second {
		t.Fatalf("bad duration must be ignored")
	}
	if cfg.JournalRetention != 24*time.Hour {
		t.Fatalf("journal retention = %s", cfg.JournalRetention)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad fsync", func(c *Config) { c.Fsync = "sometimes" }, "fsync"},
		{"no queues", func(c *Config) { c.Queues = nil }, "at least one queue"},
		{"bad queue name", func(c *Config) { c.Queues[0].Name = "Bad Name" }, "invalid name"},
		{"duplicate queue", func(c *Config) { c.Queues = append(c.Queues, c.Queues[0]) }, "declared twice"},
		{"zero consumers", func(c *Config) { c.Queues[0].Consumers = 0 }, "consumers"},
		{"unknown backend", func(c *Config) { c.StateStore.Backend = "redis" }, "backend"},
		{"s3 without bucket", func(c *Config) { c.StateStore.Backend = "s3" }, "bucket"},
		{"azure without account", func(c *Config) { c.StateStore.Backend = "azure" }, "azure"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "level"},
		{"empty replica", func(c *Config) { c.Replica = " " }, "replica"},
		{"negative retention", func(c *Config) { c.JournalRetention = -time.Hour }, "journalRetention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultDataDirXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != "/custom/data/maestro" {
		t.Fatalf("expected /custom/data/maestro, got %s", got)
	}
}

func TestDefaultDataDirNoHome(t *testing.T) {
	t.Setenv("HOME", "")
	if got := DefaultDataDir(); got != "./data" {
		t.Fatalf("expected fallback to ./data, got %s", got)
	}
}

func TestDefaultDataDirUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("LOCALAPPDATA", "")
	got := DefaultDataDir()
	if !strings.HasPrefix(got, home) {
		t.Fatalf("expected a path under %s, got %s", home, got)
	}
}
