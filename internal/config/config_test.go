// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad redisq url", func(c *Config) { c.RedisQ.URL = "not a url" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"max page below default", func(c *Config) { c.API.MaxPageSize = 5 }},
		{"zero sync interval", func(c *Config) { c.Ingest.SyncInterval = 0 }},
		{"zero archive workers", func(c *Config) { c.Ingest.ArchiveWorkers = 0 }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"KILLFEED_REDISQ_QUEUE_ID", "redisq.queue_id"},
		{"KILLFEED_ZKILLBOARD_INTER_PAGE_DELAY", "zkillboard.inter_page_delay"},
		{"KILLFEED_ESI_CLIENT_ID", "esi.client_id"},
		{"KILLFEED_DATABASE_PATH", "database.path"},
		{"KILLFEED_SERVER_RATE_LIMIT_REQS", "server.rate_limit_reqs"},
		{"KILLFEED_LOGGING_LEVEL", "logging.level"},
		// Legacy unprefixed names.
		{"REDISQ_QUEUE_ID", "redisq.queue_id"},
		{"DUCKDB_PATH", "database.path"},
		{"NATS_URL", "nats.url"},
		{"HTTP_PORT", "server.port"},
		{"LOG_LEVEL", "logging.level"},
		// Stray host environment must be ignored.
		{"PATH", ""},
		{"HOME", ""},
		{"KILLFEED", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("KILLFEED_REDISQ_QUEUE_ID", "test-queue")
	t.Setenv("KILLFEED_INGEST_SYNC_STALENESS", "30m")
	t.Setenv("KILLFEED_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisQ.QueueID != "test-queue" {
		t.Errorf("queue id = %q, want env override", cfg.RedisQ.QueueID)
	}
	if cfg.Ingest.SyncStaleness != 30*time.Minute {
		t.Errorf("sync staleness = %v, want 30m", cfg.Ingest.SyncStaleness)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != "https://a.example" {
		t.Errorf("cors origins = %v", cfg.Server.CORSOrigins)
	}
	// Untouched values keep their defaults.
	if cfg.ZKillboard.RetryAttempts != 5 {
		t.Errorf("retry attempts = %d, want default 5", cfg.ZKillboard.RetryAttempts)
	}
}
