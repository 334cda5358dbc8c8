// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

// Package config holds all application configuration, loaded from
// defaults, an optional YAML file and environment variables (in that
// precedence order, env winning). Config is immutable after Load and
// safe for concurrent reads.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds all application configuration.
type Config struct {
	RedisQ      RedisQConfig      `koanf:"redisq"`
	ZKillboard  ZKillboardConfig  `koanf:"zkillboard"`
	ESI         ESIConfig         `koanf:"esi"`
	Database    DatabaseConfig    `koanf:"database"`
	NATS        NATSConfig        `koanf:"nats"`
	Ingest      IngestConfig      `koanf:"ingest"`
	PriceLookup PriceLookupConfig `koanf:"prices"`
	Server      ServerConfig      `koanf:"server"`
	API         APIConfig         `koanf:"api"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// RedisQConfig configures the real-time push stream.
type RedisQConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// QueueID identifies this consumer to RedisQ; two consumers sharing
	// a queue id split the stream between them.
	QueueID     string        `koanf:"queue_id"`
	TTW         time.Duration `koanf:"ttw"`
	Cooldown429 time.Duration `koanf:"cooldown_429"`
	// RatePerSecond caps polls issued against the endpoint.
	RatePerSecond int `koanf:"rate_per_second"`
}

// ZKillboardConfig configures the historical archive client.
type ZKillboardConfig struct {
	Enabled        bool          `koanf:"enabled"`
	BaseURL        string        `koanf:"base_url"`
	RatePerSecond  int           `koanf:"rate_per_second"`
	MinRequestGap  time.Duration `koanf:"min_request_gap"`
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryDelay     time.Duration `koanf:"retry_delay"`
	Cooldown429    time.Duration `koanf:"cooldown_429"`
	InterPageDelay time.Duration `koanf:"inter_page_delay"`
	// MaxPagesPerJob bounds one backfill job; remaining pages continue
	// on the next scheduled sync.
	MaxPagesPerJob int `koanf:"max_pages_per_job"`
}

// ESIConfig configures the official API client and its SSO endpoint.
type ESIConfig struct {
	BaseURL       string        `koanf:"base_url"`
	TokenURL      string        `koanf:"token_url"`
	ClientID      string        `koanf:"client_id"`
	UserAgent     string        `koanf:"user_agent"`
	RatePerSecond int           `koanf:"rate_per_second"`
	MinRequestGap time.Duration `koanf:"min_request_gap"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
	// CheckpointInterval is how often the WAL is flushed into the
	// database file.
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`
}

// NATSConfig configures the JetStream work queue.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	StreamName     string        `koanf:"stream_name"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	AckWait        time.Duration `koanf:"ack_wait"`
}

// IngestConfig controls the orchestrators and the sync scheduler.
type IngestConfig struct {
	// SyncInterval is how often the scheduler looks for due subjects.
	SyncInterval time.Duration `koanf:"sync_interval"`
	// SyncStaleness is how old a subject's last sync must be before it
	// is due again.
	SyncStaleness time.Duration `koanf:"sync_staleness"`
	// ArchiveWorkers is the concurrency of the archive job consumer.
	// The real-time stream is always strictly sequential.
	ArchiveWorkers int `koanf:"archive_workers"`
	// OfficialWorkers is the concurrency of the official-API consumer.
	OfficialWorkers int `koanf:"official_workers"`
	// AppraiseOnIngest computes ISK values at write time. Best-effort;
	// failures never block persistence.
	AppraiseOnIngest bool `koanf:"appraise_on_ingest"`
}

// PriceLookupConfig configures the market price source.
type PriceLookupConfig struct {
	BaseURL string        `koanf:"base_url"`
	TTL     time.Duration `koanf:"ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
	// RateLimitReqs caps requests per client IP per window; 0 disables.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// APIConfig holds pagination limits for the query surface.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would fail at
// runtime. Called by Load; callers constructing Config directly (tests)
// may call it themselves.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"redisq.url":          c.RedisQ.URL,
		"zkillboard.base_url": c.ZKillboard.BaseURL,
		"esi.base_url":        c.ESI.BaseURL,
		"esi.token_url":       c.ESI.TokenURL,
		"prices.base_url":     c.PriceLookup.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: invalid URL %q", name, raw)
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url must not be empty")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.API.DefaultPageSize < 1 || c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api page sizes invalid: default=%d max=%d", c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	if c.Ingest.SyncInterval <= 0 || c.Ingest.SyncStaleness <= 0 {
		return fmt.Errorf("ingest intervals must be positive")
	}
	if c.Ingest.ArchiveWorkers < 1 || c.Ingest.OfficialWorkers < 1 {
		return fmt.Errorf("ingest worker counts must be at least 1")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}

	return nil
}
