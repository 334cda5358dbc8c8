// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/killfeed/config.yaml",
	"/etc/killfeed/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. These load
// first, then the config file, then environment variables.
func defaultConfig() *Config {
	return &Config{
		RedisQ: RedisQConfig{
			Enabled:       true,
			URL:           "https://zkillredisq.stream/listen.php",
			QueueID:       "killfeed",
			TTW:           10 * time.Second,
			Cooldown429:   30 * time.Second,
			RatePerSecond: 2,
		},
		ZKillboard: ZKillboardConfig{
			Enabled:        true,
			BaseURL:        "https://zkillboard.com",
			RatePerSecond:  1,
			MinRequestGap:  500 * time.Millisecond,
			RetryAttempts:  5,
			RetryDelay:     time.Second,
			Cooldown429:    60 * time.Second,
			InterPageDelay: time.Second,
			MaxPagesPerJob: 100,
		},
		ESI: ESIConfig{
			BaseURL:       "https://esi.evetech.net",
			TokenURL:      "https://login.eveonline.com/v2/oauth/token",
			ClientID:      "",
			UserAgent:     "killfeed (https://github.com/lostsec/killfeed)",
			RatePerSecond: 20,
			MinRequestGap: 0,
		},
		Database: DatabaseConfig{
			Path:               "/data/killfeed.duckdb",
			MaxMemory:          "2GB",
			Threads:            0, // 0 = runtime.NumCPU()
			CheckpointInterval: 5 * time.Minute,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			StreamName:     "KILLFEED",
			DurableName:    "killfeed-worker",
			QueueGroup:     "workers",
			AckWait:        5 * time.Minute,
		},
		Ingest: IngestConfig{
			SyncInterval:     5 * time.Minute,
			SyncStaleness:    time.Hour,
			ArchiveWorkers:   2,
			OfficialWorkers:  4,
			AppraiseOnIngest: true,
		},
		PriceLookup: PriceLookupConfig{
			BaseURL: "https://esi.evetech.net",
			TTL:     time.Hour,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8322,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration using koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: highest priority
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// KILLFEED_REDISQ_QUEUE_ID -> redisq.queue_id etc.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when they arrive via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		// Already a slice (from YAML): nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf paths.
// Only variables with the KILLFEED_ prefix (plus a handful of legacy
// unprefixed names) are honored; everything else is ignored so stray
// host environment does not leak into the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	// Legacy names kept for compatibility with early deployments.
	legacy := map[string]string{
		"redisq_queue_id": "redisq.queue_id",
		"duckdb_path":     "database.path",
		"nats_url":        "nats.url",
		"http_port":       "server.port",
		"log_level":       "logging.level",
	}
	if path, ok := legacy[key]; ok {
		return path
	}

	if !strings.HasPrefix(key, "killfeed_") {
		return ""
	}
	key = strings.TrimPrefix(key, "killfeed_")

	// First segment is the section; the rest is the field with
	// underscores intact: KILLFEED_ZKILLBOARD_INTER_PAGE_DELAY ->
	// zkillboard.inter_page_delay.
	section, field, found := strings.Cut(key, "_")
	if !found {
		return ""
	}
	return section + "." + field
}
