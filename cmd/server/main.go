// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

// Package main is the entry point for the Killfeed server.
//
// Killfeed ingests EVE Online killmails from three upstreams (the
// zKillboard RedisQ real-time stream, the zKillboard history archive
// and the official ESI API), deduplicates them into a DuckDB store,
// and serves a read-only query API with structured fitting
// reconstruction.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered load (defaults, YAML, env)
//  2. Logging: zerolog, json or console
//  3. Database: DuckDB with idempotent schema migration
//  4. Queue: embedded or external NATS JetStream work queue
//  5. Upstream clients behind per-upstream rate limiters and breakers
//  6. Supervisor tree: stream loop, job consumers, scheduler, HTTP API
//
// Shutdown is signal-driven: SIGINT/SIGTERM cancels the root context,
// the supervisor tree drains, and the queue and database close last.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lostsec/killfeed/internal/api"
	"github.com/lostsec/killfeed/internal/config"
	"github.com/lostsec/killfeed/internal/database"
	"github.com/lostsec/killfeed/internal/ingest"
	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/queue"
	"github.com/lostsec/killfeed/internal/ratelimit"
	"github.com/lostsec/killfeed/internal/supervisor"
	"github.com/lostsec/killfeed/internal/upstream"
	"github.com/lostsec/killfeed/internal/value"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("redisq", cfg.RedisQ.Enabled).
		Bool("zkillboard", cfg.ZKillboard.Enabled).
		Msg("Starting Killfeed")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Embedded NATS for single-binary deployments; external otherwise.
	if cfg.NATS.EmbeddedServer {
		natsSrv, err := queue.StartEmbeddedServer(cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		defer natsSrv.Shutdown()
	}

	q, err := queue.NewNatsQueue(cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer func() {
		if err := q.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing queue")
		}
	}()

	// One limiter per upstream, shared by every caller of that upstream.
	redisqLimiter := ratelimit.New("redisq", cfg.RedisQ.RatePerSecond, 0)
	defer redisqLimiter.Close()
	zkillLimiter := ratelimit.New("zkillboard", cfg.ZKillboard.RatePerSecond, cfg.ZKillboard.MinRequestGap)
	defer zkillLimiter.Close()
	esiLimiter := ratelimit.New("esi", cfg.ESI.RatePerSecond, cfg.ESI.MinRequestGap)
	defer esiLimiter.Close()

	esiCfg := upstream.ESIConfig{
		BaseURL:   cfg.ESI.BaseURL,
		UserAgent: cfg.ESI.UserAgent,
		TokenURL:  cfg.ESI.TokenURL,
		ClientID:  cfg.ESI.ClientID,
	}
	esiClient := upstream.NewESIClient(nil, esiCfg, esiLimiter)

	var appraiser ingest.Appraiser
	if cfg.Ingest.AppraiseOnIngest {
		prices := value.NewESIPriceClient(nil, cfg.PriceLookup.BaseURL, cfg.ESI.UserAgent, cfg.PriceLookup.TTL)
		appraiser = value.NewCalculator(prices)
	}
	saver := ingest.NewSaver(db, esiClient, upstream.NewBreaker("esi"), appraiser)

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddDataService(database.NewCheckpointer(db, cfg.Database.CheckpointInterval))

	if cfg.RedisQ.Enabled {
		redisq := upstream.NewRedisQClient(nil, upstream.RedisQConfig{
			URL:         cfg.RedisQ.URL,
			QueueID:     cfg.RedisQ.QueueID,
			UserAgent:   cfg.ESI.UserAgent,
			TTW:         cfg.RedisQ.TTW,
			Cooldown429: cfg.RedisQ.Cooldown429,
		}, redisqLimiter)
		tree.AddIngestService(ingest.NewStreamer(redisq, saver))
	}

	if cfg.ZKillboard.Enabled {
		zkill := upstream.NewZKillClient(nil, upstream.ZKillConfig{
			BaseURL:        cfg.ZKillboard.BaseURL,
			UserAgent:      cfg.ESI.UserAgent,
			RetryAttempts:  cfg.ZKillboard.RetryAttempts,
			RetryDelay:     cfg.ZKillboard.RetryDelay,
			Cooldown429:    cfg.ZKillboard.Cooldown429,
			InterPageDelay: cfg.ZKillboard.InterPageDelay,
		}, zkillLimiter)
		archive := ingest.NewArchiveOrchestrator(db, zkill, saver, cfg.ZKillboard.MaxPagesPerJob)
		tree.AddIngestService(supervisor.NewConsumerService(
			q, queue.KindArchiveSync, cfg.Ingest.ArchiveWorkers, archive.Handle))
	}

	official := ingest.NewOfficialOrchestrator(db, esiClient, saver,
		func(refreshToken string) *upstream.TokenSource {
			return upstream.NewTokenSource(nil, esiCfg, refreshToken)
		})
	tree.AddIngestService(supervisor.NewConsumerService(
		q, queue.KindOfficialSync, cfg.Ingest.OfficialWorkers, official.Handle))

	tree.AddIngestService(ingest.NewScheduler(db, q, cfg.Ingest.SyncInterval, cfg.Ingest.SyncStaleness))

	handler := api.NewHandler(db, cfg.API)
	tree.AddAPIService(api.NewServer(cfg.Server, api.NewRouter(handler, cfg.Server)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Supervisor tree starting")
	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		stop()
		os.Exit(1)
	}

	// Give straggler services a moment, then report anything stuck.
	time.Sleep(100 * time.Millisecond)
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, s := range report {
			logging.Warn().Str("service", s.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("Killfeed stopped")
}
