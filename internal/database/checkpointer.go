// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package database

import (
	"context"
	"time"

	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/metrics"
)

// DefaultCheckpointInterval bounds how much WAL an unclean shutdown can
// leave for replay.
const DefaultCheckpointInterval = 5 * time.Minute

// Checkpointer periodically forces a DuckDB CHECKPOINT, merging the
// write-ahead log into the database file. Runs as a suture service in
// the data layer; a final checkpoint is attempted on shutdown.
type Checkpointer struct {
	db       *DB
	interval time.Duration
}

// NewCheckpointer builds a checkpointer. A non-positive interval takes
// DefaultCheckpointInterval.
func NewCheckpointer(db *DB, interval time.Duration) *Checkpointer {
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &Checkpointer{db: db, interval: interval}
}

// String identifies the service in supervisor logs.
func (c *Checkpointer) String() string { return "db-checkpointer" }

// Serve implements suture.Service.
func (c *Checkpointer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkpoint(ctx)
		case <-ctx.Done():
			// Best-effort final flush; the serve context is already dead.
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			c.checkpoint(flushCtx)
			cancel()
			return ctx.Err()
		}
	}
}

func (c *Checkpointer) checkpoint(ctx context.Context) {
	start := time.Now()
	if _, err := c.db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		metrics.DBQueryErrors.WithLabelValues("checkpoint").Inc()
		logging.Warn().Err(err).Msg("Database checkpoint failed")
		return
	}
	metrics.TimeDBWrite("checkpoint", start)
	logging.Debug().Dur("elapsed", time.Since(start)).Msg("Database checkpoint complete")
}
