// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package ingest

import (
	"context"
	"time"

	"github.com/lostsec/killfeed/internal/database"
	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/queue"
)

// Scheduler periodically finds tracked subjects whose last sync has
// gone stale and enqueues sync jobs for them. It only enqueues; the
// queue's consumers do the actual work, so a slow sync never delays
// the next scheduling pass.
type Scheduler struct {
	db       *database.DB
	queue    queue.Queue
	interval time.Duration
	// staleness is how old a subject's last sync must be before a new
	// job is enqueued for it.
	staleness time.Duration
}

// NewScheduler builds the sync scheduler.
func NewScheduler(db *database.DB, q queue.Queue, interval, staleness time.Duration) *Scheduler {
	return &Scheduler{db: db, queue: q, interval: interval, staleness: staleness}
}

// String identifies the service in supervisor logs.
func (s *Scheduler) String() string { return "sync-scheduler" }

// Serve runs scheduling passes until ctx is cancelled. The first pass
// runs immediately so a restart does not wait a full interval.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", s.interval).
		Dur("staleness", s.staleness).
		Msg("Sync scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.pass(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pass enqueues jobs for every due subject. Failures are logged and
// skipped; the subject stays due and the next pass retries it.
func (s *Scheduler) pass(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleness)
	subjects, err := s.db.ListDueSubjects(ctx, cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list due subjects")
		return
	}
	if len(subjects) == 0 {
		return
	}

	logging.Debug().Int("subjects", len(subjects)).Msg("Scheduling sync jobs")
	for i := range subjects {
		s.enqueueFor(ctx, &subjects[i])
	}
}

func (s *Scheduler) enqueueFor(ctx context.Context, ts *models.TrackedSubject) {
	// The archive covers every subject; a full backfill walk first,
	// incremental stop-at-seen afterwards.
	archive := queue.NewJob(queue.KindArchiveSync, ts.Subject, !ts.BackfillDone)
	if err := s.queue.Enqueue(ctx, archive); err != nil {
		logging.Error().
			Err(err).
			Str("subject", ts.Subject.String()).
			Msg("Failed to enqueue archive sync")
		return
	}

	// The official list needs consent; only subjects with a stored
	// refresh token get an official sync.
	if ts.RefreshToken == nil {
		return
	}
	official := queue.NewJob(queue.KindOfficialSync, ts.Subject, false)
	if err := s.queue.Enqueue(ctx, official); err != nil {
		logging.Error().
			Err(err).
			Str("subject", ts.Subject.String()).
			Msg("Failed to enqueue official sync")
	}
}
