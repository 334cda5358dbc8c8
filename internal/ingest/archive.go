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
	"github.com/lostsec/killfeed/internal/metrics"
	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/queue"
	"github.com/lostsec/killfeed/internal/upstream"
)

// ArchiveSource pages killmail references out of the historical
// archive. Satisfied by the zKillboard client.
type ArchiveSource interface {
	FetchRefs(ctx context.Context, subject models.Subject, opts upstream.FetchRefsOptions) ([]models.KillmailRef, error)
}

var _ ArchiveSource = (*upstream.ZKillClient)(nil)

// ArchiveOrchestrator consumes archive_sync jobs: walk the historical
// archive for one subject and ingest everything not yet stored.
//
// Backfill jobs walk forward up to MaxPagesPerJob; incremental jobs
// stop at the first already-stored killmail id. Both modes are safe to
// redeliver because ingestion deduplicates.
type ArchiveOrchestrator struct {
	db     *database.DB
	source ArchiveSource
	saver  *Saver

	// maxPages bounds one backfill job; 0 walks to the end of the
	// archive in a single job.
	maxPages int
}

// NewArchiveOrchestrator builds the archive job handler.
func NewArchiveOrchestrator(db *database.DB, source ArchiveSource, saver *Saver, maxPages int) *ArchiveOrchestrator {
	return &ArchiveOrchestrator{db: db, source: source, saver: saver, maxPages: maxPages}
}

// Handle processes one archive sync job.
func (o *ArchiveOrchestrator) Handle(ctx context.Context, job *queue.Job) queue.Outcome {
	start := time.Now()

	if job.Subject.Kind != models.SubjectCharacter && job.Subject.Kind != models.SubjectCorporation {
		logging.Error().
			Str("subject", job.Subject.String()).
			Str("job_id", job.ID).
			Msg("Archive sync job for unsupported subject kind")
		metrics.SyncJobs.WithLabelValues(string(job.Kind), "dropped").Inc()
		return queue.NackDrop
	}

	opts := upstream.FetchRefsOptions{}
	if job.Backfill {
		opts.MaxPages = o.maxPages
	} else {
		opts.Seen = func(id int64) bool {
			seen, err := o.db.KillmailExists(ctx, id)
			if err != nil {
				logging.Warn().Err(err).Int64("killmail_id", id).Msg("Seen-check failed, treating as unseen")
				return false
			}
			return seen
		}
	}

	refs, fetchErr := o.source.FetchRefs(ctx, job.Subject, opts)
	if fetchErr != nil && !upstream.IsRetryable(fetchErr) {
		logging.Error().
			Err(fetchErr).
			Str("subject", job.Subject.String()).
			Msg("Archive paging failed permanently")
		metrics.SyncJobs.WithLabelValues(string(job.Kind), "dropped").Inc()
		return queue.NackDrop
	}

	// Ingest whatever paging produced before any failure; dedup makes
	// the redelivered job's overlap free.
	var t tally
	for _, ref := range refs {
		if ctx.Err() != nil {
			metrics.SyncJobs.WithLabelValues(string(job.Kind), "requeued").Inc()
			return queue.NackRequeue
		}
		created, err := o.saver.Ingest(ctx, ref, "zkillboard")
		if err != nil {
			logging.Error().
				Err(err).
				Int64("killmail_id", ref.ID).
				Str("subject", job.Subject.String()).
				Msg("Failed to ingest archived killmail")
		}
		t.record(created, err)
	}

	if fetchErr != nil {
		metrics.SyncJobs.WithLabelValues(string(job.Kind), "requeued").Inc()
		return queue.NackRequeue
	}

	if job.Backfill && o.complete(refs) {
		if err := o.db.MarkBackfillDone(ctx, job.Subject); err != nil {
			logging.Error().Err(err).Str("subject", job.Subject.String()).Msg("Failed to mark backfill done")
		}
	}
	if err := o.db.TouchSubjectSynced(ctx, job.Subject, nil); err != nil {
		logging.Error().Err(err).Str("subject", job.Subject.String()).Msg("Failed to record sync time")
	}

	t.log(job.Subject, string(job.Kind), job.EventID, time.Since(start))
	metrics.SyncJobs.WithLabelValues(string(job.Kind), "acked").Inc()
	return queue.Ack
}

// complete reports whether a backfill walk reached the archive's end,
// as opposed to stopping at the per-job page bound. A walk that filled
// every allowed page may have more behind it; the next scheduled sync
// continues.
func (o *ArchiveOrchestrator) complete(refs []models.KillmailRef) bool {
	return o.maxPages <= 0 || len(refs) < o.maxPages*upstream.ZKillPageSize
}
