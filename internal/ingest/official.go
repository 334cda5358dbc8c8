// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/lostsec/killfeed/internal/database"
	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/metrics"
	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/queue"
	"github.com/lostsec/killfeed/internal/upstream"
)

// RecentSource pages a subject's killmail list from the official API
// using the given token source.
type RecentSource interface {
	FetchRecentKillmails(ctx context.Context, subject models.Subject, tokens *upstream.TokenSource) ([]models.KillmailRef, error)
}

var _ RecentSource = (*upstream.ESIClient)(nil)

// TokenSourceFactory builds a per-job token source from a stored
// refresh token. Each job owns its source; TokenSource is not safe for
// sharing.
type TokenSourceFactory func(refreshToken string) *upstream.TokenSource

// OfficialOrchestrator consumes official_sync jobs: page a subject's
// authoritative killmail list and ingest what the archive missed.
//
// A rejected refresh token disables the subject rather than retrying;
// no amount of redelivery fixes revoked consent.
type OfficialOrchestrator struct {
	db        *database.DB
	source    RecentSource
	saver     *Saver
	newTokens TokenSourceFactory
}

// NewOfficialOrchestrator builds the official-API job handler.
func NewOfficialOrchestrator(db *database.DB, source RecentSource, saver *Saver, newTokens TokenSourceFactory) *OfficialOrchestrator {
	return &OfficialOrchestrator{db: db, source: source, saver: saver, newTokens: newTokens}
}

// Handle processes one official sync job.
func (o *OfficialOrchestrator) Handle(ctx context.Context, job *queue.Job) queue.Outcome {
	start := time.Now()

	ts, err := o.db.GetSubject(ctx, job.Subject)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			logging.Warn().Str("subject", job.Subject.String()).Msg("Official sync job for unknown subject")
			metrics.SyncJobs.WithLabelValues(string(job.Kind), "dropped").Inc()
			return queue.NackDrop
		}
		metrics.SyncJobs.WithLabelValues(string(job.Kind), "requeued").Inc()
		return queue.NackRequeue
	}

	if !ts.Enabled || ts.RefreshToken == nil {
		logging.Debug().
			Str("subject", job.Subject.String()).
			Bool("enabled", ts.Enabled).
			Msg("Skipping official sync for subject without credentials")
		metrics.SyncJobs.WithLabelValues(string(job.Kind), "dropped").Inc()
		return queue.NackDrop
	}

	tokens := o.newTokens(*ts.RefreshToken)
	refs, err := o.source.FetchRecentKillmails(ctx, job.Subject, tokens)
	if err != nil {
		if upstream.IsAuth(err) {
			logging.Warn().
				Err(err).
				Str("subject", job.Subject.String()).
				Msg("Refresh token rejected, disabling subject")
			if derr := o.db.DisableSubject(ctx, job.Subject); derr != nil {
				logging.Error().Err(derr).Str("subject", job.Subject.String()).Msg("Failed to disable subject")
				metrics.SyncJobs.WithLabelValues(string(job.Kind), "requeued").Inc()
				return queue.NackRequeue
			}
			metrics.SyncJobs.WithLabelValues(string(job.Kind), "dropped").Inc()
			return queue.NackDrop
		}
		if upstream.IsRetryable(err) {
			metrics.SyncJobs.WithLabelValues(string(job.Kind), "requeued").Inc()
			return queue.NackRequeue
		}
		logging.Error().
			Err(err).
			Str("subject", job.Subject.String()).
			Msg("Official killmail list failed permanently")
		metrics.SyncJobs.WithLabelValues(string(job.Kind), "dropped").Inc()
		return queue.NackDrop
	}

	var t tally
	for _, ref := range refs {
		if ctx.Err() != nil {
			metrics.SyncJobs.WithLabelValues(string(job.Kind), "requeued").Inc()
			return queue.NackRequeue
		}
		created, ierr := o.saver.Ingest(ctx, ref, "esi")
		if ierr != nil {
			logging.Error().
				Err(ierr).
				Int64("killmail_id", ref.ID).
				Str("subject", job.Subject.String()).
				Msg("Failed to ingest official killmail")
		}
		t.record(created, ierr)
	}

	// The auth server may have rotated the refresh token during this
	// job; persist whatever the source ended up holding.
	rotated := tokens.RefreshToken()
	if err := o.db.TouchSubjectSynced(ctx, job.Subject, &rotated); err != nil {
		logging.Error().Err(err).Str("subject", job.Subject.String()).Msg("Failed to record sync time")
	}

	t.log(job.Subject, string(job.Kind), job.EventID, time.Since(start))
	metrics.SyncJobs.WithLabelValues(string(job.Kind), "acked").Inc()
	return queue.Ack
}
