// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

// Package ingest orchestrates the killmail pipeline: the real-time
// stream loop, the archive and official-API sync job handlers, and the
// scheduler that keeps tracked subjects fresh.
//
// Every path converges on Saver.Ingest, so a killmail arriving from
// three upstreams at once is still written exactly once.
package ingest

import (
	"context"
	"time"

	"github.com/lostsec/killfeed/internal/database"
	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/metrics"
	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/upstream"
	"github.com/lostsec/killfeed/internal/value"
)

// DetailFetcher resolves a killmail reference to full detail. Satisfied
// by the official-API client.
type DetailFetcher interface {
	FetchKillmail(ctx context.Context, ref models.KillmailRef) (*models.KillmailDetail, error)
}

// Appraiser computes the ISK valuation of a killmail.
type Appraiser interface {
	Appraise(ctx context.Context, d *models.KillmailDetail) (value.Valuation, error)
}

var _ Appraiser = (*value.Calculator)(nil)

// Saver is the shared ref-to-row path: fetch detail, appraise,
// persist. All three upstream paths funnel through it.
type Saver struct {
	db        *database.DB
	details   DetailFetcher
	breaker   *upstream.Breaker
	appraiser Appraiser // nil disables appraisal at write time
}

// NewSaver builds the shared ingestion path. breaker guards the detail
// fetch; appraiser may be nil to store killmails without ISK figures.
func NewSaver(db *database.DB, details DetailFetcher, breaker *upstream.Breaker, appraiser Appraiser) *Saver {
	return &Saver{db: db, details: details, breaker: breaker, appraiser: appraiser}
}

// Ingest brings one killmail reference into the store. Returns
// created=false when the killmail was already present, in which case
// no detail fetch is made at all.
//
// Appraisal is best-effort: a price-source failure logs a warning and
// the killmail is stored with null ISK figures.
func (s *Saver) Ingest(ctx context.Context, ref models.KillmailRef, source string) (bool, error) {
	exists, err := s.db.KillmailExists(ctx, ref.ID)
	if err != nil {
		return false, err
	}
	if exists {
		metrics.KillmailsProcessed.WithLabelValues(source, "duplicate").Inc()
		return false, nil
	}

	var detail *models.KillmailDetail
	err = s.breaker.Do(func() error {
		var ferr error
		detail, ferr = s.details.FetchKillmail(ctx, ref)
		return ferr
	})
	if err != nil {
		metrics.KillmailsProcessed.WithLabelValues(source, "error").Inc()
		return false, err
	}

	var val *value.Valuation
	if s.appraiser != nil {
		v, aerr := s.appraiser.Appraise(ctx, detail)
		if aerr != nil {
			logging.Warn().
				Err(aerr).
				Int64("killmail_id", ref.ID).
				Msg("Appraisal failed, storing killmail without ISK values")
		} else {
			val = &v
		}
	}

	created, err := s.db.SaveKillmail(ctx, detail, ref.Hash, val)
	if err != nil {
		metrics.KillmailsProcessed.WithLabelValues(source, "error").Inc()
		return false, err
	}
	if created {
		metrics.KillmailsProcessed.WithLabelValues(source, "saved").Inc()
	} else {
		metrics.KillmailsProcessed.WithLabelValues(source, "duplicate").Inc()
	}
	return created, nil
}

// tally accumulates per-job counters for the sync handlers.
type tally struct {
	saved   int
	skipped int
	errors  int
}

func (t *tally) record(created bool, err error) {
	switch {
	case err != nil:
		t.errors++
	case created:
		t.saved++
	default:
		t.skipped++
	}
}

func (t *tally) log(subject models.Subject, kind, eventID string, elapsed time.Duration) {
	logging.Info().
		Str("subject", subject.String()).
		Str("kind", kind).
		Str("event_id", eventID).
		Int("saved", t.saved).
		Int("skipped", t.skipped).
		Int("errors", t.errors).
		Dur("elapsed", elapsed).
		Msg("Sync job complete")
}
