// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lostsec/killfeed/internal/logging"
	"github.com/lostsec/killfeed/internal/models"
)

// UpsertSubject registers a subject for tracking, or re-enables and
// re-keys an existing one. A fresh registration resets backfill state
// so the archive orchestrator picks it up again.
func (db *DB) UpsertSubject(ctx context.Context, subject models.Subject, refreshToken *string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tracked_subjects (kind, entity_id, enabled, backfill_done, refresh_token)
		VALUES (?, ?, TRUE, FALSE, ?)
		ON CONFLICT (kind, entity_id) DO UPDATE SET
			enabled = TRUE,
			backfill_done = FALSE,
			refresh_token = EXCLUDED.refresh_token`,
		string(subject.Kind), subject.EntityID, refreshToken)
	if err != nil {
		return fmt.Errorf("failed to upsert subject %s: %w", subject, err)
	}
	logging.Info().Str("subject", subject.String()).Msg("Subject tracked")
	return nil
}

// GetSubject fetches one tracked subject.
func (db *DB) GetSubject(ctx context.Context, subject models.Subject) (*models.TrackedSubject, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT kind, entity_id, enabled, backfill_done, refresh_token, last_synced, created_at
		FROM tracked_subjects WHERE kind = ? AND entity_id = ?`,
		string(subject.Kind), subject.EntityID)
	return scanSubject(row)
}

// ListDueSubjects returns enabled subjects whose last sync is older
// than the cutoff (or never happened), ordered stalest first. The
// scheduler enqueues one sync job per returned subject.
func (db *DB) ListDueSubjects(ctx context.Context, cutoff time.Time) ([]models.TrackedSubject, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT kind, entity_id, enabled, backfill_done, refresh_token, last_synced, created_at
		FROM tracked_subjects
		WHERE enabled AND (last_synced IS NULL OR last_synced < ?)
		ORDER BY last_synced ASC NULLS FIRST`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subjects: %w", err)
	}
	defer rows.Close()

	var out []models.TrackedSubject
	for rows.Next() {
		ts, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ts)
	}
	return out, rows.Err()
}

// TouchSubjectSynced records a completed sync and persists the possibly
// rotated refresh token.
func (db *DB) TouchSubjectSynced(ctx context.Context, subject models.Subject, refreshToken *string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE tracked_subjects
		SET last_synced = CURRENT_TIMESTAMP,
			refresh_token = COALESCE(?, refresh_token)
		WHERE kind = ? AND entity_id = ?`,
		refreshToken, string(subject.Kind), subject.EntityID)
	if err != nil {
		return fmt.Errorf("failed to touch subject %s: %w", subject, err)
	}
	return nil
}

// DisableSubject turns a subject off, used when its refresh token is
// rejected. It stays off until a human re-authorizes.
func (db *DB) DisableSubject(ctx context.Context, subject models.Subject) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE tracked_subjects SET enabled = FALSE WHERE kind = ? AND entity_id = ?`,
		string(subject.Kind), subject.EntityID)
	if err != nil {
		return fmt.Errorf("failed to disable subject %s: %w", subject, err)
	}
	logging.Warn().Str("subject", subject.String()).Msg("Subject disabled pending re-authorization")
	return nil
}

// MarkBackfillDone flips the subject to incremental archive mode.
func (db *DB) MarkBackfillDone(ctx context.Context, subject models.Subject) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE tracked_subjects SET backfill_done = TRUE WHERE kind = ? AND entity_id = ?`,
		string(subject.Kind), subject.EntityID)
	if err != nil {
		return fmt.Errorf("failed to mark backfill done for %s: %w", subject, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (*models.TrackedSubject, error) {
	var ts models.TrackedSubject
	var kind string
	err := row.Scan(&kind, &ts.EntityID, &ts.Enabled, &ts.BackfillDone, &ts.RefreshToken, &ts.LastSynced, &ts.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subject: %w", err)
	}
	ts.Kind = models.SubjectKind(kind)
	return &ts, nil
}
