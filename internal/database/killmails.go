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
	"github.com/lostsec/killfeed/internal/metrics"
	"github.com/lostsec/killfeed/internal/models"
	"github.com/lostsec/killfeed/internal/value"
)

// ErrNotFound is returned by point lookups for absent killmails.
var ErrNotFound = errors.New("killmail not found")

// SaveKillmail persists a killmail and its owned rows atomically.
// Returns created=false when the killmail already exists, including
// when a concurrent writer wins the race mid-transaction. A duplicate
// is never an error; any other failure rolls back completely and is
// retryable.
//
// val is best-effort: nil stores the killmail with null ISK figures,
// recomputable later. The attacker_count cache is always written and
// always equals len(attackers).
func (db *DB) SaveKillmail(ctx context.Context, d *models.KillmailDetail, hash string, val *value.Valuation) (bool, error) {
	defer metrics.TimeDBWrite("save_killmail", time.Now())

	// Cheap existence pre-check before paying for a write transaction.
	exists, err := db.KillmailExists(ctx, d.KillmailID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("save_killmail").Inc()
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// No-op once committed.
		_ = tx.Rollback()
	}()

	created, err := db.insertKillmail(ctx, tx, d, hash, val)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("save_killmail").Inc()
		return false, err
	}
	if !created {
		// Lost the race to a concurrent writer: success-as-skip.
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		metrics.DBQueryErrors.WithLabelValues("save_killmail").Inc()
		return false, fmt.Errorf("failed to commit killmail %d: %w", d.KillmailID, err)
	}

	logging.Debug().Int64("killmail_id", d.KillmailID).Msg("Killmail saved")
	return true, nil
}

func (db *DB) insertKillmail(ctx context.Context, tx *sql.Tx, d *models.KillmailDetail, hash string, val *value.Valuation) (bool, error) {
	var totalValue, destroyedValue, droppedValue any
	if val != nil {
		totalValue = val.TotalValue
		destroyedValue = val.DestroyedValue
		droppedValue = val.DroppedValue
	}

	// ON CONFLICT DO NOTHING turns a lost uniqueness race into zero
	// affected rows instead of a constraint error.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO killmails (killmail_id, killmail_hash, killmail_time, solar_system_id,
			total_value, destroyed_value, dropped_value, attacker_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (killmail_id) DO NOTHING`,
		d.KillmailID, hash, d.KillmailTime, d.SolarSystemID,
		totalValue, destroyedValue, droppedValue, len(d.Attackers))
	if err != nil {
		return false, fmt.Errorf("failed to insert killmail %d: %w", d.KillmailID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	v := &d.Victim
	var px, py, pz any
	if v.Position != nil {
		px, py, pz = v.Position.X, v.Position.Y, v.Position.Z
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO victims (killmail_id, character_id, corporation_id, alliance_id, faction_id,
			ship_type_id, damage_taken, position_x, position_y, position_z)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.KillmailID, v.CharacterID, v.CorporationID, v.AllianceID, v.FactionID,
		v.ShipTypeID, v.DamageTaken, px, py, pz); err != nil {
		return false, fmt.Errorf("failed to insert victim for killmail %d: %w", d.KillmailID, err)
	}

	attackerStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attackers (killmail_id, attacker_index, character_id, corporation_id,
			alliance_id, faction_id, ship_type_id, weapon_type_id, damage_done, final_blow, security_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return false, fmt.Errorf("failed to prepare attacker insert: %w", err)
	}
	defer attackerStmt.Close()

	for i := range d.Attackers {
		a := &d.Attackers[i]
		if _, err := attackerStmt.ExecContext(ctx, d.KillmailID, i, a.CharacterID, a.CorporationID,
			a.AllianceID, a.FactionID, a.ShipTypeID, a.WeaponTypeID, a.DamageDone, a.FinalBlow, a.SecurityStatus); err != nil {
			return false, fmt.Errorf("failed to insert attacker %d for killmail %d: %w", i, d.KillmailID, err)
		}
	}

	itemStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO killmail_items (killmail_id, item_index, item_type_id, flag, singleton,
			quantity_dropped, quantity_destroyed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return false, fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer itemStmt.Close()

	for i := range d.Victim.Items {
		it := &d.Victim.Items[i]
		if _, err := itemStmt.ExecContext(ctx, d.KillmailID, i, it.ItemTypeID, it.Flag, it.Singleton,
			it.QuantityDropped, it.QuantityDestroyed); err != nil {
			return false, fmt.Errorf("failed to insert item %d for killmail %d: %w", i, d.KillmailID, err)
		}
	}

	return true, nil
}

// KillmailExists reports whether a killmail id is already stored.
func (db *DB) KillmailExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM killmails WHERE killmail_id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check killmail %d: %w", id, err)
	}
	return exists, nil
}

// GetKillmail fetches one killmail row by id.
func (db *DB) GetKillmail(ctx context.Context, id int64) (*models.Killmail, error) {
	var k models.Killmail
	err := db.conn.QueryRowContext(ctx, `
		SELECT killmail_id, killmail_hash, killmail_time, solar_system_id,
			total_value, destroyed_value, dropped_value, attacker_count, created_at
		FROM killmails WHERE killmail_id = ?`, id).Scan(
		&k.KillmailID, &k.KillmailHash, &k.KillmailTime, &k.SolarSystemID,
		&k.TotalValue, &k.DestroyedValue, &k.DroppedValue, &k.AttackerCount, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get killmail %d: %w", id, err)
	}
	return &k, nil
}

// GetKillmailItems returns a killmail's items in stored order, the
// input the fitting reconstructor runs on.
func (db *DB) GetKillmailItems(ctx context.Context, id int64) ([]models.KillmailItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT item_type_id, flag, singleton, quantity_dropped, quantity_destroyed
		FROM killmail_items WHERE killmail_id = ? ORDER BY item_index`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for killmail %d: %w", id, err)
	}
	defer rows.Close()

	var items []models.KillmailItem
	for rows.Next() {
		var it models.KillmailItem
		if err := rows.Scan(&it.ItemTypeID, &it.Flag, &it.Singleton, &it.QuantityDropped, &it.QuantityDestroyed); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetVictim returns a killmail's victim row.
func (db *DB) GetVictim(ctx context.Context, id int64) (*models.Victim, error) {
	var v models.Victim
	var px, py, pz *float64
	err := db.conn.QueryRowContext(ctx, `
		SELECT character_id, corporation_id, alliance_id, faction_id, ship_type_id, damage_taken,
			position_x, position_y, position_z
		FROM victims WHERE killmail_id = ?`, id).Scan(
		&v.CharacterID, &v.CorporationID, &v.AllianceID, &v.FactionID, &v.ShipTypeID, &v.DamageTaken,
		&px, &py, &pz)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get victim for killmail %d: %w", id, err)
	}
	if px != nil && py != nil && pz != nil {
		v.Position = &models.Position{X: *px, Y: *py, Z: *pz}
	}
	return &v, nil
}

// GetAttackers returns a killmail's attackers in stored order.
func (db *DB) GetAttackers(ctx context.Context, id int64) ([]models.Attacker, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT character_id, corporation_id, alliance_id, faction_id, ship_type_id,
			weapon_type_id, damage_done, final_blow, security_status
		FROM attackers WHERE killmail_id = ? ORDER BY attacker_index`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get attackers for killmail %d: %w", id, err)
	}
	defer rows.Close()

	var attackers []models.Attacker
	for rows.Next() {
		var a models.Attacker
		if err := rows.Scan(&a.CharacterID, &a.CorporationID, &a.AllianceID, &a.FactionID,
			&a.ShipTypeID, &a.WeaponTypeID, &a.DamageDone, &a.FinalBlow, &a.SecurityStatus); err != nil {
			return nil, fmt.Errorf("failed to scan attacker: %w", err)
		}
		attackers = append(attackers, a)
	}
	return attackers, rows.Err()
}

// ListKillmailsBySubject pages through killmails a subject appears on,
// as victim or attacker, newest first.
func (db *DB) ListKillmailsBySubject(ctx context.Context, subject models.Subject, limit, offset int) ([]models.Killmail, error) {
	var column string
	switch subject.Kind {
	case models.SubjectCharacter:
		column = "character_id"
	case models.SubjectCorporation:
		column = "corporation_id"
	default:
		return nil, fmt.Errorf("subject kind %q is not queryable", subject.Kind)
	}

	query := fmt.Sprintf(`
		SELECT k.killmail_id, k.killmail_hash, k.killmail_time, k.solar_system_id,
			k.total_value, k.destroyed_value, k.dropped_value, k.attacker_count, k.created_at
		FROM killmails k
		WHERE k.killmail_id IN (
			SELECT killmail_id FROM victims WHERE %[1]s = ?
			UNION
			SELECT killmail_id FROM attackers WHERE %[1]s = ?
		)
		ORDER BY k.killmail_time DESC
		LIMIT ? OFFSET ?`, column)

	return db.scanKillmails(ctx, query, subject.EntityID, subject.EntityID, limit, offset)
}

// ListKillmailsByDateRange pages through killmails in [from, to),
// newest first.
func (db *DB) ListKillmailsByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.Killmail, error) {
	return db.scanKillmails(ctx, `
		SELECT killmail_id, killmail_hash, killmail_time, solar_system_id,
			total_value, destroyed_value, dropped_value, attacker_count, created_at
		FROM killmails
		WHERE killmail_time >= ? AND killmail_time < ?
		ORDER BY killmail_time DESC
		LIMIT ? OFFSET ?`, from, to, limit, offset)
}

func (db *DB) scanKillmails(ctx context.Context, query string, args ...any) ([]models.Killmail, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list killmails: %w", err)
	}
	defer rows.Close()

	var out []models.Killmail
	for rows.Next() {
		var k models.Killmail
		if err := rows.Scan(&k.KillmailID, &k.KillmailHash, &k.KillmailTime, &k.SolarSystemID,
			&k.TotalValue, &k.DestroyedValue, &k.DroppedValue, &k.AttackerCount, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan killmail: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpdateKillmailValues backfills the cached ISK figures for a killmail
// saved before its appraisal succeeded.
func (db *DB) UpdateKillmailValues(ctx context.Context, id int64, val value.Valuation) error {
	defer metrics.TimeDBWrite("update_values", time.Now())

	res, err := db.conn.ExecContext(ctx, `
		UPDATE killmails SET total_value = ?, destroyed_value = ?, dropped_value = ?
		WHERE killmail_id = ?`,
		val.TotalValue, val.DestroyedValue, val.DroppedValue, id)
	if err != nil {
		return fmt.Errorf("failed to update values for killmail %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteKillmail removes a killmail and everything it owns. Cascade is
// explicit: DuckDB does not enforce foreign keys across these tables.
func (db *DB) DeleteKillmail(ctx context.Context, id int64) error {
	defer metrics.TimeDBWrite("delete_killmail", time.Now())

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"killmail_items", "attackers", "victims", "killmails"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE killmail_id = ?", table), id); err != nil {
			return fmt.Errorf("failed to delete from %s for killmail %d: %w", table, id, err)
		}
	}

	return tx.Commit()
}
