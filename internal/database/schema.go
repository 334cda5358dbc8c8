// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package database

import "fmt"

// schema is the full DDL, idempotent so initialization can run on every
// startup. killmail_id is the natural key everywhere; a killmail
// exclusively owns its victim, attacker and item rows.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS killmails (
		killmail_id     BIGINT PRIMARY KEY,
		killmail_hash   VARCHAR NOT NULL,
		killmail_time   TIMESTAMP NOT NULL,
		solar_system_id BIGINT NOT NULL,
		total_value     DOUBLE,
		destroyed_value DOUBLE,
		dropped_value   DOUBLE,
		attacker_count  BIGINT,
		created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS victims (
		killmail_id    BIGINT PRIMARY KEY,
		character_id   BIGINT,
		corporation_id BIGINT NOT NULL,
		alliance_id    BIGINT,
		faction_id     BIGINT,
		ship_type_id   BIGINT NOT NULL,
		damage_taken   BIGINT NOT NULL,
		position_x     DOUBLE,
		position_y     DOUBLE,
		position_z     DOUBLE
	)`,

	`CREATE TABLE IF NOT EXISTS attackers (
		killmail_id     BIGINT NOT NULL,
		attacker_index  INTEGER NOT NULL,
		character_id    BIGINT,
		corporation_id  BIGINT,
		alliance_id     BIGINT,
		faction_id      BIGINT,
		ship_type_id    BIGINT,
		weapon_type_id  BIGINT,
		damage_done     BIGINT NOT NULL,
		final_blow      BOOLEAN NOT NULL,
		security_status DOUBLE,
		PRIMARY KEY (killmail_id, attacker_index)
	)`,

	`CREATE TABLE IF NOT EXISTS killmail_items (
		killmail_id        BIGINT NOT NULL,
		item_index         INTEGER NOT NULL,
		item_type_id       BIGINT NOT NULL,
		flag               BIGINT NOT NULL,
		singleton          BIGINT NOT NULL,
		quantity_dropped   BIGINT,
		quantity_destroyed BIGINT,
		PRIMARY KEY (killmail_id, item_index)
	)`,

	`CREATE TABLE IF NOT EXISTS tracked_subjects (
		kind          VARCHAR NOT NULL,
		entity_id     BIGINT NOT NULL,
		enabled       BOOLEAN NOT NULL DEFAULT TRUE,
		backfill_done BOOLEAN NOT NULL DEFAULT FALSE,
		refresh_token VARCHAR,
		last_synced   TIMESTAMP,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (kind, entity_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_killmails_time ON killmails (killmail_time)`,
	`CREATE INDEX IF NOT EXISTS idx_victims_character ON victims (character_id)`,
	`CREATE INDEX IF NOT EXISTS idx_victims_corporation ON victims (corporation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attackers_character ON attackers (character_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attackers_corporation ON attackers (corporation_id)`,
}

// initialize applies the schema.
func (db *DB) initialize() error {
	for _, stmt := range schema {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
