// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package models

import (
	"github.com/goccy/go-json"
)

// RedisQResponse is the envelope returned by the zKillboard RedisQ
// long-poll endpoint. Package is null when the poll window expired with
// nothing to deliver, which is a normal outcome.
type RedisQResponse struct {
	Package *RedisQPackage `json:"package"`
}

// RedisQPackage is one killmail reference from RedisQ.
//
// Since the Dec 2025 API change the killmail body is no longer embedded;
// only the id and the zkb hash are reliable. The Killmail field is kept as
// raw JSON for diagnostics but must never be trusted as detail.
type RedisQPackage struct {
	KillID   int64           `json:"killID"`
	Killmail json.RawMessage `json:"killmail,omitempty"`
	ZKB      ZKBMeta         `json:"zkb"`
}

// ZKBMeta is the zKillboard-specific metadata attached to both RedisQ
// packages and history pages. Hash is the part the pipeline needs; the
// value figures are upstream opinions, not authoritative.
type ZKBMeta struct {
	LocationID     int64   `json:"locationID"`
	Hash           string  `json:"hash"`
	FittedValue    float64 `json:"fittedValue"`
	DroppedValue   float64 `json:"droppedValue"`
	DestroyedValue float64 `json:"destroyedValue"`
	TotalValue     float64 `json:"totalValue"`
	Points         int     `json:"points"`
	NPC            bool    `json:"npc"`
	Solo           bool    `json:"solo"`
}

// Ref extracts the killmail natural key from a RedisQ package.
func (p *RedisQPackage) Ref() KillmailRef {
	return KillmailRef{ID: p.KillID, Hash: p.ZKB.Hash}
}

// ZKBEntry is one row of a zKillboard history page.
type ZKBEntry struct {
	KillmailID int64   `json:"killmail_id"`
	ZKB        ZKBMeta `json:"zkb"`
}

// Ref extracts the killmail natural key from a history entry.
func (e *ZKBEntry) Ref() KillmailRef {
	return KillmailRef{ID: e.KillmailID, Hash: e.ZKB.Hash}
}
