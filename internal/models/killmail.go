// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

// Package models defines the canonical killmail data structures shared by
// the upstream clients, the persistence layer, and the derived-view code.
//
// KillmailDetail is the single internal representation of a killmail. Each
// upstream client maps its source-specific wire shape into this struct at
// the boundary; nothing downstream of the clients ever sees upstream JSON.
//
// Nullable numeric fields are pointers with "nil means not applicable, not
// zero" semantics. QuantityDropped/QuantityDestroyed in particular must not
// be collapsed to zero: an absent quantity and a zero quantity are different
// statements about an item.
package models

import (
	"fmt"
	"time"
)

// KillmailRef is the natural key of a killmail: the external integer id
// plus the integrity hash every upstream requires to fetch full detail.
type KillmailRef struct {
	ID   int64  `json:"killmail_id"`
	Hash string `json:"killmail_hash"`
}

// KillmailDetail is the canonical internal killmail representation.
// The field layout and JSON tags follow the ESI killmail schema, which is
// the richest of the three upstream shapes.
type KillmailDetail struct {
	KillmailID    int64      `json:"killmail_id"`
	KillmailTime  time.Time  `json:"killmail_time"`
	SolarSystemID int64      `json:"solar_system_id"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers"`
}

// Victim is the single victim of a killmail. CorporationID is the only
// non-nullable actor reference: NPC-owned structures still have a
// corporation even when no character or alliance is involved.
type Victim struct {
	CharacterID   *int64    `json:"character_id,omitempty"`
	CorporationID int64     `json:"corporation_id"`
	AllianceID    *int64    `json:"alliance_id,omitempty"`
	FactionID     *int64    `json:"faction_id,omitempty"`
	ShipTypeID    int64     `json:"ship_type_id"`
	DamageTaken   int64     `json:"damage_taken"`
	Position      *Position `json:"position,omitempty"`

	Items []KillmailItem `json:"items,omitempty"`
}

// Attacker is one of the N attackers on a killmail. Exactly one attacker
// per killmail carries FinalBlow=true.
type Attacker struct {
	CharacterID    *int64  `json:"character_id,omitempty"`
	CorporationID  *int64  `json:"corporation_id,omitempty"`
	AllianceID     *int64  `json:"alliance_id,omitempty"`
	FactionID      *int64  `json:"faction_id,omitempty"`
	ShipTypeID     *int64  `json:"ship_type_id,omitempty"`
	WeaponTypeID   *int64  `json:"weapon_type_id,omitempty"`
	DamageDone     int64   `json:"damage_done"`
	FinalBlow      bool    `json:"final_blow"`
	SecurityStatus float64 `json:"security_status"`
}

// KillmailItem is one inventory record from the victim's ship. Flag is a
// positional code from the EVE inventory-flag enumeration (see the fitting
// package); Singleton distinguishes a fitted/unique item (1) from a stacked
// one (0).
type KillmailItem struct {
	ItemTypeID        int64  `json:"item_type_id"`
	Flag              int64  `json:"flag"`
	Singleton         int64  `json:"singleton"`
	QuantityDropped   *int64 `json:"quantity_dropped,omitempty"`
	QuantityDestroyed *int64 `json:"quantity_destroyed,omitempty"`
}

// Position is a 3D coordinate in a solar system.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quantity returns the combined dropped+destroyed quantity of the item.
func (i *KillmailItem) Quantity() int64 {
	var q int64
	if i.QuantityDropped != nil {
		q += *i.QuantityDropped
	}
	if i.QuantityDestroyed != nil {
		q += *i.QuantityDestroyed
	}
	return q
}

// Validate checks the structural invariants of a killmail before it is
// admitted to the pipeline. Violations indicate a malformed upstream
// payload, which aborts processing of that single killmail only.
func (d *KillmailDetail) Validate() error {
	if d.KillmailID <= 0 {
		return fmt.Errorf("killmail %d: non-positive killmail_id", d.KillmailID)
	}
	if d.KillmailTime.IsZero() {
		return fmt.Errorf("killmail %d: missing killmail_time", d.KillmailID)
	}
	if d.Victim.CorporationID == 0 {
		return fmt.Errorf("killmail %d: victim has no corporation", d.KillmailID)
	}
	if len(d.Attackers) == 0 {
		return fmt.Errorf("killmail %d: no attackers", d.KillmailID)
	}

	finalBlows := 0
	for i := range d.Attackers {
		if d.Attackers[i].FinalBlow {
			finalBlows++
		}
	}
	if finalBlows != 1 {
		return fmt.Errorf("killmail %d: expected exactly one final blow, got %d", d.KillmailID, finalBlows)
	}

	for i := range d.Victim.Items {
		it := &d.Victim.Items[i]
		if it.Quantity() <= 0 {
			return fmt.Errorf("killmail %d: item type %d has no positive quantity", d.KillmailID, it.ItemTypeID)
		}
	}

	return nil
}

// FinalBlow returns the attacker that landed the final blow, or nil when
// the detail is malformed.
func (d *KillmailDetail) FinalBlow() *Attacker {
	for i := range d.Attackers {
		if d.Attackers[i].FinalBlow {
			return &d.Attackers[i]
		}
	}
	return nil
}

// Killmail is the stored killmail row with its lazily computed aggregates.
// The value columns and AttackerCount are caches: both must always be
// re-derivable from the detail plus an external price lookup.
type Killmail struct {
	KillmailID     int64
	KillmailHash   string
	KillmailTime   time.Time
	SolarSystemID  int64
	TotalValue     *float64
	DestroyedValue *float64
	DroppedValue   *float64
	AttackerCount  *int64
	CreatedAt      time.Time
}

// SubjectKind identifies what a tracked subject refers to.
type SubjectKind string

// Subject kinds accepted by the sync pipeline.
const (
	SubjectCharacter   SubjectKind = "character"
	SubjectCorporation SubjectKind = "corporation"
	SubjectGlobal      SubjectKind = "global"
)

// Subject is one entity whose killmails the pipeline keeps in sync.
type Subject struct {
	Kind     SubjectKind
	EntityID int64
}

func (s Subject) String() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.EntityID)
}

// TrackedSubject is the stored sync bookkeeping for a subject.
type TrackedSubject struct {
	Subject
	Enabled      bool
	BackfillDone bool
	RefreshToken *string
	LastSynced   *time.Time
	CreatedAt    time.Time
}
