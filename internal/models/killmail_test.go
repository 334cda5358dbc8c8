// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package models

import (
	"strings"
	"testing"
	"time"
)

func i64(v int64) *int64 { return &v }

func validDetail() *KillmailDetail {
	return &KillmailDetail{
		KillmailID:    128000001,
		KillmailTime:  time.Date(2026, 3, 14, 18, 22, 0, 0, time.UTC),
		SolarSystemID: 30000142,
		Victim: Victim{
			CharacterID:   i64(90000001),
			CorporationID: 98000001,
			ShipTypeID:    587,
			DamageTaken:   4312,
			Items: []KillmailItem{
				{ItemTypeID: 3178, Flag: 27, Singleton: 1, QuantityDestroyed: i64(1)},
			},
		},
		Attackers: []Attacker{
			{CharacterID: i64(90000002), CorporationID: i64(98000002), DamageDone: 4312, FinalBlow: true, SecurityStatus: -1.2},
		},
	}
}

func TestValidateAcceptsWellFormedDetail(t *testing.T) {
	if err := validDetail().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*KillmailDetail)
		wantMsg string
	}{
		{
			name:    "zero killmail id",
			mutate:  func(d *KillmailDetail) { d.KillmailID = 0 },
			wantMsg: "non-positive killmail_id",
		},
		{
			name:    "missing timestamp",
			mutate:  func(d *KillmailDetail) { d.KillmailTime = time.Time{} },
			wantMsg: "missing killmail_time",
		},
		{
			name:    "victim without corporation",
			mutate:  func(d *KillmailDetail) { d.Victim.CorporationID = 0 },
			wantMsg: "no corporation",
		},
		{
			name:    "no attackers",
			mutate:  func(d *KillmailDetail) { d.Attackers = nil },
			wantMsg: "no attackers",
		},
		{
			name:    "no final blow",
			mutate:  func(d *KillmailDetail) { d.Attackers[0].FinalBlow = false },
			wantMsg: "exactly one final blow",
		},
		{
			name: "two final blows",
			mutate: func(d *KillmailDetail) {
				d.Attackers = append(d.Attackers, Attacker{DamageDone: 1, FinalBlow: true})
			},
			wantMsg: "exactly one final blow",
		},
		{
			name: "item with no positive quantity",
			mutate: func(d *KillmailDetail) {
				d.Victim.Items[0].QuantityDestroyed = nil
			},
			wantMsg: "no positive quantity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDetail()
			tt.mutate(d)
			err := d.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestItemQuantity(t *testing.T) {
	tests := []struct {
		name string
		item KillmailItem
		want int64
	}{
		{"both nil", KillmailItem{}, 0},
		{"dropped only", KillmailItem{QuantityDropped: i64(3)}, 3},
		{"destroyed only", KillmailItem{QuantityDestroyed: i64(2)}, 2},
		{"both set", KillmailItem{QuantityDropped: i64(3), QuantityDestroyed: i64(2)}, 5},
	}

	for _, tt := range tests {
		if got := tt.item.Quantity(); got != tt.want {
			t.Errorf("%s: Quantity() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestFinalBlow(t *testing.T) {
	d := validDetail()
	fb := d.FinalBlow()
	if fb == nil {
		t.Fatal("expected a final blow attacker")
	}
	if fb.CharacterID == nil || *fb.CharacterID != 90000002 {
		t.Errorf("wrong attacker returned: %+v", fb)
	}

	d.Attackers[0].FinalBlow = false
	if d.FinalBlow() != nil {
		t.Error("expected nil when no attacker has final blow")
	}
}

func TestSubjectString(t *testing.T) {
	s := Subject{Kind: SubjectCharacter, EntityID: 90000001}
	if got := s.String(); got != "character:90000001" {
		t.Errorf("String() = %q", got)
	}
}
