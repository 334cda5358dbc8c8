// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package fitting

import (
	"testing"

	"github.com/lostsec/killfeed/internal/models"
)

func i64(v int64) *int64 { return &v }

func item(typeID, flag, singleton int64) models.KillmailItem {
	return models.KillmailItem{
		ItemTypeID:        typeID,
		Flag:              flag,
		Singleton:         singleton,
		QuantityDestroyed: i64(1),
	}
}

func TestOrganizeEmptyWithoutSlotCounts(t *testing.T) {
	f := Organize(nil, nil)

	if len(f.HighSlots) != DefaultHighSlots {
		t.Errorf("high slots = %d, want %d", len(f.HighSlots), DefaultHighSlots)
	}
	if len(f.MidSlots) != DefaultMidSlots {
		t.Errorf("mid slots = %d, want %d", len(f.MidSlots), DefaultMidSlots)
	}
	if len(f.LowSlots) != DefaultLowSlots {
		t.Errorf("low slots = %d, want %d", len(f.LowSlots), DefaultLowSlots)
	}
	if len(f.RigSlots) != DefaultRigSlots {
		t.Errorf("rig slots = %d, want %d", len(f.RigSlots), DefaultRigSlots)
	}
	for i, m := range f.HighSlots {
		if m != nil {
			t.Errorf("high slot %d should be nil", i)
		}
	}
	if f.Subsystems != nil {
		t.Error("subsystems should be omitted for an empty hull")
	}
	if f.Services != nil {
		t.Error("services should be omitted for an empty hull")
	}
	if len(f.Cargo)+len(f.DroneBay)+len(f.Implants) != 0 {
		t.Error("bags should be empty")
	}
	if f.SlotCountsEstimated {
		t.Error("defaults are not an estimate")
	}
}

func TestOrganizeSlotIndexing(t *testing.T) {
	items := []models.KillmailItem{
		item(2048, int64(FlagHiSlot0), 1),
		item(2049, int64(FlagHiSlot0)+5, 1),
		item(1405, int64(FlagLoSlot0)+2, 1),
		item(5973, int64(FlagMedSlot0)+7, 1),
		item(31716, int64(FlagRigSlot0)+1, 1),
	}

	f := Organize(items, &SlotCounts{High: 8, Mid: 8, Low: 8, Rig: 3})

	if f.HighSlots[0] == nil || f.HighSlots[0].ItemTypeID != 2048 {
		t.Errorf("high slot 0 = %+v, want type 2048", f.HighSlots[0])
	}
	if f.HighSlots[5] == nil || f.HighSlots[5].ItemTypeID != 2049 {
		t.Errorf("high slot 5 = %+v, want type 2049", f.HighSlots[5])
	}
	if f.LowSlots[2] == nil || f.LowSlots[2].ItemTypeID != 1405 {
		t.Errorf("low slot 2 = %+v, want type 1405", f.LowSlots[2])
	}
	if f.MidSlots[7] == nil || f.MidSlots[7].ItemTypeID != 5973 {
		t.Errorf("mid slot 7 = %+v, want type 5973", f.MidSlots[7])
	}
	if f.RigSlots[1] == nil || f.RigSlots[1].ItemTypeID != 31716 {
		t.Errorf("rig slot 1 = %+v, want type 31716", f.RigSlots[1])
	}

	// Unoccupied indices stay nil.
	for _, idx := range []int{1, 2, 3, 4, 6, 7} {
		if f.HighSlots[idx] != nil {
			t.Errorf("high slot %d should be nil", idx)
		}
	}
}

// A railgun with a loaded charge: singleton=1 is the module, singleton=0
// the charge, regardless of input order.
func TestOrganizeModuleChargePairing(t *testing.T) {
	gun := item(3178, 27, 1)
	ammo := models.KillmailItem{ItemTypeID: 12608, Flag: 27, Singleton: 0, QuantityDestroyed: i64(1)}

	for name, items := range map[string][]models.KillmailItem{
		"module first": {gun, ammo},
		"charge first": {ammo, gun},
	} {
		f := Organize(items, nil)

		m := f.HighSlots[0]
		if m == nil {
			t.Fatalf("%s: high slot 0 empty", name)
		}
		if m.ItemTypeID != 3178 {
			t.Errorf("%s: module type = %d, want 3178", name, m.ItemTypeID)
		}
		if m.Charge == nil {
			t.Fatalf("%s: expected a charge", name)
		}
		if m.Charge.ItemTypeID != 12608 {
			t.Errorf("%s: charge type = %d, want 12608", name, m.Charge.ItemTypeID)
		}
		if m.Charge.QuantityDestroyed == nil || *m.Charge.QuantityDestroyed != 1 {
			t.Errorf("%s: charge quantity destroyed = %v, want 1", name, m.Charge.QuantityDestroyed)
		}
	}
}

// Both items singleton=1: the higher type id wins the module position.
func TestOrganizeAmbiguousPairTieBreak(t *testing.T) {
	a := item(100, 27, 1)
	b := item(200, 27, 1)

	for name, items := range map[string][]models.KillmailItem{
		"ascending":  {a, b},
		"descending": {b, a},
	} {
		f := Organize(items, nil)
		m := f.HighSlots[0]
		if m == nil || m.ItemTypeID != 200 {
			t.Errorf("%s: module = %+v, want type 200", name, m)
		}
		if m != nil && (m.Charge == nil || m.Charge.ItemTypeID != 100) {
			t.Errorf("%s: charge = %+v, want type 100", name, m.Charge)
		}
	}
}

func TestOrganizeSubsystemsOnlyWhenPresent(t *testing.T) {
	f := Organize([]models.KillmailItem{item(45626, int64(FlagSubSystem0)+2, 1)}, nil)

	if len(f.Subsystems) != 4 {
		t.Fatalf("subsystems = %d slots, want 4", len(f.Subsystems))
	}
	if f.Subsystems[2] == nil || f.Subsystems[2].ItemTypeID != 45626 {
		t.Errorf("subsystem slot 2 = %+v", f.Subsystems[2])
	}
}

func TestOrganizeServicesOnlyWhenPresent(t *testing.T) {
	f := Organize([]models.KillmailItem{item(35894, int64(FlagServiceSlot0), 1)}, nil)

	if len(f.Services) != 8 {
		t.Fatalf("services = %d slots, want 8", len(f.Services))
	}
	if f.Services[0] == nil || f.Services[0].ItemTypeID != 35894 {
		t.Errorf("service slot 0 = %+v", f.Services[0])
	}
}

func TestOrganizeBags(t *testing.T) {
	items := []models.KillmailItem{
		item(12608, int64(FlagCargo), 0),
		item(2456, int64(FlagDroneBay), 0),
		item(2205, 89, 1),  // implant
		item(20499, 95, 1), // implant, across the rig-flag gap
		item(47140, int64(FlagFighterTube0)+3, 1),
		item(4247, int64(FlagStructureFuel), 0),
		item(56201, int64(FlagCoreRoom), 1),
	}

	f := Organize(items, nil)

	if len(f.Cargo) != 1 || f.Cargo[0].ItemTypeID != 12608 {
		t.Errorf("cargo = %+v", f.Cargo)
	}
	if len(f.DroneBay) != 1 || f.DroneBay[0].ItemTypeID != 2456 {
		t.Errorf("drone bay = %+v", f.DroneBay)
	}
	if len(f.Implants) != 2 {
		t.Errorf("implants = %d entries, want 2", len(f.Implants))
	}
	if len(f.FighterBay) != 1 || f.FighterBay[0].ItemTypeID != 47140 {
		t.Errorf("fighter bay = %+v", f.FighterBay)
	}
	if len(f.StructureFuel) != 1 || f.StructureFuel[0].ItemTypeID != 4247 {
		t.Errorf("structure fuel = %+v", f.StructureFuel)
	}
	if len(f.CoreRoom) != 1 || f.CoreRoom[0].ItemTypeID != 56201 {
		t.Errorf("core room = %+v", f.CoreRoom)
	}
}

// Pairing applies inside a shared bag flag too: two items in the drone
// bay flag become a module carrying a charge, not two modules.
func TestOrganizePairingWithinBagFlag(t *testing.T) {
	items := []models.KillmailItem{
		item(2456, int64(FlagDroneBay), 1),
		models.KillmailItem{ItemTypeID: 500, Flag: int64(FlagDroneBay), Singleton: 0, QuantityDropped: i64(50)},
	}

	f := Organize(items, nil)
	if len(f.DroneBay) != 1 {
		t.Fatalf("drone bay = %d entries, want 1", len(f.DroneBay))
	}
	if f.DroneBay[0].Charge == nil || f.DroneBay[0].Charge.ItemTypeID != 500 {
		t.Errorf("drone bay charge = %+v", f.DroneBay[0].Charge)
	}
}

func TestOrganizeZeroReportedSlotCountFallback(t *testing.T) {
	// Authoritative source reports zero high slots (configurable hull)
	// but the wreck has items up to high slot index 4.
	items := []models.KillmailItem{
		item(3057, 27, 1),
		item(3058, 31, 1),
	}

	f := Organize(items, &SlotCounts{High: 0, Mid: 4, Low: 4, Rig: 3})

	if len(f.HighSlots) != 5 {
		t.Errorf("high slots = %d, want 5 (max occupied flag 31 - 27 + 1)", len(f.HighSlots))
	}
	if !f.SlotCountsEstimated {
		t.Error("fallback derivation must be flagged as estimated")
	}
	if len(f.MidSlots) != 4 {
		t.Errorf("mid slots = %d, want authoritative 4", len(f.MidSlots))
	}
}

func TestOrganizeZeroReportedAndNoItemsUsesDefault(t *testing.T) {
	f := Organize([]models.KillmailItem{item(3057, 27, 1)}, &SlotCounts{High: 8})

	if len(f.MidSlots) != DefaultMidSlots {
		t.Errorf("mid slots = %d, want default %d", len(f.MidSlots), DefaultMidSlots)
	}
	if f.SlotCountsEstimated {
		t.Error("default fill for an empty category is not an estimate")
	}
}

func TestOrganizeGrowsSlotArrayOnOutOfRangeFlag(t *testing.T) {
	// Authoritative count says 2 highs but an item sits at index 6.
	f := Organize([]models.KillmailItem{item(3057, 33, 1)}, &SlotCounts{High: 2, Mid: 8, Low: 8, Rig: 3})

	if len(f.HighSlots) != 7 {
		t.Fatalf("high slots = %d, want 7", len(f.HighSlots))
	}
	if f.HighSlots[6] == nil || f.HighSlots[6].ItemTypeID != 3057 {
		t.Errorf("high slot 6 = %+v", f.HighSlots[6])
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		flag Flag
		want Category
	}{
		{27, CategoryHigh},
		{34, CategoryHigh},
		{19, CategoryMid},
		{26, CategoryMid},
		{11, CategoryLow},
		{18, CategoryLow},
		{92, CategoryRig},
		{94, CategoryRig},
		{125, CategorySubsystem},
		{128, CategorySubsystem},
		{164, CategoryService},
		{171, CategoryService},
		{5, CategoryCargo},
		{87, CategoryDroneBay},
		{89, CategoryImplant},
		{95, CategoryImplant},
		{101, CategoryImplant},
		{158, CategoryFighterBay},
		{163, CategoryFighterBay},
		{172, CategoryStructureFuel},
		{180, CategoryCoreRoom},
		{0, CategoryUnknown},
		{999, CategoryUnknown},
	}

	for _, tt := range tests {
		if got := Categorize(tt.flag); got != tt.want {
			t.Errorf("Categorize(%d) = %v, want %v", tt.flag, got, tt.want)
		}
	}
}
