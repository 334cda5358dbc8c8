// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

// Package fitting reconstructs a structured ship fitting from the flat,
// unordered item list of a killmail.
//
// The input is a set of "item placed at flag F" records. Items sharing a
// flag form a module/charge pair (a gun and its loaded ammo occupy the
// same slot flag). The reconstruction is a pure function of the item list
// plus optional ship slot counts; it never touches storage.
package fitting

import (
	"sort"

	"github.com/lostsec/killfeed/internal/models"
)

// Slot array defaults, used when no authoritative slot counts are
// available and no occupied flag suggests otherwise.
const (
	DefaultHighSlots = 8
	DefaultMidSlots  = 8
	DefaultLowSlots  = 8
	DefaultRigSlots  = 3

	maxSubsystemSlots = 4
	maxServiceSlots   = 8
)

// SlotCounts is the ship-type-specific number of fittable slots, derived
// from the hull's dogma attributes by the caller. A zero value for a
// category means "unknown"; some configurable hulls (T3 cruisers) report
// zero slots on the type itself.
type SlotCounts struct {
	High    int `json:"high"`
	Mid     int `json:"mid"`
	Low     int `json:"low"`
	Rig     int `json:"rig"`
	Service int `json:"service"`
}

// Charge is a consumable loaded into a module: ammunition, a script, a
// crystal. Charges never nest.
type Charge struct {
	ItemTypeID        int64  `json:"item_type_id"`
	QuantityDropped   *int64 `json:"quantity_dropped,omitempty"`
	QuantityDestroyed *int64 `json:"quantity_destroyed,omitempty"`
}

// Module is an item occupying a position in the fitting. A module may
// carry a charge; a charge never exists standalone in the structured view.
type Module struct {
	ItemTypeID        int64   `json:"item_type_id"`
	Singleton         int64   `json:"singleton"`
	QuantityDropped   *int64  `json:"quantity_dropped,omitempty"`
	QuantityDestroyed *int64  `json:"quantity_destroyed,omitempty"`
	Charge            *Charge `json:"charge,omitempty"`
}

// Fitting is the structured reconstruction of a ship's equipped modules,
// charges and bays. Slot arrays are fixed-size and positional: index i
// holds the module at slot i, nil when the slot is empty. Subsystems and
// Services are nil (omitted entirely) unless at least one item with a
// flag in that category exists. Bays are unordered.
type Fitting struct {
	HighSlots []*Module `json:"high_slots"`
	MidSlots  []*Module `json:"mid_slots"`
	LowSlots  []*Module `json:"low_slots"`
	RigSlots  []*Module `json:"rig_slots"`

	Subsystems []*Module `json:"subsystems,omitempty"`
	Services   []*Module `json:"services,omitempty"`

	Implants      []*Module `json:"implants,omitempty"`
	Cargo         []*Module `json:"cargo,omitempty"`
	DroneBay      []*Module `json:"drone_bay,omitempty"`
	FighterBay    []*Module `json:"fighter_bay,omitempty"`
	StructureFuel []*Module `json:"structure_fuel,omitempty"`
	CoreRoom      []*Module `json:"core_room,omitempty"`

	// SlotCountsEstimated is set when a high/mid/low slot count had to be
	// derived from the highest occupied flag instead of the authoritative
	// ship attributes. The derivation undercounts hulls with trailing
	// empty slots, so consumers should treat the array length as a lower
	// bound in that case.
	SlotCountsEstimated bool `json:"slot_counts_estimated,omitempty"`
}

// flagGroup is the set of items sharing one positional flag.
type flagGroup struct {
	flag  Flag
	items []models.KillmailItem
}

// Organize reconstructs a Fitting from a killmail's flat item list.
//
// counts may be nil, in which case the universal slot defaults apply.
// When counts reports zero for a category that has occupied flags, the
// effective count is derived from the highest occupied flag; the result
// is then marked SlotCountsEstimated rather than silently trusted.
func Organize(items []models.KillmailItem, counts *SlotCounts) *Fitting {
	groups := groupByFlag(items)

	f := &Fitting{}

	// Effective sizes for the positional categories. When no slot counts
	// were supplied at all, the universal defaults apply; the flag-derived
	// fallback only kicks in when an authoritative source explicitly
	// reported zero.
	known := counts != nil
	highs, estHigh := effectiveCount(known, counts.high(), maxIndex(groups, CategoryHigh), DefaultHighSlots)
	mids, estMid := effectiveCount(known, counts.mid(), maxIndex(groups, CategoryMid), DefaultMidSlots)
	lows, estLow := effectiveCount(known, counts.low(), maxIndex(groups, CategoryLow), DefaultLowSlots)
	rigs, _ := effectiveCount(known, counts.rig(), maxIndex(groups, CategoryRig), DefaultRigSlots)
	f.SlotCountsEstimated = estHigh || estMid || estLow

	f.HighSlots = make([]*Module, highs)
	f.MidSlots = make([]*Module, mids)
	f.LowSlots = make([]*Module, lows)
	f.RigSlots = make([]*Module, rigs)

	// Subsystem and service arrays exist only when occupied.
	if maxIndex(groups, CategorySubsystem) >= 0 {
		f.Subsystems = make([]*Module, maxSubsystemSlots)
	}
	if maxIndex(groups, CategoryService) >= 0 {
		n := counts.service()
		if n <= 0 || n > maxServiceSlots {
			n = maxServiceSlots
		}
		if occ := maxIndex(groups, CategoryService) + 1; occ > n {
			n = occ
		}
		f.Services = make([]*Module, n)
	}

	for _, g := range groups {
		module, extras := pair(g.items)

		cat := Categorize(g.flag)
		switch cat {
		case CategoryHigh, CategoryMid, CategoryLow, CategoryRig, CategorySubsystem, CategoryService:
			f.placeSlot(cat, int(g.flag-baseFlag(cat)), module)
			// A slot flag carrying more than two items does not occur in
			// well-formed killmails; keep the leftovers as loose cargo
			// rather than dropping them.
			f.Cargo = append(f.Cargo, extras...)
		case CategoryImplant:
			f.Implants = append(f.Implants, module)
			f.Implants = append(f.Implants, extras...)
		case CategoryDroneBay:
			f.DroneBay = append(f.DroneBay, module)
			f.DroneBay = append(f.DroneBay, extras...)
		case CategoryFighterBay:
			f.FighterBay = append(f.FighterBay, module)
			f.FighterBay = append(f.FighterBay, extras...)
		case CategoryStructureFuel:
			f.StructureFuel = append(f.StructureFuel, module)
			f.StructureFuel = append(f.StructureFuel, extras...)
		case CategoryCoreRoom:
			f.CoreRoom = append(f.CoreRoom, module)
			f.CoreRoom = append(f.CoreRoom, extras...)
		default:
			// Cargo and any flag outside the known enumeration.
			f.Cargo = append(f.Cargo, module)
			f.Cargo = append(f.Cargo, extras...)
		}
	}

	return f
}

// placeSlot writes a module into a positional slot array, growing the
// array when upstream data claims a flag beyond the reported slot count.
func (f *Fitting) placeSlot(cat Category, idx int, m *Module) {
	var arr *[]*Module
	switch cat {
	case CategoryHigh:
		arr = &f.HighSlots
	case CategoryMid:
		arr = &f.MidSlots
	case CategoryLow:
		arr = &f.LowSlots
	case CategoryRig:
		arr = &f.RigSlots
	case CategorySubsystem:
		arr = &f.Subsystems
	case CategoryService:
		arr = &f.Services
	default:
		return
	}
	for idx >= len(*arr) {
		*arr = append(*arr, nil)
	}
	(*arr)[idx] = m
}

// pair resolves a flag group into one module (optionally carrying a
// charge) plus any leftover items as standalone modules.
//
// Two items sharing a flag are a module and its loaded charge. The
// precedence for telling them apart:
//
//  1. singleton=1 vs singleton=0: the singleton item is the module.
//  2. both singleton=1 (a weapon and always-fitted ammo): the higher
//     type id is treated as the module. Launchers and turrets tend to
//     have higher type ids than their ammo. This is an empirical
//     heuristic with no authoritative source; it can misclassify pairs
//     where the ammo's type id exceeds the weapon's, and is kept as-is
//     for compatibility with historical reconstructions.
//  3. anything else: sort by singleton descending then type id
//     descending and take the first as the module.
//
// Groups of three or more items cannot be paired; every item becomes its
// own module.
func pair(items []models.KillmailItem) (*Module, []*Module) {
	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		return asModule(&items[0]), nil
	case 2:
		sorted := make([]models.KillmailItem, 2)
		copy(sorted, items)
		sortByPrecedence(sorted)

		m := asModule(&sorted[0])
		m.Charge = &Charge{
			ItemTypeID:        sorted[1].ItemTypeID,
			QuantityDropped:   sorted[1].QuantityDropped,
			QuantityDestroyed: sorted[1].QuantityDestroyed,
		}
		return m, nil
	default:
		sorted := make([]models.KillmailItem, len(items))
		copy(sorted, items)
		sortByPrecedence(sorted)

		extras := make([]*Module, 0, len(sorted)-1)
		for i := 1; i < len(sorted); i++ {
			extras = append(extras, asModule(&sorted[i]))
		}
		return asModule(&sorted[0]), extras
	}
}

// sortByPrecedence orders items singleton-descending, then type id
// descending. The sort is stable so equal items keep upstream order.
func sortByPrecedence(items []models.KillmailItem) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Singleton != items[b].Singleton {
			return items[a].Singleton > items[b].Singleton
		}
		return items[a].ItemTypeID > items[b].ItemTypeID
	})
}

func asModule(it *models.KillmailItem) *Module {
	return &Module{
		ItemTypeID:        it.ItemTypeID,
		Singleton:         it.Singleton,
		QuantityDropped:   it.QuantityDropped,
		QuantityDestroyed: it.QuantityDestroyed,
	}
}

// groupByFlag buckets items by their positional flag, preserving the
// upstream delivery order within each bucket.
func groupByFlag(items []models.KillmailItem) []flagGroup {
	index := make(map[Flag]int)
	groups := make([]flagGroup, 0, len(items))
	for i := range items {
		fl := Flag(items[i].Flag)
		gi, ok := index[fl]
		if !ok {
			gi = len(groups)
			index[fl] = gi
			groups = append(groups, flagGroup{flag: fl})
		}
		groups[gi].items = append(groups[gi].items, items[i])
	}
	return groups
}

// effectiveCount resolves the size of a positional slot array.
//
// An authoritative positive count wins. An authoritative zero with
// occupied flags derives the size from the highest occupied index, a
// documented heuristic that undercounts trailing empty slots. In every
// other case the universal default applies.
func effectiveCount(known bool, authoritative, maxOccupied, def int) (n int, estimated bool) {
	switch {
	case authoritative > 0:
		if maxOccupied+1 > authoritative {
			return maxOccupied + 1, false
		}
		return authoritative, false
	case known && maxOccupied >= 0:
		return maxOccupied + 1, true
	default:
		return def, false
	}
}

// maxIndex returns the highest occupied slot index in a category, or -1
// when the category has no items.
func maxIndex(groups []flagGroup, cat Category) int {
	max := -1
	for _, g := range groups {
		if Categorize(g.flag) != cat {
			continue
		}
		if idx := int(g.flag - baseFlag(cat)); idx > max {
			max = idx
		}
	}
	return max
}

// Nil-safe accessors so Organize can take a nil *SlotCounts.

func (c *SlotCounts) high() int {
	if c == nil {
		return 0
	}
	return c.High
}

func (c *SlotCounts) mid() int {
	if c == nil {
		return 0
	}
	return c.Mid
}

func (c *SlotCounts) low() int {
	if c == nil {
		return 0
	}
	return c.Low
}

func (c *SlotCounts) rig() int {
	if c == nil {
		return 0
	}
	return c.Rig
}

func (c *SlotCounts) service() int {
	if c == nil {
		return 0
	}
	return c.Service
}
