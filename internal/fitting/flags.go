// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package fitting

// Flag is an EVE inventory flag: an integer code denoting an item's
// position on a ship or structure. The values come from the game's
// invFlags table and are stable across API versions.
type Flag int64

// Slot and bay flag codes used by killmail items.
const (
	FlagCargo Flag = 5

	FlagLoSlot0  Flag = 11 // 11-18: low slots 0-7
	FlagMedSlot0 Flag = 19 // 19-26: mid slots 0-7
	FlagHiSlot0  Flag = 27 // 27-34: high slots 0-7

	FlagDroneBay Flag = 87

	FlagRigSlot0 Flag = 92 // 92-94: rig slots 0-2

	FlagSubSystem0 Flag = 125 // 125-128: subsystem slots 0-3

	FlagFighterBay   Flag = 158
	FlagFighterTube0 Flag = 159 // 159-163: fighter tubes 0-4

	FlagServiceSlot0 Flag = 164 // 164-171: Upwell service slots 0-7

	FlagStructureFuel Flag = 172
	FlagCoreRoom      Flag = 180
)

// implantFlags are the ten implant bay codes. They are non-contiguous:
// the 92-94 range in the middle belongs to rig slots.
var implantFlags = map[Flag]struct{}{
	89: {}, 90: {}, 91: {},
	95: {}, 96: {}, 97: {}, 98: {}, 99: {}, 100: {}, 101: {},
}

// Category is the structural group a flag belongs to within a fitting.
type Category int

// Fitting categories. Slot categories are indexed arrays; bay categories
// are unordered lists.
const (
	CategoryUnknown Category = iota
	CategoryHigh
	CategoryMid
	CategoryLow
	CategoryRig
	CategorySubsystem
	CategoryService
	CategoryImplant
	CategoryCargo
	CategoryDroneBay
	CategoryFighterBay
	CategoryStructureFuel
	CategoryCoreRoom
)

// String returns the category name as used in JSON output and logs.
func (c Category) String() string {
	switch c {
	case CategoryHigh:
		return "high"
	case CategoryMid:
		return "mid"
	case CategoryLow:
		return "low"
	case CategoryRig:
		return "rig"
	case CategorySubsystem:
		return "subsystem"
	case CategoryService:
		return "service"
	case CategoryImplant:
		return "implant"
	case CategoryCargo:
		return "cargo"
	case CategoryDroneBay:
		return "drone_bay"
	case CategoryFighterBay:
		return "fighter_bay"
	case CategoryStructureFuel:
		return "structure_fuel"
	case CategoryCoreRoom:
		return "core_room"
	default:
		return "unknown"
	}
}

// Categorize maps a flag code to its fitting category.
func Categorize(f Flag) Category {
	switch {
	case f >= FlagHiSlot0 && f < FlagHiSlot0+8:
		return CategoryHigh
	case f >= FlagMedSlot0 && f < FlagMedSlot0+8:
		return CategoryMid
	case f >= FlagLoSlot0 && f < FlagLoSlot0+8:
		return CategoryLow
	case f >= FlagRigSlot0 && f < FlagRigSlot0+3:
		return CategoryRig
	case f >= FlagSubSystem0 && f < FlagSubSystem0+4:
		return CategorySubsystem
	case f >= FlagServiceSlot0 && f < FlagServiceSlot0+8:
		return CategoryService
	case f == FlagCargo:
		return CategoryCargo
	case f == FlagDroneBay:
		return CategoryDroneBay
	case f == FlagFighterBay || (f >= FlagFighterTube0 && f < FlagFighterTube0+5):
		return CategoryFighterBay
	case f == FlagStructureFuel:
		return CategoryStructureFuel
	case f == FlagCoreRoom:
		return CategoryCoreRoom
	default:
		if _, ok := implantFlags[f]; ok {
			return CategoryImplant
		}
		return CategoryUnknown
	}
}

// baseFlag returns the first flag code of an indexed slot category.
// Only meaningful for the slot categories.
func baseFlag(c Category) Flag {
	switch c {
	case CategoryHigh:
		return FlagHiSlot0
	case CategoryMid:
		return FlagMedSlot0
	case CategoryLow:
		return FlagLoSlot0
	case CategoryRig:
		return FlagRigSlot0
	case CategorySubsystem:
		return FlagSubSystem0
	case CategoryService:
		return FlagServiceSlot0
	default:
		return 0
	}
}
