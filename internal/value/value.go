// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

// Package value computes ISK appraisals for killmails from market price
// data. The calculation is deliberately simple: quantity times average
// market price, with the destroyed hull always counted in full.
package value

import (
	"context"

	"github.com/lostsec/killfeed/internal/models"
)

// Price is the market price record for one item type, as published by
// the ESI market prices endpoint.
type Price struct {
	TypeID        int64   `json:"type_id"`
	AveragePrice  float64 `json:"average_price"`
	AdjustedPrice float64 `json:"adjusted_price"`
}

// PriceLookup resolves market prices for a set of item types. Types
// with no known price are simply absent from the returned map; callers
// treat absence as a zero price.
type PriceLookup interface {
	Prices(ctx context.Context, typeIDs []int64) (map[int64]Price, error)
}

// Valuation is the ISK breakdown of a single killmail.
//
// The hull is always destroyed: a ship that dies never drops itself, so
// its full price lands in DestroyedValue. Items split between destroyed
// and dropped according to their quantities. TotalValue is always the
// sum of the other two.
type Valuation struct {
	TotalValue     float64 `json:"total_value"`
	DestroyedValue float64 `json:"destroyed_value"`
	DroppedValue   float64 `json:"dropped_value"`
}

// Calculator appraises killmails against a price source.
type Calculator struct {
	prices PriceLookup
}

// NewCalculator returns a Calculator backed by the given price source.
func NewCalculator(prices PriceLookup) *Calculator {
	return &Calculator{prices: prices}
}

// Appraise computes the ISK valuation of a killmail. Item types with no
// known price contribute zero rather than failing the appraisal; the
// only error path is the price source itself being unavailable.
func (c *Calculator) Appraise(ctx context.Context, d *models.KillmailDetail) (Valuation, error) {
	ids := collectTypeIDs(d)

	prices, err := c.prices.Prices(ctx, ids)
	if err != nil {
		return Valuation{}, err
	}

	var v Valuation

	// The hull itself. Always destroyed, never dropped.
	v.DestroyedValue += prices[d.Victim.ShipTypeID].AveragePrice

	for i := range d.Victim.Items {
		it := &d.Victim.Items[i]
		price := prices[it.ItemTypeID].AveragePrice
		if it.QuantityDestroyed != nil {
			v.DestroyedValue += float64(*it.QuantityDestroyed) * price
		}
		if it.QuantityDropped != nil {
			v.DroppedValue += float64(*it.QuantityDropped) * price
		}
	}

	v.TotalValue = v.DestroyedValue + v.DroppedValue
	return v, nil
}

// collectTypeIDs gathers the distinct item types a killmail references:
// the hull plus every listed item.
func collectTypeIDs(d *models.KillmailDetail) []int64 {
	seen := map[int64]struct{}{d.Victim.ShipTypeID: {}}
	ids := []int64{d.Victim.ShipTypeID}
	for i := range d.Victim.Items {
		id := d.Victim.Items[i].ItemTypeID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
