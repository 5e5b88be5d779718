package models

import (
	"maps"

	"github.com/shopspring/decimal"
)

// Fuel is a single priced fuel grade at a location.
type Fuel struct {
	// Type is the fuel grade identifier (e.g. "B7", "E10"). Case-sensitive.
	Type string
	// Cost is the price per unit in the location's currency. Never negative.
	Cost decimal.Decimal
	// Props carries provider specific attributes (e.g. "unavailable").
	Props map[string]any
}

// NewFuel creates a Fuel, coercing negative costs to zero.
func NewFuel(fuelType string, cost decimal.Decimal, props map[string]any) Fuel {
	f := Fuel{}
	f.Update(fuelType, cost, props)
	return f
}

// Update replaces type, cost and props in place.
func (f *Fuel) Update(fuelType string, cost decimal.Decimal, props map[string]any) {
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	f.Type = fuelType
	f.Cost = cost
	f.Props = maps.Clone(props)
}

// IsPriced reports whether the fuel has a cost above zero.
func (f Fuel) IsPriced() bool {
	return f.Cost.IsPositive()
}

func (f Fuel) clone() Fuel {
	return Fuel{Type: f.Type, Cost: f.Cost, Props: maps.Clone(f.Props)}
}

// FuelView is the JSON representation of a Fuel.
type FuelView struct {
	Type  string          `json:"type"`
	Cost  decimal.Decimal `json:"cost"`
	Props map[string]any  `json:"props,omitempty"`
}

func (f Fuel) view() FuelView {
	return FuelView{Type: f.Type, Cost: f.Cost, Props: maps.Clone(f.Props)}
}
