package hedge

import (
	"strings"

	"nse-trading-bot/internal/logging"
)

// BasketMargin is the per-basket margin requirement with and without a
// protective hedge leg.
type BasketMargin struct {
	WithHedge    float64 `json:"with_hedge"`
	WithoutHedge float64 `json:"without_hedge"`
}

// Benefit is the margin reduction one hedged basket earns
func (b BasketMargin) Benefit() float64 { return b.WithoutHedge - b.WithHedge }

// MarginTable maps (index, expiry type) to basket margin figures. Expiry
// types not present for an index fall back to the WEEKLY row, which is
// logged loudly because the numbers may be off for exotic expiries.
type MarginTable struct {
	rows map[string]map[string]BasketMargin
	log  *logging.Logger
}

// DefaultRows returns the built-in margin table. Figures are per basket
// (one short CE + one short PE) in rupees.
func DefaultRows() map[string]map[string]BasketMargin {
	return map[string]map[string]BasketMargin{
		"NIFTY": {
			"0DTE":   {WithHedge: 65000, WithoutHedge: 105000},
			"1DTE":   {WithHedge: 70000, WithoutHedge: 115000},
			"WEEKLY": {WithHedge: 78000, WithoutHedge: 125000},
		},
		"SENSEX": {
			"0DTE":   {WithHedge: 15000, WithoutHedge: 24445},
			"1DTE":   {WithHedge: 17000, WithoutHedge: 28000},
			"WEEKLY": {WithHedge: 19000, WithoutHedge: 31000},
		},
		"BANKNIFTY": {
			"WEEKLY": {WithHedge: 95000, WithoutHedge: 160000},
		},
	}
}

// NewMarginTable creates a table. nil rows use the defaults.
func NewMarginTable(rows map[string]map[string]BasketMargin, log *logging.Logger) *MarginTable {
	if rows == nil {
		rows = DefaultRows()
	}
	return &MarginTable{rows: rows, log: log.WithComponent("hedge")}
}

// PerBasket returns the per-basket margin for an entry. fellBack reports
// that the WEEKLY fallback row was used for an unknown expiry type.
func (t *MarginTable) PerBasket(index, expiryType string, hasHedge bool) (margin float64, fellBack bool, ok bool) {
	byExpiry, found := t.rows[strings.ToUpper(index)]
	if !found {
		return 0, false, false
	}

	row, found := byExpiry[strings.ToUpper(expiryType)]
	if !found {
		row, found = byExpiry["WEEKLY"]
		if !found {
			return 0, false, false
		}
		fellBack = true
		t.log.Warn("margin table fallback to WEEKLY row",
			"index", index, "expiry_type", expiryType)
	}

	if hasHedge {
		return row.WithHedge, fellBack, true
	}
	return row.WithoutHedge, fellBack, true
}

// Benefit returns the margin reduction one hedged basket earns
func (t *MarginTable) Benefit(index, expiryType string) (float64, bool) {
	without, _, ok := t.PerBasket(index, expiryType, false)
	if !ok {
		return 0, false
	}
	with, _, _ := t.PerBasket(index, expiryType, true)
	return without - with, true
}
