package hedge

import (
	"math"
	"sort"

	"nse-trading-bot/internal/broker"
)

// Band constrains the hedge candidate set
type Band struct {
	MinPremium  float64
	MaxPremium  float64
	MinOTM      float64
	MaxOTM      float64
}

// Candidate is one ranked hedge strike
type Candidate struct {
	Quote       broker.OptionQuote `json:"quote"`
	OTMDistance float64            `json:"otm_distance"`
	Cost        float64            `json:"cost"` // LTP x quantity
	MBPR        float64            `json:"mbpr"` // Margin benefit per rupee spent
}

// RankCandidates filters an option chain to strikes inside the premium and
// OTM bands and ranks them by MBPR, best first. marginBenefit is the
// estimated margin reduction from holding one hedge of the given quantity.
func RankCandidates(chain []broker.OptionQuote, spot float64, optionType string,
	band Band, quantity int, marginBenefit float64) []Candidate {

	var out []Candidate
	for _, q := range chain {
		if q.OptionType != optionType {
			continue
		}
		if q.LTP < band.MinPremium || q.LTP > band.MaxPremium {
			continue
		}

		// OTM distance: calls above spot, puts below
		otm := q.Strike - spot
		if optionType == "PE" {
			otm = spot - q.Strike
		}
		if otm < 0 {
			continue // In the money, never a hedge candidate
		}
		if band.MinOTM > 0 && otm < band.MinOTM {
			continue
		}
		if band.MaxOTM > 0 && otm > band.MaxOTM {
			continue
		}

		cost := q.LTP * float64(quantity)
		if cost <= 0 {
			continue
		}
		out = append(out, Candidate{
			Quote:       q,
			OTMDistance: otm,
			Cost:        cost,
			MBPR:        marginBenefit / cost,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if math.Abs(out[i].MBPR-out[j].MBPR) > 1e-9 {
			return out[i].MBPR > out[j].MBPR
		}
		// Equal benefit per rupee: prefer the closer strike
		return out[i].OTMDistance < out[j].OTMDistance
	})
	return out
}
