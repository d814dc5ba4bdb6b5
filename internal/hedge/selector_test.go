package hedge

import (
	"testing"

	"nse-trading-bot/internal/broker"
)

func sensexChain() []broker.OptionQuote {
	return []broker.OptionQuote{
		{Symbol: "SENSEX25AUG80500CE", Strike: 80500, OptionType: "CE", LTP: 650, LotSize: 20}, // ITM
		{Symbol: "SENSEX25AUG82500CE", Strike: 82500, OptionType: "CE", LTP: 30, LotSize: 20},
		{Symbol: "SENSEX25AUG83000CE", Strike: 83000, OptionType: "CE", LTP: 12, LotSize: 20},
		{Symbol: "SENSEX25AUG83500CE", Strike: 83500, OptionType: "CE", LTP: 6, LotSize: 20},
		{Symbol: "SENSEX25AUG84500CE", Strike: 84500, OptionType: "CE", LTP: 1.5, LotSize: 20}, // Below premium band
		{Symbol: "SENSEX25AUG79500PE", Strike: 79500, OptionType: "PE", LTP: 28, LotSize: 20},
	}
}

// TestRankCandidatesOrdersByMBPR ranks cheapest protection first
func TestRankCandidatesOrdersByMBPR(t *testing.T) {
	band := Band{MinPremium: 5, MaxPremium: 60}
	cands := RankCandidates(sensexChain(), 81000, "CE", band, 300, 140_000)

	if len(cands) != 3 {
		t.Fatalf("candidates = %d, want 3 inside the band", len(cands))
	}
	// 6-rupee strike gives the most benefit per rupee
	if cands[0].Quote.Strike != 83500 {
		t.Errorf("best strike = %v, want 83500", cands[0].Quote.Strike)
	}
	if cands[0].MBPR <= cands[1].MBPR || cands[1].MBPR <= cands[2].MBPR {
		t.Error("candidates should be sorted by MBPR descending")
	}
	if cands[0].Cost != 6*300 {
		t.Errorf("cost = %v, want LTP x quantity", cands[0].Cost)
	}
}

// TestRankCandidatesSkipsITM never proposes in-the-money strikes
func TestRankCandidatesSkipsITM(t *testing.T) {
	cands := RankCandidates(sensexChain(), 81000, "CE", Band{MinPremium: 1, MaxPremium: 1000}, 300, 140_000)
	for _, c := range cands {
		if c.Quote.Strike < 81000 {
			t.Errorf("ITM strike %v proposed as hedge", c.Quote.Strike)
		}
	}
}

// TestRankCandidatesOTMBand applies the min/max OTM distance filters
func TestRankCandidatesOTMBand(t *testing.T) {
	band := Band{MinPremium: 1, MaxPremium: 1000, MinOTM: 1600, MaxOTM: 2200}
	cands := RankCandidates(sensexChain(), 81000, "CE", band, 300, 140_000)

	if len(cands) != 1 || cands[0].Quote.Strike != 83000 {
		t.Fatalf("candidates = %v, want only the 2000-point OTM 83000 strike", cands)
	}
}

// TestRankCandidatesPutSide measures OTM distance below spot for puts
func TestRankCandidatesPutSide(t *testing.T) {
	cands := RankCandidates(sensexChain(), 81000, "PE", Band{MinPremium: 1, MaxPremium: 1000}, 300, 140_000)

	if len(cands) != 1 || cands[0].Quote.Strike != 79500 {
		t.Fatalf("candidates = %v, want the single OTM put", cands)
	}
	if cands[0].OTMDistance != 1500 {
		t.Errorf("OTM distance = %v, want 1500 below spot", cands[0].OTMDistance)
	}
}

// TestRankCandidatesTiePrefersCloser breaks MBPR ties toward the closer strike
func TestRankCandidatesTiePrefersCloser(t *testing.T) {
	chain := []broker.OptionQuote{
		{Symbol: "A", Strike: 83000, OptionType: "CE", LTP: 10, LotSize: 20},
		{Symbol: "B", Strike: 83500, OptionType: "CE", LTP: 10, LotSize: 20},
	}
	cands := RankCandidates(chain, 81000, "CE", Band{MinPremium: 1, MaxPremium: 100}, 300, 140_000)

	if len(cands) != 2 || cands[0].Quote.Strike != 83000 {
		t.Errorf("tie should prefer the closer 83000 strike, got %v", cands)
	}
}
