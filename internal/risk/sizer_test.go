package risk

import (
	"testing"

	"nse-trading-bot/internal/instrument"
	"nse-trading-bot/internal/portfolio"
)

// TestTripleConstraintSizing sizes a Bank Nifty base entry: equity 5M,
// risk 0.5%, 350-point stop distance, 30-unit lots.
func TestTripleConstraintSizing(t *testing.T) {
	reg := instrument.NewRegistry()
	cfg, _ := reg.Get(instrument.BankNifty)

	s := NewSizer(80)
	res := s.Size(52000, 51650, 350, 5_000_000, 2_000_000, cfg, cfg.InitialRiskPct, cfg.InitialVolPct)

	// floor(5,000,000 x 0.005 / (350 x 30)) = floor(2.38) = 2
	if res.RiskLots != 2 {
		t.Errorf("risk lots = %d, want 2", res.RiskLots)
	}
	if res.VolLots != 2 {
		t.Errorf("vol lots = %d, want 2", res.VolLots)
	}
	// floor(2,000,000 x 0.8 / 270,000) = 5
	if res.MarginLots != 5 {
		t.Errorf("margin lots = %d, want 5", res.MarginLots)
	}
	if res.FinalLots != 2 {
		t.Errorf("final lots = %d, want 2", res.FinalLots)
	}
	if res.Limiter != portfolio.LimiterRisk {
		t.Errorf("limiter = %s, want RISK (ties resolve RISK > VOL > MARGIN)", res.Limiter)
	}
	if want := 2 * 350.0 * 30; res.RiskAmount != want {
		t.Errorf("risk amount = %v, want %v", res.RiskAmount, want)
	}
}

// TestMarginBinds makes the margin constraint the minimum
func TestMarginBinds(t *testing.T) {
	reg := instrument.NewRegistry()
	cfg, _ := reg.Get(instrument.BankNifty)

	s := NewSizer(80)
	res := s.Size(52000, 51650, 350, 5_000_000, 300_000, cfg, cfg.InitialRiskPct, cfg.InitialVolPct)

	// floor(300,000 x 0.8 / 270,000) = 0
	if res.MarginLots != 0 {
		t.Errorf("margin lots = %d, want 0", res.MarginLots)
	}
	if res.FinalLots != 0 || res.Limiter != portfolio.LimiterMargin {
		t.Errorf("final=%d limiter=%s, want 0 lots limited by MARGIN", res.FinalLots, res.Limiter)
	}
	if res.RiskAmount != 0 {
		t.Errorf("risk amount = %v, want 0 for zero lots", res.RiskAmount)
	}
}

// TestVolatilityBinds uses a wide ATR so the vol budget is the minimum
func TestVolatilityBinds(t *testing.T) {
	reg := instrument.NewRegistry()
	cfg, _ := reg.Get(instrument.BankNifty)

	s := NewSizer(80)
	// Tight 100-point stop but 900-point ATR
	res := s.Size(52000, 51900, 900, 5_000_000, 5_000_000, cfg, cfg.InitialRiskPct, cfg.InitialVolPct)

	// risk: floor(25,000 / 3,000) = 8; vol: floor(25,000 / 27,000) = 0
	if res.RiskLots != 8 {
		t.Errorf("risk lots = %d, want 8", res.RiskLots)
	}
	if res.VolLots != 0 {
		t.Errorf("vol lots = %d, want 0", res.VolLots)
	}
	if res.FinalLots != 0 || res.Limiter != portfolio.LimiterVol {
		t.Errorf("final=%d limiter=%s, want 0 lots limited by VOL", res.FinalLots, res.Limiter)
	}
}

// TestPointValueScaling checks MCX contracts with point value > 1
func TestPointValueScaling(t *testing.T) {
	reg := instrument.NewRegistry()
	cfg, _ := reg.Get(instrument.GoldMini)

	s := NewSizer(80)
	// 700-point stop distance, point value 10, lot size 1: 7,000 per lot
	res := s.Size(78500, 77800, 700, 5_000_000, 5_000_000, cfg, cfg.InitialRiskPct, cfg.InitialVolPct)

	if res.RiskLots != 3 { // floor(25,000 / 7,000)
		t.Errorf("risk lots = %d, want 3", res.RiskLots)
	}
	if res.FinalLots != 3 {
		t.Errorf("final lots = %d, want 3", res.FinalLots)
	}
}
