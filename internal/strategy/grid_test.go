package strategy

import "testing"

// TestGridSizingFormula checks buildLevels directly against the spec's qty
// = total_investment / (num_buy_levels * current_price) rule for a 3-level
// grid seeded at the midpoint of its range.
func TestGridSizingFormula(t *testing.T) {
	s, err := NewGrid("g-1", "BTCUSDT", Params{
		"lower":            90,
		"upper":            110,
		"levels":           2,
		"total_investment": 1000,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	g := s.(*Grid)
	s.Start()

	s.OnEvent(tradeEvent("BTCUSDT", "100"))

	// gridPrices = [90, 100, 110]; buy levels at or below 100 are 90 and 100.
	gotQty, _ := g.qtyPerLevel.Float64()
	wantQty := 1000.0 / (2 * 100.0)
	if diff := gotQty - wantQty; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("qtyPerLevel = %v, want %v", gotQty, wantQty)
	}
}

// TestGridTradesAdjacentLevelsAndLocksProfit drives price through a buy
// level then up through the next level to realize the ladder's profit on
// that slot.
func TestGridTradesAdjacentLevelsAndLocksProfit(t *testing.T) {
	s, err := NewGrid("g-2", "BTCUSDT", Params{
		"lower":            90,
		"upper":            110,
		"levels":           2,
		"total_investment": 1000,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	g := s.(*Grid)
	s.Start()

	// Initializes at 100, buys the 100-110 pair's lower rung (price<=100).
	s.OnEvent(tradeEvent("BTCUSDT", "100"))
	signals := g.DrainSignals()
	if len(signals) != 1 || signals[0].Side != SideBuy {
		t.Fatalf("expected a single buy at initialization, got %v", signals)
	}

	// Drop out of range on the downside: halts since trailing is off.
	s.OnEvent(tradeEvent("BTCUSDT", "85"))
	if len(g.DrainSignals()) != 0 {
		t.Fatal("expected no signal while out of range")
	}
	if !g.halted {
		t.Fatal("expected the grid to halt on an out-of-range excursion")
	}

	// Back in range: resumes, but 95 doesn't cross any level boundary.
	s.OnEvent(tradeEvent("BTCUSDT", "95"))
	if g.halted {
		t.Fatal("expected the grid to resume once price re-entered range")
	}
	if len(g.DrainSignals()) != 0 {
		t.Fatal("expected no signal mid-range between levels")
	}

	// Price reaches the top rung (110): sells the held 100-110 slot.
	s.OnEvent(tradeEvent("BTCUSDT", "110"))
	sellSignals := g.DrainSignals()
	if len(sellSignals) != 1 || sellSignals[0].Side != SideSell {
		t.Fatalf("expected a single sell closing the filled slot, got %v", sellSignals)
	}
	if g.realizedPnL <= 0 {
		t.Fatalf("expected positive realized pnl after selling above the buy level, got %v", g.realizedPnL)
	}
}

// TestGridHaltsOnTakeProfitPnLPermanently covers the profit-target halt:
// once total realized pnl crosses take_profit_pnl, the grid must stop
// trading even on ticks that remain inside [lower, upper] — unlike the
// resumable out-of-range halt.
func TestGridHaltsOnTakeProfitPnLPermanently(t *testing.T) {
	s, err := NewGrid("g-3", "BTCUSDT", Params{
		"lower":            90,
		"upper":            110,
		"levels":           2,
		"total_investment": 1000,
		"take_profit_pnl":  10,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	g := s.(*Grid)
	s.Start()

	s.OnEvent(tradeEvent("BTCUSDT", "100")) // buys the 100 rung
	s.OnEvent(tradeEvent("BTCUSDT", "110")) // sells it, locking in profit
	g.DrainSignals()

	if !g.pnlHalted {
		t.Fatal("expected the grid to record a permanent pnl halt once the take-profit target was reached")
	}

	// Further in-range ticks must not resume trading or emit signals.
	s.OnEvent(tradeEvent("BTCUSDT", "95"))
	if len(g.DrainSignals()) != 0 {
		t.Fatal("expected no trading after a pnl halt even on an in-range tick")
	}
	if !g.pnlHalted {
		t.Fatal("expected the pnl halt to persist across in-range ticks")
	}
}

// TestGridRejectsInvalidParams covers the ApplyParams guard rails.
func TestGridRejectsInvalidParams(t *testing.T) {
	cases := []Params{
		{"lower": 100, "upper": 90},
		{"levels": 1, "lower": 90, "upper": 110},
		{"total_investment": 0, "lower": 90, "upper": 110},
		{"rebalance_threshold": 0, "lower": 90, "upper": 110},
	}
	for _, p := range cases {
		if _, err := NewGrid("g-x", "BTCUSDT", p); err != ErrInvalidParameters {
			t.Errorf("params %v: expected ErrInvalidParameters, got %v", p, err)
		}
	}
}
