package strategy

import "testing"

// TestTrendFollowingCrossEmitsSizedOrder feeds a rising price series so the
// fast SMA crosses above the slow SMA, and checks the entry order is sized
// by max_position_size * risk_per_trade * size_multiplier rather than a flat
// quantity.
func TestTrendFollowingCrossEmitsSizedOrder(t *testing.T) {
	s, err := NewTrendFollowing("tf-1", "BTCUSDT", Params{
		"fast_period":       2,
		"slow_period":       4,
		"max_position_size": 2.0,
		"risk_per_trade":    0.1,
		"size_multiplier":   1.5,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tf := s.(*TrendFollowing)
	s.Start()

	prices := []string{"100", "100", "101", "103", "106"}
	for _, p := range prices {
		s.OnEvent(tradeEvent("BTCUSDT", p))
	}

	signals := tf.DrainSignals()
	if len(signals) != 1 {
		t.Fatalf("expected exactly one entry signal on the golden cross, got %d", len(signals))
	}
	if signals[0].Side != SideBuy {
		t.Fatalf("expected a buy entry on an upward cross, got %s", signals[0].Side)
	}
	gotQty, _ := signals[0].Qty.Float64()
	wantQty := 2.0 * 0.1 * 1.5
	if diff := gotQty - wantQty; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("entry qty = %v, want %v", gotQty, wantQty)
	}
}

// wantPositionQty mirrors the spec formula directly for assertions below.
func wantPositionQty(maxSize, risk, mult float64) float64 {
	return maxSize * risk * mult
}

// TestTrendFollowingPositionQtyFormula checks positionQty in isolation
// against the spec formula max_position_size * risk_per_trade *
// size_multiplier.
func TestTrendFollowingPositionQtyFormula(t *testing.T) {
	s, err := NewTrendFollowing("tf-2", "BTCUSDT", Params{
		"max_position_size": 3.0,
		"risk_per_trade":    0.05,
		"size_multiplier":   2.0,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tf := s.(*TrendFollowing)

	got, _ := tf.positionQty().Float64()
	want := wantPositionQty(3.0, 0.05, 2.0)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("positionQty = %v, want %v", got, want)
	}
}

// TestTrendFollowingStopLossExit covers a held long position whose stop-loss
// band is breached by a subsequent price print, which must emit a closing
// sell regardless of the moving-average state.
func TestTrendFollowingStopLossExit(t *testing.T) {
	s, err := NewTrendFollowing("tf-3", "BTCUSDT", Params{
		"fast_period": 2,
		"slow_period": 3,
		"stop_loss":   0.05,
		"take_profit": 0.5,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tf := s.(*TrendFollowing)
	s.Start()

	for _, p := range []string{"100", "101", "103"} {
		s.OnEvent(tradeEvent("BTCUSDT", p))
	}
	entrySignals := tf.DrainSignals()
	if len(entrySignals) != 1 || entrySignals[0].Side != SideBuy {
		t.Fatalf("expected a single buy entry to set up the position, got %v", entrySignals)
	}
	if !tf.hasPosition || tf.position != SideBuy {
		t.Fatal("expected strategy to record a long position after the cross")
	}

	// 5% below the entry price of 103 breaches the stop.
	s.OnEvent(tradeEvent("BTCUSDT", "95"))

	exitSignals := tf.DrainSignals()
	if len(exitSignals) == 0 {
		t.Fatal("expected a stop-loss exit signal")
	}
	if exitSignals[len(exitSignals)-1].Side != SideSell {
		t.Fatalf("expected a sell to close the long position, got %s", exitSignals[len(exitSignals)-1].Side)
	}
	if tf.hasPosition {
		t.Fatal("expected position to be flat after the stop-loss exit")
	}
}

// TestTrendFollowingRejectsInvalidParams covers the ApplyParams guard rails.
func TestTrendFollowingRejectsInvalidParams(t *testing.T) {
	cases := []Params{
		{"fast_period": 0},
		{"slow_period": 1, "fast_period": 2},
		{"max_position_size": 0},
		{"risk_per_trade": -1},
		{"size_multiplier": 0},
		{"stop_loss": 0},
		{"take_profit": -0.1},
		{"atr_period": 0},
		{"atr_multiplier": 0},
	}
	for _, p := range cases {
		if _, err := NewTrendFollowing("tf-x", "BTCUSDT", p); err != ErrInvalidParameters {
			t.Errorf("params %v: expected ErrInvalidParameters, got %v", p, err)
		}
	}
}
