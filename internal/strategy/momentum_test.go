package strategy

import "testing"

// TestMomentumEntersOnROCBreakoutWithPermissiveRSI exercises the spec's RSI
// semantics directly: RSI is a veto, not a confirmation, so a pure ROC
// breakout must enter as long as RSI has not crossed into overbought
// territory. rsi_overbought is set far out of reach so the filter cannot
// possibly block the entry, isolating the ROC condition under test.
func TestMomentumEntersOnROCBreakoutWithPermissiveRSI(t *testing.T) {
	s, err := NewMomentum("mo-1", "BTCUSDT", Params{
		"roc_period":     3,
		"roc_threshold":  1,
		"rsi_period":     3,
		"rsi_overbought": 1000,
		"rsi_oversold":   -1000,
		"base_qty":       0.01,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	mo := s.(*Momentum)
	s.Start()

	for _, p := range []string{"100", "101", "102", "103"} {
		s.OnEvent(tradeEvent("BTCUSDT", p))
	}

	signals := mo.DrainSignals()
	if len(signals) != 1 {
		t.Fatalf("expected exactly one entry signal, got %d", len(signals))
	}
	if signals[0].Side != SideBuy {
		t.Fatalf("expected a buy entry on an upward ROC breakout, got %s", signals[0].Side)
	}
	// roc = (103-100)/100 = 0.03; sizeForROC = baseQty * (1 + min(1, 0.3)).
	gotQty, _ := signals[0].Qty.Float64()
	wantQty := 0.01 * 1.3
	if diff := gotQty - wantQty; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("entry qty = %v, want %v", gotQty, wantQty)
	}
	if !mo.inMarket {
		t.Fatal("expected strategy to record itself in-market after entry")
	}
}

// TestMomentumRSIVetoesOverboughtLong covers the other half of the filter:
// when RSI has already crossed into overbought territory, a fresh ROC
// breakout to the long side must be vetoed rather than confirmed.
func TestMomentumRSIVetoesOverboughtLong(t *testing.T) {
	s, err := NewMomentum("mo-2", "BTCUSDT", Params{
		"roc_period":     3,
		"roc_threshold":  1,
		"rsi_period":     3,
		"rsi_overbought": 50,
		"rsi_oversold":   -1000,
		"base_qty":       0.01,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	mo := s.(*Momentum)
	s.Start()

	// A strictly rising series pins RSI at 100 (avgLoss stays 0), well past
	// the 50 ceiling, so the veto should suppress the otherwise-valid entry.
	for _, p := range []string{"100", "101", "102", "103"} {
		s.OnEvent(tradeEvent("BTCUSDT", p))
	}

	if len(mo.DrainSignals()) != 0 {
		t.Fatal("expected RSI overbought veto to suppress the long entry")
	}
	if mo.inMarket {
		t.Fatal("expected strategy to remain flat when the entry is vetoed")
	}
}

// TestMomentumStopLossExit covers a held long position whose fixed
// percentage stop is breached by a subsequent print.
func TestMomentumStopLossExit(t *testing.T) {
	s, err := NewMomentum("mo-3", "BTCUSDT", Params{
		"roc_period":     3,
		"roc_threshold":  1,
		"rsi_period":     3,
		"rsi_overbought": 1000,
		"rsi_oversold":   -1000,
		"stop_loss":      0.02,
		"take_profit":    0.04,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	mo := s.(*Momentum)
	s.Start()

	for _, p := range []string{"100", "101", "102", "103"} {
		s.OnEvent(tradeEvent("BTCUSDT", p))
	}
	if len(mo.DrainSignals()) != 1 {
		t.Fatal("expected the long entry to fire before the stop check")
	}

	// entryPrice is 103; 2% below is 100.94.
	s.OnEvent(tradeEvent("BTCUSDT", "100"))

	exitSignals := mo.DrainSignals()
	if len(exitSignals) != 1 {
		t.Fatalf("expected exactly one stop-loss exit signal, got %d", len(exitSignals))
	}
	if exitSignals[0].Side != SideSell {
		t.Fatalf("expected a sell to close the long position, got %s", exitSignals[0].Side)
	}
	if mo.inMarket {
		t.Fatal("expected position to be flat after the stop-loss exit")
	}
}

// TestMomentumRejectsInvalidParams covers the ApplyParams guard rails.
func TestMomentumRejectsInvalidParams(t *testing.T) {
	cases := []Params{
		{"roc_period": 0},
		{"roc_threshold": 0},
		{"rsi_period": 0},
		{"base_qty": 0},
		{"stop_loss": 0},
		{"take_profit": -1},
	}
	for _, p := range cases {
		if _, err := NewMomentum("mo-x", "BTCUSDT", p); err != ErrInvalidParameters {
			t.Errorf("params %v: expected ErrInvalidParameters, got %v", p, err)
		}
	}
}
