package strategy

import "testing"

func TestHostLoadRoutesEventsBySymbol(t *testing.T) {
	h := NewHost(nil)
	h.RegisterFactory("trend", NewTrendFollowing)

	if err := h.Load("trend", "s1", "BTCUSDT", Params{"fast_period": 2, "slow_period": 3}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.Load("unknown", "s2", "BTCUSDT", nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if err := h.Load("trend", "s1", "BTCUSDT", nil); err == nil {
		t.Fatal("expected error for duplicate id")
	}

	var routed []OrderRequest
	h.SetSignalSink(func(reqs []OrderRequest) { routed = append(routed, reqs...) })

	for i, p := range []string{"100", "101", "102", "103"} {
		_ = i
		h.OnEvent(tradeEvent("BTCUSDT", p))
	}
	h.DrainAndRoute()

	if len(routed) == 0 {
		t.Fatal("expected at least one routed signal once warm")
	}
}

func TestHostUnloadStopsRouting(t *testing.T) {
	h := NewHost(nil)
	h.RegisterFactory("trend", NewTrendFollowing)
	if err := h.Load("trend", "s1", "BTCUSDT", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.Unload("s1"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := h.Unload("s1"); err == nil {
		t.Fatal("expected error unloading twice")
	}
	if len(h.Strategies()) != 0 {
		t.Fatal("expected no strategies after unload")
	}
}

func TestHostReloadAppliesParams(t *testing.T) {
	h := NewHost(nil)
	h.RegisterFactory("meanreversion", NewMeanReversion)
	if err := h.Load("meanreversion", "s1", "BTCUSDT", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.Reload("s1", Params{"entry_z": 3.0}); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := h.Reload("missing", Params{}); err == nil {
		t.Fatal("expected error reloading unknown id")
	}
}
