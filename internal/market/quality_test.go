package market

import "testing"

func TestQualityAnalyzerDetectsPriceSpike(t *testing.T) {
	a := NewQualityAnalyzer(DefaultQualityConfig())
	for i := 0; i < 5; i++ {
		a.AnalyzeTrade(TradeData{Price: dec("100"), Qty: dec("1")}, int64(i)*1_000_000)
	}
	found := a.AnalyzeTrade(TradeData{Price: dec("200"), Qty: dec("1")}, 6_000_000)
	if len(found) == 0 {
		t.Fatal("expected price spike anomaly")
	}
	if found[0].Type != AnomalyPriceSpike {
		t.Fatalf("want price spike, got %v", found[0].Type)
	}
}

func TestQualityAnalyzerDetectsSpreadWidening(t *testing.T) {
	a := NewQualityAnalyzer(DefaultQualityConfig())
	found := a.AnalyzeBook(100, 105, 1)
	if len(found) == 0 || found[0].Type != AnomalySpreadWidening {
		t.Fatalf("expected spread widening anomaly, got %v", found)
	}
}

func TestQualityAnalyzerCheckStaleness(t *testing.T) {
	a := NewQualityAnalyzer(DefaultQualityConfig())
	a.AnalyzeTrade(TradeData{Price: dec("100"), Qty: dec("1")}, 0)

	if _, ok := a.CheckStaleness(1_000_000); ok {
		t.Fatal("should not be stale within threshold")
	}
	an, ok := a.CheckStaleness(6_000 * 1_000_000)
	if !ok || an.Type != AnomalyStaleData {
		t.Fatalf("expected staleness anomaly after threshold, ok=%v", ok)
	}
}

func TestDataSamplerCountInterval(t *testing.T) {
	s := NewDataSampler(DataSamplerConfig{Strategy: SampleCountInterval, CountInterval: 3})
	var kept int
	for i := 0; i < 9; i++ {
		if s.ShouldSample(int64(i), nil) {
			kept++
		}
	}
	if kept != 3 {
		t.Fatalf("want 3 sampled of 9 at interval 3, got %d", kept)
	}
}

func TestDataSamplerAdaptive(t *testing.T) {
	s := NewDataSampler(DataSamplerConfig{Strategy: SampleAdaptive, VolatilityThreshold: 0.05})
	p1, p2 := 100.0, 101.0
	if !s.ShouldSample(0, &p1) {
		t.Fatal("first sample should always pass")
	}
	if s.ShouldSample(1, &p2) {
		t.Fatal("small change below threshold should be filtered")
	}
}
