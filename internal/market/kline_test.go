package market

import "testing"

func trade(price, qty string, tsMS int64, buyerMaker bool) TradeData {
	return TradeData{Price: dec(price), Qty: dec(qty), TimeNS: tsMS * 1_000_000, BuyerMakr: buyerMaker}
}

func TestKlineAggregatorBuildsSingleCandle(t *testing.T) {
	a := NewKlineAggregator("BTCUSDT", DefaultKlineAggregatorConfig())
	a.EnableInterval(Min1)

	a.ProcessTrade(trade("100", "1", 0, false))
	a.ProcessTrade(trade("105", "1", 1000, false))
	a.ProcessTrade(trade("95", "1", 2000, true))

	k, ok := a.CurrentKline(Min1)
	if !ok {
		t.Fatal("expected current candle")
	}
	if !k.Kline.Open.Equal(dec("100")) || !k.Kline.High.Equal(dec("105")) ||
		!k.Kline.Low.Equal(dec("95")) || !k.Kline.Close.Equal(dec("95")) {
		t.Fatalf("unexpected OHLC: %+v", k.Kline)
	}
	if k.TradeCount != 3 {
		t.Fatalf("want 3 trades, got %d", k.TradeCount)
	}
	if !k.BuyVolume.Equal(dec("2")) || !k.SellVolume.Equal(dec("1")) {
		t.Fatalf("want buy=2 sell=1, got buy=%v sell=%v", k.BuyVolume, k.SellVolume)
	}
}

func TestKlineAggregatorClosesOnIntervalBoundary(t *testing.T) {
	a := NewKlineAggregator("BTCUSDT", DefaultKlineAggregatorConfig())
	a.EnableInterval(Min1)

	a.ProcessTrade(trade("100", "1", 0, false))
	a.ProcessTrade(trade("110", "1", 61_000, false)) // next minute

	history := a.History(Min1)
	if len(history) != 1 {
		t.Fatalf("want 1 closed candle, got %d", len(history))
	}
	if !history[0].IsClosed {
		t.Fatal("history entry should be marked closed")
	}
	cur, ok := a.CurrentKline(Min1)
	if !ok || !cur.Kline.Open.Equal(dec("110")) {
		t.Fatalf("want new candle opened at 110, got %+v ok=%v", cur.Kline, ok)
	}
}

func TestKlineAggregatorDisabledIntervalIgnored(t *testing.T) {
	a := NewKlineAggregator("BTCUSDT", DefaultKlineAggregatorConfig())
	a.ProcessTrade(trade("100", "1", 0, false))
	if _, ok := a.CurrentKline(Min1); ok {
		t.Fatal("disabled interval should not accumulate")
	}
}
