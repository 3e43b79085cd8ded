package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/market"
)

// TrendFollowing trades golden/death crosses between a fast and slow
// moving average, optionally smoothing with an EMA instead of SMA, and
// protects every position with a stop-loss/take-profit band that is
// either a flat percentage of entry price or ATR-scaled.
type TrendFollowing struct {
	Base

	fastPeriod int
	slowPeriod int
	useEMA     bool

	maxPositionSize decimal.Decimal
	riskPerTrade    float64
	sizeMultiplier  float64

	stopLossPct   float64
	takeProfitPct float64
	useATR        bool
	atrPeriod     int
	atrMultiplier float64

	prices     []float64
	trueRanges []float64
	lastPrice  float64
	havePrice  bool

	fastEMA float64
	slowEMA float64
	haveEMA bool

	position    Side
	hasPosition bool
	entryPrice  float64
	stopPrice   float64
	takeProfit  float64
}

// NewTrendFollowing constructs a trend-following kernel grounded on the
// original implementation's moving-average cross formulas.
func NewTrendFollowing(id, symbol string, p Params) (Strategy, error) {
	t := &TrendFollowing{
		Base:            NewBase(id, symbol),
		fastPeriod:      10,
		slowPeriod:      30,
		maxPositionSize: decimal.NewFromFloat(1.0),
		riskPerTrade:    0.02,
		sizeMultiplier:  1.0,
		stopLossPct:     0.02,
		takeProfitPct:   0.04,
		atrPeriod:       14,
		atrMultiplier:   2.0,
	}
	if err := t.ApplyParams(p); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TrendFollowing) ApplyParams(p Params) error {
	if v, ok := p["fast_period"]; ok {
		if v < 1 {
			return ErrInvalidParameters
		}
		t.fastPeriod = int(v)
	}
	if v, ok := p["slow_period"]; ok {
		if v <= float64(t.fastPeriod) {
			return ErrInvalidParameters
		}
		t.slowPeriod = int(v)
	}
	if v, ok := p["use_ema"]; ok {
		t.useEMA = v != 0
	}
	if v, ok := p["max_position_size"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		t.maxPositionSize = decimal.NewFromFloat(v)
	}
	if v, ok := p["risk_per_trade"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		t.riskPerTrade = v
	}
	if v, ok := p["size_multiplier"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		t.sizeMultiplier = v
	}
	if v, ok := p["stop_loss"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		t.stopLossPct = v
	}
	if v, ok := p["take_profit"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		t.takeProfitPct = v
	}
	if v, ok := p["use_atr"]; ok {
		t.useATR = v != 0
	}
	if v, ok := p["atr_period"]; ok {
		if v < 1 {
			return ErrInvalidParameters
		}
		t.atrPeriod = int(v)
	}
	if v, ok := p["atr_multiplier"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		t.atrMultiplier = v
	}
	return nil
}

// positionQty is the spec's sizing formula: max_position_size *
// risk_per_trade * size_multiplier.
func (t *TrendFollowing) positionQty() decimal.Decimal {
	return t.maxPositionSize.Mul(decimal.NewFromFloat(t.riskPerTrade * t.sizeMultiplier))
}

// stopDistance returns the absolute price distance used for both the
// stop-loss and take-profit bands: ATR*multiplier when enabled (true
// range approximated from consecutive trade prices, since this kernel
// only observes a trade tape, not OHLC bars), otherwise a flat
// percentage of the reference price.
func (t *TrendFollowing) stopDistance(price float64) float64 {
	if t.useATR && len(t.trueRanges) > 0 {
		return sma(t.trueRanges, t.atrPeriod) * t.atrMultiplier
	}
	return price * t.stopLossPct
}

func (t *TrendFollowing) takeProfitDistance(price float64) float64 {
	if t.useATR && len(t.trueRanges) > 0 {
		return sma(t.trueRanges, t.atrPeriod) * t.atrMultiplier
	}
	return price * t.takeProfitPct
}

func (t *TrendFollowing) OnEvent(event market.MarketEvent) {
	if !t.IsRunning() || event.Type != market.EventTrade || event.Trade == nil {
		return
	}
	price, _ := event.Trade.Price.Float64()

	if t.havePrice {
		t.trueRanges = append(t.trueRanges, absFloat(price-t.lastPrice))
		if len(t.trueRanges) > t.atrPeriod {
			t.trueRanges = t.trueRanges[len(t.trueRanges)-t.atrPeriod:]
		}
	}
	t.lastPrice = price
	t.havePrice = true

	// Every tick: check the position's stop-loss/take-profit band before
	// considering a new cross signal. An exit this tick goes flat for the
	// tick rather than also evaluating a fresh cross off the same print.
	if t.hasPosition && t.checkStopAndTakeProfit(price) {
		t.hasPosition = false
		t.prices = append(t.prices, price)
		if len(t.prices) > t.slowPeriod {
			t.prices = t.prices[len(t.prices)-t.slowPeriod:]
		}
		return
	}

	t.prices = append(t.prices, price)
	if len(t.prices) > t.slowPeriod {
		t.prices = t.prices[len(t.prices)-t.slowPeriod:]
	}
	if len(t.prices) < t.slowPeriod {
		return
	}

	var fast, slow float64
	if t.useEMA {
		fast, slow = t.updateEMAs(price)
	} else {
		fast = sma(t.prices, t.fastPeriod)
		slow = sma(t.prices, t.slowPeriod)
	}

	goldenCross := fast > slow
	wantSide := SideSell
	if goldenCross {
		wantSide = SideBuy
	}
	if t.hasPosition && t.position == wantSide {
		return
	}
	t.hasPosition = true
	t.position = wantSide
	t.entryPrice = price
	dist := t.stopDistance(price)
	tpDist := t.takeProfitDistance(price)
	if wantSide == SideBuy {
		t.stopPrice = price - dist
		t.takeProfit = price + tpDist
	} else {
		t.stopPrice = price + dist
		t.takeProfit = price - tpDist
	}
	t.Emit(OrderRequest{Symbol: t.Symbol(), Side: wantSide, Type: OrderMarket, Qty: t.positionQty()})
}

// checkStopAndTakeProfit emits an exit order and reports true if the
// current price has breached the held position's stop-loss or
// take-profit band.
func (t *TrendFollowing) checkStopAndTakeProfit(price float64) bool {
	breached := false
	if t.position == SideBuy {
		breached = price <= t.stopPrice || price >= t.takeProfit
	} else {
		breached = price >= t.stopPrice || price <= t.takeProfit
	}
	if !breached {
		return false
	}
	exitSide := SideSell
	if t.position == SideSell {
		exitSide = SideBuy
	}
	t.Emit(OrderRequest{Symbol: t.Symbol(), Side: exitSide, Type: OrderMarket, Qty: t.positionQty()})
	return true
}

func (t *TrendFollowing) updateEMAs(price float64) (fast, slow float64) {
	if !t.haveEMA {
		t.fastEMA = price
		t.slowEMA = price
		t.haveEMA = true
	} else {
		t.fastEMA = ema(t.fastEMA, price, t.fastPeriod)
		t.slowEMA = ema(t.slowEMA, price, t.slowPeriod)
	}
	return t.fastEMA, t.slowEMA
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sma(values []float64, period int) float64 {
	if period > len(values) {
		period = len(values)
	}
	if period == 0 {
		return 0
	}
	window := values[len(values)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(period)
}

func ema(prevEMA, price float64, period int) float64 {
	alpha := 2.0 / (float64(period) + 1.0)
	return alpha*price + (1-alpha)*prevEMA
}
