package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/market"
)

// MarketMaking quotes both sides of the book around mid price with a
// volatility- and inventory-skewed spread, per spec.md §4.12:
//
//	spread = clamp(base_spread + sigma*2 + |skew|*base_spread, min_spread, max_spread)
//	skew   = -(inventory/max_inventory) * skew_factor
//	bid    = mid - spread/2 + skew*mid*base_spread
//	ask    = mid + spread/2 + skew*mid*base_spread
//
// Quotes refresh on a fixed interval or whenever mid moves more than
// half the current spread, mirroring the teacher's reconcile/requote
// loop shape generalized from a binary-outcome CLOB to a two-sided
// spot quote.
type MarketMaking struct {
	Base

	baseSpread  float64
	minSpread   float64
	maxSpread   float64
	skewFactor  float64
	volWindow   int
	baseQty     decimal.Decimal
	maxInventory decimal.Decimal
	refreshInterval int64 // ms

	prices       []float64
	inventory    decimal.Decimal
	lastMid      decimal.Decimal
	haveQuote    bool
	lastQuoteMid decimal.Decimal
	lastQuoteNS  int64
	lastSpread   decimal.Decimal
}

// NewMarketMaking constructs a volatility/inventory-skewed market-making
// kernel.
func NewMarketMaking(id, symbol string, p Params) (Strategy, error) {
	mm := &MarketMaking{
		Base:            NewBase(id, symbol),
		baseSpread:      0.001,
		minSpread:       0.0005,
		maxSpread:       0.01,
		skewFactor:      0.5,
		volWindow:       60,
		baseQty:         decimal.NewFromFloat(0.01),
		maxInventory:    decimal.NewFromFloat(0.1),
		refreshInterval: 1000,
	}
	if err := mm.ApplyParams(p); err != nil {
		return nil, err
	}
	return mm, nil
}

func (mm *MarketMaking) ApplyParams(p Params) error {
	if v, ok := p["base_spread"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		mm.baseSpread = v
	}
	if v, ok := p["min_spread"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		mm.minSpread = v
	}
	if v, ok := p["max_spread"]; ok {
		if v <= mm.minSpread {
			return ErrInvalidParameters
		}
		mm.maxSpread = v
	}
	if v, ok := p["skew_factor"]; ok {
		if v < 0 {
			return ErrInvalidParameters
		}
		mm.skewFactor = v
	}
	if v, ok := p["vol_window"]; ok {
		if v < 2 {
			return ErrInvalidParameters
		}
		mm.volWindow = int(v)
	}
	if v, ok := p["base_qty"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		mm.baseQty = decimal.NewFromFloat(v)
	}
	if v, ok := p["max_inventory"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		mm.maxInventory = decimal.NewFromFloat(v)
	}
	if v, ok := p["quote_refresh_interval_ms"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		mm.refreshInterval = int64(v)
	}
	return nil
}

func (mm *MarketMaking) OnEvent(event market.MarketEvent) {
	if !mm.IsRunning() || event.Type != market.EventBookTicker || event.Book == nil {
		return
	}
	if len(event.Book.Bids) == 0 || len(event.Book.Asks) == 0 {
		return
	}
	bid, _ := event.Book.Bids[0].Price.Float64()
	ask, _ := event.Book.Asks[0].Price.Float64()
	mid := (bid + ask) / 2

	mm.prices = append(mm.prices, mid)
	if len(mm.prices) > mm.volWindow {
		mm.prices = mm.prices[len(mm.prices)-mm.volWindow:]
	}
	if len(mm.prices) < 2 {
		mm.lastMid = decimal.NewFromFloat(mid)
		return
	}

	sigma := returnsStdDev(mm.prices)
	invRatio, _ := mm.inventory.Div(mm.maxInventory).Float64()
	skew := -invRatio * mm.skewFactor

	spread := mm.baseSpread + sigma*2 + absFloat(skew)*mm.baseSpread
	spread = clampFloat(spread, mm.minSpread, mm.maxSpread)

	nowNS := event.RecvTimeNS
	midDec := decimal.NewFromFloat(mid)
	shouldRequote := !mm.haveQuote
	if mm.haveQuote {
		elapsedMS := (nowNS - mm.lastQuoteNS) / int64(1e6)
		if elapsedMS >= mm.refreshInterval {
			shouldRequote = true
		}
		moved := midDec.Sub(mm.lastQuoteMid).Abs()
		halfSpread := mm.lastSpread.Div(decimal.NewFromInt(2))
		if moved.GreaterThan(halfSpread) {
			shouldRequote = true
		}
	}
	if !shouldRequote {
		mm.lastMid = midDec
		return
	}

	bidPrice := decimal.NewFromFloat(mid - spread/2 + skew*mid*mm.baseSpread)
	askPrice := decimal.NewFromFloat(mid + spread/2 + skew*mid*mm.baseSpread)

	qty := mm.sizeForInventory()
	if mm.inventory.LessThan(mm.maxInventory) {
		mm.Emit(OrderRequest{Symbol: mm.Symbol(), Side: SideBuy, Type: OrderLimit, TimeInForce: TIFGTX, Price: bidPrice, Qty: qty})
	}
	if mm.inventory.GreaterThan(mm.maxInventory.Neg()) {
		mm.Emit(OrderRequest{Symbol: mm.Symbol(), Side: SideSell, Type: OrderLimit, TimeInForce: TIFGTX, Price: askPrice, Qty: qty})
	}
	mm.lastMid = midDec
	mm.lastQuoteMid = midDec
	mm.lastQuoteNS = nowNS
	mm.lastSpread = decimal.NewFromFloat(spread).Mul(midDec)
	mm.haveQuote = true
}

// sizeForInventory shrinks the base clip size as |inventory| approaches
// its cap; the same size is used for both the bid and the ask.
func (mm *MarketMaking) sizeForInventory() decimal.Decimal {
	utilization := mm.inventory.Abs().Div(mm.maxInventory)
	if utilization.GreaterThan(decimal.NewFromInt(1)) {
		utilization = decimal.NewFromInt(1)
	}
	factor := decimal.NewFromInt(1).Sub(utilization.Mul(decimal.NewFromFloat(0.5)))
	return mm.baseQty.Mul(factor)
}

// OnFill informs the kernel of an executed quantity so its inventory
// tracking stays accurate. The runtime does not call it, so inventory
// changes only when a caller invokes OnFill directly.
func (mm *MarketMaking) OnFill(side Side, qty decimal.Decimal) {
	if side == SideBuy {
		mm.inventory = mm.inventory.Add(qty)
	} else {
		mm.inventory = mm.inventory.Sub(qty)
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func returnsStdDev(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	_, stddev := meanStdDev(returns)
	return stddev
}
