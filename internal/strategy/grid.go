package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/market"
)

// GridSpacing selects how grid levels are distributed between the
// configured bounds.
type GridSpacing int

const (
	GridArithmetic GridSpacing = iota // evenly spaced by price
	GridGeometric                     // evenly spaced by ratio
)

// Grid places a symmetric ladder of buy/sell levels between a lower and
// upper bound. A level fill is approximated by the trade tape crossing
// that level's price (the kernel has no direct fill callback): a trade
// at or below the buy level of a slot that is not held buys that slot,
// and a trade at or above the next level up sells the held slot at a
// profit and frees it to buy again.
type Grid struct {
	Base

	lower              float64
	upper              float64
	levels             int
	spacing            GridSpacing
	totalInvestment    float64
	trailing           bool
	stopLossPnL        float64
	takeProfitPnL      float64
	rebalanceThreshold float64

	gridPrices  []float64
	held        []bool
	qtyPerLevel decimal.Decimal

	initialized  bool
	initialPrice float64
	realizedPnL  float64
	halted       bool // out-of-range halt, resumes once price re-enters [lower, upper]
	pnlHalted    bool // stop-loss/take-profit halt, permanent until manual restart
}

// NewGrid constructs a grid-trading kernel with arithmetic or geometric
// level spacing.
func NewGrid(id, symbol string, p Params) (Strategy, error) {
	g := &Grid{
		Base:               NewBase(id, symbol),
		lower:              0,
		upper:              0,
		levels:             10,
		spacing:            GridArithmetic,
		totalInvestment:    1000,
		trailing:           false,
		stopLossPnL:        0,
		takeProfitPnL:      0,
		rebalanceThreshold: 0.2,
	}
	if err := g.ApplyParams(p); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Grid) ApplyParams(p Params) error {
	if v, ok := p["lower"]; ok {
		g.lower = v
	}
	if v, ok := p["upper"]; ok {
		g.upper = v
	}
	if v, ok := p["levels"]; ok {
		if v < 2 {
			return ErrInvalidParameters
		}
		g.levels = int(v)
	}
	if v, ok := p["geometric"]; ok {
		if v != 0 {
			g.spacing = GridGeometric
		} else {
			g.spacing = GridArithmetic
		}
	}
	if v, ok := p["total_investment"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		g.totalInvestment = v
	}
	if v, ok := p["trailing"]; ok {
		g.trailing = v != 0
	}
	if v, ok := p["stop_loss_pnl"]; ok {
		g.stopLossPnL = v
	}
	if v, ok := p["take_profit_pnl"]; ok {
		g.takeProfitPnL = v
	}
	if v, ok := p["rebalance_threshold"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		g.rebalanceThreshold = v
	}
	if g.upper <= g.lower {
		return ErrInvalidParameters
	}
	if g.initialized {
		g.buildLevels(g.initialPrice)
	}
	return nil
}

// buildLevels lays out levels+1 prices between lower and upper and sizes
// each level per spec.md's qty = total_investment / (num_buy_levels *
// current_price), where a buy level is any grid price at or below the
// reference price.
func (g *Grid) buildLevels(refPrice float64) {
	g.gridPrices = make([]float64, g.levels+1)
	g.held = make([]bool, g.levels+1)

	switch g.spacing {
	case GridGeometric:
		ratio := math.Pow(g.upper/g.lower, 1/float64(g.levels))
		price := g.lower
		for i := 0; i <= g.levels; i++ {
			g.gridPrices[i] = price
			price *= ratio
		}
	default:
		step := (g.upper - g.lower) / float64(g.levels)
		for i := 0; i <= g.levels; i++ {
			g.gridPrices[i] = g.lower + step*float64(i)
		}
	}

	numBuyLevels := 0
	for _, p := range g.gridPrices {
		if p <= refPrice {
			numBuyLevels++
		}
	}
	if numBuyLevels < 1 {
		numBuyLevels = 1
	}
	g.qtyPerLevel = decimal.NewFromFloat(g.totalInvestment / (float64(numBuyLevels) * refPrice))
}

func (g *Grid) OnEvent(event market.MarketEvent) {
	if !g.IsRunning() || event.Type != market.EventTrade || event.Trade == nil {
		return
	}
	price, _ := event.Trade.Price.Float64()

	if !g.initialized {
		g.initialPrice = price
		g.initialized = true
		g.buildLevels(price)
	}

	if g.pnlHalted {
		return
	}

	if g.halted {
		if price >= g.lower && price <= g.upper {
			g.halted = false
		} else {
			return
		}
	}

	if price < g.lower || price > g.upper {
		if g.trailing {
			g.shiftGrid(price)
		} else {
			g.halted = true
		}
		return
	}

	if g.rebalanceThreshold > 0 && math.Abs(price-g.initialPrice)/g.initialPrice > g.rebalanceThreshold {
		g.initialPrice = price
		g.buildLevels(price)
	}

	// Each adjacent pair (i, i+1) of grid prices forms one buy/sell slot:
	// held[i] tracks whether the buy at gridPrices[i] is currently
	// filled and waiting for price to reach gridPrices[i+1] to sell.
	for i := 0; i < len(g.gridPrices)-1; i++ {
		buyLevel := g.gridPrices[i]
		sellLevel := g.gridPrices[i+1]
		switch {
		case !g.held[i] && price <= buyLevel:
			g.held[i] = true
			g.Emit(OrderRequest{
				Symbol: g.Symbol(), Side: SideBuy, Type: OrderLimit, TimeInForce: TIFGTC,
				Price: decimal.NewFromFloat(buyLevel), Qty: g.qtyPerLevel,
			})
		case g.held[i] && price >= sellLevel:
			g.held[i] = false
			qty, _ := g.qtyPerLevel.Float64()
			g.realizedPnL += qty * (sellLevel - buyLevel)
			g.Emit(OrderRequest{
				Symbol: g.Symbol(), Side: SideSell, Type: OrderLimit, TimeInForce: TIFGTC,
				Price: decimal.NewFromFloat(sellLevel), Qty: g.qtyPerLevel,
			})
		}
	}

	if g.takeProfitPnL > 0 && g.realizedPnL >= g.takeProfitPnL {
		g.pnlHalted = true
	}
	if g.stopLossPnL > 0 && g.realizedPnL <= -g.stopLossPnL {
		g.pnlHalted = true
	}
}

// shiftGrid moves every level by the amount price has moved past the
// nearest bound, keeping the ladder's width and spacing fixed (trailing
// mode), instead of halting when price exits [lower, upper].
func (g *Grid) shiftGrid(price float64) {
	var delta float64
	if price > g.upper {
		delta = price - g.upper
	} else {
		delta = price - g.lower
	}
	g.lower += delta
	g.upper += delta
	for i := range g.gridPrices {
		g.gridPrices[i] += delta
	}
}
