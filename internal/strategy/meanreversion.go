package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/market"
)

// MeanReversion enters against price deviations from a rolling mean
// measured in standard deviations (z-score), and flattens once price
// reverts back inside an exit band or a stop-loss breaks.
type MeanReversion struct {
	Base

	lookback    int
	entryZ      float64
	exitZ       float64
	shortEnable bool
	stopLossPct float64
	orderQty    decimal.Decimal

	prices     []float64
	position   Side
	inMarket   bool
	entryPrice float64
	stopPrice  float64
}

// NewMeanReversion constructs a z-score mean-reversion kernel.
func NewMeanReversion(id, symbol string, p Params) (Strategy, error) {
	m := &MeanReversion{
		Base:        NewBase(id, symbol),
		lookback:    50,
		entryZ:      2.0,
		exitZ:       0.5,
		shortEnable: true,
		stopLossPct: 0.02,
		orderQty:    decimal.NewFromFloat(0.01),
	}
	if err := m.ApplyParams(p); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MeanReversion) ApplyParams(p Params) error {
	if v, ok := p["lookback"]; ok {
		if v < 2 {
			return ErrInvalidParameters
		}
		m.lookback = int(v)
	}
	if v, ok := p["entry_z"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		m.entryZ = v
	}
	if v, ok := p["exit_z"]; ok {
		if v < 0 || v >= m.entryZ {
			return ErrInvalidParameters
		}
		m.exitZ = v
	}
	if v, ok := p["short_enable"]; ok {
		m.shortEnable = v != 0
	}
	if v, ok := p["stop_loss"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		m.stopLossPct = v
	}
	if v, ok := p["order_qty"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		m.orderQty = decimal.NewFromFloat(v)
	}
	return nil
}

// stopDistance implements spec.md's max(3*sigma, stop_loss*price) rule.
func (m *MeanReversion) stopDistance(price, stddev float64) float64 {
	d := 3 * stddev
	if floorDist := m.stopLossPct * price; floorDist > d {
		d = floorDist
	}
	return d
}

func (m *MeanReversion) OnEvent(event market.MarketEvent) {
	if !m.IsRunning() || event.Type != market.EventTrade || event.Trade == nil {
		return
	}
	price, _ := event.Trade.Price.Float64()
	m.prices = append(m.prices, price)
	if len(m.prices) > m.lookback {
		m.prices = m.prices[len(m.prices)-m.lookback:]
	}
	if len(m.prices) < m.lookback {
		return
	}

	mean, stddev := meanStdDev(m.prices)
	if stddev == 0 {
		return
	}
	z := (price - mean) / stddev

	if m.inMarket {
		stopHit := false
		if m.position == SideBuy {
			stopHit = price <= m.stopPrice
		} else {
			stopHit = price >= m.stopPrice
		}
		if stopHit || math.Abs(z) <= m.exitZ {
			m.inMarket = false
			exitSide := SideSell
			if m.position == SideSell {
				exitSide = SideBuy
			}
			m.Emit(OrderRequest{Symbol: m.Symbol(), Side: exitSide, Type: OrderMarket, Qty: m.orderQty})
		}
		return
	}

	switch {
	case z <= -m.entryZ:
		m.inMarket = true
		m.position = SideBuy
		m.entryPrice = price
		m.stopPrice = price - m.stopDistance(price, stddev)
		m.Emit(OrderRequest{Symbol: m.Symbol(), Side: SideBuy, Type: OrderMarket, Qty: m.orderQty})
	case m.shortEnable && z >= m.entryZ:
		m.inMarket = true
		m.position = SideSell
		m.entryPrice = price
		m.stopPrice = price + m.stopDistance(price, stddev)
		m.Emit(OrderRequest{Symbol: m.Symbol(), Side: SideSell, Type: OrderMarket, Qty: m.orderQty})
	}
}

func meanStdDev(values []float64) (mean, stddev float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}
