package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/market"
)

// Momentum trades rate-of-change breakouts, using Wilder-smoothed RSI
// only as a permissive filter (it can veto an overbought/oversold
// entry, it never gates one in): a long needs ROC above threshold and
// RSI not overbought; a short needs ROC below -threshold and RSI not
// oversold. Position size scales with the magnitude of the ROC print
// and every entry carries a fixed percentage stop-loss/take-profit.
type Momentum struct {
	Base

	rocPeriod    int
	rocThreshold float64
	rsiPeriod    int
	rsiOverbought float64
	rsiOversold   float64
	shortEnable  bool
	baseQty      decimal.Decimal
	stopLossPct  float64
	takeProfitPct float64

	prices    []float64
	avgGain   float64
	avgLoss   float64
	haveRSI   bool
	rsiWarmup int
	lastPrice float64
	havePrice bool

	position   Side
	inMarket   bool
	entryPrice float64
	stopPrice  float64
	takeProfit float64
}

// NewMomentum constructs a ROC+RSI momentum kernel.
func NewMomentum(id, symbol string, p Params) (Strategy, error) {
	m := &Momentum{
		Base:          NewBase(id, symbol),
		rocPeriod:     12,
		rocThreshold:  2.0,
		rsiPeriod:     14,
		rsiOverbought: 70,
		rsiOversold:   30,
		shortEnable:   true,
		baseQty:       decimal.NewFromFloat(0.01),
		stopLossPct:   0.02,
		takeProfitPct: 0.04,
	}
	if err := m.ApplyParams(p); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Momentum) ApplyParams(p Params) error {
	if v, ok := p["roc_period"]; ok {
		if v < 1 {
			return ErrInvalidParameters
		}
		m.rocPeriod = int(v)
	}
	if v, ok := p["roc_threshold"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		m.rocThreshold = v
	}
	if v, ok := p["rsi_period"]; ok {
		if v < 1 {
			return ErrInvalidParameters
		}
		m.rsiPeriod = int(v)
	}
	if v, ok := p["rsi_overbought"]; ok {
		m.rsiOverbought = v
	}
	if v, ok := p["rsi_oversold"]; ok {
		m.rsiOversold = v
	}
	if v, ok := p["short_enable"]; ok {
		m.shortEnable = v != 0
	}
	if v, ok := p["base_qty"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		m.baseQty = decimal.NewFromFloat(v)
	}
	if v, ok := p["stop_loss"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		m.stopLossPct = v
	}
	if v, ok := p["take_profit"]; ok {
		if v <= 0 {
			return ErrInvalidParameters
		}
		m.takeProfitPct = v
	}
	return nil
}

// sizeForROC implements the spec's 1 + min(1, |roc|*10) scaling against
// the configured base clip size.
func (m *Momentum) sizeForROC(roc float64) decimal.Decimal {
	scale := 1 + minFloat(1, absFloat(roc)*10)
	return m.baseQty.Mul(decimal.NewFromFloat(scale))
}

func (m *Momentum) OnEvent(event market.MarketEvent) {
	if !m.IsRunning() || event.Type != market.EventTrade || event.Trade == nil {
		return
	}
	price, _ := event.Trade.Price.Float64()

	m.updateRSI(price)
	m.prices = append(m.prices, price)
	if len(m.prices) > m.rocPeriod+1 {
		m.prices = m.prices[len(m.prices)-(m.rocPeriod+1):]
	}
	if len(m.prices) <= m.rocPeriod || !m.haveRSI {
		return
	}

	roc := (price - m.prices[0]) / m.prices[0]
	rsi := m.rsiValue()

	if m.inMarket {
		stopHit := false
		if m.position == SideBuy {
			stopHit = price <= m.stopPrice || price >= m.takeProfit
		} else {
			stopHit = price >= m.stopPrice || price <= m.takeProfit
		}
		if stopHit {
			m.inMarket = false
			exitSide := SideSell
			if m.position == SideSell {
				exitSide = SideBuy
			}
			m.Emit(OrderRequest{Symbol: m.Symbol(), Side: exitSide, Type: OrderMarket, Qty: m.sizeForROC(roc)})
		}
		return
	}

	switch {
	case roc > m.rocThreshold/100 && rsi < m.rsiOverbought:
		m.enter(SideBuy, price, roc)
	case m.shortEnable && roc < -m.rocThreshold/100 && rsi > m.rsiOversold:
		m.enter(SideSell, price, roc)
	}
}

func (m *Momentum) enter(side Side, price, roc float64) {
	m.inMarket = true
	m.position = side
	m.entryPrice = price
	if side == SideBuy {
		m.stopPrice = price * (1 - m.stopLossPct)
		m.takeProfit = price * (1 + m.takeProfitPct)
	} else {
		m.stopPrice = price * (1 + m.stopLossPct)
		m.takeProfit = price * (1 - m.takeProfitPct)
	}
	m.Emit(OrderRequest{Symbol: m.Symbol(), Side: side, Type: OrderMarket, Qty: m.sizeForROC(roc)})
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// updateRSI applies Wilder's smoothing method: the first rsiPeriod
// observations seed a simple average of gains/losses, every observation
// after that rolls forward with a 1/period smoothing factor.
func (m *Momentum) updateRSI(price float64) {
	if !m.havePrice {
		m.lastPrice = price
		m.havePrice = true
		return
	}
	change := price - m.lastPrice
	m.lastPrice = price

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if !m.haveRSI {
		m.avgGain += gain
		m.avgLoss += loss
		m.rsiWarmup++
		if m.rsiWarmup >= m.rsiPeriod {
			m.avgGain /= float64(m.rsiPeriod)
			m.avgLoss /= float64(m.rsiPeriod)
			m.haveRSI = true
		}
		return
	}
	period := float64(m.rsiPeriod)
	m.avgGain = (m.avgGain*(period-1) + gain) / period
	m.avgLoss = (m.avgLoss*(period-1) + loss) / period
}

func (m *Momentum) rsiValue() float64 {
	if m.avgLoss == 0 {
		return 100
	}
	rs := m.avgGain / m.avgLoss
	return 100 - (100 / (1 + rs))
}
