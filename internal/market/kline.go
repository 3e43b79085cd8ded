package market

import (
	"sync"

	"github.com/shopspring/decimal"
)

// KlineInterval is a supported candle width.
type KlineInterval int

const (
	Min1 KlineInterval = iota
	Min5
	Min15
	Min30
	Hour1
	Hour4
	Day1
)

// IntervalMS returns the interval's width in milliseconds.
func (i KlineInterval) IntervalMS() int64 {
	switch i {
	case Min1:
		return 60_000
	case Min5:
		return 5 * 60_000
	case Min15:
		return 15 * 60_000
	case Min30:
		return 30 * 60_000
	case Hour1:
		return 60 * 60_000
	case Hour4:
		return 4 * 60 * 60_000
	case Day1:
		return 24 * 60 * 60_000
	default:
		return 60_000
	}
}

func (i KlineInterval) String() string {
	switch i {
	case Min1:
		return "1m"
	case Min5:
		return "5m"
	case Min15:
		return "15m"
	case Min30:
		return "30m"
	case Hour1:
		return "1h"
	case Hour4:
		return "4h"
	case Day1:
		return "1d"
	default:
		return "unknown"
	}
}

// ParseKlineInterval maps a Binance-style interval suffix ("1m", "5m",
// "15m", "30m", "1h", "4h", "1d") to a KlineInterval, as used when
// wiring enabled intervals from configuration.
func ParseKlineInterval(s string) (KlineInterval, bool) {
	switch s {
	case "1m":
		return Min1, true
	case "5m":
		return Min5, true
	case "15m":
		return Min15, true
	case "30m":
		return Min30, true
	case "1h":
		return Hour1, true
	case "4h":
		return Hour4, true
	case "1d":
		return Day1, true
	default:
		return 0, false
	}
}

// Kline is a single OHLCV candle.
type Kline struct {
	OpenTimeMS  int64
	CloseTimeMS int64
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
}

// AggregatedKline augments a raw candle with derived stats.
type AggregatedKline struct {
	Kline       Kline
	VWAP        decimal.Decimal
	TradeCount  int64
	BuyVolume   decimal.Decimal
	SellVolume  decimal.Decimal
	IsClosed    bool
	notional    decimal.Decimal
}

// KlineAggregatorConfig tunes retention and emission behavior.
type KlineAggregatorConfig struct {
	MaxHistoryPerInterval int
	EmitOnUpdate          bool
	EmitOnClose           bool
}

// DefaultKlineAggregatorConfig matches the original implementation's
// defaults.
func DefaultKlineAggregatorConfig() KlineAggregatorConfig {
	return KlineAggregatorConfig{MaxHistoryPerInterval: 1000, EmitOnUpdate: true, EmitOnClose: true}
}

// KlineCallback is invoked whenever a candle updates or closes.
type KlineCallback func(symbol string, interval KlineInterval, k AggregatedKline)

type intervalState struct {
	enabled bool
	current *AggregatedKline
	history []AggregatedKline
}

// KlineAggregator rolls trades into multi-interval OHLCV candles with
// VWAP and buy/sell volume splits.
type KlineAggregator struct {
	mu       sync.Mutex
	symbol   string
	cfg      KlineAggregatorConfig
	states   map[KlineInterval]*intervalState
	callback KlineCallback
}

// NewKlineAggregator creates an aggregator for symbol with every known
// interval disabled; call EnableInterval to opt in.
func NewKlineAggregator(symbol string, cfg KlineAggregatorConfig) *KlineAggregator {
	return &KlineAggregator{
		symbol: symbol,
		cfg:    cfg,
		states: make(map[KlineInterval]*intervalState),
	}
}

func (a *KlineAggregator) SetCallback(cb KlineCallback) {
	a.mu.Lock()
	a.callback = cb
	a.mu.Unlock()
}

func (a *KlineAggregator) EnableInterval(i KlineInterval) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[i]
	if !ok {
		s = &intervalState{}
		a.states[i] = s
	}
	s.enabled = true
}

func (a *KlineAggregator) DisableInterval(i KlineInterval) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.states[i]; ok {
		s.enabled = false
	}
}

func (a *KlineAggregator) IsIntervalEnabled(i KlineInterval) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[i]
	return ok && s.enabled
}

func (a *KlineAggregator) EnabledIntervals() []KlineInterval {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []KlineInterval
	for i, s := range a.states {
		if s.enabled {
			out = append(out, i)
		}
	}
	return out
}

// ProcessTrade folds one trade into every enabled interval.
func (a *KlineAggregator) ProcessTrade(t TradeData) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for interval, s := range a.states {
		if !s.enabled {
			continue
		}
		a.updateCandle(interval, s, t)
	}
}

// ProcessEvent handles a normalized MarketEvent, folding trade payloads
// and ignoring everything else.
func (a *KlineAggregator) ProcessEvent(e MarketEvent) {
	if e.Type == EventTrade && e.Trade != nil {
		a.ProcessTrade(*e.Trade)
	}
}

func alignToInterval(tsMS int64, intervalMS int64) int64 {
	return (tsMS / intervalMS) * intervalMS
}

func (a *KlineAggregator) updateCandle(interval KlineInterval, s *intervalState, t TradeData) {
	tsMS := t.TimeNS / 1_000_000
	openTime := alignToInterval(tsMS, interval.IntervalMS())

	if s.current != nil && s.current.Kline.OpenTimeMS != openTime {
		a.closeCandle(interval, s)
	}
	if s.current == nil {
		s.current = &AggregatedKline{
			Kline: Kline{
				OpenTimeMS:  openTime,
				CloseTimeMS: openTime + interval.IntervalMS() - 1,
				Open:        t.Price,
				High:        t.Price,
				Low:         t.Price,
				Close:       t.Price,
				Volume:      decimal.Zero,
			},
			VWAP:       t.Price,
			BuyVolume:  decimal.Zero,
			SellVolume: decimal.Zero,
			notional:   decimal.Zero,
		}
	}

	c := s.current
	if t.Price.GreaterThan(c.Kline.High) {
		c.Kline.High = t.Price
	}
	if t.Price.LessThan(c.Kline.Low) {
		c.Kline.Low = t.Price
	}
	c.Kline.Close = t.Price
	c.Kline.Volume = c.Kline.Volume.Add(t.Qty)
	c.TradeCount++
	c.notional = c.notional.Add(t.Price.Mul(t.Qty))
	if !c.Kline.Volume.IsZero() {
		c.VWAP = c.notional.Div(c.Kline.Volume)
	}
	if t.BuyerMakr {
		// the buyer was the resting maker, so this trade was taker-sell.
		c.SellVolume = c.SellVolume.Add(t.Qty)
	} else {
		c.BuyVolume = c.BuyVolume.Add(t.Qty)
	}

	if a.cfg.EmitOnUpdate {
		a.emit(interval, *c)
	}
}

func (a *KlineAggregator) closeCandle(interval KlineInterval, s *intervalState) {
	if s.current == nil {
		return
	}
	closed := *s.current
	closed.IsClosed = true
	s.history = append(s.history, closed)
	if a.cfg.MaxHistoryPerInterval > 0 && len(s.history) > a.cfg.MaxHistoryPerInterval {
		s.history = s.history[len(s.history)-a.cfg.MaxHistoryPerInterval:]
	}
	if a.cfg.EmitOnClose {
		a.emit(interval, closed)
	}
	s.current = nil
}

func (a *KlineAggregator) emit(interval KlineInterval, k AggregatedKline) {
	if a.callback != nil {
		a.callback(a.symbol, interval, k)
	}
}

// CurrentKline returns the in-progress candle for interval, if any.
func (a *KlineAggregator) CurrentKline(interval KlineInterval) (AggregatedKline, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[interval]
	if !ok || s.current == nil {
		return AggregatedKline{}, false
	}
	return *s.current, true
}

// History returns closed candles for interval, oldest first.
func (a *KlineAggregator) History(interval KlineInterval) []AggregatedKline {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[interval]
	if !ok {
		return nil
	}
	out := make([]AggregatedKline, len(s.history))
	copy(out, s.history)
	return out
}

// Range returns closed candles for interval within [fromMS, toMS].
func (a *KlineAggregator) Range(interval KlineInterval, fromMS, toMS int64) []AggregatedKline {
	var out []AggregatedKline
	for _, k := range a.History(interval) {
		if k.Kline.OpenTimeMS >= fromMS && k.Kline.OpenTimeMS <= toMS {
			out = append(out, k)
		}
	}
	return out
}

// Clear resets one interval's state.
func (a *KlineAggregator) Clear(interval KlineInterval) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.states[interval]; ok {
		s.current = nil
		s.history = nil
	}
}

// ClearAll resets every interval's state.
func (a *KlineAggregator) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.states {
		s.current = nil
		s.history = nil
	}
}
