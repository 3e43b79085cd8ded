// Package strategy implements the algorithmic strategy runtime: a
// shared kernel contract, a hosting registry with hot-reload, and five
// concrete trading strategies.
package strategy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/market"
)

// Side is the direction of an order request.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// TimeInForce is the venue time-in-force instruction for an order.
type TimeInForce uint8

const (
	TIFGTC TimeInForce = iota // good-til-cancelled
	TIFIOC                    // immediate-or-cancel
	TIFFOK                    // fill-or-kill
	TIFGTX                    // post-only (maker-or-cancel)
)

// OrderType distinguishes limit from market requests.
type OrderType uint8

const (
	OrderLimit OrderType = iota
	OrderMarket
)

// OrderRequest is the record a strategy emits to ask the runtime to
// route an order to the external sink. VeloZ never places this order
// itself or learns of its fill; it is purely a signal.
type OrderRequest struct {
	StrategyID    string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Price         decimal.Decimal
	Qty           decimal.Decimal
	CreatedAtNS   int64
}

// LifecycleState tracks where a strategy is in its run lifecycle.
type LifecycleState int32

const (
	StateCreated LifecycleState = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "created"
	}
}

// Params is the hot-reloadable parameter bag passed to a strategy.
type Params map[string]float64

// Strategy is the contract every kernel implements. OnEvent runs on the
// dispatcher goroutine and must not block; it should append any
// resulting OrderRequest to its own pending-signal buffer for Host to
// drain.
type Strategy interface {
	ID() string
	Symbol() string
	Start()
	Stop()
	Pause()
	Resume()
	State() LifecycleState
	OnEvent(event market.MarketEvent)
	ApplyParams(p Params) error
	DrainSignals() []OrderRequest
}

// Base implements the lifecycle and signal-buffer plumbing shared by
// every concrete kernel, mirroring the atomic running-flag idiom the
// teacher's Maker/Inventory types use.
type Base struct {
	id     string
	symbol string
	state  atomic.Int32

	mu      sync.Mutex
	pending []OrderRequest
}

// NewBase creates the embeddable base for a strategy with id and symbol.
func NewBase(id, symbol string) Base {
	return Base{id: id, symbol: symbol}
}

func (b *Base) ID() string     { return b.id }
func (b *Base) Symbol() string { return b.symbol }

func (b *Base) Start()  { b.state.Store(int32(StateRunning)) }
func (b *Base) Stop()   { b.state.Store(int32(StateStopped)) }
func (b *Base) Pause()  { b.state.Store(int32(StatePaused)) }
func (b *Base) Resume() { b.state.Store(int32(StateRunning)) }

func (b *Base) State() LifecycleState { return LifecycleState(b.state.Load()) }

func (b *Base) IsRunning() bool { return b.State() == StateRunning }

// Emit appends a signal to the pending buffer, stamping its strategy id
// and creation time.
func (b *Base) Emit(req OrderRequest) {
	req.StrategyID = b.id
	req.CreatedAtNS = time.Now().UnixNano()
	b.mu.Lock()
	b.pending = append(b.pending, req)
	b.mu.Unlock()
}

// DrainSignals returns and clears the pending signal buffer.
func (b *Base) DrainSignals() []OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	out := b.pending
	b.pending = nil
	return out
}
