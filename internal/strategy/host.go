package strategy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veloz/veloz/internal/market"
)

// StrategyMetrics is the per-strategy counter block the host maintains
// on behalf of every loaded kernel, standing in for the lock-free
// metrics block each strategy instance would otherwise own: events
// processed, signals generated, cumulative OnEvent execution time, and
// callback errors caught and swallowed by the host.
type StrategyMetrics struct {
	EventsProcessed  int64
	SignalsGenerated int64
	ExecutionTimeNS  int64
	Errors           int64
}

// StrategyState is the read-only snapshot of one loaded strategy's
// identity, lifecycle, and metrics, used both for operator inspection
// and as the payload persisted to a per-strategy snapshot file.
type StrategyState struct {
	ID      string
	Symbol  string
	State   LifecycleState
	Metrics StrategyMetrics
}

// Factory builds a new Strategy instance with the given id, symbol, and
// initial parameters.
type Factory func(id, symbol string, p Params) (Strategy, error)

// SignalSink receives order requests drained from running strategies.
type SignalSink func([]OrderRequest)

// Host is the strategy registry and runtime: it owns a kind -> Factory
// map (mirroring a typical Go plugin-factory registry) and an
// id -> Strategy instance map, fans incoming market events out to every
// strategy subscribed to that symbol, and periodically drains and
// routes their signals to an injected sink — generalizing the teacher's
// engine.go market-slot registry from one strategy-per-market to many
// named strategies per symbol.
type Host struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	strategies map[string]Strategy
	bySymbol   map[string][]string // symbol -> strategy ids
	metrics    map[string]*StrategyMetrics
	sink       SignalSink
	log        *slog.Logger
}

// NewHost creates an empty host.
func NewHost(log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{
		factories:  make(map[string]Factory),
		strategies: make(map[string]Strategy),
		bySymbol:   make(map[string][]string),
		metrics:    make(map[string]*StrategyMetrics),
		log:        log.With("component", "strategy_host"),
	}
}

// SetSignalSink sets where drained signals are routed.
func (h *Host) SetSignalSink(sink SignalSink) {
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()
}

// RegisterFactory adds a named strategy kind to the registry.
func (h *Host) RegisterFactory(kind string, f Factory) {
	h.mu.Lock()
	h.factories[kind] = f
	h.mu.Unlock()
}

// Load instantiates and starts a strategy of kind with the given id/
// symbol/params, registering it to receive that symbol's events.
func (h *Host) Load(kind, id, symbol string, p Params) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.strategies[id]; exists {
		return fmt.Errorf("strategy %s: %w", id, ErrAlreadyLoaded)
	}
	factory, ok := h.factories[kind]
	if !ok {
		return fmt.Errorf("strategy kind %q: %w", kind, ErrNotFound)
	}
	s, err := factory(id, symbol, p)
	if err != nil {
		return fmt.Errorf("construct strategy %s: %w", id, err)
	}
	s.Start()
	h.strategies[id] = s
	h.bySymbol[symbol] = append(h.bySymbol[symbol], id)
	h.metrics[id] = &StrategyMetrics{}
	h.log.Info("strategy loaded", "kind", kind, "id", id, "symbol", symbol)
	return nil
}

// Unload stops and removes a strategy.
func (h *Host) Unload(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.strategies[id]
	if !ok {
		return fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	s.Stop()
	delete(h.strategies, id)
	delete(h.metrics, id)
	ids := h.bySymbol[s.Symbol()]
	for i, sid := range ids {
		if sid == id {
			h.bySymbol[s.Symbol()] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	h.log.Info("strategy unloaded", "id", id)
	return nil
}

// Reload hot-applies new parameters to a running strategy without
// restarting it.
func (h *Host) Reload(id string, p Params) error {
	h.mu.RLock()
	s, ok := h.strategies[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	if err := s.ApplyParams(p); err != nil {
		return fmt.Errorf("reload strategy %s: %w", id, err)
	}
	h.log.Info("strategy reloaded", "id", id)
	return nil
}

// Pause/Resume toggle one strategy's lifecycle state.
func (h *Host) Pause(id string) error  { return h.withStrategy(id, Strategy.Pause) }
func (h *Host) Resume(id string) error { return h.withStrategy(id, Strategy.Resume) }

func (h *Host) withStrategy(id string, f func(Strategy)) error {
	h.mu.RLock()
	s, ok := h.strategies[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	f(s)
	return nil
}

// OnEvent fans event out to every running strategy subscribed to its
// symbol. Intended to be invoked from within a dispatcher task. A
// strategy that panics is caught here, counted against its Errors
// metric, and left loaded — matching the ErrStrategyError propagation
// rule (local recovery, not process exit).
func (h *Host) OnEvent(event market.MarketEvent) {
	h.mu.RLock()
	ids := h.bySymbol[event.Symbol]
	type entry struct {
		id string
		s  Strategy
		m  *StrategyMetrics
	}
	entries := make([]entry, 0, len(ids))
	for _, id := range ids {
		if s, ok := h.strategies[id]; ok {
			entries = append(entries, entry{id: id, s: s, m: h.metrics[id]})
		}
	}
	h.mu.RUnlock()

	for _, e := range entries {
		if e.s.State() != StateRunning {
			continue
		}
		h.runEvent(e.id, e.s, e.m, event)
	}
}

func (h *Host) runEvent(id string, s Strategy, m *StrategyMetrics, event market.MarketEvent) {
	defer func() {
		if r := recover(); r != nil {
			if m != nil {
				m.Errors++
			}
			h.log.Error("strategy panicked on event", "id", id, "recover", r)
		}
	}()
	start := time.Now()
	s.OnEvent(event)
	if m != nil {
		m.EventsProcessed++
		m.ExecutionTimeNS += time.Since(start).Nanoseconds()
	}
}

// DrainAndRoute pulls pending signals from every strategy and routes
// them to the sink in one batch. The runtime calls it periodically from
// its signal drain loop.
func (h *Host) DrainAndRoute() {
	h.mu.RLock()
	type entry struct {
		id string
		s  Strategy
		m  *StrategyMetrics
	}
	entries := make([]entry, 0, len(h.strategies))
	for id, s := range h.strategies {
		entries = append(entries, entry{id: id, s: s, m: h.metrics[id]})
	}
	sink := h.sink
	h.mu.RUnlock()

	if sink == nil {
		return
	}
	var all []OrderRequest
	for _, e := range entries {
		signals := e.s.DrainSignals()
		if e.m != nil {
			e.m.SignalsGenerated += int64(len(signals))
		}
		all = append(all, signals...)
	}
	if len(all) > 0 && sink != nil {
		sink(all)
	}
}

// Strategies returns the ids of every loaded strategy.
func (h *Host) Strategies() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.strategies))
	for id := range h.strategies {
		out = append(out, id)
	}
	return out
}

// Get returns a loaded strategy by id.
func (h *Host) Get(id string) (Strategy, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.strategies[id]
	return s, ok
}

// GetState returns the identity, lifecycle, and metrics snapshot for
// one loaded strategy, the payload a per-strategy snapshot file
// persists.
func (h *Host) GetState(id string) (StrategyState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.strategies[id]
	if !ok {
		return StrategyState{}, false
	}
	var m StrategyMetrics
	if mp, ok := h.metrics[id]; ok && mp != nil {
		m = *mp
	}
	return StrategyState{ID: s.ID(), Symbol: s.Symbol(), State: s.State(), Metrics: m}, true
}

// GetMetricsSummary returns the per-strategy metrics block for every
// loaded strategy plus the aggregate across all of them.
func (h *Host) GetMetricsSummary() (per map[string]StrategyMetrics, aggregate StrategyMetrics) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	per = make(map[string]StrategyMetrics, len(h.metrics))
	for id, m := range h.metrics {
		per[id] = *m
		aggregate.EventsProcessed += m.EventsProcessed
		aggregate.SignalsGenerated += m.SignalsGenerated
		aggregate.ExecutionTimeNS += m.ExecutionTimeNS
		aggregate.Errors += m.Errors
	}
	return per, aggregate
}
