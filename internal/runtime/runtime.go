// Package runtime wires the dispatcher, managed order books, K-line
// aggregator, quality analyzer, exchange clients, strategy host, paper
// ledger, and snapshot manager into one running process per
// spec.md's system overview, following the shape of the teacher's
// internal/engine/engine.go orchestrator: New() builds every
// component, Start() launches the reactor goroutines under an
// errgroup, Stop() cancels and waits.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/veloz/veloz/internal/account"
	"github.com/veloz/veloz/internal/config"
	"github.com/veloz/veloz/internal/core"
	"github.com/veloz/veloz/internal/exchange"
	"github.com/veloz/veloz/internal/market"
	"github.com/veloz/veloz/internal/snapshot"
	"github.com/veloz/veloz/internal/strategy"
)

// symbolSlot bundles the per-symbol pipeline: a managed order book, a
// K-line aggregator, and a quality analyzer. One slot exists per
// configured venue symbol.
type symbolSlot struct {
	symbol  string
	book    *market.ManagedOrderBook
	kline   *market.KlineAggregator
	quality *market.QualityAnalyzer
}

// Runtime is the top-level object wiring every core component for one
// venue and its configured symbol set.
type Runtime struct {
	cfg config.Config
	log *slog.Logger

	dispatcher *core.Dispatcher
	ws         *exchange.WSFeed
	rest       *exchange.Client
	limiter    *exchange.RateLimiter
	host       *strategy.Host
	acct       *account.Account
	snap       *snapshot.Manager

	slots map[string]*symbolSlot

	lastPriceMu sync.Mutex
	lastPrice   map[string]decimal.Decimal

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// registerFactories wires every built-in strategy kernel into the host
// registry, following the teacher's explicit-registration idiom in
// cmd/bot/main.go.
func registerFactories(h *strategy.Host) {
	h.RegisterFactory("trend_following", strategy.NewTrendFollowing)
	h.RegisterFactory("mean_reversion", strategy.NewMeanReversion)
	h.RegisterFactory("momentum", strategy.NewMomentum)
	h.RegisterFactory("market_making", strategy.NewMarketMaking)
	h.RegisterFactory("grid", strategy.NewGrid)
}

// New builds every component but starts nothing.
func New(cfg config.Config, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "runtime")

	snap, err := snapshot.Open(cfg.Snapshot.Dir, cfg.Snapshot.MaxSnapshots)
	if err != nil {
		return nil, fmt.Errorf("open snapshot manager: %w", err)
	}

	limiter := exchange.NewRateLimiter()
	rest := exchange.NewClient(exchange.RESTConfig{
		BaseURL: cfg.Venue.RESTBaseURL,
		Timeout: cfg.Venue.RESTTimeout,
	}, limiter)

	ws := exchange.NewWSFeed(exchange.WSConfig{BaseURL: cfg.Venue.WSBaseURL}, log)

	dispatcher := core.NewDispatcher(cfg.Dispatcher.QueueSize, cfg.Dispatcher.TickRate, log)
	dispatcher.SetTagFilter(cfg.Dispatcher.EnabledTags)

	host := strategy.NewHost(log)
	registerFactories(host)

	acct := account.New()

	r := &Runtime{
		cfg:        cfg,
		log:        log,
		dispatcher: dispatcher,
		ws:         ws,
		rest:       rest,
		limiter:    limiter,
		host:       host,
		acct:       acct,
		snap:       snap,
		slots:      make(map[string]*symbolSlot),
		lastPrice:  make(map[string]decimal.Decimal),
	}

	for _, symbol := range cfg.Venue.Symbols {
		r.slots[symbol] = r.newSlot(symbol)
	}

	for _, sc := range cfg.Strategies {
		if err := host.Load(sc.Kind, sc.ID, sc.Symbol, sc.Params); err != nil {
			return nil, fmt.Errorf("load strategy %s: %w", sc.ID, err)
		}
	}

	return r, nil
}

func (r *Runtime) newSlot(symbol string) *symbolSlot {
	book := market.NewManagedOrderBook(symbol, r.log)
	book.SetSnapshotFetcher(r.rest.SnapshotFetcher(r.cfg.Venue.DepthLimit))
	book.SetMaxBufferSize(r.cfg.Book.MaxBufferSize)
	book.SetMaxDepthLevels(r.cfg.Book.MaxDepthLevels)
	book.SetSnapshotTimeout(r.cfg.Book.SnapshotTimeout)

	klineCfg := market.DefaultKlineAggregatorConfig()
	klineCfg.MaxHistoryPerInterval = r.cfg.Kline.MaxHistoryPerInterval
	if r.cfg.Kline.EmitOnUpdate || r.cfg.Kline.EmitOnClose {
		klineCfg.EmitOnUpdate = r.cfg.Kline.EmitOnUpdate
		klineCfg.EmitOnClose = r.cfg.Kline.EmitOnClose
	}
	kline := market.NewKlineAggregator(symbol, klineCfg)
	for _, s := range r.cfg.Kline.Intervals {
		if iv, ok := market.ParseKlineInterval(s); ok {
			kline.EnableInterval(iv)
		}
	}
	if len(r.cfg.Kline.Intervals) == 0 {
		kline.EnableInterval(market.Min1)
		kline.EnableInterval(market.Min5)
	}

	qCfg := market.DefaultQualityConfig()
	if r.cfg.Quality.PriceSpikeThreshold > 0 {
		qCfg.PriceSpikeThreshold = r.cfg.Quality.PriceSpikeThreshold
	}
	if r.cfg.Quality.VolumeSpikeMultiplier > 0 {
		qCfg.VolumeSpikeMultiplier = r.cfg.Quality.VolumeSpikeMultiplier
	}
	if r.cfg.Quality.VolumeDropThreshold > 0 {
		qCfg.VolumeDropThreshold = r.cfg.Quality.VolumeDropThreshold
	}
	if r.cfg.Quality.MaxSpreadBps > 0 {
		qCfg.MaxSpreadBps = r.cfg.Quality.MaxSpreadBps
	}
	if r.cfg.Quality.StaleThresholdMS > 0 {
		qCfg.StaleThresholdMS = r.cfg.Quality.StaleThresholdMS
	}
	if r.cfg.Quality.MaxClockSkewMS > 0 {
		qCfg.MaxClockSkewMS = r.cfg.Quality.MaxClockSkewMS
	}
	quality := market.NewQualityAnalyzer(qCfg)

	return &symbolSlot{symbol: symbol, book: book, kline: kline, quality: quality}
}

// Start wires the order sink, subscribes every configured symbol's
// streams, and launches the dispatcher loop plus the WS/REST reactor
// goroutines under an errgroup, matching the teacher's Engine.Start
// goroutine fan-out.
func (r *Runtime) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.host.SetSignalSink(r.routeSignals)

	g, gctx := core.RunWithGroup(r.ctx, r.dispatcher)

	for symbol, slot := range r.slots {
		slot.book.Start(gctx)
		streams := []string{
			exchange.TradeStreamName(symbol),
			exchange.DepthStreamName(symbol, 100),
			exchange.BookTickerStreamName(symbol),
		}
		if err := r.ws.Subscribe(streams...); err != nil {
			r.log.Warn("subscribe failed, will resubscribe on connect", "symbol", symbol, "error", err)
		}
	}

	g.Go(func() error { return r.ws.Run(gctx) })
	g.Go(func() error { return r.pumpTrades(gctx) })
	g.Go(func() error { return r.pumpBooks(gctx) })
	g.Go(func() error { return r.pumpTickers(gctx) })
	g.Go(func() error { return r.snapshotLoop(gctx) })
	g.Go(func() error { return r.signalDrainLoop(gctx) })

	r.group = g
	return nil
}

// Stop cancels every reactor, stops the dispatcher and managed books,
// waits for the errgroup, and takes one final snapshot.
func (r *Runtime) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	for _, slot := range r.slots {
		slot.book.Stop()
	}
	r.ws.Close()
	r.dispatcher.Stop()

	var err error
	if r.group != nil {
		err = r.group.Wait()
	}
	if _, saveErr := r.snap.Save(r.acct, r.host, r.currentPrice()); saveErr != nil {
		r.log.Error("final snapshot failed", "error", saveErr)
	}
	return err
}

func (r *Runtime) pumpTrades(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-r.ws.TradeEvents():
			if !ok {
				return nil
			}
			r.onTrade(t)
		}
	}
}

func (r *Runtime) pumpBooks(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-r.ws.BookEvents():
			if !ok {
				return nil
			}
			r.onBookDelta(b)
		}
	}
}

func (r *Runtime) pumpTickers(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-r.ws.TickerEvents():
			if !ok {
				return nil
			}
			r.onTicker(b)
		}
	}
}

func (r *Runtime) onTrade(t market.TradeData) {
	slot, ok := r.slots[t.Symbol]
	if !ok {
		return
	}
	r.setLastPrice(t.Symbol, t.Price)

	recvNS := time.Now().UnixNano()
	slot.kline.ProcessTrade(t)
	r.logAnomalies(t.Symbol, slot.quality.AnalyzeTrade(t, recvNS))

	event := market.MarketEvent{Type: market.EventTrade, Symbol: t.Symbol, Trade: &t, RecvTimeNS: recvNS}
	r.post(core.PriorityNormal, "type:trade", func() { r.host.OnEvent(event) })
}

func (r *Runtime) onBookDelta(b market.BookData) {
	slot, ok := r.slots[b.Symbol]
	if !ok {
		return
	}
	slot.book.OnDelta(b)

	recvNS := time.Now().UnixNano()
	event := market.MarketEvent{Type: market.EventBookDelta, Symbol: b.Symbol, Book: &b, RecvTimeNS: recvNS}
	r.post(core.PriorityHigh, "type:book_delta", func() { r.host.OnEvent(event) })
}

func (r *Runtime) onTicker(b market.BookData) {
	slot, ok := r.slots[b.Symbol]
	if !ok {
		return
	}
	if len(b.Bids) > 0 && len(b.Asks) > 0 {
		bid, _ := b.Bids[0].Price.Float64()
		ask, _ := b.Asks[0].Price.Float64()
		r.logAnomalies(b.Symbol, slot.quality.AnalyzeBook(bid, ask, time.Now().UnixNano()))
	}

	recvNS := time.Now().UnixNano()
	event := market.MarketEvent{Type: market.EventBookTicker, Symbol: b.Symbol, Book: &b, RecvTimeNS: recvNS}
	r.post(core.PriorityNormal, "type:book_ticker", func() { r.host.OnEvent(event) })
}

func (r *Runtime) logAnomalies(symbol string, anomalies []market.Anomaly) {
	for _, a := range anomalies {
		r.log.Warn("market quality anomaly", "symbol", symbol, "type", a.Type, "severity", a.Severity, "description", a.Description)
	}
}

func (r *Runtime) post(p core.Priority, tag string, fn func()) {
	if err := r.dispatcher.Post(core.Task{Tag: tag, Priority: p, Run: fn}); err != nil {
		r.log.Warn("dispatcher queue full, dropping task", "tag", tag, "error", err)
	}
}

// routeSignals is the order sink the strategy host drains into: it
// records every routed request against the paper ledger. Placing the
// order on a live venue is explicitly out of scope; spec.md section 6
// treats the sink as an external collaborator this callback stands in
// for.
func (r *Runtime) routeSignals(reqs []strategy.OrderRequest) {
	for _, req := range reqs {
		r.acct.RecordPending(account.PendingOrder{
			ClientOrderID: req.ClientOrderID,
			StrategyID:    req.StrategyID,
			Symbol:        req.Symbol,
			Side:          req.Side.String(),
			Qty:           req.Qty,
			Price:         req.Price,
		})
	}
}

func (r *Runtime) signalDrainLoop(ctx context.Context) error {
	interval := r.cfg.Dispatcher.SignalDrain
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.host.DrainAndRoute()
		}
	}
}

func (r *Runtime) snapshotLoop(ctx context.Context) error {
	interval := r.cfg.Snapshot.Interval
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.snap.Save(r.acct, r.host, r.currentPrice()); err != nil {
				r.log.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}

func (r *Runtime) setLastPrice(symbol string, price decimal.Decimal) {
	r.lastPriceMu.Lock()
	r.lastPrice[symbol] = price
	r.lastPriceMu.Unlock()
}

// currentPrice returns the last traded price of an arbitrary configured
// symbol, used as the snapshot's representative price field.
func (r *Runtime) currentPrice() decimal.Decimal {
	r.lastPriceMu.Lock()
	defer r.lastPriceMu.Unlock()
	for _, symbol := range r.cfg.Venue.Symbols {
		if p, ok := r.lastPrice[symbol]; ok {
			return p
		}
	}
	return decimal.Zero
}

// Account returns the runtime's paper ledger for operator inspection.
func (r *Runtime) Account() *account.Account { return r.acct }

// Host returns the strategy host for operator inspection.
func (r *Runtime) Host() *strategy.Host { return r.host }
