// ws.go implements a combined-stream client for Binance's public market
// data WebSocket API: connect/reconnect with exponential backoff, a
// ping keepalive loop, subscribe/unsubscribe management, and dispatch
// of decoded payloads onto typed channels consumed by the managed order
// book and kline/quality pipeline.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/market"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultReadDeadline = 90 * time.Second
	pingInterval        = 30 * time.Second
	minBackoff          = time.Second
	maxBackoff          = 30 * time.Second
)

// WSConfig configures the combined-stream client.
type WSConfig struct {
	BaseURL string // e.g. "wss://stream.binance.com:9443"
}

// WSFeed maintains one combined-stream connection to Binance, fanning
// decoded events out onto typed channels.
type WSFeed struct {
	cfg WSConfig
	log *slog.Logger

	conn    *websocket.Conn
	connMu  sync.Mutex
	subMu   sync.RWMutex
	streams map[string]bool
	nextID  atomic.Int64

	trades  chan market.TradeData
	books   chan market.BookData
	tickers chan market.BookData

	closed atomic.Bool
}

// NewWSFeed creates a feed that will connect to cfg.BaseURL once Run is
// called.
func NewWSFeed(cfg WSConfig, log *slog.Logger) *WSFeed {
	if log == nil {
		log = slog.Default()
	}
	return &WSFeed{
		cfg:     cfg,
		log:     log.With("component", "ws_feed"),
		streams: make(map[string]bool),
		trades:  make(chan market.TradeData, 4096),
		books:   make(chan market.BookData, 4096),
		tickers: make(chan market.BookData, 4096),
	}
}

// TradeEvents returns the channel of decoded trade payloads.
func (f *WSFeed) TradeEvents() <-chan market.TradeData { return f.trades }

// BookEvents returns the channel of decoded depth-update payloads.
func (f *WSFeed) BookEvents() <-chan market.BookData { return f.books }

// TickerEvents returns the channel of decoded book-ticker payloads.
func (f *WSFeed) TickerEvents() <-chan market.BookData { return f.tickers }

// Subscribe adds streams (e.g. "btcusdt@trade", "ethusdt@depth@100ms")
// to the active subscription set, sending a SUBSCRIBE frame if already
// connected.
func (f *WSFeed) Subscribe(streams ...string) error {
	f.subMu.Lock()
	var toAdd []string
	for _, s := range streams {
		if !f.streams[s] {
			f.streams[s] = true
			toAdd = append(toAdd, s)
		}
	}
	f.subMu.Unlock()
	if len(toAdd) == 0 {
		return nil
	}
	return f.sendControl("SUBSCRIBE", toAdd)
}

// Unsubscribe removes streams from the active subscription set.
func (f *WSFeed) Unsubscribe(streams ...string) error {
	f.subMu.Lock()
	var toRemove []string
	for _, s := range streams {
		if f.streams[s] {
			delete(f.streams, s)
			toRemove = append(toRemove, s)
		}
	}
	f.subMu.Unlock()
	if len(toRemove) == 0 {
		return nil
	}
	return f.sendControl("UNSUBSCRIBE", toRemove)
}

type controlMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (f *WSFeed) sendControl(method string, streams []string) error {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		return nil // queued; Run() resubscribes everything on (re)connect
	}
	msg := controlMsg{Method: method, Params: streams, ID: f.nextID.Add(1)}
	return conn.WriteJSON(msg)
}

// Run dials, reads, and reconnects with exponential backoff until ctx
// is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.connectAndRead(ctx); err != nil {
			f.log.Warn("ws connection ended", "error", err, "backoff", backoff)
		}
		if f.closed.Load() || ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Close shuts the feed down; Run will return after its current read
// unblocks.
func (f *WSFeed) Close() {
	f.closed.Store(true)
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.connMu.Unlock()
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	url := f.cfg.BaseURL + "/stream"
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		conn.Close()
	}()

	f.subMu.RLock()
	var streams []string
	for s := range f.streams {
		streams = append(streams, s)
	}
	f.subMu.RUnlock()
	if len(streams) > 0 {
		if err := conn.WriteJSON(controlMsg{Method: "SUBSCRIBE", Params: streams, ID: f.nextID.Add(1)}); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	stopPing := make(chan struct{})
	go f.pingLoop(conn, stopPing)
	defer close(stopPing)

	conn.SetReadDeadline(time.Now().Add(defaultReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(defaultReadDeadline))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(defaultReadDeadline))
		f.dispatchMessage(data)
	}
}

func (f *WSFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.connMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			f.connMu.Unlock()
			if err != nil {
				f.log.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Stream == "" {
		// combined-stream wrapper missing; ignore (e.g. SUBSCRIBE ack {"result":null,"id":1})
		return
	}

	switch {
	case strings.Contains(env.Stream, "@trade"):
		f.dispatchTrade(env.Data)
	case strings.Contains(env.Stream, "@depth"):
		f.dispatchDepth(env.Data)
	case strings.Contains(env.Stream, "@bookTicker"):
		f.dispatchBookTicker(env.Data)
	}
}

type wireTrade struct {
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	BuyerMakr bool   `json:"m"`
	TradeTime int64  `json:"T"`
}

func (f *WSFeed) dispatchTrade(raw json.RawMessage) {
	var w wireTrade
	if err := json.Unmarshal(raw, &w); err != nil {
		f.log.Warn("malformed trade payload", "error", err)
		return
	}
	price, _ := decimal.NewFromString(w.Price)
	qty, _ := decimal.NewFromString(w.Qty)
	f.trades <- market.TradeData{
		Symbol: w.Symbol, TradeID: w.TradeID, Price: price, Qty: qty,
		BuyerMakr: w.BuyerMakr, TimeNS: w.TradeTime * 1_000_000,
	}
}

type wireLevel [2]string

type wireDepthUpdate struct {
	Symbol        string      `json:"s"`
	FirstUpdateID int64       `json:"U"`
	FinalUpdateID int64       `json:"u"`
	EventTime     int64       `json:"E"`
	Bids          []wireLevel `json:"b"`
	Asks          []wireLevel `json:"a"`
}

func (f *WSFeed) dispatchDepth(raw json.RawMessage) {
	var w wireDepthUpdate
	if err := json.Unmarshal(raw, &w); err != nil {
		f.log.Warn("malformed depth payload", "error", err)
		return
	}
	f.books <- market.BookData{
		Symbol: w.Symbol, Sequence: w.FinalUpdateID, FirstUpdateID: w.FirstUpdateID,
		Bids: decodeLevels(w.Bids), Asks: decodeLevels(w.Asks), TimeNS: w.EventTime * 1_000_000,
	}
}

type wireBookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

func (f *WSFeed) dispatchBookTicker(raw json.RawMessage) {
	var w wireBookTicker
	if err := json.Unmarshal(raw, &w); err != nil {
		f.log.Warn("malformed book ticker payload", "error", err)
		return
	}
	bidPrice, _ := decimal.NewFromString(w.BidPrice)
	bidQty, _ := decimal.NewFromString(w.BidQty)
	askPrice, _ := decimal.NewFromString(w.AskPrice)
	askQty, _ := decimal.NewFromString(w.AskQty)
	f.tickers <- market.BookData{
		Symbol: w.Symbol,
		Bids:   []market.BookLevel{{Price: bidPrice, Qty: bidQty}},
		Asks:   []market.BookLevel{{Price: askPrice, Qty: askQty}},
	}
}

func decodeLevels(wire []wireLevel) []market.BookLevel {
	out := make([]market.BookLevel, 0, len(wire))
	for _, l := range wire {
		price, err1 := decimal.NewFromString(l[0])
		qty, err2 := decimal.NewFromString(l[1])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, market.BookLevel{Price: price, Qty: qty})
	}
	return out
}

// DepthStreamName builds the combined-stream name for a symbol's diff
// depth channel at the given update speed in milliseconds (100 or 1000).
func DepthStreamName(symbol string, updateSpeedMS int) string {
	symbol = strings.ToLower(symbol)
	if updateSpeedMS <= 0 {
		return symbol + "@depth"
	}
	return symbol + "@depth@" + strconv.Itoa(updateSpeedMS) + "ms"
}

// TradeStreamName builds the combined-stream name for a symbol's trade
// channel.
func TradeStreamName(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}

// BookTickerStreamName builds the combined-stream name for a symbol's
// best-bid/ask channel.
func BookTickerStreamName(symbol string) string {
	return strings.ToLower(symbol) + "@bookTicker"
}
