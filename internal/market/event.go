// Package market implements order book maintenance, candle aggregation and
// data-quality scoring for a single exchange venue.
package market

import "github.com/shopspring/decimal"

// EventType identifies the kind of payload carried by a MarketEvent.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventTrade
	EventBookDelta
	EventBookSnapshot
	EventBookTicker
	EventKline
)

func (t EventType) String() string {
	switch t {
	case EventTrade:
		return "trade"
	case EventBookDelta:
		return "book_delta"
	case EventBookSnapshot:
		return "book_snapshot"
	case EventBookTicker:
		return "book_ticker"
	case EventKline:
		return "kline"
	default:
		return "unknown"
	}
}

// BookLevel is a single price/quantity level on one side of a book.
type BookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// TradeData carries a single executed trade.
type TradeData struct {
	Symbol    string
	TradeID   int64
	Price     decimal.Decimal
	Qty       decimal.Decimal
	BuyerMakr bool // true when the buyer was the resting maker order
	TimeNS    int64
}

// BookData carries either a full snapshot or an incremental delta.
//
// Sequence is the venue's `u` (final update id); FirstUpdateID is `U`
// (first update id in the event). For a snapshot, Sequence is the
// REST response's lastUpdateId and FirstUpdateID is unused.
type BookData struct {
	Symbol        string
	Sequence      int64
	FirstUpdateID int64
	IsSnapshot    bool
	Bids          []BookLevel
	Asks          []BookLevel
	TimeNS        int64
}

// MarketEvent is the normalized envelope posted onto the dispatcher for
// every piece of inbound market data, regardless of venue wire format.
type MarketEvent struct {
	Type      EventType
	Symbol    string
	Trade     *TradeData
	Book      *BookData
	RecvTimeNS int64
}
