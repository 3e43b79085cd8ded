package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/market"
)

func tradeEvent(symbol, price string) market.MarketEvent {
	p, err := decimal.NewFromString(price)
	if err != nil {
		panic(err)
	}
	return market.MarketEvent{
		Type:   market.EventTrade,
		Symbol: symbol,
		Trade:  &market.TradeData{Symbol: symbol, Price: p, Qty: decimal.NewFromInt(1)},
	}
}

func bookTickerEvent(symbol, bid, ask string) market.MarketEvent {
	bidP, err := decimal.NewFromString(bid)
	if err != nil {
		panic(err)
	}
	askP, err := decimal.NewFromString(ask)
	if err != nil {
		panic(err)
	}
	return market.MarketEvent{
		Type:   market.EventBookTicker,
		Symbol: symbol,
		Book: &market.BookData{
			Symbol: symbol,
			Bids:   []market.BookLevel{{Price: bidP, Qty: decimal.NewFromInt(1)}},
			Asks:   []market.BookLevel{{Price: askP, Qty: decimal.NewFromInt(1)}},
		},
	}
}
