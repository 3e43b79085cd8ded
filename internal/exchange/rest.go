// rest.go implements the REST snapshot and ticker client used to seed
// and recover a managed order book.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/veloz/veloz/internal/market"
)

// RESTConfig configures the REST client.
type RESTConfig struct {
	BaseURL string // e.g. "https://api.binance.com"
	Timeout time.Duration
}

// Client wraps a resty client with Binance-specific endpoints and
// rate-limited access via an injected RateLimiter.
type Client struct {
	http    *resty.Client
	limiter *RateLimiter
}

// NewClient creates a REST client that retries 5xx responses up to 3
// times with exponential backoff, matching the teacher's resty setup.
func NewClient(cfg RESTConfig, limiter *RateLimiter) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &Client{http: http, limiter: limiter}
}

type depthResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// GetDepthSnapshot fetches a full order book snapshot for symbol,
// suitable for seeding a ManagedOrderBook after a stream reconnects.
func (c *Client) GetDepthSnapshot(ctx context.Context, symbol string, limit int) (market.BookData, error) {
	if err := c.limiter.Book.Wait(ctx); err != nil {
		return market.BookData{}, err
	}
	if limit <= 0 {
		limit = 1000
	}

	var out depthResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"limit":  fmt.Sprintf("%d", limit),
		}).
		SetResult(&out).
		Get("/api/v3/depth")
	if err != nil {
		return market.BookData{}, fmt.Errorf("fetch depth snapshot for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return market.BookData{}, fmt.Errorf("depth snapshot for %s: http %d: %s", symbol, resp.StatusCode(), resp.String())
	}

	return market.BookData{
		Symbol:     symbol,
		Sequence:   out.LastUpdateID,
		IsSnapshot: true,
		Bids:       decodeRESTLevels(out.Bids),
		Asks:       decodeRESTLevels(out.Asks),
		TimeNS:     time.Now().UnixNano(),
	}, nil
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetTickerPrice fetches the latest traded price for symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.limiter.Weight.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var out tickerPriceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/api/v3/ticker/price")
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch ticker price for %s: %w", symbol, err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("ticker price for %s: http %d: %s", symbol, resp.StatusCode(), resp.String())
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker price %q: %w", out.Price, err)
	}
	return price, nil
}

// SnapshotFetcher adapts Client into a market.SnapshotFetcher for use by
// a ManagedOrderBook.
func (c *Client) SnapshotFetcher(limit int) market.SnapshotFetcher {
	return func(ctx context.Context, symbol string) (market.BookData, error) {
		return c.GetDepthSnapshot(ctx, symbol, limit)
	}
}

func decodeRESTLevels(wire [][2]string) []market.BookLevel {
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
