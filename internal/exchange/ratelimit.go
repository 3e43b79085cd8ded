// ratelimit.go implements token-bucket rate limiting for the Binance
// REST and WebSocket APIs.
//
// Binance enforces a request-weight budget per rolling minute (1200
// weight/min on spot) plus a raw order-count budget per 10s/24h window.
// This file provides a smooth token-bucket implementation that refills
// continuously (rather than in discrete windows) to avoid hitting hard
// limits.
//
// Three buckets are maintained:
//   - Weight: 1200 burst / 20 per sec (maps to the 1200 weight/minute cap)
//   - Order:  50 burst / 5 per sec    (maps to the 10s new-order cap)
//   - Book:   100 burst / 10 per sec  (maps to depth-snapshot request rate)
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// WaitN blocks until n tokens have been taken, calling Wait once per
// token, so other Wait/WaitN callers may take tokens in between; a
// fractional n is truncated. Used for weighted endpoints where a single
// call costs more than one unit of budget.
func (tb *TokenBucket) WaitN(ctx context.Context, n float64) error {
	for i := 0; i < int(n); i++ {
		if err := tb.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RateLimiter groups token buckets by Binance API request category.
// Each REST call must call the appropriate bucket's Wait() before
// making the HTTP request.
type RateLimiter struct {
	Weight *TokenBucket // overall request-weight budget (1200/min)
	Order  *TokenBucket // POST /api/v3/order — new order placement
	Book   *TokenBucket // GET /api/v3/depth — order book snapshot reads
}

// NewRateLimiter creates rate limiters tuned to Binance's published
// spot-market limits. Capacities are set to the burst allowance, rates
// to a smooth per-second refill that reconstitutes the full budget over
// its native window.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Weight: NewTokenBucket(1200, 20), // 1200 weight per 60s window
		Order:  NewTokenBucket(50, 5),    // 50 orders per 10s window
		Book:   NewTokenBucket(100, 10),  // 100 depth reads per 10s window
	}
}
