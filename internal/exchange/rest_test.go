package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGetDepthSnapshotParsesLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"lastUpdateId":123,"bids":[["100","1"]],"asks":[["101","2"]]}`))
	}))
	defer srv.Close()

	c := NewClient(RESTConfig{BaseURL: srv.URL}, NewRateLimiter())
	data, err := c.GetDepthSnapshot(context.Background(), "BTCUSDT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.Sequence != 123 {
		t.Fatalf("want sequence 123, got %d", data.Sequence)
	}
	if len(data.Bids) != 1 || len(data.Asks) != 1 {
		t.Fatalf("want 1 level per side, got bids=%d asks=%d", len(data.Bids), len(data.Asks))
	}
}

func TestGetDepthSnapshotHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(RESTConfig{BaseURL: srv.URL}, NewRateLimiter())
	if _, err := c.GetDepthSnapshot(context.Background(), "BTCUSDT", 0); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestGetTickerPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"50000.5"}`))
	}))
	defer srv.Close()

	c := NewClient(RESTConfig{BaseURL: srv.URL}, NewRateLimiter())
	price, err := c.GetTickerPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("50000.5")) {
		t.Fatalf("want 50000.5, got %v", price)
	}
}
