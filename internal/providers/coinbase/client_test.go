package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MoseikiApp/peasy-ai/internal/cache"
	"github.com/MoseikiApp/peasy-ai/internal/config"
	clierr "github.com/MoseikiApp/peasy-ai/internal/errors"
	"github.com/MoseikiApp/peasy-ai/internal/httpx"
)

func TestSpotParsesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v2/prices/ETH-USD/spot" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"base":"ETH","currency":"USD","amount":"2512.34"}}`))
	}))
	defer srv.Close()

	tmp := t.TempDir()
	store, err := cache.Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer store.Close()

	c := New(httpx.New(time.Second, 0), config.RateSettings{BaseURL: srv.URL + "/v2", TTL: time.Minute}, store, nil)
	for i := 0; i < 2; i++ {
		rate, err := c.Spot(context.Background(), "eth", "usd")
		if err != nil {
			t.Fatalf("Spot failed: %v", err)
		}
		if rate.Rate.String() != "2512.34" || rate.Base != "ETH" || rate.Quote != "USD" {
			t.Fatalf("unexpected rate %+v", rate)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", calls.Load())
	}
}

func TestSpotUnknownPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"id":"not_found","message":"Invalid currency"}]}`))
	}))
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), config.RateSettings{BaseURL: srv.URL + "/v2"}, nil, nil)
	_, err := c.Spot(context.Background(), "NOPE", "USD")
	if !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if _, err := c.Spot(context.Background(), "", "USD"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}
