package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"market-stream/src/logger"
	"market-stream/src/models"
)

func testConfig(retries int) *models.MConfig {
	return &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 5, MaxRetries: retries}}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	nm := NewAsyncNetworkManager(testConfig(2), logger.NewLogger(nil, "test"))
	body, err := nm.Get(context.Background(), srv.URL+"/klines", map[string]string{"symbol": "BTCUSDT"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("body=%q calls=%d", body, calls)
	}
}

func TestGetRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	nm := NewAsyncNetworkManager(testConfig(0), logger.NewLogger(nil, "test"))
	_, err := nm.Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestGetClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	nm := NewAsyncNetworkManager(testConfig(3), logger.NewLogger(nil, "test"))
	if _, err := nm.Get(context.Background(), srv.URL, nil); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
