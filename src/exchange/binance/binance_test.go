package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/network"
)

func TestDecodeKline(t *testing.T) {
	msg := []byte(`{"e":"kline","E":1700000123456,"s":"BTCUSDT","k":{"t":1700000100000,"T":1700000159999,"s":"BTCUSDT","i":"1m","o":"37000.10","c":"37010.50","h":"37020.00","l":"36990.00","v":"12.5","x":true}}`)
	ticks, pong, err := DecodeKline(msg)
	if err != nil || pong {
		t.Fatalf("decode: %v pong=%v", err, pong)
	}
	if len(ticks) != 1 {
		t.Fatalf("ticks = %d", len(ticks))
	}
	tk := ticks[0]
	if tk.Time != 1700000100000 || tk.Open != 37000.10 || tk.High != 37020 || tk.Low != 36990 || tk.Close != 37010.5 || tk.Volume != 12.5 || !tk.Final {
		t.Fatalf("tick = %+v", tk)
	}

	if ticks, _, err := DecodeKline([]byte(`{"result":null,"id":1}`)); err != nil || len(ticks) != 0 {
		t.Fatalf("non-kline frame: %v %v", ticks, err)
	}
	if _, _, err := DecodeKline([]byte(`{"e":"kline","k":{"o":"abc"}}`)); err == nil {
		t.Fatal("expected error for malformed price")
	}
}

func TestFetchCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" || r.URL.Query().Get("interval") != "1m" || r.URL.Query().Get("startTime") != "60000" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[[60000,"1.0","2.0","0.5","1.5","10",119999,"0",1,"0","0","0"],[120000,"1.5","1.6","1.4","1.55","3",179999,"0",1,"0","0","0"]]`))
	}))
	defer srv.Close()

	cfg := &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 5}}
	nm := network.NewAsyncNetworkManager(cfg, logger.NewLogger(nil, "test"))
	ex := New(models.MExchangeConfig{Name: "binance", RestURL: srv.URL}, nm, time.Second)
	ex.now = func() time.Time { return time.UnixMilli(150_000) }

	key := models.NewSubscriptionKey("binance", "BTCUSDT", "1m")
	got, err := ex.FetchCandles(context.Background(), key, 60_000, 0, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candles = %d", len(got))
	}
	if !got[0].Closed || got[1].Closed {
		t.Fatalf("closed flags wrong: %+v", got)
	}
	if got[0].High != 2 || got[0].Close != 1.5 {
		t.Fatalf("values wrong: %+v", got[0])
	}
}
