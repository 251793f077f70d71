package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"market-stream/src/candles"
	"market-stream/src/exchange/upstream"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/models"
)

const (
	DefaultRestURL = "https://api.binance.com"
	DefaultWsURL   = "wss://stream.binance.com:9443/ws"
	maxLimit       = 1000
)

// -----------------------------------------------------------------------------

type Exchange struct {
	name        string
	restURL     string
	wsURL       string
	network     interfaces.INetworkManager
	dialTimeout time.Duration
	now         func() time.Time
}

// -----------------------------------------------------------------------------

func New(cfg models.MExchangeConfig, network interfaces.INetworkManager, dialTimeout time.Duration) *Exchange {
	e := &Exchange{
		name:        cfg.Name,
		restURL:     strings.TrimRight(cfg.RestURL, "/"),
		wsURL:       strings.TrimRight(cfg.WsURL, "/"),
		network:     network,
		dialTimeout: dialTimeout,
		now:         time.Now,
	}
	if e.restURL == "" {
		e.restURL = DefaultRestURL
	}
	if e.wsURL == "" {
		e.wsURL = DefaultWsURL
	}
	return e
}

func (e *Exchange) Name() string { return e.name }

// -----------------------------------------------------------------------------

func (e *Exchange) Dial(ctx context.Context, key models.MSubscriptionKey) (interfaces.IUpstreamConn, error) {
	url := fmt.Sprintf("%s/%s@kline_%s", e.wsURL, strings.ToLower(key.Symbol), key.Timeframe)
	conn, err := upstream.Dial(ctx, url, e.dialTimeout, DecodeKline, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// -----------------------------------------------------------------------------

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Final    bool   `json:"x"`
	} `json:"k"`
}

// DecodeKline parses a kline stream frame. Other event types yield nothing.
func DecodeKline(msg []byte) ([]models.MTick, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return nil, false, err
	}
	if ev.Event != "kline" {
		return nil, false, nil
	}

	k := ev.Kline
	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := upstream.ParsePrice(s)
		if err != nil {
			return nil, false, err
		}
		vals[i] = v
	}
	return []models.MTick{{
		Time:   k.OpenTime,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
		Final:  k.Final,
	}}, false, nil
}

// -----------------------------------------------------------------------------

func (e *Exchange) FetchCandles(ctx context.Context, key models.MSubscriptionKey, start, end int64, limit int) ([]models.MCandle, error) {
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	params := map[string]string{
		"symbol":   key.Symbol,
		"interval": key.Timeframe,
		"limit":    strconv.Itoa(limit),
	}
	if start > 0 {
		params["startTime"] = strconv.FormatInt(start, 10)
	}
	if end > 0 {
		params["endTime"] = strconv.FormatInt(end, 10)
	}

	body, err := e.network.Get(ctx, e.restURL+"/api/v3/klines", params)
	if err != nil {
		return nil, helpers.NewBackfillError(err, "binance klines %s", key)
	}
	tfMs, err := candles.TimeframeMillis(key.Timeframe)
	if err != nil {
		return nil, err
	}
	out, err := DecodeKlines(body, tfMs, e.now().UnixMilli())
	if err != nil {
		return nil, helpers.NewBackfillError(err, "binance klines %s", key)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// DecodeKlines parses the REST array-of-arrays answer. Rows whose bucket has
// not ended at nowMs are returned with Closed=false.
func DecodeKlines(body []byte, tfMs, nowMs int64) ([]models.MCandle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	out := make([]models.MCandle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("short kline row (%d fields)", len(row))
		}
		openTime, err := upstream.ParseInt(row[0])
		if err != nil {
			return nil, err
		}
		var vals [5]float64
		for i := range vals {
			if vals[i], err = upstream.ParseField(row[i+1]); err != nil {
				return nil, err
			}
		}
		out = append(out, models.MCandle{
			OpenTime: openTime,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
			Closed:   openTime+tfMs <= nowMs,
		})
	}
	return out, nil
}
