package bybit

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
	DefaultRestURL = "https://api.bybit.com"
	DefaultWsURL   = "wss://stream.bybit.com/v5/public/spot"
	maxLimit       = 1000
)

var pingFrame = []byte(`{"op":"ping"}`)

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
		wsURL:       cfg.WsURL,
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

// Interval maps a timeframe to Bybit's interval code ("5", "60", "D").
func Interval(tf string) (string, error) {
	d, err := candles.ParseTimeframe(tf)
	if err != nil {
		return "", err
	}
	switch {
	case d == 24*time.Hour:
		return "D", nil
	case d >= time.Minute && d < 24*time.Hour && d%time.Minute == 0:
		return strconv.Itoa(int(d / time.Minute)), nil
	}
	return "", fmt.Errorf("bybit does not support timeframe %q", tf)
}

// -----------------------------------------------------------------------------

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type controlReply struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

// -----------------------------------------------------------------------------

func (e *Exchange) Dial(ctx context.Context, key models.MSubscriptionKey) (interfaces.IUpstreamConn, error) {
	interval, err := Interval(key.Timeframe)
	if err != nil {
		return nil, helpers.NewConfigurationError("%v", err)
	}
	conn, err := upstream.Dial(ctx, e.wsURL, e.dialTimeout, DecodeMessage, pingFrame)
	if err != nil {
		return nil, err
	}

	topic := fmt.Sprintf("kline.%s.%s", interval, key.Symbol)
	if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Args: []string{topic}}); err != nil {
		conn.Close()
		return nil, helpers.NewConnectionError(err, "subscribe %s", topic)
	}
	return conn, nil
}

// -----------------------------------------------------------------------------

type klineMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  []struct {
		Start   int64  `json:"start"`
		Open    string `json:"open"`
		High    string `json:"high"`
		Low     string `json:"low"`
		Close   string `json:"close"`
		Volume  string `json:"volume"`
		Confirm bool   `json:"confirm"`
	} `json:"data"`
}

// DecodeMessage handles kline pushes and op replies. A failed subscribe
// reply is reported as an error.
func DecodeMessage(msg []byte) ([]models.MTick, bool, error) {
	var ctl controlReply
	if err := json.Unmarshal(msg, &ctl); err != nil {
		return nil, false, err
	}
	if ctl.Op != "" || ctl.RetMsg != "" {
		if ctl.Op == "pong" || ctl.RetMsg == "pong" {
			return nil, true, nil
		}
		if ctl.Success != nil && !*ctl.Success {
			return nil, false, fmt.Errorf("bybit %s failed: %s", ctl.Op, ctl.RetMsg)
		}
		return nil, false, nil
	}

	var km klineMessage
	if err := json.Unmarshal(msg, &km); err != nil {
		return nil, false, err
	}
	if !strings.HasPrefix(km.Topic, "kline.") {
		return nil, false, nil
	}

	ticks := make([]models.MTick, 0, len(km.Data))
	for _, d := range km.Data {
		var vals [5]float64
		for i, s := range []string{d.Open, d.High, d.Low, d.Close, d.Volume} {
			v, err := upstream.ParsePrice(s)
			if err != nil {
				return nil, false, err
			}
			vals[i] = v
		}
		ticks = append(ticks, models.MTick{
			Time:   d.Start,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
			Final:  d.Confirm,
		})
	}
	return ticks, false, nil
}

// -----------------------------------------------------------------------------

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]json.RawMessage `json:"list"`
	} `json:"result"`
}

func (e *Exchange) FetchCandles(ctx context.Context, key models.MSubscriptionKey, start, end int64, limit int) ([]models.MCandle, error) {
	interval, err := Interval(key.Timeframe)
	if err != nil {
		return nil, helpers.NewConfigurationError("%v", err)
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	params := map[string]string{
		"category": "spot",
		"symbol":   key.Symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	if start > 0 {
		params["start"] = strconv.FormatInt(start, 10)
	}
	if end > 0 {
		params["end"] = strconv.FormatInt(end, 10)
	}

	body, err := e.network.Get(ctx, e.restURL+"/v5/market/kline", params)
	if err != nil {
		return nil, helpers.NewBackfillError(err, "bybit kline %s", key)
	}
	tfMs, _ := candles.TimeframeMillis(key.Timeframe)
	out, err := DecodeKlines(body, tfMs, e.now().UnixMilli())
	if err != nil {
		return nil, helpers.NewBackfillError(err, "bybit kline %s", key)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// DecodeKlines parses the REST answer, which lists newest first, into
// oldest-first candles.
func DecodeKlines(body []byte, tfMs, nowMs int64) ([]models.MCandle, error) {
	var resp klineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit error %d: %s", resp.RetCode, resp.RetMsg)
	}

	rows := resp.Result.List
	out := make([]models.MCandle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("short kline row (%d fields)", len(row))
		}
		openTime, err := upstream.ParseInt(row[0])
		if err != nil {
			return nil, err
		}
		var vals [5]float64
		for j := range vals {
			if vals[j], err = upstream.ParseField(row[j+1]); err != nil {
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
