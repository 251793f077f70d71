package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"market-stream/src/logger"
	"market-stream/src/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

func init() {
	logger.SetOutput(io.Discard)
}

type fakeChannel struct {
	exchange string
	messages []amqp.Publishing
	failOn   int
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	f.exchange = exchange
	if f.failOn > 0 && len(f.messages)+1 == f.failOn {
		f.failOn = 0
		return errors.New("channel closed")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

// -----------------------------------------------------------------------------

func TestPublisherSendsOneMessagePerCandle(t *testing.T) {
	ch := &fakeChannel{}
	p := newPublisher("candles", ch, logger.NewLogger(nil, "test"))
	key := models.NewSubscriptionKey("binance", "BTCUSDT", "1m")

	recs := []models.MCandleRecord{
		{Key: key, Candle: models.MCandle{OpenTime: 60_000, Close: 1, Closed: true}},
		{Key: key, Candle: models.MCandle{OpenTime: 120_000, Close: 2, Closed: true}},
	}
	if err := p.WriteCandles(context.Background(), recs); err != nil {
		t.Fatalf("write: %v", err)
	}

	if ch.exchange != "candles" || len(ch.messages) != 2 {
		t.Fatalf("published %d messages to %q", len(ch.messages), ch.exchange)
	}
	msg := ch.messages[1]
	if msg.Headers["key"] != key.String() || msg.ContentType != "application/json" {
		t.Fatalf("message metadata = %+v", msg)
	}
	var got models.MCandleRecord
	if err := json.Unmarshal(msg.Body, &got); err != nil || got.Candle.OpenTime != 120_000 || got.Key != key {
		t.Fatalf("body = %s (%v)", msg.Body, err)
	}

	p.Close()
	if !ch.closed {
		t.Fatal("close did not release the channel")
	}
}

// -----------------------------------------------------------------------------

func TestPublisherContinuesAfterFailure(t *testing.T) {
	ch := &fakeChannel{failOn: 1}
	p := newPublisher("candles", ch, logger.NewLogger(nil, "test"))
	key := models.NewSubscriptionKey("binance", "BTCUSDT", "1m")

	err := p.WriteCandles(context.Background(), []models.MCandleRecord{
		{Key: key, Candle: models.MCandle{OpenTime: 60_000}},
		{Key: key, Candle: models.MCandle{OpenTime: 120_000}},
	})
	if err == nil {
		t.Fatal("expected the first publish failure to be reported")
	}
	if len(ch.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(ch.messages))
	}
}
