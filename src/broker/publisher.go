package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// -----------------------------------------------------------------------------
// Publisher fans closed candles out to a RabbitMQ fanout exchange, one
// message per candle, keyed by the subscription key in the headers.
// -----------------------------------------------------------------------------

type Publisher struct {
	exchange string
	logger   *logger.Logger

	conn    *amqp.Connection
	channel channel
	mu      sync.Mutex
}

// -----------------------------------------------------------------------------

func NewPublisher(cfg models.MBrokerConfig, log *logger.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, helpers.NewConfigurationError("broker url is required")
	}
	if cfg.Exchange == "" {
		return nil, helpers.NewConfigurationError("broker exchange is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, helpers.NewConnectionError(err, "connect to rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	log.Info("RabbitMQ publisher ready on exchange %s", cfg.Exchange)
	p := newPublisher(cfg.Exchange, ch, log)
	p.conn = conn
	return p, nil
}

func newPublisher(exchange string, ch channel, log *logger.Logger) *Publisher {
	return &Publisher{exchange: exchange, channel: ch, logger: log}
}

// -----------------------------------------------------------------------------

// WriteCandles publishes every record and returns the joined failures.
func (p *Publisher) WriteCandles(ctx context.Context, records []models.MCandleRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, r := range records {
		body, err := json.Marshal(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal candle: %w", err))
			continue
		}
		err = p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{"key": r.Key.String()},
			Body:         body,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", r.Key, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error("close rabbitmq channel: %v", err)
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
