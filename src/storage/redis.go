package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "candles:"

// -----------------------------------------------------------------------------
// RedisRepository keeps one sorted set per key, scored by bucket start.
// -----------------------------------------------------------------------------

type RedisRepository struct {
	Config *models.MConfig
	Client *redis.Client
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewRedisRepository(cfg *models.MConfig, log *logger.Logger) *RedisRepository {
	return &RedisRepository{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *RedisRepository) Initialize() error {
	client := redis.NewClient(&redis.Options{
		Addr:     d.Config.Storage.RedisAddr,
		Password: d.Config.Storage.RedisPassword,
		DB:       d.Config.Storage.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	d.Client = client
	d.Logger.Info("RedisRepository connected to %s", d.Config.Storage.RedisAddr)
	return nil
}

func candlesKey(key models.MSubscriptionKey) string { return redisKeyPrefix + key.String() }

// -----------------------------------------------------------------------------

// WriteCandles replaces any member already stored for the same bucket.
func (d *RedisRepository) WriteCandles(ctx context.Context, records []models.MCandleRecord) error {
	if len(records) == 0 {
		return nil
	}

	_, err := d.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			b, err := json.Marshal(r.Candle)
			if err != nil {
				return err
			}
			k := candlesKey(r.Key)
			score := strconv.FormatInt(r.Candle.OpenTime, 10)
			pipe.ZRemRangeByScore(ctx, k, score, score)
			pipe.ZAdd(ctx, k, redis.Z{Score: float64(r.Candle.OpenTime), Member: string(b)})
		}
		return nil
	})
	return err
}

// -----------------------------------------------------------------------------

func (d *RedisRepository) LoadRecent(ctx context.Context, key models.MSubscriptionKey, limit int) ([]models.MCandle, error) {
	if limit <= 0 {
		return nil, nil
	}
	members, err := d.Client.ZRevRange(ctx, candlesKey(key), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.MCandle, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		var c models.MCandle
		if err := json.Unmarshal([]byte(members[i]), &c); err != nil {
			d.Logger.Warning("Skipping corrupt journal entry for %s: %v", key, err)
			continue
		}
		c.Closed = true
		c.Backfilled = false
		out = append(out, c)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *RedisRepository) Trim(ctx context.Context, keep int) (int64, error) {
	var removed int64
	iter := d.Client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := d.Client.ZRemRangeByRank(ctx, iter.Val(), 0, int64(-keep-1)).Result()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, iter.Err()
}

// -----------------------------------------------------------------------------

func (d *RedisRepository) Close() error {
	if d.Client != nil {
		return d.Client.Close()
	}
	return nil
}
