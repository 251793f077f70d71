package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"market-stream/src/logger"
	"market-stream/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresRepository struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

// NewPostgresRepository names the schema after the running executable so
// several deployments can share one database.
func NewPostgresRepository(cfg *models.MConfig, log *logger.Logger) (*PostgresRepository, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresRepository{
		Config: cfg,
		Schema: strings.ReplaceAll(name, `"`, ""),
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresRepository) Initialize() error {
	db, err := sql.Open("postgres", d.Config.Storage.DBConnectionString)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open_time BIGINT NOT NULL,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume DOUBLE PRECISION,
			PRIMARY KEY (exchange, symbol, timeframe, open_time)
		);
	`, d.table())
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create candles: %w", err)
	}

	d.Logger.Info("PostgresRepository initialized successfully (Schema: %s)", d.Schema)
	return nil
}

func (d *PostgresRepository) table() string {
	return fmt.Sprintf(`"%s"."candles"`, d.Schema)
}

// -----------------------------------------------------------------------------

func (d *PostgresRepository) WriteCandles(ctx context.Context, records []models.MCandleRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (exchange, symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (exchange, symbol, timeframe, open_time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`, d.table()))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		c := r.Candle
		if _, err := stmt.ExecContext(ctx, r.Key.Exchange, r.Key.Symbol, r.Key.Timeframe, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresRepository) LoadRecent(ctx context.Context, key models.MSubscriptionKey, limit int) ([]models.MCandle, error) {
	rows, err := d.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT open_time, open, high, low, close, volume
		FROM %s
		WHERE exchange = $1 AND symbol = $2 AND timeframe = $3
		ORDER BY open_time DESC
		LIMIT $4
	`, d.table()), key.Exchange, key.Symbol, key.Timeframe, limit)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows)
}

// -----------------------------------------------------------------------------

func (d *PostgresRepository) Trim(ctx context.Context, keep int) (int64, error) {
	res, err := d.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %[1]s WHERE ctid IN (
			SELECT ctid FROM (
				SELECT ctid, ROW_NUMBER() OVER (
					PARTITION BY exchange, symbol, timeframe ORDER BY open_time DESC
				) AS rn
				FROM %[1]s
			) ranked WHERE rn > $1
		)
	`, d.table()), keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// -----------------------------------------------------------------------------

func (d *PostgresRepository) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
