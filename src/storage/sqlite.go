package storage

import (
	"context"
	"database/sql"
	"fmt"

	"market-stream/src/logger"
	"market-stream/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteRepository struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteRepository(cfg *models.MConfig, log *logger.Logger) *SQLiteRepository {
	return &SQLiteRepository{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *SQLiteRepository) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	// A single connection serialises writers and keeps per-connection pragmas.
	db.SetMaxOpenConns(1)
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

// createTables keeps existing rows: the journal is what warm starts read.
func (d *SQLiteRepository) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS candles (
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open_time INTEGER NOT NULL,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			volume REAL,
			PRIMARY KEY (exchange, symbol, timeframe, open_time)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create candles: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteRepository) WriteCandles(ctx context.Context, records []models.MCandleRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (exchange, symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (exchange, symbol, timeframe, open_time) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`)
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

func (d *SQLiteRepository) LoadRecent(ctx context.Context, key models.MSubscriptionKey, limit int) ([]models.MCandle, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM candles
		WHERE exchange = ? AND symbol = ? AND timeframe = ?
		ORDER BY open_time DESC
		LIMIT ?
	`, key.Exchange, key.Symbol, key.Timeframe, limit)
	if err != nil {
		return nil, err
	}
	return scanCandles(rows)
}

// -----------------------------------------------------------------------------

func (d *SQLiteRepository) Trim(ctx context.Context, keep int) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		DELETE FROM candles WHERE rowid IN (
			SELECT rowid FROM (
				SELECT rowid, ROW_NUMBER() OVER (
					PARTITION BY exchange, symbol, timeframe ORDER BY open_time DESC
				) AS rn
				FROM candles
			) WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// -----------------------------------------------------------------------------

func (d *SQLiteRepository) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------

// scanCandles reads newest-first rows and returns them oldest first.
func scanCandles(rows *sql.Rows) ([]models.MCandle, error) {
	defer rows.Close()

	var out []models.MCandle
	for rows.Next() {
		c := models.MCandle{Closed: true}
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
