package storage

import (
	"strings"

	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

// NewRepository opens the candle journal selected by storage.db_type.
// It returns nil, nil when the journal is disabled.
func NewRepository(cfg *models.MConfig, log *logger.Logger) (interfaces.ICandleRepository, error) {
	var repo interfaces.ICandleRepository
	switch strings.ToLower(cfg.Storage.DBType) {
	case "", "none":
		return nil, nil
	case "sqlite":
		repo = NewSQLiteRepository(cfg, log)
	case "postgres":
		pg, err := NewPostgresRepository(cfg, log)
		if err != nil {
			return nil, err
		}
		repo = pg
	case "redis":
		repo = NewRedisRepository(cfg, log)
	default:
		return nil, helpers.NewConfigurationError("unsupported storage type %q", cfg.Storage.DBType)
	}

	if err := repo.Initialize(); err != nil {
		return nil, err
	}
	return repo, nil
}
