package config

import (
	"fmt"
	"os"
	"strings"

	"market-stream/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}
	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a validated Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// -----------------------------------------------------------------------------

// Default returns a runnable configuration with the simulated exchange only.
func Default() *Config {
	c := &Config{MConfig: &models.MConfig{
		Name: "market-stream",
		Host: "0.0.0.0",
		Port: 8080,
		Exchanges: []models.MExchangeConfig{{
			Name:       "simulated",
			Symbols:    []string{"BTCUSDT", "ETHUSDT"},
			Timeframes: []string{"1m", "5m", "15m", "1h"},
		}},
	}}
	c.applyDefaults()
	return c
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	setInt := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Storage.DBType == "" {
		c.Storage.DBType = "none"
	}
	setInt(&c.Storage.BatchSize, 100)
	setInt(&c.Storage.FlushIntervalMs, 2000)

	setInt(&c.Network.RequestTimeout, 10)
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = "market-stream/1.0"
	}

	setInt(&c.Feed.BufferCapacity, 200)
	setInt(&c.Feed.HeartbeatIntervalMs, 20000)
	setInt(&c.Feed.MissedHeartbeats, 3)
	setInt(&c.Feed.DialTimeoutMs, 10000)
	setInt(&c.Feed.BackoffInitialMs, 1000)
	setInt(&c.Feed.BackoffMaxMs, 60000)
	setInt(&c.Feed.BackoffResetMs, 30000)
	setInt(&c.Feed.BackfillFailureThreshold, 3)
	if c.Feed.BackoffJitter == 0 {
		c.Feed.BackoffJitter = 0.2
	}

	setInt(&c.Registry.GracePeriodMs, 30000)
	setInt(&c.Registry.SnapshotTimeoutMs, 10000)
	setInt(&c.Registry.IndicatorHistory, c.Feed.BufferCapacity)

	setInt(&c.Hub.ClientQueueSize, 256)
	setInt(&c.Hub.OverflowCloseThreshold, 5)
	setInt(&c.Hub.OverflowWindowMs, 60000)

	setInt(&c.Pipeline.Workers, 8)
	setInt(&c.Pipeline.QueueSize, 1024)

	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "candles"
	}

	setInt(&c.Janitor.TrimIntervalSeconds, 300)
	setInt(&c.Janitor.StatsIntervalSeconds, 60)

	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		ex.Name = strings.ToLower(ex.Name)
		if ex.Kind == "" {
			ex.Kind = ex.Name
		}
		for j, s := range ex.Symbols {
			ex.Symbols[j] = models.NormalizeSymbol(s)
		}
		for j, tf := range ex.Timeframes {
			ex.Timeframes[j] = strings.ToLower(tf)
		}
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	switch c.Storage.DBType {
	case "none":
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty for redis storage")
		}
	default:
		return fmt.Errorf("unsupported database type %q", c.Storage.DBType)
	}

	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Feed.BufferCapacity < 2 {
		return fmt.Errorf("feed buffer capacity must be at least 2")
	}
	if c.Feed.BackoffMaxMs < c.Feed.BackoffInitialMs {
		return fmt.Errorf("backoff max must not be below backoff initial")
	}
	if c.Feed.BackoffJitter < 0 || c.Feed.BackoffJitter >= 1 {
		return fmt.Errorf("backoff jitter must be in [0, 1)")
	}
	if c.Pipeline.Workers <= 0 || c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline workers and queue size must be positive")
	}
	if c.Hub.ClientQueueSize <= 0 {
		return fmt.Errorf("client queue size must be positive")
	}
	if c.Broker.Enabled && c.Broker.URL == "" {
		return fmt.Errorf("broker url cannot be empty when broker is enabled")
	}

	if len(c.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange must be configured")
	}
	seen := make(map[string]struct{}, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchange %d must have a name", i)
		}
		if _, dup := seen[ex.Name]; dup {
			return fmt.Errorf("exchange '%s' configured twice", ex.Name)
		}
		seen[ex.Name] = struct{}{}
		if len(ex.Symbols) == 0 {
			return fmt.Errorf("exchange '%s' must have at least one symbol", ex.Name)
		}
		if len(ex.Timeframes) == 0 {
			return fmt.Errorf("exchange '%s' must have at least one timeframe", ex.Name)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Exchange returns the configuration of an enabled exchange.
func (c *Config) Exchange(name string) (models.MExchangeConfig, bool) {
	name = strings.ToLower(name)
	for _, ex := range c.Exchanges {
		if ex.Name == name {
			return ex, true
		}
	}
	return models.MExchangeConfig{}, false
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}
	return nil
}
