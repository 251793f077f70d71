package models

import "time"

// MConfig Structure
type MConfig struct {
	Name      string            `yaml:"name"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	LogLevel  string            `yaml:"log_level"`
	LogFormat string            `yaml:"log_format"`
	GrpcHost  string            `yaml:"grpc_host"`
	GrpcPort  int               `yaml:"grpc_port"`
	Storage   MStorageConfig    `yaml:"storage"`
	Network   MNetworkConfig    `yaml:"network"`
	Feed      MFeedConfig       `yaml:"feed"`
	Registry  MRegistryConfig   `yaml:"registry"`
	Hub       MHubConfig        `yaml:"hub"`
	Pipeline  MPipelineConfig   `yaml:"pipeline"`
	Auth      MAuthConfig       `yaml:"auth"`
	Broker    MBrokerConfig     `yaml:"broker"`
	Janitor   MJanitorConfig    `yaml:"janitor"`
	Exchanges []MExchangeConfig `yaml:"exchanges"`
}

// Logging returns the configured log level and format.
func (c *MConfig) Logging() (level, format string) {
	if c == nil {
		return "", ""
	}
	return c.LogLevel, c.LogFormat
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"` // sqlite | postgres | redis | none
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RedisAddr          string `yaml:"redis_addr"`
	RedisPassword      string `yaml:"redis_password"`
	RedisDB            int    `yaml:"redis_db"`
	BatchSize          int    `yaml:"batch_size"`
	FlushIntervalMs    int    `yaml:"flush_interval_ms"`
}

type MNetworkConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Proxies        []string `yaml:"proxies"`
	RequestTimeout int      `yaml:"timeout"`
	MaxRetries     int      `yaml:"retries"`
	UserAgent      string   `yaml:"user_agent"`
}

// MFeedConfig holds per-adapter tuning. Durations are in milliseconds
// unless the name says otherwise.
type MFeedConfig struct {
	BufferCapacity           int     `yaml:"buffer_capacity"`
	HeartbeatIntervalMs      int     `yaml:"heartbeat_interval_ms"`
	MissedHeartbeats         int     `yaml:"missed_heartbeats"`
	DialTimeoutMs            int     `yaml:"dial_timeout_ms"`
	BackoffInitialMs         int     `yaml:"backoff_initial_ms"`
	BackoffMaxMs             int     `yaml:"backoff_max_ms"`
	BackoffJitter            float64 `yaml:"backoff_jitter"`
	BackoffResetMs           int     `yaml:"backoff_reset_ms"`
	BackfillFailureThreshold int     `yaml:"backfill_failure_threshold"`
}

type MRegistryConfig struct {
	GracePeriodMs     int `yaml:"grace_period_ms"`
	SnapshotTimeoutMs int `yaml:"snapshot_timeout_ms"`
	IndicatorHistory  int `yaml:"indicator_history"`
}

type MHubConfig struct {
	ClientQueueSize        int `yaml:"client_queue_size"`
	OverflowCloseThreshold int `yaml:"overflow_close_threshold"`
	OverflowWindowMs       int `yaml:"overflow_window_ms"`
}

type MPipelineConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type MAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"` // empty disables token checks
}

type MBrokerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type MJanitorConfig struct {
	TrimIntervalSeconds  int `yaml:"trim_interval_seconds"`
	StatsIntervalSeconds int `yaml:"stats_interval_seconds"`
}

// MExchangeConfig enables one upstream. Calendar is an optional market
// identifier (e.g. "XNYS") for venues with trading sessions.
type MExchangeConfig struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"` // binance | bybit | simulated; defaults to Name
	RestURL    string   `yaml:"rest_url"`
	WsURL      string   `yaml:"ws_url"`
	Symbols    []string `yaml:"symbols"`
	Timeframes []string `yaml:"timeframes"`
	Calendar   string   `yaml:"calendar"`
}

// -----------------------------------------------------------------------------

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (f MFeedConfig) HeartbeatInterval() time.Duration { return ms(f.HeartbeatIntervalMs) }
func (f MFeedConfig) DialTimeout() time.Duration       { return ms(f.DialTimeoutMs) }
func (f MFeedConfig) BackoffInitial() time.Duration    { return ms(f.BackoffInitialMs) }
func (f MFeedConfig) BackoffMax() time.Duration        { return ms(f.BackoffMaxMs) }
func (f MFeedConfig) BackoffReset() time.Duration      { return ms(f.BackoffResetMs) }

func (r MRegistryConfig) GracePeriod() time.Duration     { return ms(r.GracePeriodMs) }
func (r MRegistryConfig) SnapshotTimeout() time.Duration { return ms(r.SnapshotTimeoutMs) }

func (h MHubConfig) OverflowWindow() time.Duration { return ms(h.OverflowWindowMs) }

func (s MStorageConfig) FlushInterval() time.Duration { return ms(s.FlushIntervalMs) }
