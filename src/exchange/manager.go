package exchange

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"market-stream/src/candles"
	"market-stream/src/exchange/binance"
	"market-stream/src/exchange/bybit"
	"market-stream/src/exchange/simulated"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/utils"
)

// -----------------------------------------------------------------------------
// Manager owns the enabled exchanges and the static list of symbols and
// timeframes clients may subscribe to.
// -----------------------------------------------------------------------------

type Manager struct {
	Logger *logger.Logger

	mu        sync.RWMutex
	exchanges map[string]interfaces.IExchange
	configs   map[string]models.MExchangeConfig
	calendars map[string]*utils.SessionCalendar
}

// -----------------------------------------------------------------------------

func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		Logger:    log,
		exchanges: make(map[string]interfaces.IExchange),
		configs:   make(map[string]models.MExchangeConfig),
		calendars: make(map[string]*utils.SessionCalendar),
	}
}

// -----------------------------------------------------------------------------

// NewManagerFromConfig builds every configured exchange.
func NewManagerFromConfig(cfg *models.MConfig, network interfaces.INetworkManager, log *logger.Logger) (*Manager, error) {
	m := NewManager(log)
	dialTimeout := cfg.Feed.DialTimeout()

	for _, exCfg := range cfg.Exchanges {
		var ex interfaces.IExchange
		switch exCfg.Kind {
		case "binance":
			ex = binance.New(exCfg, network, dialTimeout)
		case "bybit":
			ex = bybit.New(exCfg, network, dialTimeout)
		case "simulated":
			ex = simulated.New(exCfg, time.Second)
		default:
			return nil, fmt.Errorf("exchange %s: unknown kind %q", exCfg.Name, exCfg.Kind)
		}
		if err := m.AddExchange(ex, exCfg); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// -----------------------------------------------------------------------------

func (m *Manager) AddExchange(ex interfaces.IExchange, cfg models.MExchangeConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ex.Name()
	if _, exists := m.exchanges[name]; exists {
		return fmt.Errorf("exchange %s already exists", name)
	}
	for _, tf := range cfg.Timeframes {
		if _, err := candles.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("exchange %s: %w", name, err)
		}
	}

	m.exchanges[name] = ex
	m.configs[name] = cfg
	if cfg.Calendar != "" {
		m.calendars[name] = utils.NewSessionCalendar(cfg.Calendar)
	}
	m.Logger.Info("Added exchange: %s (%d symbols, %d timeframes)", name, len(cfg.Symbols), len(cfg.Timeframes))
	return nil
}

// -----------------------------------------------------------------------------

func (m *Manager) GetExchange(name string) (interfaces.IExchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ex, exists := m.exchanges[name]
	if !exists {
		return nil, fmt.Errorf("exchange %s not found", name)
	}
	return ex, nil
}

// -----------------------------------------------------------------------------

// Calendar returns the session calendar of an exchange, nil for 24/7 venues.
func (m *Manager) Calendar(name string) *utils.SessionCalendar {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calendars[name]
}

// -----------------------------------------------------------------------------

// Names lists enabled exchanges, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.exchanges))
	for name := range m.exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -----------------------------------------------------------------------------

// Config returns the static symbol/timeframe list of an exchange.
func (m *Manager) Config(name string) (models.MExchangeConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[name]
	return cfg, ok
}

// -----------------------------------------------------------------------------

// Validate checks a key against the enabled exchanges, symbols and timeframes.
func (m *Manager) Validate(key models.MSubscriptionKey) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[key.Exchange]
	if !ok {
		return helpers.NewConfigurationError("exchange %q is not enabled", key.Exchange)
	}
	if !contains(cfg.Symbols, key.Symbol) {
		return helpers.NewConfigurationError("symbol %q is not enabled on %s", key.Symbol, key.Exchange)
	}
	if !contains(cfg.Timeframes, key.Timeframe) {
		return helpers.NewConfigurationError("timeframe %q is not enabled on %s", key.Timeframe, key.Exchange)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
