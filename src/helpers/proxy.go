package helpers

import (
	"net/url"
	"strings"
	"sync"

	"market-stream/src/logger"
)

// -----------------------------------------------------------------------------

// ProxyManager rotates through configured egress proxies. Exchanges rate
// limit per IP, so a 429/418 answer moves REST traffic to the next proxy.
type ProxyManager struct {
	proxies   []string
	userAgent string
	index     int
	mu        sync.Mutex
	logger    *logger.Logger
}

// -----------------------------------------------------------------------------

func NewProxyManager(proxies []string, userAgent string) *ProxyManager {
	var valid []string
	for _, p := range proxies {
		if ValidateProxy(p) {
			valid = append(valid, FormatProxy(p))
		}
	}
	if userAgent == "" {
		userAgent = "market-stream/1.0"
	}
	return &ProxyManager{
		proxies:   valid,
		userAgent: userAgent,
		logger:    logger.NewLogger(nil, "ProxyManager"),
	}
}

// -----------------------------------------------------------------------------

func (pm *ProxyManager) GetCurrentProxy() (string, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if len(pm.proxies) == 0 {
		return "", nil
	}
	return pm.proxies[pm.index], nil
}

// -----------------------------------------------------------------------------

func (pm *ProxyManager) RotateProxy() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if len(pm.proxies) <= 1 {
		return
	}
	pm.index = (pm.index + 1) % len(pm.proxies)
	pm.logger.Info("Rotating proxy to: %s", pm.proxies[pm.index])
}

// -----------------------------------------------------------------------------

func (pm *ProxyManager) GetUserAgent() string {
	return pm.userAgent
}

// -----------------------------------------------------------------------------

func (pm *ProxyManager) HasProxies() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.proxies) > 0
}

// -----------------------------------------------------------------------------

// ValidateProxy checks if a proxy string is roughly valid.
func ValidateProxy(proxyStr string) bool {
	if strings.TrimSpace(proxyStr) == "" {
		return false
	}
	u, err := url.Parse(FormatProxy(proxyStr))
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "socks5")
}

// -----------------------------------------------------------------------------

// FormatProxy ensures the proxy has a scheme.
func FormatProxy(proxyStr string) string {
	if !strings.Contains(proxyStr, "://") {
		return "http://" + proxyStr
	}
	return proxyStr
}
