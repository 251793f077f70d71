package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"
)

// ErrRateLimited is wrapped when an exchange answers 429 or 418.
var ErrRateLimited = fmt.Errorf("rate limited")

// -----------------------------------------------------------------------------

type AsyncNetworkManager struct {
	Config       *models.MConfig
	ProxyManager *helpers.ProxyManager
	Logger       *logger.Logger

	mu     sync.RWMutex
	client *http.Client
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	var proxies []string
	if cfg.Network.Enabled {
		proxies = cfg.Network.Proxies
	}

	nm := &AsyncNetworkManager{
		Config:       cfg,
		ProxyManager: helpers.NewProxyManager(proxies, cfg.Network.UserAgent),
		Logger:       log,
	}
	nm.client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) createClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if nm.ProxyManager.HasProxies() {
		proxyStr, err := nm.ProxyManager.GetCurrentProxy()
		if err == nil && proxyStr != "" {
			if proxyURL, err := url.Parse(proxyStr); err == nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
	}

	timeout := time.Duration(nm.Config.Network.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) rotateProxy() {
	if !nm.ProxyManager.HasProxies() {
		return
	}
	nm.ProxyManager.RotateProxy()
	c := nm.createClient()
	nm.mu.Lock()
	nm.client = c
	nm.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries and proxy rotation. The context
// bounds the whole call including waits between attempts.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}
	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	maxRetries := nm.Config.Network.MaxRetries
	backoff := helpers.NewBackoff(500*time.Millisecond, 5*time.Second, 0.2)
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 && !backoff.Sleep(ctx.Done()) {
			return nil, ctx.Err()
		}

		body, retry, err := nm.do(ctx, finalURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		nm.Logger.Debug("GET %s failed (attempt %d/%d): %v", reqURL.Path, i+1, maxRetries+1, err)
	}

	return nil, fmt.Errorf("GET %s: %w", reqURL.Path, lastErr)
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) do(ctx context.Context, finalURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", nm.ProxyManager.GetUserAgent())

	nm.mu.RLock()
	client := nm.client
	nm.mu.RUnlock()

	resp, err := client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		nm.Logger.Warning("Request rate limited (%d), rotating proxy", resp.StatusCode)
		nm.rotateProxy()
		return nil, true, fmt.Errorf("%w (status %d)", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("bad status: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("bad status: %d: %s", resp.StatusCode, msg)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return body, false, nil
}
