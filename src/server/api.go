package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"market-stream/src/exchange"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultKlineLimit = 500
	maxKlineLimit     = 1000
)

// PipelineStats is the slice of the pipeline the metrics endpoint reads.
type PipelineStats interface {
	Stats() (processed, failed int64, backlog int)
}

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

type APIServer struct {
	Config *models.MConfig
	Logger *logger.Logger

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	hub       *Hub
	registry  interfaces.ISubscriptionRegistry
	exchanges *exchange.Manager
	pipeline  PipelineStats
	auth      *TokenVerifier
	startedAt time.Time
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, hub *Hub, registry interfaces.ISubscriptionRegistry, exchanges *exchange.Manager, pipe PipelineStats, log *logger.Logger) *APIServer {
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &APIServer{
		Config:    cfg,
		Logger:    log,
		engine:    gin.New(),
		hub:       hub,
		registry:  registry,
		exchanges: exchanges,
		pipeline:  pipe,
		auth:      NewTokenVerifier(cfg.Auth.JWTSecret),
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.engine.Use(gin.Recovery())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/metrics", s.getMetrics)
	api.GET("/exchanges", s.getExchanges)
	api.GET("/exchanges/:id/pairs", s.getPairs)
	api.GET("/klines", s.getKlines)
	api.GET("/ws/stats", s.getWSStats)
	api.GET("/snapshot", s.auth.Middleware(), s.getSnapshot)

	s.engine.GET("/ws", s.auth.Middleware(), s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *APIServer) Handler() http.Handler { return s.engine }

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves until Stop; it returns nil after a graceful shutdown.
func (s *APIServer) Start() error {
	s.Logger.Info("Starting server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *APIServer) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	stats := s.hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"connections":    stats.TotalConnections,
		"feeds":          len(s.registry.Feeds()),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getMetrics(c *gin.Context) {
	heapMB, goroutines := helpers.ProcessMemoryMB()
	body := gin.H{
		"hub":        s.hub.Stats(),
		"feeds":      s.registry.Feeds(),
		"heap_mb":    heapMB,
		"goroutines": goroutines,
	}
	if s.pipeline != nil {
		processed, failed, backlog := s.pipeline.Stats()
		body["pipeline"] = gin.H{"processed": processed, "failed": failed, "backlog": backlog}
	}
	c.JSON(http.StatusOK, body)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getExchanges(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, name := range s.exchanges.Names() {
		cfg, _ := s.exchanges.Config(name)
		out = append(out, gin.H{
			"id":         name,
			"kind":       cfg.Kind,
			"symbols":    len(cfg.Symbols),
			"timeframes": cfg.Timeframes,
		})
	}
	c.JSON(http.StatusOK, out)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getPairs(c *gin.Context) {
	cfg, ok := s.exchanges.Config(strings.ToLower(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "exchange not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": cfg.Name, "symbols": cfg.Symbols, "timeframes": cfg.Timeframes})
}

// -----------------------------------------------------------------------------

// getKlines proxies exchange history without touching live streams.
func (s *APIServer) getKlines(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		interval = c.Query("timeframe")
	}
	key := models.NewSubscriptionKey(c.Query("exchange"), c.Query("symbol"), interval)
	if err := s.exchanges.Validate(key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := defaultKlineLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxKlineLimit)
	}

	ex, err := s.exchanges.GetExchange(key.Exchange)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	candles, err := ex.FetchCandles(c.Request.Context(), key, 0, 0, limit)
	if err != nil {
		s.Logger.Warning("Klines for %s failed: %v", key, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "candles": candles})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getWSStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// -----------------------------------------------------------------------------

func (s *APIServer) getSnapshot(c *gin.Context) {
	key := models.NewSubscriptionKey(c.Query("exchange"), c.Query("symbol"), c.Query("timeframe"))
	if key.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange, symbol and timeframe are required"})
		return
	}

	var raw []string
	if list := c.Query("indicators"); list != "" {
		raw = strings.Split(list, ",")
	}
	specs, err := models.ParseIndicatorList(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.registry.Snapshot(c.Request.Context(), key, specs)
	if err != nil {
		status := http.StatusServiceUnavailable
		if helpers.IsConfigurationError(err) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// -----------------------------------------------------------------------------
// WebSocket Handler
// -----------------------------------------------------------------------------

func (s *APIServer) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	hubCfg := s.Config.Hub
	queue := NewOutboundQueue(hubCfg.ClientQueueSize, hubCfg.OverflowCloseThreshold, hubCfg.OverflowWindow())
	client := newClient(uuid.NewString(), s.hub, s.registry, conn, queue, s.Logger)
	client.Subject = c.GetString("subject")

	s.hub.Register(client)
	s.Logger.Info("Client %s connected from %s (subject %q)", client.ID, c.ClientIP(), client.Subject)

	go client.writePump()
	go client.readPump()
}
