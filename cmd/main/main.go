package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-stream/src/config"
	"market-stream/src/exchange"
	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/network"
	"market-stream/src/pipeline"
	"market-stream/src/registry"
	"market-stream/src/scheduler"
	"market-stream/src/server"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(conf, conf.Name)

	memLimit := helpers.ApplyMemoryLimit()
	appLogger.Info("Memory Limit set to: %d MB", memLimit)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Exchanges
	networkManager := network.NewAsyncNetworkManager(conf.MConfig, logger.NewLogger(conf, "Network"))
	exchanges, err := exchange.NewManagerFromConfig(conf.MConfig, networkManager, logger.NewLogger(conf, "Exchanges"))
	if err != nil {
		appLogger.Critical("Failed to set up exchanges: %v", err)
	}
	appLogger.Info("Exchanges enabled: %v", exchanges.Names())

	// Journal and broker
	repo, pub, writer, err := setupPersistence(conf, appLogger)
	if err != nil {
		appLogger.Critical("Failed to set up persistence: %v", err)
	}

	// The pipeline outlives the signal context so in-flight events settle
	// while the registry shuts adapters down.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	pipe := pipeline.New(conf.Pipeline.Workers, conf.Pipeline.QueueSize, logger.NewLogger(conf, "Pipeline"))
	pipe.Start(runCtx)

	var sink pipeline.ClosedCandleSink
	if writer != nil {
		writer.Start(runCtx)
		sink = writer
	}

	hub := server.NewHub(logger.NewLogger(conf, "Hub"))
	reg := registry.NewRegistry(conf.MConfig, exchanges, pipe, hub, sink, logger.NewLogger(conf, "Registry"))
	reg.Repository = repo

	janitor := scheduler.NewJanitor(conf.Janitor, conf.Feed.BufferCapacity, repo, reg, hub, logger.NewLogger(conf, "Janitor"))
	if err := janitor.Start(); err != nil {
		appLogger.Critical("Failed to start janitor: %v", err)
	}

	api := server.NewAPIServer(conf.MConfig, hub, reg, exchanges, pipe, logger.NewLogger(conf, "APIServer"))

	// Serve until a signal or a server failure
	g, gctx := errgroup.WithContext(ctx)
	g.Go(api.Start)
	g.Go(func() error {
		return serveControl(gctx, conf, reg, hub, pipe, appLogger)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return api.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server failed: %v", err)
	}

	// Shutdown
	appLogger.Info("Shutting down...")
	janitor.Stop()
	reg.Close()
	pipe.Stop()
	stopRun()

	flushCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if writer != nil {
		writer.Stop(flushCtx)
	}
	if pub != nil {
		pub.Close()
	}
	if repo != nil {
		if err := repo.Close(); err != nil {
			appLogger.Warning("Closing journal: %v", err)
		}
	}
	appLogger.Info("Shutdown complete.")
}
