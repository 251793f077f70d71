package main

import (
	"context"
	"fmt"
	"net"

	"market-stream/src/broker"
	"market-stream/src/config"
	pb "market-stream/src/grpc_control"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/pipeline"
	"market-stream/src/registry"
	"market-stream/src/server"
	"market-stream/src/storage"

	"google.golang.org/grpc"
)

// -----------------------------------------------------------------------------

// setupPersistence opens the candle journal and the optional broker and
// returns the batch writer that feeds both. repo is nil when the journal
// is disabled.
func setupPersistence(conf *config.Config, appLogger *logger.Logger) (interfaces.ICandleRepository, *broker.Publisher, *storage.BatchWriter, error) {
	repo, err := storage.NewRepository(conf.MConfig, logger.NewLogger(conf, "Storage"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s journal: %w", conf.Storage.DBType, err)
	}

	var sinks []interfaces.ICandleSink
	if repo != nil {
		sinks = append(sinks, repo)
		appLogger.Info("Candle journal: %s", conf.Storage.DBType)
	}

	var pub *broker.Publisher
	if conf.Broker.Enabled {
		pub, err = broker.NewPublisher(conf.Broker, logger.NewLogger(conf, "Broker"))
		if err != nil {
			if repo != nil {
				repo.Close()
			}
			return nil, nil, nil, err
		}
		sinks = append(sinks, pub)
	}

	if len(sinks) == 0 {
		return nil, nil, nil, nil
	}
	writer := storage.NewBatchWriter(conf.Storage.BatchSize, conf.Storage.FlushInterval(), logger.NewLogger(conf, "BatchWriter"), sinks...)
	return repo, pub, writer, nil
}

// -----------------------------------------------------------------------------

// serveControl runs the gRPC control plane until ctx is done.
func serveControl(ctx context.Context, conf *config.Config, reg *registry.Registry, hub *server.Hub, pipe *pipeline.Pipeline, appLogger *logger.Logger) error {
	if conf.GrpcPort == 0 {
		appLogger.Info("gRPC control plane disabled")
		return nil
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", conf.GrpcHost, conf.GrpcPort))
	if err != nil {
		return fmt.Errorf("listen for gRPC: %w", err)
	}
	grpcServer := grpc.NewServer()
	controlService := pb.NewControlService(reg, hub, pipe, logger.NewLogger(conf, "ControlService"))
	pb.RegisterMarketStreamControlServer(grpcServer, controlService)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	appLogger.Info("Starting gRPC Control Server on %s", lis.Addr())
	return grpcServer.Serve(lis)
}
