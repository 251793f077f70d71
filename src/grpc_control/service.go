package grpc_control

import (
	"context"
	"encoding/json"
	"fmt"

	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// FeedController is the slice of the subscription registry the control
// plane drives.
type FeedController interface {
	Feeds() []models.MFeedStatus
	Restart(key models.MSubscriptionKey) error
}

type HubStats interface {
	Stats() models.MHubStats
}

type PipelineStats interface {
	Stats() (processed, failed int64, backlog int)
}

// -----------------------------------------------------------------------------

// ControlService implements MarketStreamControlServer.
type ControlService struct {
	UnimplementedMarketStreamControlServer
	Feeds    FeedController
	Hub      HubStats
	Pipeline PipelineStats
	Logger   *logger.Logger
}

func NewControlService(feeds FeedController, hub HubStats, pipe PipelineStats, log *logger.Logger) *ControlService {
	return &ControlService{
		Feeds:    feeds,
		Hub:      hub,
		Pipeline: pipe,
		Logger:   log,
	}
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListFeeds(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]interface{}{"feeds": s.Feeds.Feeds()})
}

// -----------------------------------------------------------------------------

func (s *ControlService) RestartFeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	key := models.NewSubscriptionKey(
		fields["exchange"].GetStringValue(),
		fields["symbol"].GetStringValue(),
		fields["timeframe"].GetStringValue(),
	)
	if key.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "exchange, symbol and timeframe are required")
	}

	if err := s.Feeds.Restart(key); err != nil {
		if helpers.IsConfigurationError(err) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	s.Logger.Info("gRPC: restart requested for %s", key)
	return structpb.NewStruct(map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Restarting %s", key),
	})
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetStats(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	heapMB, goroutines := helpers.ProcessMemoryMB()
	body := map[string]interface{}{
		"heap_mb":    heapMB,
		"goroutines": goroutines,
		"feeds":      len(s.Feeds.Feeds()),
	}
	if s.Hub != nil {
		body["hub"] = s.Hub.Stats()
	}
	if s.Pipeline != nil {
		processed, failed, backlog := s.Pipeline.Stats()
		body["pipeline"] = map[string]interface{}{"processed": processed, "failed": failed, "backlog": backlog}
	}
	return toStruct(body)
}

// -----------------------------------------------------------------------------

// toStruct goes through JSON so nested models keep their json tags.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
