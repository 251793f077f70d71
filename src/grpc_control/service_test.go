package grpc_control

import (
	"context"
	"io"
	"net"
	"testing"

	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	logger.SetOutput(io.Discard)
}

var liveKey = models.NewSubscriptionKey("binance", "BTCUSDT", "1m")

type fakeFeeds struct {
	restarted []models.MSubscriptionKey
}

func (f *fakeFeeds) Feeds() []models.MFeedStatus {
	return []models.MFeedStatus{{Key: liveKey, State: models.StateStreaming, RefCount: 2, Seq: 41}}
}

func (f *fakeFeeds) Restart(key models.MSubscriptionKey) error {
	if key != liveKey {
		return helpers.NewConfigurationError("feed %s is not live", key)
	}
	f.restarted = append(f.restarted, key)
	return nil
}

type fakeHub struct{}

func (fakeHub) Stats() models.MHubStats {
	return models.MHubStats{TotalConnections: 3, ActiveKeys: 1, Keys: map[string]int{liveKey.String(): 3}}
}

func dialControl(t *testing.T, feeds FeedController) MarketStreamControlClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterMarketStreamControlServer(srv, NewControlService(feeds, fakeHub{}, nil, logger.NewLogger(nil, "test")))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewMarketStreamControlClient(conn)
}

// -----------------------------------------------------------------------------

func TestListFeeds(t *testing.T) {
	client := dialControl(t, &fakeFeeds{})

	resp, err := client.ListFeeds(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	feeds := resp.GetFields()["feeds"].GetListValue().GetValues()
	if len(feeds) != 1 {
		t.Fatalf("feeds = %v", resp)
	}
	feed := feeds[0].GetStructValue().GetFields()
	if feed["state"].GetStringValue() != models.StateStreaming || feed["ref_count"].GetNumberValue() != 2 {
		t.Fatalf("feed = %v", feed)
	}
	if feed["key"].GetStructValue().GetFields()["symbol"].GetStringValue() != "BTCUSDT" {
		t.Fatalf("feed key = %v", feed["key"])
	}
}

// -----------------------------------------------------------------------------

func TestRestartFeed(t *testing.T) {
	feeds := &fakeFeeds{}
	client := dialControl(t, feeds)
	ctx := context.Background()

	req, _ := structpb.NewStruct(map[string]interface{}{"exchange": "Binance", "symbol": "btc/usdt", "timeframe": "1m"})
	resp, err := client.RestartFeed(ctx, req)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !resp.GetFields()["success"].GetBoolValue() || len(feeds.restarted) != 1 {
		t.Fatalf("restart response = %v, restarted = %v", resp, feeds.restarted)
	}

	unknown, _ := structpb.NewStruct(map[string]interface{}{"exchange": "binance", "symbol": "ETHUSDT", "timeframe": "1m"})
	if _, err := client.RestartFeed(ctx, unknown); status.Code(err) != codes.NotFound {
		t.Fatalf("unknown feed error = %v, want NotFound", err)
	}

	if _, err := client.RestartFeed(ctx, &structpb.Struct{}); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("empty request error = %v, want InvalidArgument", err)
	}
}

// -----------------------------------------------------------------------------

func TestGetStats(t *testing.T) {
	client := dialControl(t, &fakeFeeds{})

	resp, err := client.GetStats(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	fields := resp.GetFields()
	if fields["feeds"].GetNumberValue() != 1 || fields["goroutines"].GetNumberValue() <= 0 {
		t.Fatalf("stats = %v", resp)
	}
	hub := fields["hub"].GetStructValue().GetFields()
	if hub["total_connections"].GetNumberValue() != 3 {
		t.Fatalf("hub stats = %v", hub)
	}
	if _, ok := fields["pipeline"]; ok {
		t.Fatal("pipeline stats reported without a pipeline")
	}
}
