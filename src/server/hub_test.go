package server

import (
	"io"
	"testing"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"
)

func init() {
	logger.SetOutput(io.Discard)
}

func detachedClient(id string, hub *Hub, queueSize int) *Client {
	return newClient(id, hub, nil, nil, NewOutboundQueue(queueSize, 0, time.Minute), logger.NewLogger(nil, "test"))
}

// -----------------------------------------------------------------------------

func TestHubDeliversOnlyToSubscribers(t *testing.T) {
	hub := NewHub(logger.NewLogger(nil, "test"))
	a := detachedClient("a", hub, 16)
	b := detachedClient("b", hub, 16)
	hub.Register(a)
	hub.Register(b)
	hub.Subscribe(a, keyBTC)
	hub.Subscribe(b, keyETH)

	for seq := uint64(1); seq <= 3; seq++ {
		hub.Publish(keyBTC, candleFrame(keyBTC, seq))
	}

	got := a.queue.Drain()
	if len(got) != 3 {
		t.Fatalf("a received %d frames", len(got))
	}
	for i, f := range got {
		if f.Seq != uint64(i+1) {
			t.Fatalf("frames out of order: %+v", got)
		}
	}
	if n := b.queue.Len(); n != 0 {
		t.Fatalf("b received %d frames for a key it does not hold", n)
	}
}

// -----------------------------------------------------------------------------

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(logger.NewLogger(nil, "test"))
	a := detachedClient("a", hub, 16)
	hub.Register(a)
	hub.Subscribe(a, keyBTC)

	hub.Publish(keyBTC, candleFrame(keyBTC, 1))
	hub.Unsubscribe(a, keyBTC)
	hub.Publish(keyBTC, candleFrame(keyBTC, 2))

	if n := a.queue.Len(); n != 0 {
		t.Fatalf("queued after unsubscribe = %d, want 0", n)
	}
	if hub.Subscribers(keyBTC) != 0 {
		t.Fatal("key still has subscribers")
	}
}

// -----------------------------------------------------------------------------

func TestHubSlowClientDoesNotAffectOthers(t *testing.T) {
	hub := NewHub(logger.NewLogger(nil, "test"))
	slow := detachedClient("slow", hub, 2)
	fast := detachedClient("fast", hub, 64)
	for _, c := range []*Client{slow, fast} {
		hub.Register(c)
		hub.Subscribe(c, keyBTC)
	}

	for seq := uint64(1); seq <= 10; seq++ {
		hub.Publish(keyBTC, candleFrame(keyBTC, seq))
	}

	if n := len(fast.queue.Drain()); n != 10 {
		t.Fatalf("fast client got %d frames", n)
	}
	frames := slow.queue.Drain()
	if countResyncs(frames, keyBTC) != 1 {
		t.Fatalf("slow client frames = %+v", frames)
	}
	stats := hub.Stats()
	if stats.Resyncs != 1 || stats.Dropped != 8 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.TotalConnections != 2 || stats.Keys[keyBTC.String()] != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

// -----------------------------------------------------------------------------

func TestHubUnregisterRemovesFromAllKeys(t *testing.T) {
	hub := NewHub(logger.NewLogger(nil, "test"))
	a := detachedClient("a", hub, 16)
	hub.Register(a)
	hub.Subscribe(a, keyBTC)
	hub.Subscribe(a, keyETH)
	hub.Unregister(a)

	if s := hub.Stats(); s.TotalConnections != 0 || s.ActiveKeys != 0 {
		t.Fatalf("stats after unregister = %+v", s)
	}
	hub.Publish(keyBTC, models.MFrame{Type: models.FrameCandle, Key: keyBTC})
	if a.queue.Len() != 0 {
		t.Fatal("unregistered client still receives frames")
	}
}

// -----------------------------------------------------------------------------

func TestHubIndicatorFramesFollowRequestedSet(t *testing.T) {
	hub := NewHub(logger.NewLogger(nil, "test"))
	smaOnly := detachedClient("sma", hub, 16)
	both := detachedClient("both", hub, 16)

	sma, _ := models.ParseIndicatorSpec("sma:20")
	rsi, _ := models.ParseIndicatorSpec("rsi:14")
	smaOnly.hold(keyBTC, []models.MIndicatorSpec{sma})
	both.hold(keyBTC, []models.MIndicatorSpec{sma, rsi})
	for _, c := range []*Client{smaOnly, both} {
		hub.Register(c)
		hub.Subscribe(c, keyBTC)
	}

	hub.Publish(keyBTC, models.MFrame{Type: models.FrameIndicator, Key: keyBTC, Seq: 1, Payload: models.MIndicatorUpdate{ID: rsi.ID()}})
	hub.Publish(keyBTC, models.MFrame{Type: models.FrameIndicator, Key: keyBTC, Seq: 2, Payload: models.MIndicatorUpdate{ID: sma.ID()}})
	hub.Publish(keyBTC, candleFrame(keyBTC, 3))

	got := smaOnly.queue.Drain()
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("sma-only client frames = %+v", got)
	}
	if n := len(both.queue.Drain()); n != 3 {
		t.Fatalf("client holding both indicators got %d frames, want 3", n)
	}
}
