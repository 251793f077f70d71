package server

import (
	"sync"
	"sync/atomic"

	"market-stream/src/logger"
	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// Hub fans frames out to the clients subscribed to each key. It implements
// interfaces.IFramePublisher. Publish only enqueues on client queues and
// never blocks on a socket.
// -----------------------------------------------------------------------------

type Hub struct {
	Logger *logger.Logger

	mu          sync.RWMutex
	clients     map[*Client]struct{}
	subscribers map[models.MSubscriptionKey]map[*Client]struct{}

	resyncs atomic.Int64
	dropped atomic.Int64
}

// -----------------------------------------------------------------------------

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		Logger:      log,
		clients:     make(map[*Client]struct{}),
		subscribers: make(map[models.MSubscriptionKey]map[*Client]struct{}),
	}
}

// -----------------------------------------------------------------------------

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes c from the hub and from every key.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
	for key, set := range h.subscribers {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subscribers, key)
		}
	}
}

// -----------------------------------------------------------------------------

func (h *Hub) Subscribe(c *Client, key models.MSubscriptionKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[key]
	if !ok {
		set = make(map[*Client]struct{})
		h.subscribers[key] = set
	}
	set[c] = struct{}{}
}

// Unsubscribe stops delivery of key to c. Frames already queued for the key
// are discarded.
func (h *Hub) Unsubscribe(c *Client, key models.MSubscriptionKey) {
	h.mu.Lock()
	if set, ok := h.subscribers[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subscribers, key)
		}
	}
	h.mu.Unlock()
	c.queue.Forget(key)
}

// -----------------------------------------------------------------------------

// Publish enqueues frame for every subscriber of key. Indicator frames only
// reach clients that requested that indicator.
func (h *Hub) Publish(key models.MSubscriptionKey, frame models.MFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.subscribers[key] {
		if !c.wants(key, frame) {
			continue
		}
		h.deliver(c, frame)
	}
}

// Send enqueues a frame for one client, subject to the same overflow rules.
func (h *Hub) Send(c *Client, frame models.MFrame) {
	h.deliver(c, frame)
}

func (h *Hub) deliver(c *Client, frame models.MFrame) {
	res := c.queue.Push(frame)
	if res.Dropped {
		h.dropped.Add(1)
	}
	if res.Resync {
		h.resyncs.Add(1)
	}
	if res.TooSlow {
		go c.closeSlow()
	}
}

// -----------------------------------------------------------------------------

func (h *Hub) Stats() models.MHubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make(map[string]int, len(h.subscribers))
	for key, set := range h.subscribers {
		keys[key.String()] = len(set)
	}
	return models.MHubStats{
		TotalConnections: len(h.clients),
		ActiveKeys:       len(h.subscribers),
		Keys:             keys,
		Resyncs:          h.resyncs.Load(),
		Dropped:          h.dropped.Load(),
	}
}

// Subscribers returns the number of clients receiving key.
func (h *Hub) Subscribers(key models.MSubscriptionKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[key])
}
