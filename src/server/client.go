package server

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// CloseTooSlow is sent when a client keeps overflowing its queue.
	CloseTooSlow = 4008
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

type Client struct {
	ID      string
	Subject string

	hub      *Hub
	registry interfaces.ISubscriptionRegistry
	conn     *websocket.Conn
	queue    *OutboundQueue
	control  chan []byte
	logger   *logger.Logger

	mu            sync.Mutex
	subscriptions map[models.MSubscriptionKey][]models.MIndicatorSpec

	done      chan struct{}
	closeOnce sync.Once
}

// -----------------------------------------------------------------------------

func newClient(id string, hub *Hub, registry interfaces.ISubscriptionRegistry, conn *websocket.Conn, queue *OutboundQueue, log *logger.Logger) *Client {
	return &Client{
		ID:            id,
		hub:           hub,
		registry:      registry,
		conn:          conn,
		queue:         queue,
		control:       make(chan []byte, 8),
		logger:        log.With("client", id),
		subscriptions: make(map[models.MSubscriptionKey][]models.MIndicatorSpec),
		done:          make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.registry.UnsubscribeAll(c.ID)
		c.close()
		c.logger.Info("Client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("WebSocket error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if strings.TrimSpace(string(message)) == "ping" {
			select {
			case c.control <- []byte("pong"):
			default:
			}
			continue
		}
		c.handleMessage(message)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends messages to client
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case <-c.queue.Ready():
			for _, frame := range c.queue.Drain() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteJSON(frame); err != nil {
					c.logger.Info("Write error: %v", err)
					return
				}
			}

		case msg := <-c.control:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

func (c *Client) handleMessage(message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		err = helpers.NewProtocolError(err, "invalid client message")
		c.logger.Debug("%v", err)
		c.sendError(models.MSubscriptionKey{}, err)
		return
	}

	key := models.NewSubscriptionKey(cmd.Exchange, cmd.Symbol, cmd.Timeframe)
	switch strings.ToLower(cmd.Action) {
	case "", "subscribe":
		c.subscribe(key, cmd.Indicators)
	case "unsubscribe":
		c.unsubscribe(key)
	default:
		c.sendError(key, helpers.NewProtocolError(nil, "unknown action %q", cmd.Action))
	}
}

// -----------------------------------------------------------------------------

// subscribe registers with the hub before the registry so that no frame
// published after the snapshot can be missed. Frames queued before the
// snapshot frame carry seq values it already covers.
func (c *Client) subscribe(key models.MSubscriptionKey, rawIndicators []string) {
	if key.IsZero() {
		c.sendError(key, helpers.NewConfigurationError("exchange, symbol and timeframe are required"))
		return
	}
	specs, err := models.ParseIndicatorList(rawIndicators)
	if err != nil {
		c.sendError(key, helpers.NewConfigurationError("%v", err))
		return
	}

	c.hub.Subscribe(c, key)
	ack, err := c.registry.Subscribe(c.ID, key, specs)
	if err != nil {
		c.mu.Lock()
		_, held := c.subscriptions[key]
		c.mu.Unlock()
		if !held {
			c.hub.Unsubscribe(c, key)
		}
		c.sendError(key, err)
		return
	}

	c.hold(key, specs)
	c.logger.Info("Subscribed to %s with %v", key, ack.Indicators)

	c.hub.Send(c, models.MFrame{Type: models.FrameAck, Key: key, Payload: ack})
	if snap, ok := c.registry.StreamSnapshot(key, specs); ok {
		c.hub.Send(c, models.MFrame{Type: models.FrameSnapshot, Key: key, Seq: snap.Seq, Payload: snap})
	}
}

// -----------------------------------------------------------------------------

func (c *Client) unsubscribe(key models.MSubscriptionKey) {
	c.mu.Lock()
	_, ok := c.subscriptions[key]
	delete(c.subscriptions, key)
	c.mu.Unlock()
	if !ok {
		return
	}

	c.hub.Unsubscribe(c, key)
	c.registry.Unsubscribe(c.ID, key)
	c.hub.Send(c, models.MFrame{
		Type:    models.FrameStatus,
		Key:     key,
		Payload: models.MStatus{State: models.StateUnsubscribed, Time: time.Now().UnixMilli()},
	})
}

// -----------------------------------------------------------------------------

func (c *Client) sendError(key models.MSubscriptionKey, err error) {
	c.hub.Send(c, models.MFrame{Type: models.FrameError, Key: key, Payload: map[string]string{"error": err.Error()}})
}

// -----------------------------------------------------------------------------

// hold records the indicator set the client requested for key.
func (c *Client) hold(key models.MSubscriptionKey, specs []models.MIndicatorSpec) {
	c.mu.Lock()
	c.subscriptions[key] = specs
	c.mu.Unlock()
}

// wants reports whether frame belongs to what the client asked for. Frames
// other than indicator updates always do.
func (c *Client) wants(key models.MSubscriptionKey, frame models.MFrame) bool {
	if frame.Type != models.FrameIndicator {
		return true
	}
	upd, ok := frame.Payload.(models.MIndicatorUpdate)
	if !ok {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, spec := range c.subscriptions[key] {
		if spec.ID() == upd.ID {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------

// Subscriptions lists the keys the client holds.
func (c *Client) Subscriptions() []models.MSubscriptionKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]models.MSubscriptionKey, 0, len(c.subscriptions))
	for key := range c.subscriptions {
		keys = append(keys, key)
	}
	return keys
}

// -----------------------------------------------------------------------------

// closeSlow disconnects a client that keeps overflowing its queue.
func (c *Client) closeSlow() {
	err := helpers.NewOverflowError("client %s too slow", c.ID)
	c.logger.Warning("%v, closing connection", err)
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(CloseTooSlow, "client too slow")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	c.close()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
