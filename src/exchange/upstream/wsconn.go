package upstream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/models"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Decoder turns one raw frame into ticks. pong reports an application-level
// heartbeat answer.
type Decoder func(msg []byte) (ticks []models.MTick, pong bool, err error)

// -----------------------------------------------------------------------------
// WSConn adapts a gorilla websocket to interfaces.IUpstreamConn. Reads happen
// on one goroutine; writes (pings, subscribe frames) are serialized.
// -----------------------------------------------------------------------------

type WSConn struct {
	conn    *websocket.Conn
	decode  Decoder
	appPing []byte // nil means websocket control-frame pings

	writeMu sync.Mutex
	pongMu  sync.Mutex
	onPong  func()
}

// -----------------------------------------------------------------------------

// Dial opens url with a bounded handshake. appPing, when set, is written as a
// text frame for heartbeats instead of a websocket ping.
func Dial(ctx context.Context, url string, timeout time.Duration, decode Decoder, appPing []byte) (*WSConn, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dctx, url, nil)
	if err != nil {
		return nil, helpers.NewConnectionError(err, "dial %s", url)
	}

	c := &WSConn{conn: conn, decode: decode, appPing: appPing}
	conn.SetPongHandler(func(string) error {
		c.firePong()
		return nil
	})
	return c, nil
}

// -----------------------------------------------------------------------------

// WriteJSON sends a control message such as a subscribe request.
func (c *WSConn) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// -----------------------------------------------------------------------------

// ReadRaw returns the next frame without decoding. Used during handshakes.
func (c *WSConn) ReadRaw() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, helpers.NewConnectionError(err, "read")
	}
	return msg, nil
}

// -----------------------------------------------------------------------------

func (c *WSConn) Read() ([]models.MTick, error) {
	msg, err := c.ReadRaw()
	if err != nil {
		return nil, err
	}
	ticks, pong, err := c.decode(msg)
	if pong {
		c.firePong()
	}
	if err != nil {
		return nil, helpers.NewProtocolError(err, "decode frame")
	}
	return ticks, nil
}

// -----------------------------------------------------------------------------

func (c *WSConn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if c.appPing != nil {
		c.conn.SetWriteDeadline(deadline)
		return c.conn.WriteMessage(websocket.TextMessage, c.appPing)
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// -----------------------------------------------------------------------------

func (c *WSConn) OnPong(fn func()) {
	c.pongMu.Lock()
	c.onPong = fn
	c.pongMu.Unlock()
}

func (c *WSConn) firePong() {
	c.pongMu.Lock()
	fn := c.onPong
	c.pongMu.Unlock()
	if fn != nil {
		fn()
	}
}

// -----------------------------------------------------------------------------

func (c *WSConn) SetReadDeadline(unixMilli int64) error {
	if unixMilli == 0 {
		return c.conn.SetReadDeadline(time.Time{})
	}
	return c.conn.SetReadDeadline(time.UnixMilli(unixMilli))
}

// -----------------------------------------------------------------------------

func (c *WSConn) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
