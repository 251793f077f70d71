package models

// Frame types pushed to chart clients.
const (
	FrameCandle    = "candle"
	FrameIndicator = "indicator"
	FrameResync    = "resync"
	FrameStatus    = "status"
	FrameSnapshot  = "snapshot"
	FrameAck       = "ack"
	FrameError     = "error"
)

// MFrame is the JSON envelope for every push to a client.
// Seq increases by one per frame published for a key and lets a client
// discard frames already covered by a snapshot.
type MFrame struct {
	Type    string           `json:"type"`
	Key     MSubscriptionKey `json:"key"`
	Seq     uint64           `json:"seq,omitempty"`
	Payload interface{}      `json:"payload,omitempty"`
}

// -----------------------------------------------------------------------------

// Feed states reported in status frames.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateBackfilling  = "backfilling"
	StateStreaming    = "streaming"
	StateDegraded     = "degraded"
	StateSubscribed   = "subscribed"
	StateUnsubscribed = "unsubscribed"
	StateError        = "error"
)

// MStatus is the payload of a "status" frame.
type MStatus struct {
	State    string `json:"state"`
	Degraded bool   `json:"degraded,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Time     int64  `json:"time"`
}

// -----------------------------------------------------------------------------

// MSubscribeCommand is a client message on the streaming socket.
// Action defaults to "subscribe".
type MSubscribeCommand struct {
	Action     string   `json:"action,omitempty"`
	Exchange   string   `json:"exchange"`
	Symbol     string   `json:"symbol"`
	Timeframe  string   `json:"timeframe"`
	Indicators []string `json:"indicators"`
}

// -----------------------------------------------------------------------------

// MSnapshot is the point-in-time state of one stream.
type MSnapshot struct {
	Key         MSubscriptionKey             `json:"key"`
	Seq         uint64                       `json:"seq"`
	Status      MStatus                      `json:"status"`
	Candles     []MCandle                    `json:"candles"`
	Indicators  map[string][]MIndicatorPoint `json:"indicators"`
	Provisional map[string]MIndicatorPoint   `json:"provisional,omitempty"`
}
