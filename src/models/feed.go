package models

// MFeedEventKind tells a stream how to apply an MFeedEvent.
type MFeedEventKind int

const (
	FeedEventTick MFeedEventKind = iota
	FeedEventCandles
	FeedEventStatus
)

// MFeedEvent is what a feed adapter hands to the per-key writer.
type MFeedEvent struct {
	Kind    MFeedEventKind
	Tick    MTick
	Candles []MCandle
	Status  MStatus
}

// MFeedStatus describes one live key for the control plane and stats endpoints.
type MFeedStatus struct {
	Key         MSubscriptionKey `json:"key"`
	State       string           `json:"state"`
	Degraded    bool             `json:"degraded"`
	Reason      string           `json:"reason,omitempty"`
	RefCount    int              `json:"ref_count"`
	Indicators  []string         `json:"indicators"`
	Candles     int              `json:"candles"`
	Seq         uint64           `json:"seq"`
	Reconnects  int64            `json:"reconnects"`
	LastMessage int64            `json:"last_message"`
	Draining    bool             `json:"draining"`
}

// MHubStats counts connections for the stats endpoint.
type MHubStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveKeys       int            `json:"active_keys"`
	Keys             map[string]int `json:"keys"`
	Resyncs          int64          `json:"resyncs"`
	Dropped          int64          `json:"dropped"`
}
