package main

import (
	"encoding/json"

	"market-stream/src/models"
)

// inFrame is a server frame with the payload left raw.
type inFrame struct {
	Type    string                  `json:"type"`
	Key     models.MSubscriptionKey `json:"key"`
	Seq     uint64                  `json:"seq"`
	Payload json.RawMessage         `json:"payload"`
}

// -----------------------------------------------------------------------------
// tracker applies the snapshot-then-stream rules for one key: frames queued
// before the snapshot carry seq values it already covers and are dropped,
// and a resync invalidates the local state until the next snapshot.
// -----------------------------------------------------------------------------

type tracker struct {
	seq    uint64
	synced bool

	candles map[int64]models.MCandle
	skipped int
}

func newTracker() *tracker {
	return &tracker{candles: make(map[int64]models.MCandle)}
}

// apply consumes one frame and reports whether it changed local state and
// whether the caller must resubscribe to obtain a fresh snapshot.
func (t *tracker) apply(f inFrame) (applied, resubscribe bool, err error) {
	switch f.Type {
	case models.FrameSnapshot:
		var snap models.MSnapshot
		if err := json.Unmarshal(f.Payload, &snap); err != nil {
			return false, false, err
		}
		t.candles = make(map[int64]models.MCandle, len(snap.Candles))
		for _, c := range snap.Candles {
			t.candles[c.OpenTime] = c
		}
		t.seq, t.synced = snap.Seq, true
		return true, false, nil

	case models.FrameResync:
		t.synced = false
		return false, true, nil

	case models.FrameCandle, models.FrameIndicator, models.FrameStatus:
		if !t.synced || (f.Seq != 0 && f.Seq <= t.seq) {
			t.skipped++
			return false, false, nil
		}
		if f.Seq != 0 {
			t.seq = f.Seq
		}
		if f.Type == models.FrameCandle {
			var c models.MCandle
			if err := json.Unmarshal(f.Payload, &c); err != nil {
				return false, false, err
			}
			t.candles[c.OpenTime] = c
		}
		return true, false, nil
	}
	return false, false, nil
}
