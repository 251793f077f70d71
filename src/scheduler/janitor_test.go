package scheduler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"
)

func init() {
	logger.SetOutput(io.Discard)
}

type fakeRepo struct {
	trims atomic.Int32
	keep  atomic.Int32
}

func (f *fakeRepo) WriteCandles(context.Context, []models.MCandleRecord) error { return nil }
func (f *fakeRepo) Initialize() error                                          { return nil }
func (f *fakeRepo) Close() error                                               { return nil }
func (f *fakeRepo) LoadRecent(context.Context, models.MSubscriptionKey, int) ([]models.MCandle, error) {
	return nil, nil
}
func (f *fakeRepo) Trim(_ context.Context, keep int) (int64, error) {
	f.keep.Store(int32(keep))
	f.trims.Add(1)
	return 3, nil
}

type fakeFeeds struct{ calls atomic.Int32 }

func (f *fakeFeeds) Feeds() []models.MFeedStatus {
	f.calls.Add(1)
	return []models.MFeedStatus{{State: models.StateStreaming}, {Degraded: true}, {Draining: true}}
}

// -----------------------------------------------------------------------------

func TestJanitorRunsJobsOnStart(t *testing.T) {
	repo := &fakeRepo{}
	feeds := &fakeFeeds{}
	j := NewJanitor(models.MJanitorConfig{TrimIntervalSeconds: 60, StatsIntervalSeconds: 60}, 500, repo, feeds, nil, logger.NewLogger(nil, "test"))
	if err := j.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer j.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for repo.trims.Load() == 0 || feeds.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not run: trims=%d stats=%d", repo.trims.Load(), feeds.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if repo.keep.Load() != 500 {
		t.Fatalf("trim kept %d, want the buffer capacity", repo.keep.Load())
	}
}

// -----------------------------------------------------------------------------

func TestJanitorWithoutJournal(t *testing.T) {
	j := NewJanitor(models.MJanitorConfig{TrimIntervalSeconds: 60}, 500, nil, nil, nil, logger.NewLogger(nil, "test"))
	if err := j.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer j.Stop()

	if n := j.cron.Len(); n != 0 {
		t.Fatalf("scheduled %d jobs with no journal and no stats interval", n)
	}
	j.TrimJournal()
	j.LogStats()
}
