package storage

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"
)

func init() {
	logger.SetOutput(io.Discard)
}

var testKey = models.NewSubscriptionKey("simulated", "BTCUSDT", "1m")

func newSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "journal.db")}}
	repo, err := NewRepository(cfg, logger.NewLogger(cfg, "test"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo.(*SQLiteRepository)
}

func records(key models.MSubscriptionKey, from, n int) []models.MCandleRecord {
	out := make([]models.MCandleRecord, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, models.MCandleRecord{Key: key, Candle: models.MCandle{
			OpenTime: int64(i) * 60_000, Open: float64(i), High: float64(i) + 1, Low: float64(i) - 1, Close: float64(i), Volume: 10, Closed: true,
		}})
	}
	return out
}

// -----------------------------------------------------------------------------

func TestSQLiteLoadRecentOldestFirst(t *testing.T) {
	repo := newSQLite(t)
	ctx := context.Background()

	if err := repo.WriteCandles(ctx, records(testKey, 0, 10)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := repo.LoadRecent(ctx, testKey, 4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 4 || got[0].OpenTime != 6*60_000 || got[3].OpenTime != 9*60_000 {
		t.Fatalf("loaded = %+v", got)
	}
	for _, c := range got {
		if !c.Closed {
			t.Fatal("journal candles must load as closed")
		}
	}

	other := models.NewSubscriptionKey("simulated", "ETHUSDT", "1m")
	if got, _ := repo.LoadRecent(ctx, other, 4); len(got) != 0 {
		t.Fatalf("unrelated key loaded %d candles", len(got))
	}
}

// -----------------------------------------------------------------------------

func TestSQLiteUpsertReplacesBucket(t *testing.T) {
	repo := newSQLite(t)
	ctx := context.Background()

	repo.WriteCandles(ctx, records(testKey, 0, 3))
	fix := records(testKey, 2, 1)
	fix[0].Candle.Close = 99
	if err := repo.WriteCandles(ctx, fix); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, _ := repo.LoadRecent(ctx, testKey, 10)
	if len(got) != 3 || got[2].Close != 99 {
		t.Fatalf("after upsert = %+v", got)
	}
}

// -----------------------------------------------------------------------------

func TestSQLiteTrimKeepsNewestPerKey(t *testing.T) {
	repo := newSQLite(t)
	ctx := context.Background()
	eth := models.NewSubscriptionKey("simulated", "ETHUSDT", "1m")

	repo.WriteCandles(ctx, records(testKey, 0, 10))
	repo.WriteCandles(ctx, records(eth, 0, 3))

	removed, err := repo.Trim(ctx, 5)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if removed != 5 {
		t.Fatalf("removed = %d, want 5", removed)
	}
	btc, _ := repo.LoadRecent(ctx, testKey, 100)
	if len(btc) != 5 || btc[0].OpenTime != 5*60_000 {
		t.Fatalf("btc after trim = %+v", btc)
	}
	if got, _ := repo.LoadRecent(ctx, eth, 100); len(got) != 3 {
		t.Fatalf("eth after trim = %d", len(got))
	}
}

// -----------------------------------------------------------------------------

func TestSQLiteJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "sqlite", DBPath: path}}
	log := logger.NewLogger(cfg, "test")

	first, err := NewRepository(cfg, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first.WriteCandles(context.Background(), records(testKey, 0, 3))
	first.Close()

	second, err := NewRepository(cfg, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if got, _ := second.LoadRecent(context.Background(), testKey, 10); len(got) != 3 {
		t.Fatalf("reopened journal has %d candles", len(got))
	}
}

// -----------------------------------------------------------------------------

type memorySink struct {
	mu      sync.Mutex
	batches [][]models.MCandleRecord
}

func (m *memorySink) WriteCandles(_ context.Context, recs []models.MCandleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, recs)
	return nil
}

func (m *memorySink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBatchWriterFlushesBySizeAndOnStop(t *testing.T) {
	repo := newSQLite(t)
	mem := &memorySink{}
	w := NewBatchWriter(4, time.Hour, logger.NewLogger(nil, "test"), repo, mem)
	w.Start(context.Background())

	w.Add(records(testKey, 0, 5)...)
	waitFor(t, 2*time.Second, func() bool { return mem.total() >= 4 })

	w.Stop(context.Background())
	if mem.total() != 5 {
		t.Fatalf("sink received %d records, want 5", mem.total())
	}
	for _, b := range mem.batches {
		if len(b) > 4 {
			t.Fatalf("batch of %d exceeds size", len(b))
		}
	}
	if got, _ := repo.LoadRecent(context.Background(), testKey, 10); len(got) != 5 {
		t.Fatalf("journal has %d candles", len(got))
	}
	if written, dropped := w.Stats(); written != 5 || dropped != 0 {
		t.Fatalf("stats = %d written, %d dropped", written, dropped)
	}
}

// -----------------------------------------------------------------------------

func TestBatchWriterFlushesOnInterval(t *testing.T) {
	mem := &memorySink{}
	w := NewBatchWriter(100, 20*time.Millisecond, logger.NewLogger(nil, "test"), mem)
	w.Start(context.Background())
	defer w.Stop(context.Background())

	w.Add(records(testKey, 0, 2)...)
	waitFor(t, 2*time.Second, func() bool { return mem.total() == 2 })
}

// -----------------------------------------------------------------------------

func TestBatchWriterBoundsBacklog(t *testing.T) {
	mem := &memorySink{}
	w := NewBatchWriter(1, time.Hour, logger.NewLogger(nil, "test"), mem)

	// Not started: nothing drains, so the backlog caps at size*maxPendingBatches.
	w.Add(records(testKey, 0, maxPendingBatches+5)...)
	if _, dropped := w.Stats(); dropped != 5 {
		t.Fatalf("dropped = %d, want 5", dropped)
	}
	w.Stop(context.Background())
	if mem.total() != maxPendingBatches {
		t.Fatalf("flushed %d records, want %d", mem.total(), maxPendingBatches)
	}
	if mem.batches[0][0].Candle.OpenTime != 5*60_000 {
		t.Fatal("oldest records should be the ones discarded")
	}
}
