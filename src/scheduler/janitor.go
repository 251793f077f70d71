package scheduler

import (
	"context"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"

	"github.com/go-co-op/gocron"
)

const trimTimeout = 30 * time.Second

// FeedLister is satisfied by the subscription registry.
type FeedLister interface {
	Feeds() []models.MFeedStatus
}

// HubStats is satisfied by the broadcast hub.
type HubStats interface {
	Stats() models.MHubStats
}

// -----------------------------------------------------------------------------
// Janitor runs the periodic housekeeping jobs: trimming the candle journal
// back to the rolling window and logging process and feed statistics.
// -----------------------------------------------------------------------------

type Janitor struct {
	cron   *gocron.Scheduler
	cfg    models.MJanitorConfig
	keep   int
	repo   interfaces.ICandleRepository
	feeds  FeedLister
	hub    HubStats
	logger *logger.Logger
}

// -----------------------------------------------------------------------------

// NewJanitor builds the scheduler. repo may be nil when the journal is off.
func NewJanitor(cfg models.MJanitorConfig, keep int, repo interfaces.ICandleRepository, feeds FeedLister, hub HubStats, log *logger.Logger) *Janitor {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	return &Janitor{
		cron:   cron,
		cfg:    cfg,
		keep:   keep,
		repo:   repo,
		feeds:  feeds,
		hub:    hub,
		logger: log,
	}
}

// -----------------------------------------------------------------------------

func (j *Janitor) Start() error {
	if j.repo != nil && j.cfg.TrimIntervalSeconds > 0 {
		if _, err := j.cron.Every(j.cfg.TrimIntervalSeconds).Seconds().Do(j.TrimJournal); err != nil {
			return err
		}
	}
	if j.cfg.StatsIntervalSeconds > 0 {
		if _, err := j.cron.Every(j.cfg.StatsIntervalSeconds).Seconds().Do(j.LogStats); err != nil {
			return err
		}
	}

	j.cron.StartAsync()
	j.logger.Info("Janitor started (%d jobs)", j.cron.Len())
	return nil
}

// -----------------------------------------------------------------------------

func (j *Janitor) Stop() {
	j.cron.Stop()
	j.logger.Info("Janitor stopped")
}

// -----------------------------------------------------------------------------

// TrimJournal drops journal rows beyond the rolling window of every key.
func (j *Janitor) TrimJournal() {
	if j.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), trimTimeout)
	defer cancel()

	removed, err := j.repo.Trim(ctx, j.keep)
	if err != nil {
		j.logger.Error("Journal trim failed: %v", err)
		return
	}
	if removed > 0 {
		j.logger.Info("Journal trimmed: %d candles removed", removed)
	}
}

// -----------------------------------------------------------------------------

func (j *Janitor) LogStats() {
	heapMB, goroutines := helpers.ProcessMemoryMB()

	var live, degraded, draining int
	if j.feeds != nil {
		for _, f := range j.feeds.Feeds() {
			switch {
			case f.Draining:
				draining++
			case f.Degraded:
				degraded++
			default:
				live++
			}
		}
	}

	var conns int
	var dropped int64
	if j.hub != nil {
		s := j.hub.Stats()
		conns, dropped = s.TotalConnections, s.Dropped
	}

	j.logger.Info("Stats: heap=%.1fMB goroutines=%d feeds=%d degraded=%d draining=%d clients=%d dropped=%d",
		heapMB, goroutines, live, degraded, draining, conns, dropped)
}
