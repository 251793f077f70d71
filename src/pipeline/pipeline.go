package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"market-stream/src/logger"
	"market-stream/src/models"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("pipeline stopped")

type job struct {
	stream *Stream
	event  models.MFeedEvent
}

// -----------------------------------------------------------------------------
// Pipeline runs Stream.Apply on a fixed set of shard workers. A key always
// maps to the same shard, so events of one key are applied in submission
// order by a single goroutine while other keys proceed in parallel.
// -----------------------------------------------------------------------------

type Pipeline struct {
	shards []chan job
	logger *logger.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// -----------------------------------------------------------------------------

func New(workers, queueSize int, log *logger.Logger) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	p := &Pipeline{
		shards: make([]chan job, workers),
		logger: log,
		done:   make(chan struct{}),
	}
	for i := range p.shards {
		p.shards[i] = make(chan job, queueSize)
	}
	return p
}

// -----------------------------------------------------------------------------

// Start launches the shard workers. They exit on ctx cancellation or Stop.
func (p *Pipeline) Start(ctx context.Context) {
	for i, ch := range p.shards {
		p.wg.Add(1)
		go p.worker(ctx, i, ch)
	}
}

// -----------------------------------------------------------------------------

func (p *Pipeline) worker(ctx context.Context, id int, ch <-chan job) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case j := <-ch:
			if err := j.stream.Apply(j.event); err != nil {
				p.failed.Add(1)
				p.logger.Error("Shard %d: apply failed for %s: %v", id, j.stream.Key(), err)
				continue
			}
			p.processed.Add(1)
		}
	}
}

// -----------------------------------------------------------------------------

// Shard returns the worker index owning key.
func (p *Pipeline) Shard(key models.MSubscriptionKey) int {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// -----------------------------------------------------------------------------

// Submit queues ev for s, blocking while the shard queue is full.
func (p *Pipeline) Submit(ctx context.Context, s *Stream, ev models.MFeedEvent) error {
	select {
	case <-p.done:
		return ErrStopped
	default:
	}
	select {
	case p.shards[p.Shard(s.Key())] <- job{stream: s, event: ev}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrStopped
	}
}

// -----------------------------------------------------------------------------

// Stop halts the workers and waits for them. Queued events are discarded.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

// -----------------------------------------------------------------------------

// Stats returns processed and failed event counts and the current backlog.
func (p *Pipeline) Stats() (processed, failed int64, backlog int) {
	for _, ch := range p.shards {
		backlog += len(ch)
	}
	return p.processed.Load(), p.failed.Load(), backlog
}
