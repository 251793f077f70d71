package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"market-stream/src/analysis"
	"market-stream/src/exchange"
	"market-stream/src/feed"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/pipeline"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Registry maps subscription keys to one shared stream and upstream adapter,
// reference counted by subscribing clients. The adapter of a key starts with
// its first subscriber and stops a grace period after its last one leaves.
// -----------------------------------------------------------------------------

type Registry struct {
	Repository interfaces.ICandleRepository

	cfg       *models.MConfig
	exchanges *exchange.Manager
	pipeline  *pipeline.Pipeline
	publisher interfaces.IFramePublisher
	sink      pipeline.ClosedCandleSink
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[models.MSubscriptionKey]*entry
}

// entry is guarded by its own mutex; Registry.mu is only held to find or
// remove it, and is always taken before entry.mu.
type entry struct {
	mu        sync.Mutex
	key       models.MSubscriptionKey
	stream    *pipeline.Stream
	adapter   *feed.Adapter
	clients   map[string][]string // client -> indicator IDs it holds
	specs     map[string]models.MIndicatorSpec
	refs      map[string]int // indicator ID -> holders
	grace     *time.Timer
	graceGen  uint64
	started   bool
	destroyed bool
}

// -----------------------------------------------------------------------------

func NewRegistry(cfg *models.MConfig, exchanges *exchange.Manager, pipe *pipeline.Pipeline, pub interfaces.IFramePublisher, sink pipeline.ClosedCandleSink, log *logger.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:       cfg,
		exchanges: exchanges,
		pipeline:  pipe,
		publisher: pub,
		sink:      sink,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[models.MSubscriptionKey]*entry),
	}
}

// -----------------------------------------------------------------------------

// Subscribe adds clientID as a holder of key with the given indicators,
// replacing any indicator set the client held before. The upstream adapter
// is started on the first holder.
func (r *Registry) Subscribe(clientID string, key models.MSubscriptionKey, specs []models.MIndicatorSpec) (models.MSubscribeAck, error) {
	if err := r.exchanges.Validate(key); err != nil {
		return models.MSubscribeAck{}, err
	}
	for _, spec := range specs {
		if err := analysis.ValidateSpec(spec, r.cfg.Feed.BufferCapacity); err != nil {
			return models.MSubscribeAck{}, err
		}
	}

	e, err := r.acquire(key)
	if err != nil {
		return models.MSubscribeAck{}, err
	}
	defer e.mu.Unlock()

	if e.grace != nil {
		e.grace.Stop()
		e.grace = nil
		e.graceGen++
		r.logger.Debug("Resubscribed to %s within grace period", key)
	}

	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id := spec.ID()
		ids = append(ids, id)
		if e.refs[id] == 0 {
			if err := e.stream.AddIndicator(spec); err != nil {
				r.release(e, ids[:len(ids)-1])
				if len(e.clients) == 0 && e.grace == nil {
					r.scheduleTeardown(e)
				}
				return models.MSubscribeAck{}, err
			}
			e.specs[id] = spec
		}
		e.refs[id]++
	}
	if old, ok := e.clients[clientID]; ok {
		r.release(e, old)
	}
	e.clients[clientID] = ids

	if !e.started {
		e.started = true
		e.adapter.Start(r.ctx)
		r.logger.Info("Started feed %s", key)
	}

	_, seq := e.stream.Stats()
	state, _, _ := e.adapter.State()
	sort.Strings(ids)
	return models.MSubscribeAck{Key: key, Indicators: ids, RefCount: len(e.clients), Seq: seq, State: state}, nil
}

// -----------------------------------------------------------------------------

// Unsubscribe drops clientID from key. Unknown pairs are ignored.
func (r *Registry) Unsubscribe(clientID string, key models.MSubscriptionKey) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.mu.Lock()
	r.mu.Unlock()
	defer e.mu.Unlock()

	ids, ok := e.clients[clientID]
	if !ok {
		return
	}
	delete(e.clients, clientID)
	r.release(e, ids)

	if len(e.clients) == 0 {
		r.scheduleTeardown(e)
	}
}

// -----------------------------------------------------------------------------

// UnsubscribeAll drops clientID from every key it holds.
func (r *Registry) UnsubscribeAll(clientID string) {
	r.mu.Lock()
	keys := make([]models.MSubscriptionKey, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	for _, key := range keys {
		r.Unsubscribe(clientID, key)
	}
}

// -----------------------------------------------------------------------------

// Snapshot returns the current state of key. When nobody holds the key yet, a
// temporary lease starts the feed and the call waits, bounded by ctx and the
// configured snapshot timeout, for the first candles to arrive.
func (r *Registry) Snapshot(ctx context.Context, key models.MSubscriptionKey, specs []models.MIndicatorSpec) (models.MSnapshot, error) {
	lease := "snapshot-" + uuid.NewString()
	if _, err := r.Subscribe(lease, key, specs); err != nil {
		return models.MSnapshot{}, err
	}
	defer r.Unsubscribe(lease, key)

	stream := r.stream(key)
	if stream == nil {
		return models.MSnapshot{}, helpers.NewConnectionError(nil, "feed %s went away", key)
	}

	if timeout := r.cfg.Registry.SnapshotTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-stream.Ready():
	case <-ctx.Done():
		r.logger.Warning("Snapshot of %s before warm-up finished: %v", key, ctx.Err())
	}

	return stream.Snapshot(indicatorIDs(specs)), nil
}

// -----------------------------------------------------------------------------

// StreamSnapshot copies the state of a key that is already held, without
// taking a lease. ok is false when the key is not live.
func (r *Registry) StreamSnapshot(key models.MSubscriptionKey, specs []models.MIndicatorSpec) (models.MSnapshot, bool) {
	stream := r.stream(key)
	if stream == nil {
		return models.MSnapshot{}, false
	}
	return stream.Snapshot(indicatorIDs(specs)), true
}

// -----------------------------------------------------------------------------

// Feeds describes every live key, sorted by key.
func (r *Registry) Feeds() []models.MFeedStatus {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]models.MFeedStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		refCount, draining := len(e.clients), e.grace != nil
		e.mu.Unlock()

		state, degraded, reason := e.adapter.State()
		candles, seq := e.stream.Stats()
		out = append(out, models.MFeedStatus{
			Key:         e.key,
			State:       state,
			Degraded:    degraded,
			Reason:      reason,
			RefCount:    refCount,
			Indicators:  e.stream.Indicators(),
			Candles:     candles,
			Seq:         seq,
			Reconnects:  e.adapter.Reconnects(),
			LastMessage: e.adapter.LastMessage(),
			Draining:    draining,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// -----------------------------------------------------------------------------

// Restart forces the adapter of key to reconnect and backfill.
func (r *Registry) Restart(key models.MSubscriptionKey) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return helpers.NewConfigurationError("feed %s is not live", key)
	}
	e.adapter.Restart()
	return nil
}

// -----------------------------------------------------------------------------

// RefCount returns the number of holders of key, 0 when not live.
func (r *Registry) RefCount(key models.MSubscriptionKey) int {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clients)
}

// -----------------------------------------------------------------------------

// Close stops every adapter immediately.
func (r *Registry) Close() {
	r.cancel()

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[models.MSubscriptionKey]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.grace != nil {
			e.grace.Stop()
		}
		e.destroyed = true
		e.mu.Unlock()
		e.adapter.Stop()
	}
	r.logger.Info("Registry closed (%d feeds stopped)", len(entries))
}

// -----------------------------------------------------------------------------

// acquire returns the entry for key with its mutex held, creating it when
// needed.
func (r *Registry) acquire(key models.MSubscriptionKey) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return nil, helpers.NewConnectionError(r.ctx.Err(), "registry closed")
	}
	e, ok := r.entries[key]
	if !ok {
		var err error
		if e, err = r.newEntry(key); err != nil {
			return nil, err
		}
		r.entries[key] = e
	}
	e.mu.Lock()
	return e, nil
}

// -----------------------------------------------------------------------------

func (r *Registry) newEntry(key models.MSubscriptionKey) (*entry, error) {
	ex, err := r.exchanges.GetExchange(key.Exchange)
	if err != nil {
		return nil, helpers.NewConfigurationError("%v", err)
	}

	stream, err := pipeline.NewStream(key, r.cfg.Feed.BufferCapacity, r.cfg.Registry.IndicatorHistory, r.publisher, r.sink, r.logger)
	if err != nil {
		return nil, helpers.NewConfigurationError("%v", err)
	}
	sink := func(ctx context.Context, ev models.MFeedEvent) error {
		return r.pipeline.Submit(ctx, stream, ev)
	}
	adapter, err := feed.New(key, ex, r.cfg.Feed, sink, logger.NewLogger(r.cfg, "FeedAdapter"))
	if err != nil {
		return nil, err
	}
	adapter.Repository = r.Repository
	adapter.Calendar = r.exchanges.Calendar(key.Exchange)

	return &entry{
		key:     key,
		stream:  stream,
		adapter: adapter,
		clients: make(map[string][]string),
		specs:   make(map[string]models.MIndicatorSpec),
		refs:    make(map[string]int),
	}, nil
}

// -----------------------------------------------------------------------------

// release drops one hold on each indicator ID. Caller holds e.mu.
func (r *Registry) release(e *entry, ids []string) {
	for _, id := range ids {
		e.refs[id]--
		if e.refs[id] <= 0 {
			delete(e.refs, id)
			delete(e.specs, id)
			e.stream.RemoveIndicator(id)
		}
	}
}

// -----------------------------------------------------------------------------

// scheduleTeardown arms the grace timer. Caller holds e.mu.
func (r *Registry) scheduleTeardown(e *entry) {
	e.graceGen++
	gen := e.graceGen
	grace := r.cfg.Registry.GracePeriod()
	r.logger.Debug("Last holder left %s, tearing down in %v", e.key, grace)
	e.grace = time.AfterFunc(grace, func() { r.teardown(e, gen) })
}

// -----------------------------------------------------------------------------

func (r *Registry) teardown(e *entry, gen uint64) {
	r.mu.Lock()
	e.mu.Lock()
	if e.destroyed || e.graceGen != gen || len(e.clients) > 0 {
		e.mu.Unlock()
		r.mu.Unlock()
		return
	}
	e.destroyed = true
	e.grace = nil
	if r.entries[e.key] == e {
		delete(r.entries, e.key)
	}
	e.mu.Unlock()
	r.mu.Unlock()

	e.adapter.Stop()
	r.logger.Info("Stopped feed %s", e.key)
}

// -----------------------------------------------------------------------------

func (r *Registry) stream(key models.MSubscriptionKey) *pipeline.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.stream
	}
	return nil
}

func indicatorIDs(specs []models.MIndicatorSpec) []string {
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		ids = append(ids, spec.ID())
	}
	return ids
}
