package engine

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/starford/laguz/internal/models"
)

// DocumentSyncer dispatches one document. *Dispatcher satisfies it.
type DocumentSyncer interface {
	SyncDocument(ctx context.Context, path string, cfg models.ContainerConfig) Outcome
}

// AfterFunc schedules fn after d and returns a cancel function. The
// default uses time.AfterFunc; tests inject a virtual clock.
type AfterFunc func(d time.Duration, fn func()) (cancel func())

func realAfter(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// QueueConfig holds queue tuning parameters.
type QueueConfig struct {
	DebounceWindow    time.Duration `yaml:"debounce_window"`
	MaxConcurrent     int64         `yaml:"max_concurrent"`
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	StatsWindow       int           `yaml:"stats_window"`
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 500 * time.Millisecond
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = 50
	}
	return c
}

// QueueItem is one document waiting for (or failing) synchronization.
type QueueItem struct {
	ID        string                 `json:"id"`
	Change    models.ChangeEvent     `json:"change"`
	Container models.ContainerConfig `json:"-"`
	Retries   int                    `json:"retries"`
	LastError string                 `json:"last_error,omitempty"`
	AddedAt   time.Time              `json:"added_at"`
}

// QueueStats are aggregate counters, recomputed on demand.
type QueueStats struct {
	Pending           int           `json:"pending"`
	Processing        int           `json:"processing"`
	Completed         int           `json:"completed"`
	Failed            int           `json:"failed"`
	TotalProcessed    int           `json:"total_processed"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
}

// Queue accumulates change notifications, deduplicates them by path,
// coalesces bursts behind a debounce window, and drains batches through
// the dispatcher with bounded concurrency and per-item backoff retry.
//
// At most one dispatch is ever in flight for a given path: a change
// arriving while its document is being processed is parked and
// re-enqueued after the batch, never merged into the in-flight item.
type Queue struct {
	cfg    QueueConfig
	syncer DocumentSyncer
	snaps  SnapshotStore
	logger *slog.Logger
	after  AfterFunc
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	pending        map[string]*QueueItem
	processing     map[string]struct{}
	deferred       map[string]*QueueItem
	failed         map[string]*QueueItem
	paused         bool
	draining       bool
	closed         bool
	cancelDebounce func()
	completed      int
	totalProcessed int
	samples        []time.Duration
	sampleNext     int
	listeners      []Listener
}

// NewQueue creates a sync queue over the given dispatcher. The snapshot
// store is consulted to order creates before updates within a batch.
func NewQueue(syncer DocumentSyncer, snaps SnapshotStore, cfg QueueConfig, logger *slog.Logger) *Queue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:        cfg,
		syncer:     syncer,
		snaps:      snaps,
		logger:     logger,
		after:      realAfter,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]*QueueItem),
		processing: make(map[string]struct{}),
		deferred:   make(map[string]*QueueItem),
		failed:     make(map[string]*QueueItem),
	}
}

// Subscribe registers a listener for queue events.
func (q *Queue) Subscribe(fn Listener) {
	q.mu.Lock()
	q.listeners = append(q.listeners, fn)
	q.mu.Unlock()
}

func (q *Queue) emit(ev Event) {
	ev.At = time.Now()
	q.mu.Lock()
	listeners := make([]Listener, len(q.listeners))
	copy(listeners, q.listeners)
	q.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Enqueue adds change notifications to the queue. Deduplication is
// last-write-wins per path. Paths currently processing are parked until
// the batch drains; paths in the failed map are ignored until the
// caller retries or clears them explicitly.
func (q *Queue) Enqueue(changes []models.ChangeEvent, cfg models.ContainerConfig) {
	q.mu.Lock()
	added := 0
	for _, ch := range changes {
		if ch.Path == "" {
			continue
		}
		if _, isFailed := q.failed[ch.Path]; isFailed {
			continue
		}
		if _, inFlight := q.processing[ch.Path]; inFlight {
			q.deferred[ch.Path] = &QueueItem{ID: ch.Path, Change: ch, Container: cfg, AddedAt: time.Now()}
			continue
		}
		if item, ok := q.pending[ch.Path]; ok {
			item.Change = ch
			item.Container = cfg
		} else {
			q.pending[ch.Path] = &QueueItem{ID: ch.Path, Change: ch, Container: cfg, AddedAt: time.Now()}
		}
		added++
	}
	pendingCount := len(q.pending)
	if added > 0 && !q.paused && !q.closed {
		q.armDebounceLocked()
	}
	q.mu.Unlock()

	if added > 0 {
		q.emit(Event{Kind: EventQueueUpdated, Pending: pendingCount})
	}
}

// armDebounceLocked (re)arms the debounce task. Callers hold q.mu.
func (q *Queue) armDebounceLocked() {
	if q.cancelDebounce != nil {
		q.cancelDebounce()
	}
	q.cancelDebounce = q.after(q.cfg.DebounceWindow, q.drain)
}

// drain snapshots the pending map and dispatches it as one batch.
// Creates are fully processed before updates because a create writes
// state an update could race against. If new items arrived while the
// batch was draining, the debounce cycle restarts automatically.
func (q *Queue) drain() {
	q.mu.Lock()
	q.cancelDebounce = nil
	if q.closed || q.paused || q.draining || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.wg.Add(1)
	batch := make([]*QueueItem, 0, len(q.pending))
	for _, it := range q.pending {
		batch = append(batch, it)
	}
	q.pending = make(map[string]*QueueItem)
	for _, it := range batch {
		q.processing[it.ID] = struct{}{}
	}
	q.mu.Unlock()
	defer q.wg.Done()

	q.emit(Event{Kind: EventProcessingStarted, Count: len(batch)})
	start := time.Now()

	var creates, updates []*QueueItem
	for _, it := range batch {
		if snap, ok := q.snaps.Get(it.ID); ok && snap.RemoteID != "" {
			updates = append(updates, it)
		} else {
			creates = append(creates, it)
		}
	}
	q.runPhase(creates)
	q.runPhase(updates)

	q.mu.Lock()
	q.draining = false
	for id, it := range q.deferred {
		delete(q.deferred, id)
		if _, isFailed := q.failed[id]; isFailed {
			continue
		}
		q.pending[id] = it
	}
	if len(q.pending) > 0 && !q.paused && !q.closed {
		q.armDebounceLocked()
	}
	q.mu.Unlock()

	q.emit(Event{Kind: EventProcessingCompleted, Count: len(batch), Duration: time.Since(start)})
}

// runPhase dispatches items through the bounded concurrency limiter and
// waits for the whole phase to finish.
func (q *Queue) runPhase(items []*QueueItem) {
	if len(items) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, it := range items {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			// Shutting down; drop the in-flight marker.
			q.mu.Lock()
			delete(q.processing, it.ID)
			q.mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(it *QueueItem) {
			defer wg.Done()
			defer q.sem.Release(1)
			q.dispatch(it)
		}(it)
	}
	wg.Wait()
}

func (q *Queue) dispatch(it *QueueItem) {
	q.emit(Event{Kind: EventItemProcessing, Path: it.ID, Retries: it.Retries})

	out := q.syncer.SyncDocument(q.ctx, it.ID, it.Container)

	if out.Action != ActionFailed {
		q.mu.Lock()
		delete(q.processing, it.ID)
		q.completed++
		q.totalProcessed++
		q.recordSampleLocked(out.Duration)
		q.mu.Unlock()
		if out.Action == ActionConflict {
			q.logger.Warn("queue: conflict needs manual resolution", slog.String("path", it.ID))
		}
		q.emit(Event{Kind: EventItemCompleted, Path: it.ID, Action: out.Action, Duration: out.Duration})
		return
	}

	errMsg := ""
	if out.Err != nil {
		errMsg = out.Err.Error()
	}

	q.mu.Lock()
	delete(q.processing, it.ID)
	it.LastError = errMsg
	if !out.Retryable || it.Retries >= q.cfg.MaxRetries {
		q.failed[it.ID] = it
		q.totalProcessed++
		q.mu.Unlock()
		q.logger.Error("queue: item failed",
			slog.String("path", it.ID),
			slog.Int("retries", it.Retries),
			slog.String("error", errMsg))
		q.emit(Event{Kind: EventItemFailed, Path: it.ID, Retries: it.Retries, Error: errMsg})
		return
	}

	delay := q.retryDelay(it.Retries)
	it.Retries++
	q.mu.Unlock()
	q.logger.Warn("queue: item will retry",
		slog.String("path", it.ID),
		slog.Int("retries", it.Retries),
		slog.Duration("delay", delay),
		slog.String("error", errMsg))
	q.emit(Event{Kind: EventItemRetry, Path: it.ID, Retries: it.Retries, Delay: delay, Error: errMsg})
	q.after(delay, func() { q.requeue(it) })
}

func (q *Queue) retryDelay(retries int) time.Duration {
	return time.Duration(float64(q.cfg.BaseDelay) * math.Pow(q.cfg.BackoffMultiplier, float64(retries)))
}

// requeue puts a retrying item back into the pending map, where it can
// batch with concurrently-arriving fresh changes. A fresh change that
// got there first wins; only the retry bookkeeping is carried over.
func (q *Queue) requeue(it *QueueItem) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, isFailed := q.failed[it.ID]; isFailed {
		q.mu.Unlock()
		return
	}
	if _, inFlight := q.processing[it.ID]; inFlight {
		q.deferred[it.ID] = it
		q.mu.Unlock()
		return
	}
	if existing, ok := q.pending[it.ID]; ok {
		if it.Retries > existing.Retries {
			existing.Retries = it.Retries
			existing.LastError = it.LastError
		}
	} else {
		q.pending[it.ID] = it
	}
	pendingCount := len(q.pending)
	if !q.paused {
		q.armDebounceLocked()
	}
	q.mu.Unlock()

	q.emit(Event{Kind: EventQueueUpdated, Pending: pendingCount})
}

// Pause stops new batches from starting. In-flight dispatches run to
// completion; delayed retries still fire but only land in pending.
func (q *Queue) Pause() {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = true
	if q.cancelDebounce != nil {
		q.cancelDebounce()
		q.cancelDebounce = nil
	}
	q.mu.Unlock()
	q.emit(Event{Kind: EventPaused})
}

// Resume allows batches to start again and re-arms the debounce task if
// anything is waiting.
func (q *Queue) Resume() {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	if len(q.pending) > 0 && !q.closed {
		q.armDebounceLocked()
	}
	q.mu.Unlock()
	q.emit(Event{Kind: EventResumed})
}

// IsActive reports whether the queue is accepting new batch starts.
func (q *Queue) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.paused && !q.closed
}

// FailedItems returns a stable-ordered copy of the failed map.
func (q *Queue) FailedItems() []QueueItem {
	q.mu.Lock()
	out := make([]QueueItem, 0, len(q.failed))
	for _, it := range q.failed {
		out = append(out, *it)
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RetryFailed resets and re-enqueues every failed item.
func (q *Queue) RetryFailed() int {
	q.mu.Lock()
	count := len(q.failed)
	for id, it := range q.failed {
		it.Retries = 0
		it.LastError = ""
		q.pending[id] = it
		delete(q.failed, id)
	}
	if count > 0 && !q.paused && !q.closed {
		q.armDebounceLocked()
	}
	q.mu.Unlock()

	if count > 0 {
		q.emit(Event{Kind: EventRetryFailed, Count: count})
	}
	return count
}

// ClearFailed abandons every failed item.
func (q *Queue) ClearFailed() int {
	q.mu.Lock()
	count := len(q.failed)
	q.failed = make(map[string]*QueueItem)
	q.mu.Unlock()

	if count > 0 {
		q.emit(Event{Kind: EventFailedCleared, Count: count})
	}
	return count
}

// Stats recomputes the aggregate counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var avg time.Duration
	if len(q.samples) > 0 {
		var total time.Duration
		for _, s := range q.samples {
			total += s
		}
		avg = total / time.Duration(len(q.samples))
	}
	return QueueStats{
		Pending:           len(q.pending) + len(q.deferred),
		Processing:        len(q.processing),
		Completed:         q.completed,
		Failed:            len(q.failed),
		TotalProcessed:    q.totalProcessed,
		AvgProcessingTime: avg,
	}
}

// recordSampleLocked keeps a bounded ring of recent processing times.
// Callers hold q.mu.
func (q *Queue) recordSampleLocked(d time.Duration) {
	if len(q.samples) < q.cfg.StatsWindow {
		q.samples = append(q.samples, d)
		return
	}
	q.samples[q.sampleNext] = d
	q.sampleNext = (q.sampleNext + 1) % q.cfg.StatsWindow
}

// Close stops the queue and waits for the current batch to wind down.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.cancelDebounce != nil {
		q.cancelDebounce()
		q.cancelDebounce = nil
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}
