// Package queue implements the delivery queue and batcher: a size-bounded
// in-memory queue of monitoring payloads, flushed in batches when either
// the entry count reaches the batch size or the oldest entry has waited
// out the batch timeout. Entries are mirrored to a durable store so an
// exhausted batch can be resumed by a later process.
package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/olakai/olakai-go/internal/api"
	"github.com/olakai/olakai-go/internal/store"
)

// Sender delivers one batch of payloads as a single network request.
// Retry with backoff happens inside the sender; a returned error means
// every attempt failed.
type Sender interface {
	SendBatch(ctx context.Context, payloads []api.MonitorPayload) (api.BatchResponse, error)
}

// DeliveryError reports a batch that exhausted its retries. It reaches the
// configured error callback, never a supervised caller.
type DeliveryError struct {
	Entries   int
	Persisted bool
	Err       error
}

func (e *DeliveryError) Error() string {
	outcome := "dropped"
	if e.Persisted {
		outcome = "persisted for later delivery"
	}
	return fmt.Sprintf("delivery of %d entries failed, %s: %v", e.Entries, outcome, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Options tune a Manager.
type Options struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxSize      int
	// SendTimeout bounds one whole batch delivery including retries.
	SendTimeout time.Duration
	// Persistent marks the store as durable: exhausted batches stay in it
	// for a later process instead of being dropped.
	Persistent bool
	OnError    func(error)
	Logger     *slog.Logger
}

func (o *Options) fill() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 300 * time.Millisecond
	}
	if o.MaxSize <= 0 {
		o.MaxSize = 1000
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
}

// Manager owns the pending entries. It is the single piece of state shared
// between the call path (Enqueue) and the flush path; the mutex serializes
// them so no entry is lost or delivered twice.
type Manager struct {
	opts   Options
	sender Sender
	store  store.Store

	mu       sync.Mutex
	entries  []store.Entry
	unsaved  []store.Entry
	unremove []string

	// flushMu serializes whole flush passes between the background loop
	// and forced Flush calls.
	flushMu sync.Mutex

	wake     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	enqueued atomic.Int64
	evicted  atomic.Int64
}

// NewEntry wraps a payload into a queue entry.
func NewEntry(payload api.MonitorPayload, priority api.Priority) store.Entry {
	if priority == "" {
		priority = api.PriorityNormal
	}
	return store.Entry{
		ID:         uuid.NewString(),
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
}

// New builds a Manager and reloads any persisted entries so they are
// delivered before new calls pile up behind them.
func New(sender Sender, st store.Store, opts Options) *Manager {
	opts.fill()
	if st == nil {
		st = store.Noop{}
	}
	m := &Manager{
		opts:   opts,
		sender: sender,
		store:  st,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	persisted, err := st.LoadPending(loadCtx)
	switch {
	case err != nil:
		m.opts.Logger.Warn("failed to load persisted queue", "error", err)
	case len(persisted) > 0:
		m.entries = persisted
		m.opts.Logger.Info("reloaded persisted queue", "entries", len(persisted))
	}
	return m
}

// Start launches the background flush loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run()
	}()
}

// Enqueue appends an entry. Never blocks the caller: persistence and
// delivery happen on the background loop. At capacity the oldest pending
// entry is evicted.
func (m *Manager) Enqueue(e store.Entry) {
	m.mu.Lock()
	if len(m.entries) >= m.opts.MaxSize {
		oldest := m.entries[0]
		m.entries = m.entries[1:]
		m.unremove = append(m.unremove, oldest.ID)
		m.evicted.Add(1)
		m.opts.Logger.Warn("queue at capacity, evicted oldest entry", "id", oldest.ID)
	}
	m.entries = append(m.entries, e)
	m.unsaved = append(m.unsaved, e)
	m.mu.Unlock()

	m.enqueued.Add(1)
	// Nudge the loop: it re-checks the size-or-time trigger and re-arms
	// the timeout timer for the oldest pending entry.
	m.signal()
}

// Size reports the number of pending entries.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Clear empties the queue and the durable store without sending.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.entries = nil
	m.unsaved = nil
	m.unremove = nil
	m.mu.Unlock()
	return m.store.Clear(ctx)
}

// Flush forces an immediate delivery attempt for everything pending,
// regardless of the size-or-time trigger.
func (m *Manager) Flush(ctx context.Context) error {
	m.syncStore()
	return m.flushPass(ctx, true)
}

// Shutdown stops the loop and attempts a final flush.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
	return m.Flush(ctx)
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	timer := time.NewTimer(m.opts.BatchTimeout)
	defer timer.Stop()

	for {
		m.syncStore()

		if m.triggered() {
			ctx, cancel := context.WithTimeout(context.Background(), m.opts.SendTimeout)
			if err := m.flushPass(ctx, false); err != nil {
				m.opts.Logger.Debug("flush pass ended with error", "error", err)
			}
			cancel()
		}

		wait := m.nextDeadline()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-m.done:
			return
		case <-m.wake:
		case <-timer.C:
		}
	}
}

// triggered applies the size-or-time batching rule, plus the high-priority
// escalation: a high-priority entry flushes without waiting.
func (m *Manager) triggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return false
	}
	if len(m.entries) >= m.opts.BatchSize {
		return true
	}
	for _, e := range m.entries {
		if e.Priority == api.PriorityHigh {
			return true
		}
	}
	return time.Since(m.entries[0].EnqueuedAt) >= m.opts.BatchTimeout
}

// nextDeadline returns how long the loop may sleep before the oldest
// pending entry times out.
func (m *Manager) nextDeadline() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return m.opts.BatchTimeout
	}
	remaining := m.opts.BatchTimeout - time.Since(m.entries[0].EnqueuedAt)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	return remaining
}

// syncStore pushes buffered mutations to the durable store, off the
// caller's path.
func (m *Manager) syncStore() {
	m.mu.Lock()
	toSave := m.unsaved
	toRemove := m.unremove
	m.unsaved = nil
	m.unremove = nil
	m.mu.Unlock()

	if len(toSave) == 0 && len(toRemove) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, toSave); err != nil {
		m.opts.Logger.Warn("failed to persist queue entries", "error", err)
	}
	if err := m.store.Remove(ctx, toRemove); err != nil {
		m.opts.Logger.Warn("failed to remove evicted entries", "error", err)
	}
}

// flushPass delivers batches until the queue no longer satisfies the
// trigger (or is empty, when draining). Each batch resolves terminally:
// delivered, persisted for a later process, or dropped.
func (m *Manager) flushPass(ctx context.Context, drain bool) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	for {
		batch := m.takeBatch(drain)
		if len(batch) == 0 {
			return nil
		}
		m.settleBatch(batch)

		payloads := make([]api.MonitorPayload, len(batch))
		ids := make([]string, len(batch))
		for i, e := range batch {
			payloads[i] = e.Payload
			ids[i] = e.ID
		}

		resp, err := m.sender.SendBatch(ctx, payloads)
		if err != nil {
			m.resolveFailed(batch, err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		markCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.store.MarkDelivered(markCtx, ids, time.Now().UnixMilli()); err != nil {
			m.opts.Logger.Warn("failed to mark entries delivered", "error", err)
		}
		cancel()
		m.opts.Logger.Info("batch delivered",
			"entries", len(batch),
			"succeeded", resp.SuccessCount,
			"failed", resp.FailureCount,
		)
	}
}

// settleBatch persists any batch entries the background sync has not
// written yet, so the store holds a row to settle once the batch
// resolves. An entry enqueued mid-flush would otherwise be delivered
// while still buffered in unsaved, its MarkDelivered would hit nothing,
// and the next sync would write it back as pending.
func (m *Manager) settleBatch(batch []store.Entry) {
	ids := make(map[string]bool, len(batch))
	for _, e := range batch {
		ids[e.ID] = true
	}

	m.mu.Lock()
	var toSave []store.Entry
	kept := m.unsaved[:0]
	for _, e := range m.unsaved {
		if ids[e.ID] {
			toSave = append(toSave, e)
		} else {
			kept = append(kept, e)
		}
	}
	m.unsaved = kept
	m.mu.Unlock()

	if len(toSave) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, toSave); err != nil {
		m.opts.Logger.Warn("failed to persist queue entries", "error", err)
	}
}

// takeBatch removes up to BatchSize entries, highest priority first. When
// not draining, it only forms a batch while the trigger still holds so a
// partial remainder waits for its timeout.
func (m *Manager) takeBatch(drain bool) []store.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	if !drain && !m.triggeredLocked() {
		return nil
	}

	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].Priority.Rank() < m.entries[j].Priority.Rank()
	})

	n := m.opts.BatchSize
	if n > len(m.entries) {
		n = len(m.entries)
	}
	batch := make([]store.Entry, n)
	copy(batch, m.entries[:n])
	m.entries = append(m.entries[:0], m.entries[n:]...)
	return batch
}

func (m *Manager) triggeredLocked() bool {
	if len(m.entries) >= m.opts.BatchSize {
		return true
	}
	for _, e := range m.entries {
		if e.Priority == api.PriorityHigh {
			return true
		}
	}
	return time.Since(m.entries[0].EnqueuedAt) >= m.opts.BatchTimeout
}

// resolveFailed settles a batch whose retries are exhausted. With a
// durable store the entries stay persisted for a later process; otherwise
// they are gone. The error callback fires exactly once per batch.
func (m *Manager) resolveFailed(batch []store.Entry, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range batch {
		batch[i].Attempts++
		batch[i].LastError = cause.Error()
	}

	if m.opts.Persistent {
		if err := m.store.Save(ctx, batch); err != nil {
			m.opts.Logger.Warn("failed to persist exhausted batch", "error", err)
		}
	} else {
		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		if err := m.store.Remove(ctx, ids); err != nil {
			m.opts.Logger.Warn("failed to drop exhausted batch", "error", err)
		}
	}

	deliveryErr := &DeliveryError{Entries: len(batch), Persisted: m.opts.Persistent, Err: cause}
	m.opts.Logger.Warn("batch delivery exhausted", "entries", len(batch), "persisted", m.opts.Persistent, "error", cause)
	if m.opts.OnError != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.opts.Logger.Debug("error callback panicked", "panic", r)
				}
			}()
			m.opts.OnError(deliveryErr)
		}()
	}
}

// Stats exposes queue counters for diagnostics.
func (m *Manager) Stats() (enqueued, evicted int64) {
	return m.enqueued.Load(), m.evicted.Load()
}
