package cache

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mmynk/tatekae/internal/metrics"
	"github.com/mmynk/tatekae/internal/models"
)

// flusher is the write-behind queue. It keeps only the latest snapshot per
// group and commits everything queued in one batch when its timer fires.
//
// Lock order: Cache.mu before flusher.mu. commitMu serializes durable writes
// so that an older snapshot can never be committed after a newer one; it is
// the only lock held across store I/O.
type flusher struct {
	store     Store
	delay     time.Duration
	afterFunc func(time.Duration, func()) Timer
	logger    *slog.Logger

	commitMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]*models.Session
	// inflight is the batch being committed, readable until the commit ends.
	inflight map[string]*models.Session
	timer    Timer
	gen      uint64
}

func newFlusher(store Store, opts Options) *flusher {
	return &flusher{
		store:     store,
		delay:     opts.FlushDelay,
		afterFunc: opts.AfterFunc,
		logger:    opts.Logger,
		pending:   make(map[string]*models.Session),
	}
}

// enqueue replaces any queued snapshot for the group and arms the timer if it
// is not already running. Later enqueues do not push the deadline back.
func (f *flusher) enqueue(s *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending[s.GroupID] = s
	metrics.SetPendingWrites(len(f.pending))

	if f.timer == nil {
		f.gen++
		gen := f.gen
		f.timer = f.afterFunc(f.delay, func() { f.fire(gen) })
	}
}

// take removes and returns the queued snapshot for a group, or nil. A
// snapshot in the batch being committed is returned too, and is not requeued
// if that commit fails.
func (f *flusher) take(groupID string) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.pending[groupID]
	if !ok {
		s = f.inflight[groupID]
	}
	delete(f.pending, groupID)
	delete(f.inflight, groupID)
	metrics.SetPendingWrites(len(f.pending))
	return s
}

// peek returns the newest snapshot not yet known to be durable, or nil.
func (f *flusher) peek(groupID string) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.pending[groupID]; ok {
		return s
	}
	return f.inflight[groupID]
}

func (f *flusher) fire(gen uint64) {
	f.mu.Lock()
	if f.timer == nil || f.gen != gen {
		// Superseded by a forced flush or Clear.
		f.mu.Unlock()
		return
	}
	f.timer = nil
	f.mu.Unlock()

	// Errors are logged and the batch requeued by flush.
	_ = f.flush(context.Background())
}

// flush cancels the timer and synchronously commits everything queued.
// On failure the batch is requeued without overwriting newer snapshots and
// no timer is armed; the next enqueue or forced flush retries.
func (f *flusher) flush(ctx context.Context) error {
	f.commitMu.Lock()
	defer f.commitMu.Unlock()

	f.mu.Lock()
	f.stopTimerLocked()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return nil
	}
	sessions := make([]*models.Session, 0, len(f.pending))
	for _, s := range f.pending {
		sessions = append(sessions, s)
	}
	f.inflight = f.pending
	f.pending = make(map[string]*models.Session)
	metrics.SetPendingWrites(0)
	f.mu.Unlock()

	slices.SortFunc(sessions, func(a, b *models.Session) int {
		return strings.Compare(a.GroupID, b.GroupID)
	})

	start := time.Now()
	err := f.store.BatchUpsert(ctx, sessions)
	metrics.RecordFlush(len(sessions), time.Since(start), err == nil)

	f.mu.Lock()
	failed := f.inflight
	f.inflight = nil
	if err != nil {
		// Snapshots taken while the batch was in flight are not requeued.
		for id, s := range failed {
			if _, newer := f.pending[id]; !newer {
				f.pending[id] = s
			}
		}
		metrics.SetPendingWrites(len(f.pending))
		f.mu.Unlock()

		f.logger.Error("Write-behind flush failed, batch requeued",
			"sessions", len(sessions),
			"error", err,
		)
		return err
	}
	f.mu.Unlock()

	f.logger.Debug("Write-behind flush committed", "sessions", len(sessions))
	return nil
}

// writeThrough persists s immediately, ordered after any in-flight flush.
func (f *flusher) writeThrough(ctx context.Context, s *models.Session) error {
	f.commitMu.Lock()
	defer f.commitMu.Unlock()

	return f.store.Upsert(ctx, s)
}

func (f *flusher) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// clear drops all queued snapshots and cancels the timer.
func (f *flusher) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopTimerLocked()
	f.pending = make(map[string]*models.Session)
	metrics.SetPendingWrites(0)
}

func (f *flusher) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.gen++
}
