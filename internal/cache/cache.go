// Package cache implements the hot session cache: an in-memory map of active
// sessions in front of the ledger store, with TTL and LRU eviction and a
// write-behind queue for eventual writes.
//
// Cached sessions are treated as immutable values. Updates clone, merge and
// replace the entry, so snapshots handed to the flusher or returned to
// callers are never modified in place.
package cache

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mmynk/tatekae/internal/metrics"
	"github.com/mmynk/tatekae/internal/models"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxSize    = 1000
	DefaultFlushDelay = 100 * time.Millisecond
)

// Store is the subset of storage.Store the cache depends on.
type Store interface {
	Get(ctx context.Context, groupID string) (*models.Session, error)
	Upsert(ctx context.Context, session *models.Session) error
	BatchUpsert(ctx context.Context, sessions []*models.Session) error
}

// Durability is the persistence class of a mutation.
type Durability int

const (
	// DurabilityImmediate mutations are written to the store before returning.
	DurabilityImmediate Durability = iota

	// DurabilityEventual mutations are queued and written within one flush interval.
	DurabilityEventual
)

func (d Durability) String() string {
	switch d {
	case DurabilityImmediate:
		return "immediate"
	case DurabilityEventual:
		return "eventual"
	}
	return fmt.Sprintf("Durability(%d)", int(d))
}

// Timer is the handle returned by Options.AfterFunc.
type Timer interface {
	Stop() bool
}

// Options configures a Cache. Zero values use the defaults.
type Options struct {
	TTL        time.Duration
	MaxSize    int
	FlushDelay time.Duration

	// Now is the clock used for access times. Defaults to time.Now.
	Now func() time.Time

	// AfterFunc schedules the flush timer. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.FlushDelay <= 0 {
		o.FlushDelay = DefaultFlushDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Size    int           `json:"size"`
	Pending int           `json:"pending"`
	MaxSize int           `json:"maxSize"`
	TTL     time.Duration `json:"ttl"`
}

type entry struct {
	session    *models.Session
	lastAccess time.Time
}

// Cache holds active sessions in memory.
type Cache struct {
	store   Store
	opts    Options
	logger  *slog.Logger
	flusher *flusher

	mu      sync.Mutex
	entries map[string]*entry
	// ends counts finished End calls. Get only caches a store read if no End
	// finished while the read was in flight.
	ends uint64
}

// New creates a cache in front of store.
func New(store Store, opts Options) *Cache {
	opts = opts.withDefaults()
	return &Cache{
		store:   store,
		opts:    opts,
		logger:  opts.Logger,
		flusher: newFlusher(store, opts),
		entries: make(map[string]*entry),
	}
}

// Get returns a copy of the session for groupID.
// On a miss the store is consulted and active sessions are cached; settled
// sessions are returned without being cached. Returns nil if there is none.
func (c *Cache) Get(ctx context.Context, groupID string) (*models.Session, error) {
	if s, ok := c.lookup(groupID); ok {
		metrics.RecordCacheLookup(true)
		return s, nil
	}
	metrics.RecordCacheLookup(false)

	c.mu.Lock()
	ends := c.ends
	c.mu.Unlock()

	s, err := c.store.Get(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", groupID, err)
	}
	if s == nil {
		return nil, nil
	}
	if s.Status != models.StatusActive {
		return s, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A concurrent Create may have populated the entry while we were reading.
	if e, ok := c.entries[groupID]; ok {
		e.lastAccess = c.opts.Now()
		return e.session.Clone(), nil
	}
	// The row may have been completed after we read it.
	if c.ends != ends {
		return s, nil
	}
	c.entries[groupID] = &entry{session: s.Clone(), lastAccess: c.opts.Now()}
	metrics.SetCacheEntries(len(c.entries))
	return s, nil
}

// lookup serves groupID from memory. An evicted session whose write is still
// queued or being committed is taken from the flusher and cached again, since
// the store may not have it yet.
func (c *Cache) lookup(groupID string) (*models.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	if e, ok := c.entries[groupID]; ok {
		e.lastAccess = now
		return e.session.Clone(), true
	}

	s := c.flusher.peek(groupID)
	if s == nil {
		return nil, false
	}
	if s.Status == models.StatusActive {
		c.entries[groupID] = &entry{session: s, lastAccess: now}
		metrics.SetCacheEntries(len(c.entries))
	}
	return s.Clone(), true
}

// Create caches the session and writes it to the store before returning.
// Any queued write for an earlier session of the same group is discarded.
// If the write fails the entry is removed again and the error returned.
func (c *Cache) Create(ctx context.Context, session *models.Session) error {
	now := c.opts.Now()
	snap := session.Clone()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	snap.UpdatedAt = now

	c.mu.Lock()
	c.entries[snap.GroupID] = &entry{session: snap, lastAccess: now}
	c.flusher.take(snap.GroupID)
	metrics.SetCacheEntries(len(c.entries))
	c.mu.Unlock()

	if err := c.flusher.writeThrough(ctx, snap); err != nil {
		c.mu.Lock()
		if e, ok := c.entries[snap.GroupID]; ok && e.session == snap {
			delete(c.entries, snap.GroupID)
			metrics.SetCacheEntries(len(c.entries))
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to persist new session %s: %w", snap.GroupID, err)
	}

	c.logger.DebugContext(ctx, "Session cached",
		"group_id", snap.GroupID,
		"durability", DurabilityImmediate,
	)
	return nil
}

// Update merges upd into the cached session, bumps UpdatedAt and queues an
// eventual write. It requires an existing entry: without one it logs a
// warning and returns false without touching the store.
func (c *Cache) Update(ctx context.Context, groupID string, upd models.SessionUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[groupID]
	if !ok {
		c.logger.WarnContext(ctx, "Update for uncached session ignored", "group_id", groupID)
		return false
	}

	now := c.opts.Now()
	next := e.session.Clone()
	upd.Apply(next)
	next.UpdatedAt = now

	e.session = next
	e.lastAccess = now

	// Enqueue under c.mu so queue order matches cache order.
	c.flusher.enqueue(next)
	return true
}

// End marks the session completed, writes it immediately and evicts it.
// If the session is neither cached, queued nor live in the store, End is a no-op.
func (c *Cache) End(ctx context.Context, groupID string) error {
	c.mu.Lock()
	e, cached := c.entries[groupID]
	// The queued snapshot must not be flushed over the completed row. If the
	// entry was already evicted it is also the freshest copy we have.
	queued := c.flusher.take(groupID)
	current := queued
	if cached {
		current = e.session
		delete(c.entries, groupID)
		metrics.SetCacheEntries(len(c.entries))
	}
	c.mu.Unlock()

	if current == nil {
		s, err := c.store.Get(ctx, groupID)
		if err != nil {
			return fmt.Errorf("failed to load session %s: %w", groupID, err)
		}
		if s == nil {
			return nil
		}
		current = s
	}

	ended := current.Clone()
	ended.Status = models.StatusCompleted
	ended.UpdatedAt = c.opts.Now()

	err := c.flusher.writeThrough(ctx, ended)
	c.mu.Lock()
	c.ends++
	c.mu.Unlock()
	if err != nil {
		c.restore(groupID, e, queued)
		return fmt.Errorf("failed to persist ended session %s: %w", groupID, err)
	}

	if cached {
		metrics.RecordEviction("ended", 1)
	}
	c.logger.DebugContext(ctx, "Session ended",
		"group_id", groupID,
		"durability", DurabilityImmediate,
	)
	return nil
}

// restore undoes the removals made by a failed End. The queued snapshot, or
// the cached state if nothing was queued, goes back on the write-behind queue.
func (c *Cache) restore(groupID string, e *entry, queued *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e != nil {
		if _, ok := c.entries[groupID]; !ok {
			c.entries[groupID] = e
			metrics.SetCacheEntries(len(c.entries))
		}
		if queued == nil {
			queued = e.session
		}
	}
	if queued != nil {
		c.flusher.enqueue(queued)
	}
}

// ForceFlush cancels the flush timer and synchronously writes everything queued.
func (c *Cache) ForceFlush(ctx context.Context) error {
	return c.flusher.flush(ctx)
}

// Sweep evicts entries idle for longer than the TTL, then the least recently
// accessed entries until the cache is back within MaxSize. Queued writes for
// evicted sessions are kept. It returns the number of entries removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	expired := 0
	for id, e := range c.entries {
		if now.Sub(e.lastAccess) > c.opts.TTL {
			delete(c.entries, id)
			expired++
		}
	}

	overflow := 0
	if excess := len(c.entries) - c.opts.MaxSize; excess > 0 {
		type idle struct {
			id         string
			lastAccess time.Time
		}
		byAge := make([]idle, 0, len(c.entries))
		for id, e := range c.entries {
			byAge = append(byAge, idle{id, e.lastAccess})
		}
		slices.SortFunc(byAge, func(a, b idle) int {
			if d := a.lastAccess.Compare(b.lastAccess); d != 0 {
				return d
			}
			return cmp.Compare(a.id, b.id)
		})
		for _, v := range byAge[:excess] {
			delete(c.entries, v.id)
		}
		overflow = excess
	}

	metrics.RecordEviction("ttl", expired)
	metrics.RecordEviction("lru", overflow)
	metrics.SetCacheEntries(len(c.entries))

	if removed := expired + overflow; removed > 0 {
		c.logger.Info("Cache sweep evicted sessions",
			"expired", expired,
			"overflow", overflow,
			"remaining", len(c.entries),
		)
	}
	return expired + overflow
}

// Stats reports the cache size and the number of queued writes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Size:    size,
		Pending: c.flusher.size(),
		MaxSize: c.opts.MaxSize,
		TTL:     c.opts.TTL,
	}
}

// Clear drops every entry, every queued write and the flush timer.
// Queued writes are lost; call ForceFlush first to keep them.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.RecordEviction("cleared", len(c.entries))
	c.entries = make(map[string]*entry)
	c.flusher.clear()
	metrics.SetCacheEntries(0)
}
