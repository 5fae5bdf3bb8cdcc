package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/l0p7/moodtrack/internal/metrics"
)

const (
	// DefaultTTL applies when Set is called without a positive ttl.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxSnapshotAge bounds how old a persisted snapshot may be before
	// hydration discards it.
	DefaultMaxSnapshotAge = 24 * time.Hour

	persistTimeout = 5 * time.Second
)

// Entry is one cached value together with its bookkeeping.
type Entry struct {
	Value     json.RawMessage
	Owner     string
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Age reports how long ago the entry was stored.
func (e Entry) Age(now time.Time) time.Duration {
	if e.StoredAt.IsZero() {
		return 0
	}
	return now.Sub(e.StoredAt)
}

func (e Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func (e Entry) visibleTo(owner string) bool {
	return owner == "" || e.Owner == "" || e.Owner == owner
}

func cloneEntry(e Entry) Entry {
	if e.Value != nil {
		e.Value = append(json.RawMessage(nil), e.Value...)
	}
	return e
}

// Options configures a Cache.
type Options struct {
	TTL            time.Duration
	MaxSnapshotAge time.Duration
	// Store persists snapshots. A nil Store keeps the cache memory-only.
	Store   SnapshotStore
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Clock   func() time.Time
}

// Cache is an in-memory key/value cache with per-entry expiry, optional owner
// scoping and whole-cache snapshot persistence. Storage failures are logged
// and never surfaced to callers.
type Cache struct {
	ttl            time.Duration
	maxSnapshotAge time.Duration
	store          SnapshotStore
	logger         *slog.Logger
	metrics        *metrics.Recorder
	now            func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry
	// epoch and ownerEpochs count invalidations; see Generation.
	epoch       uint64
	ownerEpochs map[string]uint64

	// persistMu guards saving and dirty. At most one caller writes snapshots
	// at a time; changes made meanwhile are folded into its next write.
	persistMu sync.Mutex
	saving    bool
	dirty     bool
	// storeMu orders calls into the snapshot store.
	storeMu sync.Mutex
	closed  bool
}

// New constructs an empty cache. Use Open to also hydrate from the snapshot store.
func New(opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxAge := opts.MaxSnapshotAge
	if maxAge <= 0 {
		maxAge = DefaultMaxSnapshotAge
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		ttl:            ttl,
		maxSnapshotAge: maxAge,
		store:          opts.Store,
		logger:         logger.With(slog.String("agent", "cache")),
		metrics:        opts.Metrics,
		now:            clock,
		entries:        make(map[string]Entry),
		ownerEpochs:    make(map[string]uint64),
	}
}

// Open constructs a cache and hydrates it from the configured snapshot store.
func Open(ctx context.Context, opts Options) *Cache {
	c := New(opts)
	c.Hydrate(ctx)
	return c
}

// TTL reports the ttl applied when Set receives a non-positive ttl.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Set stores value under key, replacing any existing entry. A non-positive ttl
// falls back to the cache default. Values that cannot be JSON-encoded are
// logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration, owner string) {
	c.set(ctx, key, value, ttl, owner, nil)
}

// Generation returns a token that changes whenever an invalidation may have
// removed entries visible to owner: Invalidate, InvalidatePrefix and Clear
// affect every owner, InvalidateOwner only its own.
func (c *Cache) Generation(owner string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generationLocked(owner)
}

func (c *Cache) generationLocked(owner string) uint64 {
	return c.epoch + c.ownerEpochs[owner]
}

// SetIfGeneration behaves like Set unless an invalidation touching owner
// happened since gen was read from Generation, in which case nothing is
// stored and it returns false. Results computed before an invalidation must
// not bring back the data it removed.
func (c *Cache) SetIfGeneration(ctx context.Context, key string, value any, ttl time.Duration, owner string, gen uint64) bool {
	return c.set(ctx, key, value, ttl, owner, &gen)
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration, owner string, gen *uint64) bool {
	if key == "" {
		c.logger.Warn("cache set ignored", slog.String("reason", "empty key"))
		return false
	}
	payload, err := encodeValue(value)
	if err != nil {
		c.logger.Error("cache value encode failed", slog.String("key", key), slog.Any("error", err))
		c.metrics.ObserveCacheStore(metrics.CacheStoreError)
		return false
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()

	c.mu.Lock()
	if gen != nil && c.generationLocked(owner) != *gen {
		c.mu.Unlock()
		c.metrics.ObserveCacheStore(metrics.CacheStoreSuperseded)
		return false
	}
	c.entries[key] = Entry{Value: payload, Owner: owner, StoredAt: now, ExpiresAt: now.Add(ttl)}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.ObserveCacheStore(metrics.CacheStoreStored)
	c.metrics.SetCacheEntries(size)
	c.persist(ctx)
	return true
}

// Get returns the raw JSON value stored under key when it is present, not
// expired and visible to owner.
func (c *Cache) Get(ctx context.Context, key, owner string) (json.RawMessage, bool) {
	entry, ok := c.Lookup(ctx, key, owner)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Lookup returns the entry stored under key. Expired entries are evicted on
// read. An entry owned by someone else reads as a miss but stays cached.
func (c *Cache) Lookup(ctx context.Context, key, owner string) (Entry, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.metrics.ObserveCacheLookup(metrics.CacheLookupMiss)
		return Entry{}, false
	}
	if entry.expired(now) {
		c.metrics.ObserveCacheLookup(metrics.CacheLookupExpired)
		if c.evictIfExpired(key, now) {
			c.metrics.ObserveCacheEviction("expired", 1)
			c.persist(ctx)
		}
		return Entry{}, false
	}
	if !entry.visibleTo(owner) {
		c.metrics.ObserveCacheLookup(metrics.CacheLookupOwnerMismatch)
		return Entry{}, false
	}
	c.metrics.ObserveCacheLookup(metrics.CacheLookupHit)
	return cloneEntry(entry), true
}

// evictIfExpired removes key only when the current entry is still expired,
// so a concurrent Set between the read and the eviction survives.
func (c *Cache) evictIfExpired(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.entries[key]
	if !ok || !current.expired(now) {
		return false
	}
	delete(c.entries, key)
	c.metrics.SetCacheEntries(len(c.entries))
	return true
}

// Decode reads key and unmarshals its value into T.
func Decode[T any](ctx context.Context, c *Cache, key, owner string) (T, bool) {
	var out T
	raw, ok := c.Get(ctx, key, owner)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("cache value decode failed", slog.String("key", key), slog.Any("error", err))
		return out, false
	}
	return out, true
}

// Invalidate removes key regardless of owner.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.epoch++
	size := len(c.entries)
	c.mu.Unlock()

	if !ok {
		return
	}
	c.metrics.ObserveCacheEviction("invalidate", 1)
	c.metrics.SetCacheEntries(size)
	c.persist(ctx)
}

// InvalidateOwner removes every entry stored for owner and returns the count.
// Entries without an owner are left alone.
func (c *Cache) InvalidateOwner(ctx context.Context, owner string) int {
	if owner == "" {
		return 0
	}
	return c.removeWhere(ctx, "owner", func() { c.ownerEpochs[owner]++ }, func(_ string, e Entry) bool { return e.Owner == owner })
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) int {
	if prefix == "" {
		return 0
	}
	return c.removeWhere(ctx, "prefix", func() { c.epoch++ }, func(key string, _ Entry) bool { return strings.HasPrefix(key, prefix) })
}

// Clear drops every entry and removes the persisted snapshot.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	removed := len(c.entries)
	c.entries = make(map[string]Entry)
	c.epoch++
	c.mu.Unlock()

	c.metrics.ObserveCacheEviction("clear", removed)
	c.metrics.SetCacheEntries(0)
	c.clearStore(ctx)
}

// Sweep evicts every expired entry, persists the result and returns the
// number of entries removed.
func (c *Cache) Sweep(ctx context.Context) int {
	now := c.now()
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.ObserveCacheEviction("sweep", removed)
	c.metrics.SetCacheEntries(size)
	if removed > 0 {
		c.logger.Debug("cache sweep evicted entries", slog.Int("removed", removed))
	}
	c.persist(ctx)
	return removed
}

// RunSweeper sweeps on every interval tick until ctx is cancelled. A
// non-positive interval returns immediately.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Len reports the number of entries held in memory, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the cached keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Hydrate loads the persisted snapshot into memory and returns the number of
// entries restored. Snapshots older than the maximum snapshot age and corrupt
// snapshots are discarded and cleared; individually expired entries are skipped.
func (c *Cache) Hydrate(ctx context.Context) int {
	if c.store == nil {
		return 0
	}
	raw, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			c.metrics.ObserveSnapshot(metrics.SnapshotLoad, "empty")
			return 0
		}
		c.logger.Warn("cache snapshot load failed", slog.Any("error", err))
		c.metrics.ObserveSnapshot(metrics.SnapshotLoad, "error")
		return 0
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		c.logger.Warn("cache snapshot corrupt, discarding", slog.Any("error", err))
		c.metrics.ObserveSnapshot(metrics.SnapshotLoad, "corrupt")
		c.clearStore(ctx)
		return 0
	}
	now := c.now()
	if now.Sub(snap.savedAt) > c.maxSnapshotAge {
		c.logger.Info("cache snapshot too old, discarding",
			slog.Time("saved_at", snap.savedAt),
			slog.Duration("max_age", c.maxSnapshotAge),
		)
		c.metrics.ObserveSnapshot(metrics.SnapshotLoad, "discarded")
		c.clearStore(ctx)
		return 0
	}

	loaded, skipped := 0, 0
	c.mu.Lock()
	for key, entry := range snap.entries {
		if entry.expired(now) {
			skipped++
			continue
		}
		c.entries[key] = entry
		loaded++
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.ObserveSnapshot(metrics.SnapshotLoad, "ok")
	c.metrics.SetCacheEntries(size)
	c.logger.Info("cache hydrated", slog.Int("loaded", loaded), slog.Int("skipped", skipped+snap.invalid))
	if skipped > 0 || snap.invalid > 0 {
		c.persist(ctx)
	}
	return loaded
}

// Close writes a final snapshot and releases the snapshot store.
func (c *Cache) Close(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.save(ctx)
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.store.Close(ctx); err != nil {
		return fmt.Errorf("cache: close snapshot store: %w", err)
	}
	return nil
}

// removeWhere deletes matching entries. bump runs under the lock whether or
// not anything matched, since a fetch in flight may be about to store.
func (c *Cache) removeWhere(ctx context.Context, reason string, bump func(), match func(string, Entry) bool) int {
	c.mu.Lock()
	bump()
	removed := 0
	for key, entry := range c.entries {
		if match(key, entry) {
			delete(c.entries, key)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed == 0 {
		return 0
	}
	c.metrics.ObserveCacheEviction(reason, removed)
	c.metrics.SetCacheEntries(size)
	c.persist(ctx)
	return removed
}

// persist writes the current state to the snapshot store. When another
// caller is already writing, persist marks the state dirty and returns; that
// writer saves again before it finishes, so bursts of changes cost one write
// per round trip instead of one each.
func (c *Cache) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.persistMu.Lock()
	c.dirty = true
	if c.saving {
		c.persistMu.Unlock()
		return
	}
	c.saving = true
	c.persistMu.Unlock()

	for {
		c.persistMu.Lock()
		if !c.dirty {
			c.saving = false
			c.persistMu.Unlock()
			return
		}
		c.dirty = false
		c.persistMu.Unlock()
		c.save(ctx)
	}
}

// save serializes the whole cache to the snapshot store. It runs detached
// from the caller's cancellation so a finished request still leaves a
// consistent snapshot behind.
func (c *Cache) save(ctx context.Context) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if c.closed {
		return
	}

	c.mu.RLock()
	payload, err := encodeSnapshot(c.now(), c.entries)
	c.mu.RUnlock()
	if err != nil {
		c.logger.Error("cache snapshot encode failed", slog.Any("error", err))
		c.metrics.ObserveSnapshot(metrics.SnapshotSave, "error")
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.store.Save(saveCtx, payload); err != nil {
		c.logger.Warn("cache snapshot save failed", slog.Any("error", err))
		c.metrics.ObserveSnapshot(metrics.SnapshotSave, "error")
		return
	}
	c.metrics.ObserveSnapshot(metrics.SnapshotSave, "ok")
}

func (c *Cache) clearStore(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if c.closed {
		return
	}

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.store.Clear(clearCtx); err != nil {
		c.logger.Warn("cache snapshot clear failed", slog.Any("error", err))
		c.metrics.ObserveSnapshot(metrics.SnapshotClear, "error")
		return
	}
	c.metrics.ObserveSnapshot(metrics.SnapshotClear, "ok")
}

func encodeValue(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("cache: raw value is not valid JSON")
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache: encode value: %w", err)
		}
		return payload, nil
	}
}
