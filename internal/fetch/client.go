package fetch

import (
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/moodtrack/internal/cache"
	"github.com/l0p7/moodtrack/internal/metrics"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	Cache   *cache.Cache
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// StaleTime applies to queries that do not set their own. Zero means
	// cached data is never reported stale.
	StaleTime time.Duration
	Clock     func() time.Time
}

// Client couples the TTL cache with the registry of in-flight fetches. A single
// Client is shared by every query in the process.
type Client struct {
	cache     *cache.Cache
	flights   singleflight.Group
	logger    *slog.Logger
	metrics   *metrics.Recorder
	staleTime time.Duration
	now       func() time.Time
}

// NewClient builds a Client. A nil Cache gets a memory-only cache with defaults.
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	c := opts.Cache
	if c == nil {
		c = cache.New(cache.Options{Logger: logger, Metrics: opts.Metrics, Clock: clock})
	}
	return &Client{
		cache:     c,
		logger:    logger.With(slog.String("agent", "fetch")),
		metrics:   opts.Metrics,
		staleTime: opts.StaleTime,
		now:       clock,
	}
}

// Cache exposes the underlying cache for invalidation after mutations.
func (c *Client) Cache() *cache.Cache { return c.cache }

// flightKey scopes the in-flight registry by owner so two users requesting the
// same key never share a result. Forced refetches get flights of their own:
// a cache-first flight may answer from the cache, which a refetch must not.
func flightKey(key, owner string, force bool) string {
	if owner != "" {
		key = owner + "\x00" + key
	}
	if force {
		key += "\x00refetch"
	}
	return key
}
