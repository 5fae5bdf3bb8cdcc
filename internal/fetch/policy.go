package fetch

import (
	"context"
	"time"

	"github.com/l0p7/moodtrack/internal/cache"
)

// Policy selects how a single read treats cached data.
type Policy struct {
	// Force skips the cache and always fetches.
	Force bool
	// Revalidate fetches when cached data is older than StaleTime.
	Revalidate bool
	// StaleTime overrides the query's stale window when positive.
	StaleTime time.Duration
}

// PolicyFromCacheControl maps request directives onto a read policy:
// no-cache, no-store and max-age=0 force a fetch; max-age=N revalidates data
// older than N seconds.
func PolicyFromCacheControl(d cache.CacheControlDirective) Policy {
	if d.ForceRefresh() {
		return Policy{Force: true}
	}
	staleTime, ok := d.StaleTime()
	if !ok {
		return Policy{}
	}
	if staleTime == 0 {
		return Policy{Force: true}
	}
	return Policy{Revalidate: true, StaleTime: staleTime}
}

// Do binds fn to opts and runs it once under p.
func Do[T any](ctx context.Context, client *Client, opts QueryOptions, p Policy, fn Func[T]) State[T] {
	if p.StaleTime > 0 {
		opts.StaleTime = p.StaleTime
	}
	q := NewQuery(client, opts, fn)
	switch {
	case p.Force:
		return q.Refetch(ctx)
	case p.Revalidate:
		return q.Revalidate(ctx)
	default:
		return q.Run(ctx)
	}
}
