package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l0p7/moodtrack/internal/cache"
	"github.com/l0p7/moodtrack/internal/metrics"
)

// Func performs the underlying fetch for a query.
type Func[T any] func(ctx context.Context) (T, error)

// QueryOptions binds a query to its cache key.
type QueryOptions struct {
	Key   string
	Owner string
	// TTL for stored results; zero uses the cache default.
	TTL time.Duration
	// StaleTime marks cached data older than this as stale; zero uses the
	// client default.
	StaleTime time.Duration
	// Enabled must be true for the query to run. Callers clear it while a
	// prerequisite such as the caller's identity is unavailable.
	Enabled bool
}

type runMode int

const (
	modeCached runMode = iota
	modeRevalidate
	modeForce
)

// Query is one caller's binding to a cached, deduplicated fetch. It is safe for
// concurrent use; State reports the last result published to the caller.
type Query[T any] struct {
	client *Client
	opts   QueryOptions
	fn     Func[T]

	mu    sync.Mutex
	state State[T]
}

// NewQuery binds fn to the key described by opts.
func NewQuery[T any](client *Client, opts QueryOptions, fn Func[T]) *Query[T] {
	if opts.StaleTime <= 0 {
		opts.StaleTime = client.staleTime
	}
	return &Query[T]{
		client: client,
		opts:   opts,
		fn:     fn,
		state:  State[T]{Status: StatusIdle},
	}
}

// Run serves the cached value when one exists, stale or not, and otherwise
// joins or starts the fetch for the key.
func (q *Query[T]) Run(ctx context.Context) State[T] {
	return q.run(ctx, modeCached)
}

// Revalidate fetches only when the cached value is missing or stale.
func (q *Query[T]) Revalidate(ctx context.Context) State[T] {
	return q.run(ctx, modeRevalidate)
}

// Refetch skips the cache and always takes the fetch path.
func (q *Query[T]) Refetch(ctx context.Context) State[T] {
	return q.run(ctx, modeForce)
}

// Mutate writes value into the cache and publishes it as the query's data.
func (q *Query[T]) Mutate(ctx context.Context, value T) State[T] {
	if !q.enabled() {
		return q.publish(State[T]{Status: StatusDisabled})
	}
	q.client.cache.Set(ctx, q.opts.Key, value, q.opts.TTL, q.opts.Owner)
	return q.publish(State[T]{
		Data:      value,
		HasData:   true,
		Status:    StatusSuccess,
		Source:    SourceMutate,
		UpdatedAt: q.client.now(),
	})
}

// State returns the last published state.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Query[T]) enabled() bool {
	return q.opts.Enabled && q.opts.Key != ""
}

func (q *Query[T]) run(ctx context.Context, mode runMode) State[T] {
	start := q.client.now()
	if !q.enabled() {
		q.client.metrics.ObserveFetch(metrics.FetchDisabled, 0)
		return q.publish(State[T]{Status: StatusDisabled})
	}

	if mode != modeForce {
		if st, ok := q.fromCache(ctx); ok && (mode == modeCached || !st.Stale) {
			outcome := metrics.FetchHit
			if st.Stale {
				outcome = metrics.FetchStale
			}
			q.client.metrics.ObserveFetch(outcome, q.client.now().Sub(start))
			return q.publish(st)
		}
	}

	prev := q.markLoading()
	st, outcome := q.await(ctx, mode)
	q.client.metrics.ObserveFetch(outcome, q.client.now().Sub(start))
	if outcome == metrics.FetchCanceled {
		// The caller lost interest: restore what it last saw and hand back
		// the cancellation without the shared result.
		q.publish(prev)
		st.Data, st.HasData = prev.Data, prev.HasData
		return st
	}
	return q.publish(st)
}

// fromCache reads the key through the cache, reporting staleness.
func (q *Query[T]) fromCache(ctx context.Context) (State[T], bool) {
	entry, ok := q.client.cache.Lookup(ctx, q.opts.Key, q.opts.Owner)
	if !ok {
		return State[T]{}, false
	}
	var value T
	if err := json.Unmarshal(entry.Value, &value); err != nil {
		q.client.logger.Warn("cached value decode failed", slog.String("key", q.opts.Key), slog.Any("error", err))
		return State[T]{}, false
	}
	return State[T]{
		Data:      value,
		HasData:   true,
		Status:    StatusSuccess,
		Source:    SourceCache,
		UpdatedAt: entry.StoredAt,
		Stale:     q.stale(entry),
	}, true
}

func (q *Query[T]) stale(entry cache.Entry) bool {
	return q.opts.StaleTime > 0 && entry.Age(q.client.now()) > q.opts.StaleTime
}

type flightResult struct {
	value     any
	raw       json.RawMessage
	storedAt  time.Time
	fromCache bool
}

// await joins or starts the flight for the key and waits for it or for the
// caller's context, whichever finishes first.
func (q *Query[T]) await(ctx context.Context, mode runMode) (State[T], metrics.FetchOutcome) {
	var leader atomic.Bool
	// The fetch outlives the caller that started it so joiners and the cache
	// still receive the result.
	flightCtx := context.WithoutCancel(ctx)
	ch := q.client.flights.DoChan(flightKey(q.opts.Key, q.opts.Owner, mode == modeForce), func() (any, error) {
		leader.Store(true)
		return q.fly(flightCtx, mode)
	})

	select {
	case <-ctx.Done():
		q.client.logger.Debug("fetch abandoned by caller", slog.String("key", q.opts.Key), slog.Any("error", ctx.Err()))
		return State[T]{Err: ctx.Err(), Status: StatusError, UpdatedAt: q.client.now()}, metrics.FetchCanceled
	case res := <-ch:
		if res.Err != nil {
			var fetchErr *FetchError
			if !errors.As(res.Err, &fetchErr) {
				fetchErr = &FetchError{Key: q.opts.Key, Err: res.Err}
			}
			return State[T]{Err: fetchErr, Status: StatusError, UpdatedAt: q.client.now()}, metrics.FetchError
		}
		result := res.Val.(flightResult)
		value, err := q.decodeResult(result)
		if err != nil {
			return State[T]{Err: &FetchError{Key: q.opts.Key, Err: err}, Status: StatusError, UpdatedAt: q.client.now()}, metrics.FetchError
		}
		st := State[T]{Data: value, HasData: true, Status: StatusSuccess, UpdatedAt: result.storedAt}
		switch {
		case result.fromCache:
			st.Source = SourceCache
			return st, metrics.FetchHit
		case leader.Load():
			st.Source = SourceFetch
			return st, metrics.FetchMiss
		default:
			st.Source = SourceShared
			return st, metrics.FetchShared
		}
	}
}

// fly runs inside the flight. Late joiners that arrive after an earlier flight
// filled the cache are answered from it without calling fn again.
func (q *Query[T]) fly(ctx context.Context, mode runMode) (any, error) {
	if mode != modeForce {
		if entry, ok := q.client.cache.Lookup(ctx, q.opts.Key, q.opts.Owner); ok && (mode == modeCached || !q.stale(entry)) {
			return flightResult{raw: entry.Value, storedAt: entry.StoredAt, fromCache: true}, nil
		}
	}

	q.client.logger.Debug("fetching", slog.String("key", q.opts.Key))
	gen := q.client.cache.Generation(q.opts.Owner)
	value, err := q.fn(ctx)
	if err != nil {
		q.client.logger.Warn("fetch failed", slog.String("key", q.opts.Key), slog.Any("error", err))
		return nil, &FetchError{Key: q.opts.Key, Err: err}
	}
	// Stored before the flight is released so the next caller hits the cache,
	// unless a mutation invalidated the owner's entries while fn ran.
	if !q.client.cache.SetIfGeneration(ctx, q.opts.Key, value, q.opts.TTL, q.opts.Owner, gen) {
		q.client.logger.Debug("fetch result not cached after invalidation", slog.String("key", q.opts.Key))
	}
	raw, err := json.Marshal(value)
	if err != nil {
		raw = nil
	}
	return flightResult{value: value, raw: raw, storedAt: q.client.now()}, nil
}

// decodeResult converts a flight result into T. Queries sharing a key normally
// share a type; otherwise the JSON form bridges the two.
func (q *Query[T]) decodeResult(result flightResult) (T, error) {
	if value, ok := result.value.(T); ok {
		return value, nil
	}
	var out T
	if len(result.raw) == 0 {
		return out, errors.New("fetch: result not decodable")
	}
	if err := json.Unmarshal(result.raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// markLoading flags the query as loading, keeping any data already shown, and
// returns the state it replaced.
func (q *Query[T]) markLoading() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev := q.state
	q.state.Status = StatusLoading
	return prev
}

func (q *Query[T]) publish(st State[T]) State[T] {
	q.mu.Lock()
	q.state = st
	q.mu.Unlock()
	return st
}
