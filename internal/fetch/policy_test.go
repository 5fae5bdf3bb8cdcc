package fetch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/moodtrack/internal/cache"
)

func TestPolicyFromCacheControl(t *testing.T) {
	cases := map[string]struct {
		header string
		want   Policy
	}{
		"absent":     {header: "", want: Policy{}},
		"no-cache":   {header: "no-cache", want: Policy{Force: true}},
		"no-store":   {header: "no-store, max-age=30", want: Policy{Force: true}},
		"max-age 0":  {header: "max-age=0", want: Policy{Force: true}},
		"max-age 30": {header: "max-age=30", want: Policy{Revalidate: true, StaleTime: 30 * time.Second}},
		"unknown":    {header: "private", want: Policy{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, PolicyFromCacheControl(cache.ParseCacheControl(tc.header)))
		})
	}
}

func TestDoAppliesPolicy(t *testing.T) {
	clock := newTestClock()
	client := newTestClient(clock, 0)
	var calls atomic.Int32
	fn := countingFetch(&calls, entryList{Items: []string{"a"}})
	opts := QueryOptions{Key: "k", Owner: "alice", Enabled: true}
	ctx := context.Background()

	require.Equal(t, SourceFetch, Do(ctx, client, opts, Policy{}, fn).Source)
	require.Equal(t, SourceCache, Do(ctx, client, opts, Policy{}, fn).Source)

	clock.Advance(45 * time.Second)
	require.Equal(t, SourceCache, Do(ctx, client, opts, Policy{Revalidate: true, StaleTime: time.Minute}, fn).Source)
	require.Equal(t, SourceFetch, Do(ctx, client, opts, Policy{Revalidate: true, StaleTime: 30 * time.Second}, fn).Source)
	require.Equal(t, SourceFetch, Do(ctx, client, opts, Policy{Force: true}, fn).Source)
	require.Equal(t, int32(3), calls.Load())
}
