package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCacheControl(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name   string
		header string
		want   CacheControlDirective
	}{
		{name: "empty", header: "", want: CacheControlDirective{}},
		{name: "max-age", header: "max-age=300", want: CacheControlDirective{MaxAge: intPtr(300)}},
		{name: "quoted max-age", header: `max-age="30"`, want: CacheControlDirective{MaxAge: intPtr(30)}},
		{name: "negative max-age ignored", header: "max-age=-5", want: CacheControlDirective{}},
		{name: "invalid max-age ignored", header: "max-age=soon", want: CacheControlDirective{}},
		{name: "no-cache", header: "no-cache", want: CacheControlDirective{NoCache: true}},
		{name: "case insensitive", header: "No-Store, MAX-AGE=10", want: CacheControlDirective{NoStore: true, MaxAge: intPtr(10)}},
		{name: "unknown directives", header: "private, s-maxage=60, , immutable", want: CacheControlDirective{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ParseCacheControl(tc.header))
		})
	}
}

func TestCacheControlPolicy(t *testing.T) {
	require.True(t, ParseCacheControl("no-cache").ForceRefresh())
	require.True(t, ParseCacheControl("no-store").ForceRefresh())
	require.False(t, ParseCacheControl("max-age=0").ForceRefresh())

	stale, ok := ParseCacheControl("max-age=45").StaleTime()
	require.True(t, ok)
	require.Equal(t, 45*time.Second, stale)

	_, ok = ParseCacheControl("no-cache").StaleTime()
	require.False(t, ok)
}
