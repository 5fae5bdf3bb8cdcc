package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	var nilCfg *Config
	require.Error(t, nilCfg.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Listen.Port = -1 }},
		{name: "conflicting tracker sources", mutate: func(c *Config) {
			c.Server.Trackers.TrackersFile = "trackers.yaml"
			c.Server.Trackers.TrackersFolder = "trackers"
		}},
		{name: "zero ttl", mutate: func(c *Config) { c.Server.Cache.TTLSeconds = 0 }},
		{name: "negative stale", mutate: func(c *Config) { c.Server.Cache.StaleSeconds = -1 }},
		{name: "negative sweep", mutate: func(c *Config) { c.Server.Cache.SweepIntervalSeconds = -1 }},
		{name: "unknown snapshot backend", mutate: func(c *Config) { c.Server.Cache.Snapshot.Backend = "s3" }},
		{name: "file backend without path", mutate: func(c *Config) { c.Server.Cache.Snapshot.Backend = "file" }},
		{name: "valkey backend without address", mutate: func(c *Config) { c.Server.Cache.Snapshot.Backend = "valkey" }},
		{name: "gcs backend without bucket", mutate: func(c *Config) { c.Server.Cache.Snapshot.Backend = "gcs" }},
		{name: "unknown store backend", mutate: func(c *Config) { c.Server.Store.Backend = "postgres" }},
		{name: "firestore without project", mutate: func(c *Config) { c.Server.Store.Backend = "firestore" }},
		{name: "missing user header", mutate: func(c *Config) { c.Server.Auth.UserHeader = " " }},
		{name: "csrf without ttl", mutate: func(c *Config) { c.Server.Auth.CSRF.TTLSeconds = 0 }},
		{name: "negative hsts", mutate: func(c *Config) { c.Server.Security.HSTSSeconds = -1 }},
		{name: "tracker with duplicate items", mutate: func(c *Config) {
			c.Trackers = map[string]TrackerConfig{"mood": {Items: []string{"calm", "calm"}}}
		}},
		{name: "tracker with inverted range", mutate: func(c *Config) {
			c.Trackers = map[string]TrackerConfig{"mood": {Items: []string{"calm"}, RatingMin: intPtr(3), RatingMax: intPtr(1)}}
		}},
		{name: "insight without condition", mutate: func(c *Config) {
			c.Trackers = map[string]TrackerConfig{"mood": {Items: []string{"calm"}, Insights: []InsightConfig{{Name: "x"}}}}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.mutate(&c)
			require.Error(t, c.Validate())
		})
	}

	t.Run("csrf disabled skips csrf checks", func(t *testing.T) {
		c := DefaultConfig()
		c.Server.Auth.CSRF = CSRFConfig{Enabled: false}
		require.NoError(t, c.Validate())
	})

	t.Run("valid backends", func(t *testing.T) {
		c := DefaultConfig()
		c.Server.Cache.Snapshot.Backend = "redis"
		c.Server.Cache.Redis.Address = "localhost:6379"
		c.Server.Store.Backend = "firestore"
		c.Server.Store.Firestore.ProjectID = "moodtrack-dev"
		require.NoError(t, c.Validate())
	})
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	require.Equal(t, "json", cfg.Server.Logging.Format)
	require.Equal(t, "X-Request-ID", cfg.Server.Logging.CorrelationHeader)
	require.Equal(t, 5*time.Minute, cfg.Server.Cache.TTL())
	require.Equal(t, time.Minute, cfg.Server.Cache.StaleTime())
	require.Equal(t, 24*time.Hour, cfg.Server.Cache.MaxSnapshotAge())
	require.Equal(t, time.Minute, cfg.Server.Cache.SweepInterval())
	require.Equal(t, "moodtrack:cache:snapshot", cfg.Server.Cache.Snapshot.Key)
	require.Equal(t, "X-Auth-User", cfg.Server.Auth.UserHeader)
	require.True(t, cfg.Server.Auth.CSRF.Enabled)
	require.Equal(t, time.Hour, cfg.Server.Auth.CSRF.TTL())
	require.Equal(t, "DENY", cfg.Server.Security.FrameOptions)
}
