package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option plus the tracker catalog once it is loaded.
type Config struct {
	Server   ServerConfig             `koanf:"server"`
	Trackers map[string]TrackerConfig `koanf:"trackers"`

	InlineTrackers map[string]TrackerConfig `koanf:"-"`

	// TrackerSources records which files contributed tracker definitions once
	// the loader resolves the configured sources.
	TrackerSources []string `koanf:"-"`
	// SkippedDefinitions captures duplicate or otherwise invalid definitions the
	// loader intentionally disabled so health checks can surface them.
	SkippedDefinitions []DefinitionSkip `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen   ListenConfig      `koanf:"listen"`
	Logging  LoggingConfig     `koanf:"logging"`
	Trackers TrackersConfig    `koanf:"trackers"`
	Cache    ServerCacheConfig `koanf:"cache"`
	Store    StoreConfig       `koanf:"store"`
	Auth     AuthConfig        `koanf:"auth"`
	Security SecurityConfig    `koanf:"security"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// TrackersConfig announces how tracker catalog documents are sourced.
type TrackersConfig struct {
	TrackersFolder string `koanf:"trackersFolder"`
	TrackersFile   string `koanf:"trackersFile"`
}

type ServerCacheConfig struct {
	TTLSeconds            int                    `koanf:"ttlSeconds"`
	StaleSeconds          int                    `koanf:"staleSeconds"`
	MaxSnapshotAgeSeconds int                    `koanf:"maxSnapshotAgeSeconds"`
	SweepIntervalSeconds  int                    `koanf:"sweepIntervalSeconds"`
	Snapshot              SnapshotConfig         `koanf:"snapshot"`
	Redis                 ServerRedisCacheConfig `koanf:"redis"`
	GCS                   GCSConfig              `koanf:"gcs"`
}

// SnapshotConfig selects where the cache persists its snapshot record.
type SnapshotConfig struct {
	Backend string `koanf:"backend"`
	File    string `koanf:"file"`
	Key     string `koanf:"key"`
}

type ServerRedisCacheConfig struct {
	Address  string               `koanf:"address"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	DB       int                  `koanf:"db"`
	TLS      ServerRedisTLSConfig `koanf:"tls"`
}

type ServerRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type GCSConfig struct {
	Bucket string `koanf:"bucket"`
	Object string `koanf:"object"`
}

// StoreConfig selects the entry repository backend.
type StoreConfig struct {
	Backend   string          `koanf:"backend"`
	Firestore FirestoreConfig `koanf:"firestore"`
}

type FirestoreConfig struct {
	ProjectID        string `koanf:"projectId"`
	CollectionPrefix string `koanf:"collectionPrefix"`
}

// AuthConfig describes how callers are identified and how CSRF tokens are enforced.
type AuthConfig struct {
	UserHeader string     `koanf:"userHeader"`
	CSRF       CSRFConfig `koanf:"csrf"`
}

type CSRFConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Header     string `koanf:"header"`
	TTLSeconds int    `koanf:"ttlSeconds"`
}

// SecurityConfig lists the response headers applied to every response.
type SecurityConfig struct {
	ContentSecurityPolicy string            `koanf:"contentSecurityPolicy"`
	FrameOptions          string            `koanf:"frameOptions"`
	ReferrerPolicy        string            `koanf:"referrerPolicy"`
	HSTSSeconds           int               `koanf:"hstsSeconds"`
	Headers               map[string]string `koanf:"headers"`
}

// DefinitionSkip describes a catalog artifact that the loader intentionally
// ignored because it violated invariants (for example duplicate names across
// files).
type DefinitionSkip struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Reason  string   `json:"reason"`
	Sources []string `json:"sources"`
}

// TrackerConfig mirrors one tracker category document. Items are the toggleable
// entries a user can select, rate and annotate.
type TrackerConfig struct {
	Label     string          `koanf:"label"`
	Items     []string        `koanf:"items"`
	RatingMin *int            `koanf:"ratingMin"`
	RatingMax *int            `koanf:"ratingMax"`
	Insights  []InsightConfig `koanf:"insights"`
}

// InsightConfig pairs a CEL condition evaluated against a dashboard summary with
// a message template rendered when the condition holds.
type InsightConfig struct {
	Name      string `koanf:"name"`
	Condition string `koanf:"condition"`
	Message   string `koanf:"message"`
}

// TTL returns the configured default cache entry lifetime.
func (c ServerCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StaleTime returns the default stale window; zero disables stale reporting.
func (c ServerCacheConfig) StaleTime() time.Duration {
	return time.Duration(c.StaleSeconds) * time.Second
}

// MaxSnapshotAge bounds how old a persisted snapshot may be before hydration discards it.
func (c ServerCacheConfig) MaxSnapshotAge() time.Duration {
	return time.Duration(c.MaxSnapshotAgeSeconds) * time.Second
}

// SweepInterval returns the periodic sweep cadence; zero disables the sweeper.
func (c ServerCacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// TTL returns the CSRF token lifetime.
func (c CSRFConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Trackers.TrackersFolder != "" && c.Server.Trackers.TrackersFile != "" {
		return errors.New("config: trackersFolder and trackersFile are mutually exclusive")
	}
	cacheCfg := c.Server.Cache
	if cacheCfg.TTLSeconds <= 0 {
		return fmt.Errorf("config: server.cache.ttlSeconds invalid: %d", cacheCfg.TTLSeconds)
	}
	if cacheCfg.StaleSeconds < 0 {
		return fmt.Errorf("config: server.cache.staleSeconds invalid: %d", cacheCfg.StaleSeconds)
	}
	if cacheCfg.MaxSnapshotAgeSeconds < 0 {
		return fmt.Errorf("config: server.cache.maxSnapshotAgeSeconds invalid: %d", cacheCfg.MaxSnapshotAgeSeconds)
	}
	if cacheCfg.SweepIntervalSeconds < 0 {
		return fmt.Errorf("config: server.cache.sweepIntervalSeconds invalid: %d", cacheCfg.SweepIntervalSeconds)
	}
	switch strings.TrimSpace(strings.ToLower(cacheCfg.Snapshot.Backend)) {
	case "", "none":
	case "file":
		if strings.TrimSpace(cacheCfg.Snapshot.File) == "" {
			return errors.New("config: server.cache.snapshot.file required for file backend")
		}
	case "redis", "valkey":
		if strings.TrimSpace(cacheCfg.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	case "gcs":
		if strings.TrimSpace(cacheCfg.GCS.Bucket) == "" {
			return errors.New("config: server.cache.gcs.bucket required for gcs backend")
		}
	default:
		return fmt.Errorf("config: server.cache.snapshot.backend unsupported: %s", cacheCfg.Snapshot.Backend)
	}
	switch strings.TrimSpace(strings.ToLower(c.Server.Store.Backend)) {
	case "", "memory":
	case "firestore":
		if strings.TrimSpace(c.Server.Store.Firestore.ProjectID) == "" {
			return errors.New("config: server.store.firestore.projectId required for firestore backend")
		}
	default:
		return fmt.Errorf("config: server.store.backend unsupported: %s", c.Server.Store.Backend)
	}
	if strings.TrimSpace(c.Server.Auth.UserHeader) == "" {
		return errors.New("config: server.auth.userHeader required")
	}
	if c.Server.Auth.CSRF.Enabled {
		if strings.TrimSpace(c.Server.Auth.CSRF.Header) == "" {
			return errors.New("config: server.auth.csrf.header required when csrf is enabled")
		}
		if c.Server.Auth.CSRF.TTLSeconds <= 0 {
			return fmt.Errorf("config: server.auth.csrf.ttlSeconds invalid: %d", c.Server.Auth.CSRF.TTLSeconds)
		}
	}
	if c.Server.Security.HSTSSeconds < 0 {
		return fmt.Errorf("config: server.security.hstsSeconds invalid: %d", c.Server.Security.HSTSSeconds)
	}
	for name, tracker := range c.Trackers {
		if err := validateTracker(name, tracker); err != nil {
			return err
		}
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			Cache: ServerCacheConfig{
				TTLSeconds:            300,
				StaleSeconds:          60,
				MaxSnapshotAgeSeconds: 86400,
				SweepIntervalSeconds:  60,
				Snapshot: SnapshotConfig{
					Backend: "none",
					Key:     "moodtrack:cache:snapshot",
				},
				GCS: GCSConfig{
					Object: "moodtrack/cache-snapshot.json",
				},
			},
			Store: StoreConfig{
				Backend: "memory",
			},
			Auth: AuthConfig{
				UserHeader: "X-Auth-User",
				CSRF: CSRFConfig{
					Enabled:    true,
					Header:     "X-CSRF-Token",
					TTLSeconds: 3600,
				},
			},
			Security: SecurityConfig{
				ContentSecurityPolicy: "default-src 'self'; frame-ancestors 'none'",
				FrameOptions:          "DENY",
				ReferrerPolicy:        "strict-origin-when-cross-origin",
				HSTSSeconds:           31536000,
			},
		},
	}
}

func validateTracker(name string, tracker TrackerConfig) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("config: tracker name empty")
	}
	seen := make(map[string]struct{}, len(tracker.Items))
	for i, item := range tracker.Items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			return fmt.Errorf("config: tracker %q items[%d] empty", name, i)
		}
		if _, ok := seen[trimmed]; ok {
			return fmt.Errorf("config: tracker %q items[%d] duplicate: %s", name, i, trimmed)
		}
		seen[trimmed] = struct{}{}
	}
	if tracker.RatingMin != nil && tracker.RatingMax != nil && *tracker.RatingMin > *tracker.RatingMax {
		return fmt.Errorf("config: tracker %q ratingMin %d exceeds ratingMax %d", name, *tracker.RatingMin, *tracker.RatingMax)
	}
	for i, insight := range tracker.Insights {
		if strings.TrimSpace(insight.Condition) == "" {
			return fmt.Errorf("config: tracker %q insights[%d] condition required", name, i)
		}
	}
	return nil
}
