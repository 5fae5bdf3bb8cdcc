package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules
// and resolves the tracker catalog from inline and file-backed definitions.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.logging.correlationheader":        "server.logging.correlationHeader",
			"server.trackers.trackersfolder":          "server.trackers.trackersFolder",
			"server.trackers.trackersfile":            "server.trackers.trackersFile",
			"server.cache.ttlseconds":                 "server.cache.ttlSeconds",
			"server.cache.staleseconds":               "server.cache.staleSeconds",
			"server.cache.maxsnapshotageseconds":      "server.cache.maxSnapshotAgeSeconds",
			"server.cache.sweepintervalseconds":       "server.cache.sweepIntervalSeconds",
			"server.cache.redis.tls.cafile":           "server.cache.redis.tls.caFile",
			"server.store.firestore.projectid":        "server.store.firestore.projectId",
			"server.store.firestore.collectionprefix": "server.store.firestore.collectionPrefix",
			"server.auth.userheader":                  "server.auth.userHeader",
			"server.auth.csrf.ttlseconds":             "server.auth.csrf.ttlSeconds",
			"server.security.contentsecuritypolicy":   "server.security.contentSecurityPolicy",
			"server.security.frameoptions":            "server.security.frameOptions",
			"server.security.referrerpolicy":          "server.security.referrerPolicy",
			"server.security.hstsseconds":             "server.security.hstsSeconds",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.InlineTrackers = cloneTrackerMap(cfg.Trackers)

	bundle, err := buildTrackerBundle(ctx, cfg.InlineTrackers, cfg.Server.Trackers)
	if err != nil {
		return Config{}, err
	}
	cfg.Trackers = bundle.Trackers
	cfg.TrackerSources = bundle.Sources
	cfg.SkippedDefinitions = bundle.Skipped
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"trackers": map[string]any{
				"trackersFolder": cfg.Server.Trackers.TrackersFolder,
				"trackersFile":   cfg.Server.Trackers.TrackersFile,
			},
			"cache": map[string]any{
				"ttlSeconds":            cfg.Server.Cache.TTLSeconds,
				"staleSeconds":          cfg.Server.Cache.StaleSeconds,
				"maxSnapshotAgeSeconds": cfg.Server.Cache.MaxSnapshotAgeSeconds,
				"sweepIntervalSeconds":  cfg.Server.Cache.SweepIntervalSeconds,
				"snapshot": map[string]any{
					"backend": cfg.Server.Cache.Snapshot.Backend,
					"file":    cfg.Server.Cache.Snapshot.File,
					"key":     cfg.Server.Cache.Snapshot.Key,
				},
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
				"gcs": map[string]any{
					"bucket": cfg.Server.Cache.GCS.Bucket,
					"object": cfg.Server.Cache.GCS.Object,
				},
			},
			"store": map[string]any{
				"backend": cfg.Server.Store.Backend,
				"firestore": map[string]any{
					"projectId":        cfg.Server.Store.Firestore.ProjectID,
					"collectionPrefix": cfg.Server.Store.Firestore.CollectionPrefix,
				},
			},
			"auth": map[string]any{
				"userHeader": cfg.Server.Auth.UserHeader,
				"csrf": map[string]any{
					"enabled":    cfg.Server.Auth.CSRF.Enabled,
					"header":     cfg.Server.Auth.CSRF.Header,
					"ttlSeconds": cfg.Server.Auth.CSRF.TTLSeconds,
				},
			},
			"security": map[string]any{
				"contentSecurityPolicy": cfg.Server.Security.ContentSecurityPolicy,
				"frameOptions":          cfg.Server.Security.FrameOptions,
				"referrerPolicy":        cfg.Server.Security.ReferrerPolicy,
				"hstsSeconds":           cfg.Server.Security.HSTSSeconds,
			},
		},
	}
}
