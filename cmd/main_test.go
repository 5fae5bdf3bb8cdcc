package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/moodtrack/internal/cache"
	"github.com/l0p7/moodtrack/internal/config"
	"github.com/l0p7/moodtrack/internal/metrics"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestBuildSnapshotStore(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func(t *testing.T) config.ServerCacheConfig
		verify func(t *testing.T, store cache.SnapshotStore, err error)
	}{
		{
			name: "disabled by default",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				return config.ServerCacheConfig{}
			},
			verify: func(t *testing.T, store cache.SnapshotStore, err error) {
				require.NoError(t, err)
				require.Nil(t, store)
			},
		},
		{
			name: "file backend",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				return config.ServerCacheConfig{Snapshot: config.SnapshotConfig{
					Backend: "file",
					File:    filepath.Join(t.TempDir(), "snapshot.json"),
				}}
			},
			verify: func(t *testing.T, store cache.SnapshotStore, err error) {
				require.NoError(t, err)
				require.IsType(t, &cache.FileStore{}, store)
			},
		},
		{
			name: "valkey backend",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				server, err := miniredis.Run()
				if err != nil {
					if strings.Contains(err.Error(), "operation not permitted") {
						t.Skip("miniredis unavailable in sandbox")
					}
					require.NoError(t, err)
				}
				t.Cleanup(server.Close)
				return config.ServerCacheConfig{
					Snapshot: config.SnapshotConfig{Backend: "valkey", Key: "test:snapshot"},
					Redis:    config.ServerRedisCacheConfig{Address: server.Addr()},
				}
			},
			verify: func(t *testing.T, store cache.SnapshotStore, err error) {
				require.NoError(t, err)
				ctx := context.Background()
				require.NoError(t, store.Save(ctx, []byte(`{"savedAt":1,"entries":{}}`)))
				payload, err := store.Load(ctx)
				require.NoError(t, err)
				require.JSONEq(t, `{"savedAt":1,"entries":{}}`, string(payload))
				require.NoError(t, store.Close(ctx))
			},
		},
		{
			name: "unreachable valkey",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				return config.ServerCacheConfig{
					Snapshot: config.SnapshotConfig{Backend: "redis"},
					Redis:    config.ServerRedisCacheConfig{Address: "127.0.0.1:1"},
				}
			},
			verify: func(t *testing.T, store cache.SnapshotStore, err error) {
				require.Error(t, err)
				require.Nil(t, store)
			},
		},
		{
			name: "unsupported backend",
			cfg: func(t *testing.T) config.ServerCacheConfig {
				return config.ServerCacheConfig{Snapshot: config.SnapshotConfig{Backend: "etcd"}}
			},
			verify: func(t *testing.T, store cache.SnapshotStore, err error) {
				require.ErrorContains(t, err, "unsupported snapshot backend")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := buildSnapshotStore(context.Background(), newTestLogger(), tc.cfg(t))
			tc.verify(t, store, err)
		})
	}
}

func TestBuildRepository(t *testing.T) {
	repo, err := buildRepository(context.Background(), newTestLogger(), config.StoreConfig{})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	_, err = buildRepository(context.Background(), newTestLogger(), config.StoreConfig{Backend: "firestore"})
	require.Error(t, err)

	_, err = buildRepository(context.Background(), newTestLogger(), config.StoreConfig{Backend: "postgres"})
	require.ErrorContains(t, err, "unsupported store backend")
}

func serve(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuildAppServesAndReloadsCatalog(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Server.Cache.Snapshot = config.SnapshotConfig{Backend: "file", File: filepath.Join(t.TempDir(), "snapshot.json")}
	cfg.Trackers = map[string]config.TrackerConfig{"journal": {Items: []string{"gratitude"}}}
	cfg.TrackerSources = []string{"inline"}
	rec := metrics.NewRecorder(prometheus.NewRegistry())

	app, err := buildApp(ctx, cfg, newTestLogger(), rec)
	require.NoError(t, err)
	_, ok := app.catalogs.Load().Get("journal")
	require.True(t, ok, "configured trackers are installed")

	alice := map[string]string{"X-Auth-User": "alice"}
	tokenResp := serve(t, app.handler, http.MethodGet, "/api/session/csrf", "", alice)
	require.Equal(t, http.StatusOK, tokenResp.Code)
	var token struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(tokenResp.Body.Bytes(), &token))

	write := map[string]string{"X-Auth-User": "alice", "X-CSRF-Token": token.Token}
	created := serve(t, app.handler, http.MethodPost, "/api/entries",
		`{"category":"journal","date":"2025-03-14","items":[{"name":"gratitude","selected":true}]}`, write)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	dash := serve(t, app.handler, http.MethodGet, "/api/dashboard?category=journal", "", alice)
	require.Equal(t, http.StatusOK, dash.Code)
	require.Equal(t, "miss", dash.Header().Get("X-Cache"))
	require.Equal(t, 1, app.cache.Len())

	app.applyCatalog(ctx, config.TrackerBundle{
		Trackers: map[string]config.TrackerConfig{"journal": {Items: []string{"gratitude", "reflection"}}},
		Sources:  []string{"/etc/moodtrack/trackers.yaml"},
	})
	require.Zero(t, app.cache.Len(), "dashboards are dropped on reload")
	def, ok := app.catalogs.Load().Get("journal")
	require.True(t, ok)
	require.Equal(t, []string{"gratitude", "reflection"}, def.Items)

	health := serve(t, app.handler, http.MethodGet, "/healthz", "", nil)
	require.Contains(t, health.Body.String(), "/etc/moodtrack/trackers.yaml")

	metricsBody := serve(t, app.handler, http.MethodGet, "/metrics", "", nil).Body.String()
	require.Contains(t, metricsBody, `moodtrack_catalog_reloads_total{result="success"} 1`)

	serve(t, app.handler, http.MethodGet, "/api/dashboard?category=journal", "", alice)
	require.NoError(t, app.cache.Close(ctx))
	reopened := cache.Open(ctx, cache.Options{Store: mustFileStore(t, cfg.Server.Cache.Snapshot.File)})
	require.Equal(t, 1, reopened.Len(), "the snapshot survives shutdown")
}

func mustFileStore(t *testing.T, path string) *cache.FileStore {
	t.Helper()
	store, err := cache.NewFileStore(path)
	require.NoError(t, err)
	return store
}
