package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name: "returns defaults when no overrides",
			setup: func(t *testing.T) []string {
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "none", cfg.Server.Cache.Snapshot.Backend)
				require.Equal(t, "memory", cfg.Server.Store.Backend)
				require.Empty(t, cfg.Trackers)
			},
		},
		{
			name: "merges file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n  cache:\n    ttlSeconds: 120\n"), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, 120, cfg.Server.Cache.TTLSeconds)
				require.Equal(t, 60, cfg.Server.Cache.StaleSeconds, "unset keys keep their defaults")
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600))
				t.Setenv("MOODTRACK_SERVER__LISTEN__PORT", "9091")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
			},
		},
		{
			name: "maps camel case env keys",
			setup: func(t *testing.T) []string {
				t.Setenv("MOODTRACK_SERVER__CACHE__SWEEPINTERVALSECONDS", "0")
				t.Setenv("MOODTRACK_SERVER__AUTH__USERHEADER", "X-Forwarded-User")
				t.Setenv("MOODTRACK_SERVER__CACHE__SNAPSHOT__BACKEND", "file")
				t.Setenv("MOODTRACK_SERVER__CACHE__SNAPSHOT__FILE", filepath.Join(t.TempDir(), "snapshot.json"))
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 0, cfg.Server.Cache.SweepIntervalSeconds)
				require.Equal(t, "X-Forwarded-User", cfg.Server.Auth.UserHeader)
				require.Equal(t, "file", cfg.Server.Cache.Snapshot.Backend)
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails validation",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  cache:\n    snapshot:\n      backend: gcs\n"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
		{
			name: "loads trackers file alongside inline trackers",
			setup: func(t *testing.T) []string {
				dir := t.TempDir()
				trackersPath := filepath.Join(dir, "trackers.yaml")
				require.NoError(t, os.WriteFile(trackersPath, []byte("trackers:\n  sleep:\n    items: [hours]\n"), 0o600))

				serverPath := filepath.Join(dir, "server.yaml")
				serverContents := "server:\n  trackers:\n    trackersFile: %s\ntrackers:\n  mood:\n    label: Mood\n    items: [calm, anxious]\n"
				require.NoError(t, os.WriteFile(serverPath, []byte(fmt.Sprintf(serverContents, trackersPath)), 0o600))
				return []string{serverPath}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Contains(t, cfg.Trackers, "mood")
				require.Contains(t, cfg.Trackers, "sleep")
				require.Contains(t, cfg.InlineTrackers, "mood")
				require.NotContains(t, cfg.InlineTrackers, "sleep")
				require.NotEmpty(t, cfg.TrackerSources)
				require.Empty(t, cfg.SkippedDefinitions)
			},
		},
		{
			name: "surfaces skipped tracker definitions",
			setup: func(t *testing.T) []string {
				dir := t.TempDir()
				trackersPath := filepath.Join(dir, "trackers.yaml")
				require.NoError(t, os.WriteFile(trackersPath, []byte("trackers:\n  mood:\n    items: [irritable]\n"), 0o600))

				serverPath := filepath.Join(dir, "server.yaml")
				serverContents := "server:\n  trackers:\n    trackersFile: %s\ntrackers:\n  mood:\n    items: [calm]\n"
				require.NoError(t, os.WriteFile(serverPath, []byte(fmt.Sprintf(serverContents, trackersPath)), 0o600))
				return []string{serverPath}
			},
			assert: func(t *testing.T, cfg Config) {
				require.NotContains(t, cfg.Trackers, "mood")
				require.Len(t, cfg.SkippedDefinitions, 1)
				require.Equal(t, "mood", cfg.SkippedDefinitions[0].Name)
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			args := tc.setup(t)
			loader := NewLoader("MOODTRACK", args...)

			cfg, err := loader.Load(ctx)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}
