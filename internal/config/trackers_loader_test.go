package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
}

func TestBuildTrackerBundleMergesSources(t *testing.T) {
	dir := t.TempDir()
	trackersFile := filepath.Join(dir, "trackers.yaml")
	writeFile(t, trackersFile, "trackers:\n  Sleep:\n    label: Sleep\n    items: [hours, quality]\n    ratingMin: 0\n    ratingMax: 12\n")

	inline := map[string]TrackerConfig{
		"journal": {Label: "Journal", Items: []string{"gratitude"}},
	}

	bundle, err := buildTrackerBundle(context.Background(), inline, TrackersConfig{TrackersFile: trackersFile})
	require.NoError(t, err)
	require.Len(t, bundle.Trackers, 2)
	require.Contains(t, bundle.Trackers, "journal")
	sleep, ok := bundle.Trackers["sleep"]
	require.True(t, ok, "tracker names are lowercased")
	require.Equal(t, []string{"hours", "quality"}, sleep.Items)
	require.NotNil(t, sleep.RatingMax)
	require.Equal(t, 12, *sleep.RatingMax)
	require.ElementsMatch(t, []string{inlineSourceName, trackersFile}, bundle.Sources)
	require.Empty(t, bundle.Skipped)
}

func TestBuildTrackerBundleFolderFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{"trackers":{"social":{"items":["called a friend"]}}}`)
	writeFile(t, filepath.Join(dir, "nested", "b.toml"), "[trackers.skills]\nitems = [\"opposite action\"]\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	bundle, err := buildTrackerBundle(context.Background(), nil, TrackersConfig{TrackersFolder: dir})
	require.NoError(t, err)
	require.Contains(t, bundle.Trackers, "social")
	require.Contains(t, bundle.Trackers, "skills")
	require.Len(t, bundle.Sources, 2)
}

func TestBuildTrackerBundleSkipsDuplicates(t *testing.T) {
	dir := t.TempDir()
	trackersFile := filepath.Join(dir, "trackers.yaml")
	writeFile(t, trackersFile, "trackers:\n  mood:\n    items: [anxious]\n")

	inline := map[string]TrackerConfig{"mood": {Items: []string{"calm"}}}
	bundle, err := buildTrackerBundle(context.Background(), inline, TrackersConfig{TrackersFile: trackersFile})
	require.NoError(t, err)
	require.NotContains(t, bundle.Trackers, "mood")
	require.Len(t, bundle.Skipped, 1)
	skip := bundle.Skipped[0]
	require.Equal(t, "tracker", skip.Kind)
	require.Equal(t, "mood", skip.Name)
	require.Equal(t, "duplicate definition", skip.Reason)
	require.ElementsMatch(t, []string{inlineSourceName, trackersFile}, skip.Sources)
}

func TestBuildTrackerBundleSkipsInvalidDefinitions(t *testing.T) {
	inline := map[string]TrackerConfig{
		"dupitems":   {Items: []string{"a", "a"}},
		"badrange":   {Items: []string{"a"}, RatingMin: intPtr(5), RatingMax: intPtr(1)},
		"badinsight": {Items: []string{"a"}, Insights: []InsightConfig{{Name: "x", Condition: "summary.entries +", Message: "m"}}},
		"good":       {Items: []string{"a"}, Insights: []InsightConfig{{Name: "busy", Condition: "summary.entries > 3", Message: "busy week"}}},
	}
	bundle, err := buildTrackerBundle(context.Background(), inline, TrackersConfig{})
	require.NoError(t, err)
	require.Len(t, bundle.Trackers, 1)
	require.Contains(t, bundle.Trackers, "good")

	names := make([]string, 0, len(bundle.Skipped))
	for _, skip := range bundle.Skipped {
		names = append(names, skip.Name)
	}
	require.Equal(t, []string{"badinsight", "badrange", "dupitems"}, names)
}

func TestBuildTrackerBundleMissingFile(t *testing.T) {
	_, err := buildTrackerBundle(context.Background(), nil, TrackersConfig{TrackersFile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)

	_, err = buildTrackerBundle(context.Background(), nil, TrackersConfig{TrackersFile: t.TempDir()})
	require.ErrorContains(t, err, "expected a file")
}

func intPtr(v int) *int { return &v }
