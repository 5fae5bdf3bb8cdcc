package config

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/l0p7/moodtrack/internal/expr"
)

const inlineSourceName = "inline-config"

// TrackerBundle captures the merged tracker definitions after loading every
// configured source, plus the metadata explaining what was skipped and why.
type TrackerBundle struct {
	Trackers map[string]TrackerConfig
	Sources  []string
	Skipped  []DefinitionSkip
}

type trackerDocument struct {
	Trackers map[string]TrackerConfig `koanf:"trackers"`
}

type trackerAggregator struct {
	trackers       map[string]TrackerConfig
	trackerSources map[string]string
	trackerSkips   map[string]*DefinitionSkip

	sources map[string]struct{}
}

func newTrackerAggregator() *trackerAggregator {
	return &trackerAggregator{
		trackers:       make(map[string]TrackerConfig),
		trackerSources: make(map[string]string),
		trackerSkips:   make(map[string]*DefinitionSkip),
		sources:        make(map[string]struct{}),
	}
}

func (a *trackerAggregator) addDocument(doc trackerDocument, source string) {
	if source != "" {
		a.sources[source] = struct{}{}
	}
	for name, cfg := range doc.Trackers {
		a.addTracker(strings.ToLower(strings.TrimSpace(name)), cfg, source)
	}
}

func (a *trackerAggregator) addTracker(name string, cfg TrackerConfig, source string) {
	if existing, ok := a.trackerSkips[name]; ok {
		existing.Sources = appendUnique(existing.Sources, source)
		return
	}
	if prev, ok := a.trackerSources[name]; ok {
		a.recordSkip(name, "duplicate definition", prev, source)
		delete(a.trackerSources, name)
		delete(a.trackers, name)
		return
	}
	if err := validateTracker(name, cfg); err != nil {
		a.recordSkip(name, err.Error(), source)
		return
	}
	a.trackerSources[name] = source
	a.trackers[name] = cfg
}

// validateInsights quarantines trackers whose insight conditions do not compile
// so the dashboard never evaluates a broken program.
func (a *trackerAggregator) validateInsights(env *expr.Environment) {
	for name, cfg := range a.trackers {
		if err := validateInsightExpressions(cfg, env); err != nil {
			source := a.trackerSources[name]
			a.recordSkip(name, fmt.Sprintf("invalid insight expressions: %v", err), source)
			delete(a.trackerSources, name)
			delete(a.trackers, name)
		}
	}
}

func (a *trackerAggregator) recordSkip(name, reason string, sources ...string) {
	if skip, ok := a.trackerSkips[name]; ok {
		if skip.Reason == "" {
			skip.Reason = reason
		}
		for _, src := range sources {
			skip.Sources = appendUnique(skip.Sources, src)
		}
		return
	}
	skip := &DefinitionSkip{
		Kind:    "tracker",
		Name:    name,
		Reason:  reason,
		Sources: []string{},
	}
	for _, src := range sources {
		skip.Sources = appendUnique(skip.Sources, src)
	}
	a.trackerSkips[name] = skip
}

func (a *trackerAggregator) bundle() TrackerBundle {
	trackers := make(map[string]TrackerConfig, len(a.trackers))
	for name, cfg := range a.trackers {
		trackers[name] = cfg
	}
	skipped := make([]DefinitionSkip, 0, len(a.trackerSkips))
	for _, skip := range a.trackerSkips {
		sort.Strings(skip.Sources)
		skipped = append(skipped, *skip)
	}
	sort.Slice(skipped, func(i, j int) bool {
		return skipped[i].Name < skipped[j].Name
	})
	sources := make([]string, 0, len(a.sources))
	for src := range a.sources {
		if src != "" {
			sources = append(sources, src)
		}
	}
	sort.Strings(sources)
	return TrackerBundle{Trackers: trackers, Sources: sources, Skipped: skipped}
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	if !slices.Contains(list, value) {
		list = append(list, value)
	}
	return list
}

func buildTrackerBundle(ctx context.Context, inline map[string]TrackerConfig, trackersCfg TrackersConfig) (TrackerBundle, error) {
	agg := newTrackerAggregator()
	if len(inline) > 0 {
		agg.addDocument(trackerDocument{Trackers: inline}, inlineSourceName)
	}

	files, err := collectTrackerSources(ctx, trackersCfg)
	if err != nil {
		return TrackerBundle{}, err
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return TrackerBundle{}, ctx.Err()
		default:
		}
		doc, err := loadTrackerDocument(path)
		if err != nil {
			return TrackerBundle{}, err
		}
		agg.addDocument(doc, path)
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		return TrackerBundle{}, err
	}
	agg.validateInsights(env)
	return agg.bundle(), nil
}

func validateInsightExpressions(cfg TrackerConfig, env *expr.Environment) error {
	for idx, insight := range cfg.Insights {
		trimmed := strings.TrimSpace(insight.Condition)
		if trimmed == "" {
			continue
		}
		if _, err := env.Compile(trimmed); err != nil {
			return fmt.Errorf("insights[%d]: %w", idx, err)
		}
	}
	return nil
}

func collectTrackerSources(ctx context.Context, trackersCfg TrackersConfig) ([]string, error) {
	if trackersCfg.TrackersFile != "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := ensureFileExists(trackersCfg.TrackersFile); err != nil {
			return nil, err
		}
		return []string{trackersCfg.TrackersFile}, nil
	}
	if trackersCfg.TrackersFolder == "" {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	stat, err := os.Stat(trackersCfg.TrackersFolder)
	if err != nil {
		return nil, fmt.Errorf("config: trackers folder %s: %w", trackersCfg.TrackersFolder, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("config: trackers folder %s is not a directory", trackersCfg.TrackersFolder)
	}
	var files []string
	err = filepath.WalkDir(trackersCfg.TrackersFolder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isSupportedTrackersFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: walk trackers folder %s: %w", trackersCfg.TrackersFolder, err)
	}
	sort.Strings(files)
	return files, nil
}

func ensureFileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: trackers file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: trackers file %s: expected a file, found directory", path)
	}
	return nil
}

func loadTrackerDocument(path string) (trackerDocument, error) {
	parser, err := parserFor(path)
	if err != nil {
		return trackerDocument{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return trackerDocument{}, fmt.Errorf("config: load trackers from %s: %w", path, err)
	}
	var doc trackerDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return trackerDocument{}, fmt.Errorf("config: decode trackers from %s: %w", path, err)
	}
	if doc.Trackers == nil {
		doc.Trackers = make(map[string]TrackerConfig)
	}
	return doc, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported trackers file extension %s", ext)
	}
}

func isSupportedTrackersFile(path string) bool {
	_, err := parserFor(path)
	return err == nil
}

func cloneTrackerMap(in map[string]TrackerConfig) map[string]TrackerConfig {
	if len(in) == 0 {
		return nil
	}
	return maps.Clone(in)
}
