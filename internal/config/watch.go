package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 25 * time.Millisecond

// TrackersWatcher monitors the configured tracker catalog source and invokes a
// callback with the rebuilt bundle whenever definitions change.
type TrackersWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *TrackersWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchTrackers builds the tracker bundle once, hands it to onChange, then
// rebuilds it after every relevant filesystem change (debounced). cfg should
// come from Loader.Load so inline trackers are preserved across reloads.
func (l *Loader) WatchTrackers(ctx context.Context, cfg Config, onChange func(TrackerBundle), onError func(error)) (*TrackersWatcher, error) {
	if onChange == nil {
		return nil, errors.New("config: watch trackers requires a change callback")
	}
	source := cfg.Server.Trackers
	if source.TrackersFile == "" && source.TrackersFolder == "" {
		return nil, errors.New("config: no trackers source configured for watching")
	}
	report := func(err error) {
		if onError != nil && err != nil {
			onError(err)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch trackers: %w", err)
	}

	inline := cloneTrackerMap(cfg.InlineTrackers)
	bundle, err := buildTrackerBundle(watchCtx, inline, source)
	if err != nil {
		report(closeWatcher(fsw))
		cancel()
		return nil, err
	}
	onChange(bundle)

	tw := &trackerWatch{
		fsw:    fsw,
		dirs:   make(map[string]struct{}),
		report: report,
	}
	tw.register(source)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { report(closeWatcher(fsw)) }()
		tw.loop(watchCtx, func() {
			bundle, err := buildTrackerBundle(watchCtx, inline, source)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					report(err)
				}
				return
			}
			onChange(bundle)
		})
	}()

	return &TrackersWatcher{cancel: cancel, done: done}, nil
}

type trackerWatch struct {
	fsw        *fsnotify.Watcher
	dirs       map[string]struct{}
	targetFile string
	report     func(error)
}

func closeWatcher(fsw *fsnotify.Watcher) error {
	if err := fsw.Close(); err != nil {
		return fmt.Errorf("config: watch trackers close: %w", err)
	}
	return nil
}

// register adds the directories to watch. A single file is watched through its
// parent directory so editors that replace the file are still observed.
func (w *trackerWatch) register(source TrackersConfig) {
	if source.TrackersFile != "" {
		resolved := source.TrackersFile
		if abs, err := filepath.Abs(resolved); err == nil {
			resolved = abs
		} else {
			w.report(fmt.Errorf("config: resolve trackers file: %w", err))
		}
		w.targetFile = filepath.Clean(resolved)
		w.addDir(filepath.Dir(w.targetFile))
		return
	}

	root, err := filepath.Abs(source.TrackersFolder)
	if err != nil {
		w.report(fmt.Errorf("config: resolve trackers folder: %w", err))
		root = source.TrackersFolder
	}
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.report(fmt.Errorf("config: walk watcher %s: %w", path, err))
			return nil
		}
		if d.IsDir() {
			w.addDir(path)
		}
		return nil
	})
	if walkErr != nil {
		w.report(fmt.Errorf("config: traverse watcher %s: %w", root, walkErr))
	}
}

func (w *trackerWatch) addDir(dir string) {
	dir = filepath.Clean(dir)
	if _, ok := w.dirs[dir]; ok {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.report(fmt.Errorf("config: watch add %s: %w", dir, err))
		return
	}
	w.dirs[dir] = struct{}{}
}

// relevant reports whether event should trigger a reload, registering newly
// created directories as a side effect.
func (w *trackerWatch) relevant(event fsnotify.Event) bool {
	const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	name := filepath.Clean(event.Name)

	if w.targetFile != "" {
		if name != w.targetFile {
			return false
		}
		if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.report(fmt.Errorf("config: trackers file %s removed", w.targetFile))
		}
		return event.Op&changeOps != 0
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			w.addDir(name)
			return false
		}
	}
	return isSupportedTrackersFile(name) && event.Op&changeOps != 0
}

func (w *trackerWatch) loop(ctx context.Context, reload func()) {
	timer := time.NewTimer(reloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-pending:
			pending = nil
			reload()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if pending != nil && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
			pending = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.report(fmt.Errorf("config: watch error: %w", err))
		}
	}
}
