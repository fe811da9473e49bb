// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/teradata-labs/warp/internal/log"
	"github.com/teradata-labs/warp/pkg/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// reloadDebounce coalesces rapid editor-save event bursts per file.
const reloadDebounce = 500 * time.Millisecond

// Library holds named agent presets loaded from a YAML directory. Presets
// are cached and can be hot-reloaded while a session is running.
type Library struct {
	dir    string
	logger *zap.Logger

	mu      sync.RWMutex
	presets map[string]types.AgentPreset

	watcher  *fsnotify.Watcher
	debounce map[string]*time.Timer
	debMu    sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewLibrary loads every preset under dir (non-recursive, *.yaml and *.yml).
func NewLibrary(dir string, logger *zap.Logger) (*Library, error) {
	if logger == nil {
		logger = log.Logger()
	}
	lib := &Library{
		dir:      dir,
		logger:   logger,
		presets:  make(map[string]types.AgentPreset),
		debounce: make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if err := lib.loadAll(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Get returns a preset by name.
func (lib *Library) Get(name string) (types.AgentPreset, bool) {
	lib.mu.RLock()
	defer lib.mu.RUnlock()
	preset, ok := lib.presets[name]
	return preset, ok
}

// Names returns the loaded preset names, sorted.
func (lib *Library) Names() []string {
	lib.mu.RLock()
	defer lib.mu.RUnlock()
	names := make([]string, 0, len(lib.presets))
	for name := range lib.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loadAll reads the whole directory into a fresh map and swaps it in.
func (lib *Library) loadAll() error {
	entries, err := os.ReadDir(lib.dir)
	if err != nil {
		return fmt.Errorf("read preset dir: %w", err)
	}
	loaded := make(map[string]types.AgentPreset)
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(lib.dir, entry.Name())
		preset, err := loadPresetFile(path)
		if err != nil {
			lib.logger.Warn("skipping invalid preset",
				zap.String("file", path), zap.Error(err))
			continue
		}
		loaded[preset.Name] = preset
	}
	lib.mu.Lock()
	lib.presets = loaded
	lib.mu.Unlock()
	return nil
}

// Watch starts hot-reloading the preset directory. Changed files are
// re-parsed after a debounce; invalid files keep the previous version.
func (lib *Library) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(lib.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch preset dir: %w", err)
	}
	lib.watcher = watcher
	go lib.watchLoop()
	lib.logger.Debug("preset hot-reload started", zap.String("dir", lib.dir))
	return nil
}

// Stop ends hot-reloading. Safe to call more than once.
func (lib *Library) Stop() {
	lib.stopOnce.Do(func() {
		close(lib.stopCh)
		if lib.watcher != nil {
			_ = lib.watcher.Close()
			<-lib.doneCh
		}
	})
}

func (lib *Library) watchLoop() {
	defer close(lib.doneCh)
	for {
		select {
		case event, ok := <-lib.watcher.Events:
			if !ok {
				return
			}
			lib.handleEvent(event)
		case err, ok := <-lib.watcher.Errors:
			if !ok {
				return
			}
			lib.logger.Warn("preset watcher error", zap.Error(err))
		case <-lib.stopCh:
			return
		}
	}
}

func (lib *Library) handleEvent(event fsnotify.Event) {
	if !isYAML(event.Name) || strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}
	lib.debMu.Lock()
	defer lib.debMu.Unlock()
	if timer, ok := lib.debounce[event.Name]; ok {
		timer.Stop()
	}
	path := event.Name
	removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	lib.debounce[path] = time.AfterFunc(reloadDebounce, func() {
		lib.applyChange(path, removed)
	})
}

func (lib *Library) applyChange(path string, removed bool) {
	if removed {
		// A rename may be an editor save; reload everything to resolve.
		if err := lib.loadAll(); err != nil {
			lib.logger.Warn("preset reload failed", zap.Error(err))
		}
		return
	}
	preset, err := loadPresetFile(path)
	if err != nil {
		lib.logger.Warn("preset change rejected, keeping previous version",
			zap.String("file", path), zap.Error(err))
		return
	}
	lib.mu.Lock()
	lib.presets[preset.Name] = preset
	lib.mu.Unlock()
	lib.logger.Info("preset reloaded",
		zap.String("preset", preset.Name), zap.String("file", path))
}

func loadPresetFile(path string) (types.AgentPreset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.AgentPreset{}, err
	}
	var preset types.AgentPreset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return types.AgentPreset{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if preset.Name == "" {
		return types.AgentPreset{}, fmt.Errorf("%s: preset has no name", filepath.Base(path))
	}
	if preset.Thinking != "" && !preset.Thinking.Valid() {
		return types.AgentPreset{}, fmt.Errorf("%s: unknown thinking level %q", filepath.Base(path), preset.Thinking)
	}
	return preset, nil
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
