// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long Watch waits after the last change before reloading.
const DefaultDebounce = 200 * time.Millisecond

// =============================================================================
// STORE
// =============================================================================

// Store holds the live configuration loaded from a single file.
type Store struct {
	path     string
	logger   zerolog.Logger
	debounce time.Duration

	mu  sync.RWMutex
	cfg *Config

	reloads   int
	onReload  []func(*Config)
	overrides []func(*Config)
	reloadErr error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for reload events.
func WithStoreLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) StoreOption {
	return func(s *Store) { s.debounce = d }
}

// NewStore loads path (or the default config path when empty) into a Store.
func NewStore(path string, opts ...StoreOption) (*Store, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	s := &Store{
		path:     path,
		logger:   zerolog.Nop(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg
	return s, nil
}

// NewStaticStore wraps an already loaded configuration. Reload is a no-op
// unless the store has a path.
func NewStaticStore(cfg *Config) *Store {
	return &Store{cfg: cfg, logger: zerolog.Nop(), debounce: DefaultDebounce}
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the current configuration.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// APIKey returns the current API key. It is read on every call.
func (s *Store) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.API.Key
}

// Override layers fn over the loaded configuration, now and after every
// reload. Overrides are never saved; the CLI uses them for flags such as
// --model.
func (s *Store) Override(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = append(s.overrides, fn)
	fn(s.cfg)
}

// Update applies fn to the configuration as stored on disk, without
// environment overrides, saves the result and reloads. A store without a
// path is updated in memory only.
func (s *Store) Update(fn func(*Config) error) error {
	if s.path == "" {
		s.mu.Lock()
		next := s.cfg.Clone()
		if err := fn(next); err != nil {
			s.mu.Unlock()
			return err
		}
		if err := next.Validate(); err != nil {
			s.mu.Unlock()
			return err
		}
		s.cfg = next
		hooks := append([]func(*Config){}, s.onReload...)
		s.mu.Unlock()
		for _, h := range hooks {
			h(next.Clone())
		}
		return nil
	}

	onDisk, err := readFile(s.path)
	if err != nil {
		return err
	}
	if err := fn(onDisk); err != nil {
		return err
	}
	onDisk.SetDefaults()
	if err := onDisk.Validate(); err != nil {
		return err
	}
	if err := SaveTOML(onDisk, s.path); err != nil {
		return err
	}
	return s.Reload()
}

// OnReload registers fn to be called with the new configuration after each
// successful reload or update.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Reload reads the file again. An invalid file leaves the current
// configuration in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := LoadFromPath(s.path)

	s.mu.Lock()
	if err != nil {
		s.reloadErr = err
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("path", s.path).Msg("config reload failed, keeping previous")
		return err
	}
	for _, o := range s.overrides {
		o(cfg)
	}
	s.cfg = cfg
	s.reloads++
	s.reloadErr = nil
	hooks := append([]func(*Config){}, s.onReload...)
	s.mu.Unlock()

	s.logger.Info().Str("path", s.path).Msg("config reloaded")
	for _, h := range hooks {
		h(cfg.Clone())
	}
	return nil
}

// Reloads returns the number of successful reloads.
func (s *Store) Reloads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reloads
}

// LastError returns the error from the most recent failed reload, if any.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reloadErr
}

// readFile decodes path over the defaults without environment overrides.
// A missing file yields defaults.
func readFile(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// FILE WATCHING
// =============================================================================

// Watch reloads the store whenever its file is written, created or renamed
// into place. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so atomic
// rename-based saves are seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			_ = s.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
