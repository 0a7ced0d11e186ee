// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/resmgr/leasecore/internal/log"
)

// Holder holds the current configuration behind an atomic pointer and
// optionally hot-reloads it from the backing file.
type Holder struct {
	loader   *Loader
	current  atomic.Pointer[AppConfig]

	watchMu sync.Mutex
	watcher *fsnotify.Watcher

	listenersMu sync.RWMutex
	listeners   []chan<- AppConfig
}

// NewHolder loads the initial configuration and wraps it in a Holder.
func NewHolder(loader *Loader) (*Holder, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	h := &Holder{loader: loader}
	h.current.Store(&cfg)
	return h, nil
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() AppConfig {
	return *h.current.Load()
}

// Reload re-resolves configuration from file and environment. If
// validation fails the previous configuration is kept and an error is
// returned; the swap is all-or-nothing.
func (h *Holder) Reload() error {
	next, err := h.loader.Load()
	if err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	h.current.Store(&next)
	h.notify(next)
	return nil
}

// RegisterListener registers a channel to receive the new config on
// every successful reload. Sends are non-blocking: a full channel
// just misses that notification.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg AppConfig) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			log.L().Warn().Msg("config reload listener channel full, dropping notification")
		}
	}
}

// WatchFile starts an fsnotify watcher over the config file's
// directory and reloads on every write/create/rename of that file,
// debounced by 500ms to coalesce editor save bursts. A no-op if path
// is empty.
func (h *Holder) WatchFile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch dir: %w", err)
	}

	h.watchMu.Lock()
	h.watcher = watcher
	h.watchMu.Unlock()

	go h.watchLoop(ctx, watcher, base)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, base string) {
	logger := log.WithComponent("config")
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				if err := h.Reload(); err != nil {
					logger.Error().Err(err).Msg("config auto-reload failed, keeping previous configuration")
				} else {
					logger.Info().Msg("configuration reloaded")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

// Stop closes the file watcher, if running.
func (h *Holder) Stop() {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}
