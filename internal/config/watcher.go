package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file when it changes on disk and
// hands the parsed result to registered callbacks. Reloads are debounced
// because editors typically emit several write events per save.
type Watcher struct {
	logger  *zap.Logger
	path    string
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	callbacks []func(*Config)
	timer     *time.Timer
	running   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	debounce time.Duration
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(logger *zap.Logger, path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		logger:   logger,
		path:     path,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		debounce: time.Second,
	}, nil
}

// Start begins watching. onChange receives every successfully reloaded
// configuration; reload failures are logged and skipped.
func (w *Watcher) Start(onChange func(*Config)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("config watcher already running")
	}
	if onChange != nil {
		w.callbacks = append(w.callbacks, onChange)
	}

	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	// Watch the directory too: atomic saves replace the file inode.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("Failed to watch config directory",
			zap.String("dir", filepath.Dir(w.path)),
			zap.Error(err),
		)
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()

	w.logger.Info("Config watcher started", zap.String("path", w.path))
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.cancel()
	w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous config",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
	w.logger.Info("Config reloaded", zap.String("path", w.path))
}
