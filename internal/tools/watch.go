package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sweagent-go/sweagent/pkg/swe"
)

const bundleManifestName = "bundle.yaml"

// LoadBundleDir reads and validates the bundle.yaml manifest under dir,
// using the directory's base name as the bundle name when the manifest
// doesn't declare one explicitly.
func LoadBundleDir(dir string) (*swe.ToolBundle, error) {
	manifest, err := os.ReadFile(filepath.Join(dir, bundleManifestName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Join(dir, bundleManifestName), err)
	}
	bundle, err := ParseBundle(filepath.Base(dir), manifest)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// LoadBundleDirs loads every bundle directory in dirs, in order, returning
// the first error encountered. Used at startup before any watching begins.
func LoadBundleDirs(reg *Registry, dirs []string) error {
	for _, dir := range dirs {
		bundle, err := LoadBundleDir(dir)
		if err != nil {
			return fmt.Errorf("load bundle dir %s: %w", dir, err)
		}
		if err := reg.LoadBundle(bundle); err != nil {
			return err
		}
	}
	return nil
}

// Watcher hot-reloads a set of bundle directories into a Registry whenever
// their bundle.yaml (or any file alongside it) changes, debouncing bursts of
// filesystem events the way editors and `git checkout` produce them.
type Watcher struct {
	reg      *Registry
	dirs     []string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a Watcher for the given bundle directories. debounce <=
// 0 defaults to 250ms, matching the burst of events a single save produces.
func NewWatcher(reg *Registry, dirs []string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{reg: reg, dirs: dirs, debounce: debounce, logger: logger}
}

// Start begins watching. It is a no-op if already started.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create bundle watcher: %w", err)
	}
	for _, dir := range w.dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			w.mu.Unlock()
			return fmt.Errorf("watch bundle dir %s: %w", dir, err)
		}
	}
	w.watcher = fw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watchCtx)
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if fw != nil {
		_ = fw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}

	pending := make(map[string]*time.Timer)
	var mu sync.Mutex
	reload := func(dir string) {
		bundle, err := LoadBundleDir(dir)
		if err != nil {
			w.logger.Warn("bundle reload failed, keeping previous version", "dir", dir, "error", err)
			return
		}
		if err := w.reg.ReplaceBundle(bundle); err != nil {
			w.logger.Warn("bundle reload rejected", "dir", dir, "error", err)
			return
		}
		w.logger.Info("bundle reloaded", "dir", dir, "bundle", bundle.Name)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			dir := filepath.Dir(event.Name)
			mu.Lock()
			if t, exists := pending[dir]; exists {
				t.Stop()
			}
			pending[dir] = time.AfterFunc(w.debounce, func() { reload(dir) })
			mu.Unlock()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("bundle watch error", "error", err)
		}
	}
}
