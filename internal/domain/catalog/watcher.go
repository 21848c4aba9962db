package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a catalog when manifest files under the loader's
// directory change. Bursts of events within the debounce window cause a
// single reload.
type Watcher struct {
	catalog  *Catalog
	loader   *Loader
	logger   *zap.Logger
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewWatcher watches the loader's directory and its subdirectories
func NewWatcher(catalog *Catalog, loader *Loader, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog watch: %w", err)
	}

	w := &Watcher{
		catalog:  catalog,
		loader:   loader,
		logger:   logger,
		debounce: debounce,
		fsw:      fsw,
	}
	if err := w.addTree(loader.Dir()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	var mu sync.Mutex
	var dirs []string
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != root {
			return fs.SkipDir
		}
		mu.Lock()
		dirs = append(dirs, p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog watch %s: %w", root, err)
	}

	for _, dir := range dirs {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("catalog watch %s: %w", dir, err)
		}
	}
	return nil
}

// Run processes file events until ctx ends, then releases the watcher
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	w.logger.Info("Catalog watcher started", zap.String("dir", w.loader.Dir()))
	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("catalog watch: event channel closed")
			}
			if evt.Has(fsnotify.Create) {
				// new subdirectories join the watch
				_ = w.addTree(evt.Name)
			}
			if _, manifest := FormatOf(evt.Name); !manifest && !evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}

		case <-reload:
			if err := w.catalog.Reload(ctx, w.loader); err != nil {
				w.logger.Warn("Catalog reload failed", zap.Error(err))
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("catalog watch: error channel closed")
			}
			w.logger.Warn("Catalog watch error", zap.Error(err))
		}
	}
}
