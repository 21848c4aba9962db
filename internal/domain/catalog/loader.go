package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// LoadResult is the outcome of reading a manifest directory
type LoadResult struct {
	Apps []Entry
	// Failed maps each rejected file to the reason
	Failed map[string]error
}

// Loader reads app manifests from a directory tree
type Loader struct {
	dir    string
	logger *zap.Logger
}

// NewLoader creates a loader for dir
func NewLoader(dir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{dir: dir, logger: logger}
}

// Dir returns the directory the loader reads
func (l *Loader) Dir() string {
	return l.dir
}

// Load walks the directory and decodes every manifest file. Hidden files
// and directories are skipped. A bad file never fails the whole load; it
// is reported in Failed. When two files declare the same app, the one
// whose path sorts first wins. A missing directory yields an empty result.
func (l *Loader) Load(ctx context.Context) (LoadResult, error) {
	res := LoadResult{Failed: make(map[string]error)}

	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		l.logger.Warn("Catalog directory not found", zap.String("dir", l.dir))
		return res, nil
	}

	var (
		mu    sync.Mutex
		paths []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, l.dir, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && p != l.dir {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := FormatOf(p); ok {
			mu.Lock()
			paths = append(paths, p)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("walk %s: %w", l.dir, err)
	}
	sort.Strings(paths)

	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		m, err := l.LoadFile(p)
		if err != nil {
			res.Failed[p] = err
			l.logger.Warn("Manifest rejected", zap.String("path", p), zap.Error(err))
			continue
		}
		if first, dup := seen[m.Name]; dup {
			res.Failed[p] = fmt.Errorf("app %s already declared in %s", m.Name, first)
			l.logger.Warn("Duplicate manifest", zap.String("path", p), zap.String("app", m.Name))
			continue
		}
		seen[m.Name] = p
		res.Apps = append(res.Apps, newEntry(m, p))
	}

	l.logger.Info("Catalog loaded",
		zap.String("dir", l.dir),
		zap.Int("loaded", len(res.Apps)),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

// LoadFile decodes a single manifest file
func (l *Loader) LoadFile(path string) (types.AppManifest, error) {
	format, ok := FormatOf(path)
	if !ok {
		return types.AppManifest{}, fmt.Errorf("%s: not a manifest file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.AppManifest{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return Decode(format, data)
}
