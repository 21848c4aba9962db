package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/utils"
)

// Entry is one catalog app and the file it came from. Source is empty for
// apps registered in code. Digest fingerprints the decoded manifest, so a
// reload can tell which apps changed.
type Entry struct {
	Manifest types.AppManifest `json:"manifest"`
	Source   string            `json:"source,omitempty"`
	Digest   string            `json:"digest"`
}

func newEntry(m types.AppManifest, source string) Entry {
	digest, err := utils.DefaultHasher().HashJSON(m)
	if err != nil {
		digest = ""
	}
	return Entry{Manifest: m, Source: source, Digest: digest}
}

// changed lists the app names added, removed or modified between two
// catalog generations, sorted
func changed(prev, next map[string]Entry) []string {
	var names []string
	for name, e := range next {
		if old, ok := prev[name]; !ok || old.Digest != e.Digest {
			names = append(names, name)
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stats describes the catalog
type Stats struct {
	Apps     int        `json:"apps"`
	Failed   int        `json:"failed"`
	Reloads  uint64     `json:"reloads"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
}

// Catalog holds the manifests that can be launched by name
type Catalog struct {
	logger  *zap.Logger
	events  events.Publisher
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	apps     map[string]Entry // Protected by mu
	failed   map[string]error
	reloads  uint64
	loadedAt time.Time
}

// New creates an empty catalog
func New(publisher events.Publisher, logger *zap.Logger) *Catalog {
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		logger: logger,
		events: publisher,
		apps:   make(map[string]Entry),
		failed: make(map[string]error),
	}
}

// WithMetrics adds metrics collection to the catalog
func (c *Catalog) WithMetrics(metrics *monitoring.Metrics) *Catalog {
	c.metrics = metrics
	return c
}

// Register adds or replaces an app declared in code
func (c *Catalog) Register(m types.AppManifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidManifest, err)
	}

	e := newEntry(m, "")
	c.mu.Lock()
	c.apps[m.Name] = e
	n := len(c.apps)
	c.mu.Unlock()

	c.metrics.SetCatalogApps(n)
	c.logger.Debug("App registered",
		zap.String("app", m.Name),
		zap.String("digest", utils.Short(e.Digest)))
	return nil
}

// Get returns the manifest for an app name
func (c *Catalog) Get(name string) (types.AppManifest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.apps[name]
	if !ok {
		return types.AppManifest{}, fmt.Errorf("app %q: %w", name, errs.ErrAppNotFound)
	}
	return e.Manifest, nil
}

// List returns every entry sorted by app name
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.apps))
	for _, e := range c.apps {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}

// Failures returns the files rejected by the last reload
func (c *Catalog) Failures() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.failed))
	for p, err := range c.failed {
		out[p] = err.Error()
	}
	return out
}

// Stats returns catalog counters
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Apps: len(c.apps), Failed: len(c.failed), Reloads: c.reloads}
	if !c.loadedAt.IsZero() {
		t := c.loadedAt
		s.LoadedAt = &t
	}
	return s
}

// Reload replaces every file-backed entry with what the loader finds now.
// Apps registered in code are kept unless a file declares the same name.
// Running sessions keep the manifest they were launched with.
func (c *Catalog) Reload(ctx context.Context, loader *Loader) error {
	res, err := loader.Load(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	next := make(map[string]Entry, len(res.Apps))
	for name, e := range c.apps {
		if e.Source == "" {
			next[name] = e
		}
	}
	for _, e := range res.Apps {
		next[e.Manifest.Name] = e
	}
	diff := changed(c.apps, next)
	c.apps = next
	c.failed = res.Failed
	c.reloads++
	c.loadedAt = time.Now()
	n := len(c.apps)
	c.mu.Unlock()

	c.metrics.SetCatalogApps(n)
	c.events.Publish(events.Info(events.CatalogReloaded, "", "", "catalog reloaded").
		With("apps", n).
		With("failed", len(res.Failed)).
		With("changed", diff))
	if len(diff) > 0 {
		c.logger.Info("Catalog changed", zap.Strings("apps", diff))
	}
	return nil
}
