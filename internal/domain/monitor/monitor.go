package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// ErrNoSample is returned by a sampler with nothing to report for a session
var ErrNoSample = errors.New("no usage sample")

// Sampler reads the current resource usage of one session
type Sampler interface {
	Sample(ctx context.Context, info types.SessionInfo) (types.Usage, error)
}

// SamplerFunc adapts a function to Sampler
type SamplerFunc func(ctx context.Context, info types.SessionInfo) (types.Usage, error)

// Sample implements Sampler
func (f SamplerFunc) Sample(ctx context.Context, info types.SessionInfo) (types.Usage, error) {
	return f(ctx, info)
}

// Sessions lists the sessions to sample. The session registry satisfies it.
type Sessions interface {
	Live() []types.SessionInfo
}

// Config sets the sampling cadence and ceilings. A zero ceiling disables
// that check.
type Config struct {
	Interval        time.Duration
	Concurrency     int
	MemoryCeiling   uint64
	CPUCeiling      float64
	AggregateMemory uint64
	AggregateCPU    float64
	// Window is the number of samples kept per session for Summary
	Window int
}

// DefaultConfig returns the monitor defaults
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Second,
		Concurrency:     8,
		MemoryCeiling:   256 << 20,
		CPUCeiling:      80,
		AggregateMemory: 2 << 30,
		AggregateCPU:    400,
		Window:          60,
	}
}

const (
	resourceMemory = "memory"
	resourceCPU    = "cpu"
)

type track struct {
	appName string
	samples []types.Usage // oldest first, at most Window
	memOver bool
	cpuOver bool
}

func (t *track) last() types.Usage {
	if len(t.samples) == 0 {
		return types.Usage{}
	}
	return t.samples[len(t.samples)-1]
}

// Monitor periodically samples live sessions and raises advisory events
// when usage crosses a ceiling. It never acts on a session.
type Monitor struct {
	cfg      Config
	sessions Sessions
	sampler  Sampler
	events   events.Publisher
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu           sync.RWMutex
	tracks       map[id.SessionID]*track // Protected by mu
	aggMemOver   bool
	aggCPUOver   bool
	aggregate    types.Usage
	sweeps       uint64
	lastSweep    time.Time
	sampleErrors uint64
}

// New creates a monitor
func New(cfg Config, sessions Sessions, sampler Sampler, publisher events.Publisher, logger *zap.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		cfg:      cfg,
		sessions: sessions,
		sampler:  sampler,
		events:   publisher,
		logger:   logger,
		tracks:   make(map[id.SessionID]*track),
	}
}

// WithMetrics adds metrics collection to the monitor
func (m *Monitor) WithMetrics(metrics *monitoring.Metrics) *Monitor {
	m.metrics = metrics
	return m
}

// Run sweeps every Interval until ctx ends
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("Resource monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Int("concurrency", m.cfg.Concurrency))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Resource monitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

type sample struct {
	info    types.SessionInfo
	usage   types.Usage
	ok      bool
	skipped bool
}

// Sweep samples every live session once and evaluates the ceilings.
// Sampling errors are logged and the session is skipped for this round.
// ErrNoSample skips the session without counting an error.
func (m *Monitor) Sweep(ctx context.Context) {
	live := m.sessions.Live()
	results := make([]sample, len(live))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, info := range live {
		g.Go(func() error {
			usage, err := m.sampler.Sample(gctx, info)
			if errors.Is(err, ErrNoSample) {
				results[i] = sample{info: info, skipped: true}
				return nil
			}
			if err != nil {
				m.logger.Debug("Sample failed",
					zap.String("session_id", info.ID.String()),
					zap.Error(err))
				results[i] = sample{info: info}
				return nil
			}
			if usage.SampledAt.IsZero() {
				usage.SampledAt = time.Now()
			}
			results[i] = sample{info: info, usage: usage, ok: true}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[id.SessionID]struct{}, len(results))
	for _, r := range results {
		seen[r.info.ID] = struct{}{}
		if !r.ok {
			if !r.skipped {
				m.sampleErrors++
			}
			continue
		}
		m.recordLocked(r.info, r.usage)
	}
	for sid, t := range m.tracks {
		if _, ok := seen[sid]; !ok {
			delete(m.tracks, sid)
			m.metrics.ForgetSession(sid.String(), t.appName)
		}
	}
	m.evaluateAggregateLocked()

	m.sweeps++
	m.lastSweep = time.Now()
}

// Record stores a usage sample pushed by a surface outside the sweep
func (m *Monitor) Record(info types.SessionInfo, usage types.Usage) {
	if usage.SampledAt.IsZero() {
		usage.SampledAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recordLocked(info, usage)
	m.evaluateAggregateLocked()
}

func (m *Monitor) recordLocked(info types.SessionInfo, usage types.Usage) {
	t, ok := m.tracks[info.ID]
	if !ok {
		t = &track{appName: info.AppName}
		m.tracks[info.ID] = t
	}
	t.samples = append(t.samples, usage)
	if len(t.samples) > m.cfg.Window {
		t.samples = t.samples[len(t.samples)-m.cfg.Window:]
	}
	m.metrics.SetSessionUsage(info.ID.String(), info.AppName, usage.MemoryBytes, usage.CPUPercent)

	if m.cfg.MemoryCeiling > 0 {
		over := usage.MemoryBytes > m.cfg.MemoryCeiling
		m.edge(info, resourceMemory, &t.memOver, over, float64(usage.MemoryBytes), float64(m.cfg.MemoryCeiling))
	}
	if m.cfg.CPUCeiling > 0 {
		over := usage.CPUPercent > m.cfg.CPUCeiling
		m.edge(info, resourceCPU, &t.cpuOver, over, usage.CPUPercent, m.cfg.CPUCeiling)
	}
}

// edge publishes only when a session crosses its ceiling in either direction
func (m *Monitor) edge(info types.SessionInfo, resource string, state *bool, over bool, value, ceiling float64) {
	if over == *state {
		return
	}
	*state = over

	if over {
		m.metrics.RecordResourceAdvisory(string(events.CeilingExceeded))
		m.events.Publish(events.Warning(events.CeilingExceeded, info.ID, info.AppName, resource+" above ceiling").
			With("resource", resource).
			With("value", value).
			With("ceiling", ceiling))
		m.logger.Warn("Session above resource ceiling",
			zap.String("session_id", info.ID.String()),
			zap.String("app", info.AppName),
			zap.String("resource", resource),
			zap.Float64("value", value),
			zap.Float64("ceiling", ceiling))
		return
	}

	m.metrics.RecordResourceAdvisory(string(events.CeilingRecovered))
	m.events.Publish(events.Info(events.CeilingRecovered, info.ID, info.AppName, resource+" back under ceiling").
		With("resource", resource).
		With("value", value))
}

func (m *Monitor) evaluateAggregateLocked() {
	var agg types.Usage
	for _, t := range m.tracks {
		last := t.last()
		agg.MemoryBytes += last.MemoryBytes
		agg.CPUPercent += last.CPUPercent
	}
	agg.SampledAt = time.Now()
	m.aggregate = agg

	if m.cfg.AggregateMemory > 0 {
		m.aggregateEdge(resourceMemory, &m.aggMemOver, agg.MemoryBytes > m.cfg.AggregateMemory,
			float64(agg.MemoryBytes), float64(m.cfg.AggregateMemory))
	}
	if m.cfg.AggregateCPU > 0 {
		m.aggregateEdge(resourceCPU, &m.aggCPUOver, agg.CPUPercent > m.cfg.AggregateCPU,
			agg.CPUPercent, m.cfg.AggregateCPU)
	}
}

func (m *Monitor) aggregateEdge(resource string, state *bool, over bool, value, ceiling float64) {
	if over == *state {
		return
	}
	*state = over

	if over {
		m.metrics.RecordResourceAdvisory(string(events.AggregateExceeded))
		m.events.Publish(events.Warning(events.AggregateExceeded, "", "", "aggregate "+resource+" above ceiling").
			With("resource", resource).
			With("value", value).
			With("ceiling", ceiling))
		m.logger.Warn("Aggregate usage above ceiling",
			zap.String("resource", resource),
			zap.Float64("value", value),
			zap.Float64("ceiling", ceiling))
		return
	}

	m.metrics.RecordResourceAdvisory(string(events.CeilingRecovered))
	m.events.Publish(events.Info(events.CeilingRecovered, "", "", "aggregate "+resource+" back under ceiling").
		With("resource", resource).
		With("scope", "aggregate").
		With("value", value))
}

// Last returns the most recent sample of a session
func (m *Monitor) Last(sessionID id.SessionID) (types.Usage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tracks[sessionID]
	if !ok || len(t.samples) == 0 {
		return types.Usage{}, false
	}
	return t.last(), true
}

// Summary returns per-session statistics over the retained samples
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		Sessions:     make([]SessionSummary, 0, len(m.tracks)),
		Aggregate:    m.aggregate,
		OverMemory:   m.aggMemOver,
		OverCPU:      m.aggCPUOver,
		Sweeps:       m.sweeps,
		SampleErrors: m.sampleErrors,
	}
	if !m.lastSweep.IsZero() {
		last := m.lastSweep
		s.LastSweep = &last
	}
	for sid, t := range m.tracks {
		s.Sessions = append(s.Sessions, summarize(sid, t))
	}
	sort.Slice(s.Sessions, func(i, j int) bool { return s.Sessions[i].SessionID < s.Sessions[j].SessionID })
	return s
}
