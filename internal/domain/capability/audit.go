package capability

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// AuditSink receives audit entries from the log's writer goroutine
type AuditSink interface {
	WriteAudit(entry types.AuditEntry) error
}

// AuditConfig sizes the audit log
type AuditConfig struct {
	// Buffer is the number of entries queued before new ones are dropped
	Buffer int
	// Retain is the number of recent entries kept for queries
	Retain int
}

// DefaultAuditConfig returns the audit log sizing used by the host
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Buffer: 1024,
		Retain: 1000,
	}
}

// AuditFilter narrows an Entries query
type AuditFilter struct {
	SessionID  id.SessionID
	DeniedOnly bool
	Limit      int
}

// AuditLog is an append-only record of capability checks. Append never
// blocks: entries are queued to a single writer goroutine and dropped,
// with a count kept, when the queue is full.
type AuditLog struct {
	logger *zap.Logger
	sinks  []AuditSink

	queue  chan types.AuditEntry
	qmu    sync.RWMutex // Guards closed against concurrent sends
	closed bool
	done   chan struct{}

	mu    sync.RWMutex
	ring  []types.AuditEntry // Protected by mu
	next  int
	count int

	dropped atomic.Uint64
	written atomic.Uint64
}

// NewAuditLog starts an audit log writing to the given sinks
func NewAuditLog(cfg AuditConfig, logger *zap.Logger, sinks ...AuditSink) *AuditLog {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultAuditConfig().Buffer
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultAuditConfig().Retain
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &AuditLog{
		logger: logger,
		sinks:  sinks,
		queue:  make(chan types.AuditEntry, cfg.Buffer),
		done:   make(chan struct{}),
		ring:   make([]types.AuditEntry, cfg.Retain),
	}
	go l.run()
	return l
}

// Append queues an entry without blocking
func (l *AuditLog) Append(entry types.AuditEntry) {
	l.qmu.RLock()
	defer l.qmu.RUnlock()

	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- entry:
	default:
		l.dropped.Add(1)
	}
}

func (l *AuditLog) run() {
	defer close(l.done)

	for entry := range l.queue {
		l.mu.Lock()
		l.ring[l.next] = entry
		l.next = (l.next + 1) % len(l.ring)
		if l.count < len(l.ring) {
			l.count++
		}
		l.mu.Unlock()

		for _, sink := range l.sinks {
			if err := sink.WriteAudit(entry); err != nil {
				l.logger.Warn("audit sink write failed", zap.Error(err))
			}
		}
		l.written.Add(1)
	}
}

// Entries returns retained entries, newest first
func (l *AuditLog) Entries(filter AuditFilter) []types.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.AuditEntry, 0, l.count)
	for i := 1; i <= l.count; i++ {
		e := l.ring[(l.next-i+len(l.ring))%len(l.ring)]
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.DeniedOnly && e.Allowed {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Dropped returns how many entries were discarded because the queue was full
func (l *AuditLog) Dropped() uint64 {
	return l.dropped.Load()
}

// Written returns how many entries the writer has processed
func (l *AuditLog) Written() uint64 {
	return l.written.Load()
}

// Close stops accepting entries and waits for queued ones to be written
func (l *AuditLog) Close() {
	l.qmu.Lock()
	if l.closed {
		l.qmu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	close(l.queue)
	l.qmu.Unlock()

	<-l.done
}

// LoggerSink writes audit entries to a zap logger at debug level, denials at info
type LoggerSink struct {
	Logger *zap.Logger
}

// WriteAudit implements AuditSink
func (s LoggerSink) WriteAudit(e types.AuditEntry) error {
	fields := []zap.Field{
		zap.String("session_id", e.SessionID.String()),
		zap.String("capability", e.Category+":"+e.Action),
		zap.String("resource", e.Resource),
		zap.Bool("allowed", e.Allowed),
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.Allowed {
		s.Logger.Debug("capability check", fields...)
	} else {
		s.Logger.Info("capability denied", fields...)
	}
	return nil
}
