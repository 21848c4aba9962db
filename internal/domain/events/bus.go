// Package events is the host's in-process event feed: lifecycle changes,
// warnings and advisories, fanned out to subscribers without blocking the
// publisher.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

// Config sizes the bus
type Config struct {
	// History is how many recent events Recent can return
	History int
	// SubscriberBuffer is the default channel size for Subscribe
	SubscriberBuffer int
}

// Filter narrows a Recent query
type Filter struct {
	SessionID id.SessionID
	Level     Level
	Kind      Kind
	Limit     int
}

func (f Filter) match(e Event) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Bus fans events out to subscribers and keeps a short history
type Bus struct {
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*subscriber // Protected by mu
	nextID uint64
	ring   []Event
	head   int
	count  int

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates an event bus
func NewBus(cfg Config, logger *zap.Logger) *Bus {
	if cfg.History <= 0 {
		cfg.History = 500
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger: logger,
		buffer: cfg.SubscriberBuffer,
		subs:   make(map[uint64]*subscriber),
		ring:   make([]Event, cfg.History),
	}
}

// Publish records e and offers it to every matching subscriber. Slow
// subscribers miss events rather than stall the publisher.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = id.NewEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.ring[b.head] = e
	b.head = (b.head + 1) % len(b.ring)
	if b.count < len(b.ring) {
		b.count++
	}
	for _, s := range b.subs {
		if !s.filter.match(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.Unlock()

	b.published.Add(1)

	if e.Level == LevelWarning {
		b.logger.Warn(e.Message,
			zap.String("kind", string(e.Kind)),
			zap.String("session_id", e.SessionID.String()),
			zap.String("app", e.AppName))
	} else {
		b.logger.Debug(e.Message,
			zap.String("kind", string(e.Kind)),
			zap.String("session_id", e.SessionID.String()))
	}
}

// Subscribe returns a channel of events matching filter and a function
// that unsubscribes and closes the channel.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, b.buffer), filter: filter}

	b.mu.Lock()
	b.nextID++
	key := b.nextID
	b.subs[key] = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, key)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Listen calls fn for every matching event until ctx ends. A panicking fn
// is logged and the listener keeps going. The returned channel closes
// once the listener has stopped.
func (b *Bus) Listen(ctx context.Context, filter Filter, fn func(Event)) <-chan struct{} {
	ch, cancel := b.Subscribe(filter)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				b.deliver(fn, e)
			}
		}
	}()
	return done
}

func (b *Bus) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event listener panicked",
				zap.String("kind", string(e.Kind)),
				zap.Any("panic", r))
		}
	}()
	fn(e)
}

// Recent returns recorded events, newest first
func (b *Bus) Recent(filter Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, b.count)
	for i := 1; i <= b.count; i++ {
		e := b.ring[(b.head-i+len(b.ring))%len(b.ring)]
		if !filter.match(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Stats reports how many events were published and how many deliveries
// to slow subscribers were dropped
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}
