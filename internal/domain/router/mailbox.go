package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Mailbox is a bounded FIFO of undelivered messages for one session. When
// full, a push evicts the oldest message instead of blocking the sender.
type Mailbox struct {
	owner    id.SessionID
	appName  string
	capacity int

	mu          sync.Mutex
	queue       []types.Message // Protected by mu
	closed      bool
	consecutive uint64 // overflows since the last push that fit
	overflows   uint64
	delivered   uint64

	ready chan struct{}
}

func newMailbox(owner id.SessionID, appName string, capacity int) *Mailbox {
	return &Mailbox{
		owner:    owner,
		appName:  appName,
		capacity: capacity,
		queue:    make([]types.Message, 0, min(capacity, 16)),
		ready:    make(chan struct{}, 1),
	}
}

type pushResult struct {
	evicted     *types.Message
	consecutive uint64
}

func (m *Mailbox) push(msg types.Message) (pushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return pushResult{}, fmt.Errorf("mailbox %s closed: %w", m.owner, errs.ErrDestinationNotFound)
	}

	var res pushResult
	if len(m.queue) >= m.capacity {
		oldest := m.queue[0]
		m.queue = m.queue[1:]
		m.overflows++
		m.consecutive++
		res.evicted = &oldest
		res.consecutive = m.consecutive
	} else {
		m.consecutive = 0
	}
	m.queue = append(m.queue, msg)

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return res, nil
}

// Pop removes the oldest message
func (m *Mailbox) Pop() (types.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return types.Message{}, false
	}
	msg := m.queue[0]
	m.queue[0] = types.Message{}
	m.queue = m.queue[1:]
	m.delivered++
	return msg, true
}

// Ready is signalled after a push. A single signal may stand for several
// messages, so consumers drain with Pop until it reports empty.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Receive blocks until a message is available, the mailbox is closed or
// ctx ends
func (m *Mailbox) Receive(ctx context.Context) (types.Message, error) {
	for {
		if msg, ok := m.Pop(); ok {
			return msg, nil
		}
		if m.Closed() {
			return types.Message{}, fmt.Errorf("mailbox %s closed: %w", m.owner, errs.ErrDestinationNotFound)
		}
		select {
		case <-m.ready:
		case <-ctx.Done():
			return types.Message{}, errs.FromContext(ctx)
		}
	}
}

// Len returns the number of undelivered messages
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Closed reports whether the mailbox has been discarded
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// close discards the mailbox and returns what was still queued
func (m *Mailbox) close() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	left := m.queue
	m.queue = nil

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return left
}

// MailboxStats is a snapshot of one mailbox
type MailboxStats struct {
	SessionID id.SessionID `json:"session_id"`
	AppName   string       `json:"app_name"`
	Queued    int          `json:"queued"`
	Capacity  int          `json:"capacity"`
	Delivered uint64       `json:"delivered"`
	Overflows uint64       `json:"overflows"`
}

// Stats returns a snapshot of the mailbox counters
func (m *Mailbox) Stats() MailboxStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MailboxStats{
		SessionID: m.owner,
		AppName:   m.appName,
		Queued:    len(m.queue),
		Capacity:  m.capacity,
		Delivered: m.delivered,
		Overflows: m.overflows,
	}
}
