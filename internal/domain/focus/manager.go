// Package focus keeps the presentation stack: which session is on top and
// the z-order of every session that has a surface.
package focus

import (
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

// Entry is one stacked session. Focused is false until the first Focus.
type Entry struct {
	ID      id.SessionID `json:"id"`
	ZOrder  uint64       `json:"z_order"`
	Focused bool         `json:"focused"`
}

// Manager orders sessions by most recent focus. Sessions that were never
// focused sit below every focused one. zOrder values come from a counter
// and are never reused.
type Manager struct {
	mu    sync.RWMutex
	stack []Entry // Protected by mu, bottom first
	next  atomic.Uint64
}

// NewManager creates an empty focus stack
func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) index(sessionID id.SessionID) int {
	for i, e := range m.stack {
		if e.ID == sessionID {
			return i
		}
	}
	return -1
}

// Track places a newly ready session at the bottom of the stack with a
// fresh zOrder. Tracking an already stacked session returns its current
// zOrder.
func (m *Manager) Track(sessionID id.SessionID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.index(sessionID); i >= 0 {
		return m.stack[i].ZOrder
	}
	e := Entry{ID: sessionID, ZOrder: m.next.Add(1)}
	m.stack = append([]Entry{e}, m.stack...)
	return e.ZOrder
}

// Focus raises a stacked session to the top with a fresh zOrder. A focused
// session already on top keeps its zOrder and raised is false. ok is false
// for untracked ids.
func (m *Manager) Focus(sessionID id.SessionID) (zOrder uint64, raised bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.index(sessionID)
	if i < 0 {
		return 0, false, false
	}
	if i == len(m.stack)-1 && m.stack[i].Focused {
		return m.stack[i].ZOrder, false, true
	}

	m.stack = append(m.stack[:i], m.stack[i+1:]...)
	e := Entry{ID: sessionID, ZOrder: m.next.Add(1), Focused: true}
	m.stack = append(m.stack, e)
	return e.ZOrder, true, true
}

// Remove drops a session from the stack wherever it sits and returns the
// most recently focused session that remains. ok is false when no
// remaining session was ever focused. Remaining zOrders are unchanged.
func (m *Manager) Remove(sessionID id.SessionID) (top Entry, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.index(sessionID); i >= 0 {
		m.stack = append(m.stack[:i], m.stack[i+1:]...)
	}
	if len(m.stack) == 0 || !m.stack[len(m.stack)-1].Focused {
		return Entry{}, false
	}
	return m.stack[len(m.stack)-1], true
}

// ZOrder returns a stacked session's zOrder
func (m *Manager) ZOrder(sessionID id.SessionID) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.index(sessionID); i >= 0 {
		return m.stack[i].ZOrder, true
	}
	return 0, false
}

// Top returns the session on top of the stack
func (m *Manager) Top() (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.stack) == 0 {
		return Entry{}, false
	}
	return m.stack[len(m.stack)-1], true
}

// Order returns a copy of the stack, bottom first
func (m *Manager) Order() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Entry(nil), m.stack...)
}

// Len returns the number of stacked sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stack)
}
