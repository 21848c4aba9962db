package types

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

// State represents session lifecycle states
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateActive   State = "active"
	StatePaused   State = "paused"
	StateClosing  State = "closing"
	StateStopped  State = "stopped"
)

// IsLive reports whether a session in this state counts as running: it can
// receive messages and blocks a second launch of the same app.
func (s State) IsLive() bool {
	switch s {
	case StateStarting, StateReady, StateActive, StatePaused:
		return true
	default:
		return false
	}
}

// IsStacked reports whether a session in this state holds a z-order slot
func (s State) IsStacked() bool {
	switch s {
	case StateReady, StateActive, StatePaused:
		return true
	default:
		return false
	}
}

// SessionInfo is a point-in-time copy of a running app instance
type SessionInfo struct {
	ID            id.SessionID `json:"id"`
	AppName       string       `json:"app_name"`
	WindowType    WindowType   `json:"window_type"`
	State         State        `json:"state"`
	ZOrder        uint64       `json:"z_order"`
	Handle        string       `json:"handle,omitempty"`
	LaunchedAt    time.Time    `json:"launched_at"`
	LastFocusedAt *time.Time   `json:"last_focused_at,omitempty"`
}

// Stats contains session registry statistics
type Stats struct {
	TotalSessions  int           `json:"total_sessions"`
	StateCounts    map[State]int `json:"state_counts"`
	ActiveSession  *id.SessionID `json:"active_session,omitempty"`
	TotalLaunched  uint64        `json:"total_launched"`
	TeardownForced uint64        `json:"teardown_forced"`
}

// Usage is a coarse resource estimate for one session
type Usage struct {
	MemoryBytes uint64    `json:"memory_bytes"`
	CPUPercent  float64   `json:"cpu_percent"`
	SampledAt   time.Time `json:"sampled_at"`
}
