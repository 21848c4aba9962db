package events

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

// Level is the severity of a host event
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Kind names what happened
type Kind string

const (
	SessionLaunched        Kind = "session.launched"
	SessionReady           Kind = "session.ready"
	SessionFocused         Kind = "session.focused"
	SessionClosing         Kind = "session.closing"
	SessionStopped         Kind = "session.stopped"
	SessionTeardownTimeout Kind = "session.teardown_timeout"
	SessionRenderFailure   Kind = "session.render_failure"
	MailboxOverflow        Kind = "router.mailbox_overflow"
	CeilingExceeded        Kind = "resource.ceiling_exceeded"
	CeilingRecovered       Kind = "resource.recovered"
	AggregateExceeded      Kind = "resource.aggregate_exceeded"
	CapabilityGranted      Kind = "capability.granted"
	CapabilityRevoked      Kind = "capability.revoked"
	CatalogReloaded        Kind = "catalog.reloaded"
)

// Event is one entry in the host event feed
type Event struct {
	ID        id.EventID             `json:"id"`
	Kind      Kind                   `json:"kind"`
	Level     Level                  `json:"level"`
	SessionID id.SessionID           `json:"session_id,omitempty"`
	AppName   string                 `json:"app_name,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Info builds an informational event
func Info(kind Kind, sessionID id.SessionID, appName, message string) Event {
	return Event{Kind: kind, Level: LevelInfo, SessionID: sessionID, AppName: appName, Message: message}
}

// Warning builds a warning event
func Warning(kind Kind, sessionID id.SessionID, appName, message string) Event {
	return Event{Kind: kind, Level: LevelWarning, SessionID: sessionID, AppName: appName, Message: message}
}

// With returns a copy of e carrying an extra data field
func (e Event) With(key string, value interface{}) Event {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Publisher accepts host events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// Discard is a Publisher that drops everything
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
