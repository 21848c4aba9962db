package types

import "encoding/json"

// LaunchRequest launches a catalog app by name
type LaunchRequest struct {
	AppName string `json:"app_name" binding:"required"`
}

// GrantRequest adds a capability grant to a running session
type GrantRequest struct {
	Category string   `json:"category" binding:"required"`
	Action   string   `json:"action" binding:"required"`
	Scopes   []string `json:"scopes,omitempty"`
}

// CheckRequest asks the enforcer for a decision without performing anything
type CheckRequest struct {
	Category string `json:"category" binding:"required"`
	Action   string `json:"action" binding:"required"`
	Resource string `json:"resource,omitempty"`
}

// SendRequest routes a message on behalf of a session. An empty To
// broadcasts. TimeoutMS only applies to calls.
type SendRequest struct {
	To        string          `json:"to,omitempty"`
	Type      string          `json:"type" binding:"required"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TimeoutMS int64           `json:"timeout_ms,omitempty"`
}

// FailureRequest reports a render failure for a session
type FailureRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Surface frame types exchanged with a render surface over WebSocket
const (
	FrameMount     = "mount"
	FrameReady     = "ready"
	FrameTeardown  = "teardown"
	FrameTornDown  = "teardown_complete"
	FrameFailure   = "render_failure"
	FrameUsage     = "usage"
	FrameSend      = "send"
	FrameBroadcast = "broadcast"
	FrameRequest   = "request"
	FrameReply     = "reply"
	FrameDeliver   = "deliver"
	FrameResult    = "result"
	FrameError     = "error"
	FramePing      = "ping"
	FramePong      = "pong"
	FrameEvent     = "event"
)

// SurfaceFrame is one JSON frame on a render surface connection
type SurfaceFrame struct {
	Type          string          `json:"type"`
	Session       *SessionInfo    `json:"session,omitempty"`
	Manifest      *AppManifest    `json:"manifest,omitempty"`
	Ref           string          `json:"ref,omitempty"`
	To            string          `json:"to,omitempty"`
	MessageType   string          `json:"message_type,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	TimeoutMS     int64           `json:"timeout_ms,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Usage         *Usage          `json:"usage,omitempty"`
	Message       *Message        `json:"message,omitempty"`
	Result        interface{}     `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}
