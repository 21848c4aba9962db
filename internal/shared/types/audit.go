package types

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

// AuditEntry records one capability check
type AuditEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	SessionID id.SessionID `json:"session_id"`
	Category  string       `json:"category"`
	Action    string       `json:"action"`
	Resource  string       `json:"resource,omitempty"`
	Allowed   bool         `json:"allowed"`
	Reason    string       `json:"reason,omitempty"`
}
