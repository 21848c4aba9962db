package types

import (
	"encoding/json"
	"time"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

// Message is one routed message. It is never mutated after construction;
// routing copies it by value.
type Message struct {
	ID            id.MessageID     `json:"id"`
	From          id.SessionID     `json:"from"`
	To            id.SessionID     `json:"to"`
	Type          string           `json:"type"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	CorrelationID id.CorrelationID `json:"correlation_id,omitempty"`
}

// NewMessage builds a message with a fresh ID and timestamp
func NewMessage(from, to id.SessionID, msgType string, payload json.RawMessage) Message {
	return Message{
		ID:        id.NewMessageID(),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// WithCorrelation returns a copy of m carrying the correlation ID
func (m Message) WithCorrelation(cid id.CorrelationID) Message {
	m.CorrelationID = cid
	return m
}

// IsBroadcast reports whether m was addressed to every live session
func (m Message) IsBroadcast() bool {
	return m.To == id.Broadcast
}
