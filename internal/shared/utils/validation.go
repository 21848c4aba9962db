package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Size limits (in bytes)
const (
	MaxPayloadSize  = 256 * 1024 // a single message payload
	MaxPayloadDepth = 32
)

// String length limits
const (
	MaxIDLength          = 128
	MaxMessageTypeLength = 128
	MaxReasonLength      = 1024
	MaxResourceLength    = 2048
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// MessageTypePattern allows dotted and namespaced message types
	MessageTypePattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if value == "" {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}
	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}
	return nil
}

// ValidateMessageType validates the type tag of a routed message
func ValidateMessageType(msgType string) error {
	if err := ValidateString(msgType, "type", 1, MaxMessageTypeLength, true); err != nil {
		return err
	}
	if !MessageTypePattern.MatchString(msgType) {
		return fmt.Errorf("type %q contains invalid characters", msgType)
	}
	return nil
}

// ValidatePayload checks that an opaque message payload is well-formed
// JSON within the size and nesting limits. An empty payload is valid.
func ValidatePayload(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload size %d bytes exceeds maximum %d bytes", len(payload), MaxPayloadSize)
	}

	var v interface{}
	if err := sonic.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return ValidateJSONDepth(v, MaxPayloadDepth)
}

// ValidateMessage checks an app-originated message type and payload
func ValidateMessage(msgType string, payload []byte) error {
	if err := ValidateMessageType(msgType); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidMessage, err)
	}
	if err := ValidatePayload(payload); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidMessage, err)
	}
	return nil
}

// ValidateJSONDepth checks if JSON nesting depth is within limits
func ValidateJSONDepth(data interface{}, maxDepth int) error {
	return checkDepth(data, 0, maxDepth)
}

func checkDepth(data interface{}, currentDepth int, maxDepth int) error {
	if currentDepth > maxDepth {
		return fmt.Errorf("JSON nesting depth %d exceeds maximum %d", currentDepth, maxDepth)
	}

	switch v := data.(type) {
	case map[string]interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}
