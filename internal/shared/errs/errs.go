// Package errs defines the host's error taxonomy.
//
// Every failure the orchestrator reports is one of these sentinels, possibly
// wrapped with context via fmt.Errorf("...: %w"). Callers match with
// errors.Is. None of them is fatal to the host: they are returned to the
// immediate caller and, where operator-visible, also raised as events.
//
// Severity:
//   - Quiet (routine): ErrPermissionDenied, ErrDestinationNotFound,
//     ErrSessionNotFound
//   - Recoverable: ErrTimeout, ErrCanceled, ErrInvalidTransition
//   - Advisory: ErrMailboxOverflow (delivery degraded, not failed)
//   - Escalated: ErrTeardownTimeout, repeated ErrMailboxOverflow
package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when a capability check fails
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDestinationNotFound is returned when a message target is not a live session
	ErrDestinationNotFound = errors.New("destination not found")
	// ErrTimeout is returned when a request deadline elapses without a response
	ErrTimeout = errors.New("request timed out")
	// ErrCanceled is returned when a pending request is canceled by its caller
	ErrCanceled = errors.New("request canceled")
	// ErrMailboxOverflow reports that delivery evicted the oldest undelivered message
	ErrMailboxOverflow = errors.New("mailbox overflow")
	// ErrInvalidTransition is returned for a lifecycle operation from an incompatible state
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrTeardownTimeout reports a session force-removed after its teardown grace period
	ErrTeardownTimeout = errors.New("teardown timed out")
	// ErrSessionNotFound is returned for lifecycle operations on an unknown session
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidManifest is returned when a manifest cannot be turned into a session
	ErrInvalidManifest = errors.New("invalid manifest")
	// ErrUnknownCategory is returned for a capability category or action outside the registry
	ErrUnknownCategory = errors.New("unknown capability")
	// ErrAppNotFound is returned when launching a name the catalog does not hold
	ErrAppNotFound = errors.New("app not found")
	// ErrInvalidMessage is returned for a malformed message type or payload
	ErrInvalidMessage = errors.New("invalid message")
)

// Kind returns a short stable label for err, used in metrics and API responses
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDestinationNotFound):
		return "destination_not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrMailboxOverflow):
		return "mailbox_overflow"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrTeardownTimeout):
		return "teardown_timeout"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrInvalidManifest):
		return "invalid_manifest"
	case errors.Is(err, ErrUnknownCategory):
		return "unknown_capability"
	case errors.Is(err, ErrAppNotFound):
		return "app_not_found"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	default:
		return "internal"
	}
}

// FromContext converts a finished context's error into ErrTimeout or
// ErrCanceled, keeping the original in the chain
func FromContext(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
}
