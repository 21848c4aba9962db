package capability

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Denial reasons
const (
	ReasonUnknownCapability = "unknown capability"
	ReasonUnknownSession    = "session has no grant set"
	ReasonNotGranted        = "capability not granted"
	ReasonTraversal         = "path contains a parent-directory segment"
	ReasonOutOfScope        = "resource outside granted scopes"
)

// Decision is the outcome of a capability check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// DefaultEnv resolves the home directory used for ~ expansion. An empty
// override falls back to the process owner's home, then /home/app.
func DefaultEnv(homeOverride string) Env {
	if homeOverride != "" {
		return Env{HomeDir: homeOverride}
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return Env{HomeDir: home}
	}
	return Env{HomeDir: "/home/app"}
}

// Enforcer answers capability checks against the Store. Each check appends
// one audit entry and has no other side effect.
type Enforcer struct {
	store   *Store
	audit   *AuditLog
	env     Env
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewEnforcer creates an enforcer. audit may be nil.
func NewEnforcer(store *Store, audit *AuditLog, env Env, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		store:  store,
		audit:  audit,
		env:    env,
		logger: logger,
	}
}

// WithMetrics adds metrics tracking to the enforcer
func (e *Enforcer) WithMetrics(metrics *monitoring.Metrics) *Enforcer {
	e.metrics = metrics
	return e
}

// Check decides whether a session may perform action on resource. An empty
// resource asks whether the action is granted at all.
func (e *Enforcer) Check(sessionID id.SessionID, category Category, action Action, resource string) Decision {
	d := e.decide(sessionID, category, action, resource)

	if e.audit != nil {
		e.audit.Append(types.AuditEntry{
			Timestamp: time.Now(),
			SessionID: sessionID,
			Category:  string(category),
			Action:    string(action),
			Resource:  resource,
			Allowed:   d.Allowed,
			Reason:    d.Reason,
		})
	}
	e.metrics.RecordCapabilityCheck(string(category), d.Allowed)

	if !d.Allowed {
		e.logger.Debug("Capability denied",
			zap.String("session_id", sessionID.String()),
			zap.String("capability", string(category)+":"+string(action)),
			zap.String("resource", resource),
			zap.String("reason", d.Reason))
	}
	return d
}

func (e *Enforcer) decide(sessionID id.SessionID, category Category, action Action, resource string) Decision {
	if _, err := ParseAction(category, string(action)); err != nil {
		return deny(ReasonUnknownCapability)
	}

	grants, ok := e.store.lookup(sessionID, category, action)
	if !ok {
		return deny(ReasonUnknownSession)
	}
	if len(grants) == 0 {
		return deny(ReasonNotGranted)
	}
	if category == CategoryFilesystem && hasTraversal(resource) {
		return deny(ReasonTraversal)
	}

	for _, g := range grants {
		if g.covers(e.env, resource) {
			return allow()
		}
	}
	return deny(ReasonOutOfScope)
}

// Require is Check returning an error wrapping ErrPermissionDenied on denial
func (e *Enforcer) Require(sessionID id.SessionID, category Category, action Action, resource string) error {
	d := e.Check(sessionID, category, action, resource)
	if d.Allowed {
		return nil
	}
	if resource == "" {
		return fmt.Errorf("%w: %s:%s: %s", errs.ErrPermissionDenied, category, action, d.Reason)
	}
	return fmt.Errorf("%w: %s:%s on %q: %s", errs.ErrPermissionDenied, category, action, resource, d.Reason)
}
