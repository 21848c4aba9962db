package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/catalog"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/focus"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/monitor"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/notify"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/utils"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// Surfaces reports whether a session's rendering host is connected
type Surfaces interface {
	Connected(sessionID id.SessionID) bool
}

// Deps holds everything the handlers reach into. Surfaces, Notifier and
// Tracer may be nil.
type Deps struct {
	Registry *session.Registry
	Focus    *focus.Manager
	Store    *capability.Store
	Enforcer *capability.Enforcer
	Audit    *capability.AuditLog
	Bus      *events.Bus
	Router   *router.Router
	Monitor  *monitor.Monitor
	Catalog  *catalog.Catalog
	Loader   *catalog.Loader
	Surfaces Surfaces
	Notifier *notify.Notifier
	Tracer   *tracing.Tracer
	Logger   *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	Deps
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Handlers{Deps: deps}
}

// Register mounts every admin route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions", h.LaunchSession)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.CloseSession)
	r.POST("/sessions/:id/focus", h.FocusSession)
	r.POST("/sessions/:id/ready", h.MarkReady)
	r.POST("/sessions/:id/teardown", h.ConfirmTeardown)
	r.POST("/sessions/:id/failure", h.ReportFailure)
	r.POST("/sessions/:id/messages", h.SendMessage)
	r.POST("/sessions/:id/call", h.CallSession)
	r.GET("/sessions/:id/usage", h.SessionUsage)

	r.GET("/sessions/:id/grants", h.ListGrants)
	r.POST("/sessions/:id/grants", h.GrantCapability)
	r.DELETE("/sessions/:id/grants/:category/:action", h.RevokeCapability)
	r.POST("/sessions/:id/check", h.CheckCapability)
	r.GET("/capabilities", h.ListCategories)
	r.GET("/audit", h.QueryAudit)

	r.GET("/focus", h.FocusOrder)
	r.GET("/events", h.ListEvents)
	r.GET("/monitor", h.MonitorSummary)
	r.GET("/router", h.RouterStats)

	r.GET("/catalog", h.ListCatalog)
	r.GET("/catalog/:name", h.GetCatalogApp)
	r.POST("/catalog/reload", h.ReloadCatalog)
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "AgentOS App Host",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	published, dropped := h.Bus.Stats()
	body := gin.H{
		"status":   "healthy",
		"sessions": h.Registry.Stats(),
		"catalog":  h.Catalog.Stats(),
		"router":   gin.H{"pending": h.Router.Stats().Pending},
		"events":   gin.H{"published": published, "dropped": dropped},
		"audit":    gin.H{"written": h.Audit.Written(), "dropped": h.Audit.Dropped()},
	}
	if h.Notifier != nil {
		body["notifier"] = h.Notifier.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// ============================================================================
// Helpers
// ============================================================================

// sessionParam reads and validates the :id path parameter
func (h *Handlers) sessionParam(c *gin.Context) (id.SessionID, bool) {
	raw := c.Param("id")
	if err := utils.ValidateID(raw, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_id"})
		return "", false
	}
	return id.SessionID(raw), true
}

// traced runs fn inside a child span of the request trace
func (h *Handlers) traced(c *gin.Context, name string, fn func(ctx context.Context) error) error {
	if h.Tracer == nil {
		return fn(c.Request.Context())
	}
	span, ctx := h.Tracer.StartSpan(c.Request.Context(), name)
	err := fn(ctx)
	if err != nil {
		span.SetError(err)
	}
	span.Finish()
	h.Tracer.Submit(span)
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrSessionNotFound),
		errors.Is(err, errs.ErrAppNotFound),
		errors.Is(err, errs.ErrDestinationNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, errs.ErrInvalidManifest),
		errors.Is(err, errs.ErrUnknownCategory),
		errors.Is(err, errs.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrTimeout), errors.Is(err, errs.ErrTeardownTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrCanceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status and kind its sentinel maps to
func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": errs.Kind(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "bad_request"})
}
