package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/utils"
)

// ListGrants lists a session's grants
func (h *Handlers) ListGrants(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	grants, ok := h.Store.Grants(sid)
	if !ok {
		h.fail(c, fmt.Errorf("grants for %s: %w", sid, errs.ErrSessionNotFound))
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sid, "grants": grants})
}

// GrantCapability adds a grant to a live session
func (h *Handlers) GrantCapability(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	var req types.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	g, err := capability.NewGrant(req.Category, req.Action, req.Scopes...)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Store.Grant(sid, g); err != nil {
		h.fail(c, err)
		return
	}

	h.Logger.Info("Capability granted",
		zap.String("session_id", sid.String()),
		zap.Stringer("grant", g))
	h.publishGrantChange(events.CapabilityGranted, sid, g.String())
	c.JSON(http.StatusCreated, g)
}

// RevokeCapability removes every grant for category:action. Checks issued
// after the response see the removal.
func (h *Handlers) RevokeCapability(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	category, err := capability.ParseCategory(c.Param("category"))
	if err != nil {
		h.fail(c, err)
		return
	}
	action, err := capability.ParseAction(category, c.Param("action"))
	if err != nil {
		h.fail(c, err)
		return
	}

	removed, err := h.Store.Revoke(sid, category, action)
	if err != nil {
		h.fail(c, err)
		return
	}
	if removed {
		key := fmt.Sprintf("%s:%s", category, action)
		h.Logger.Info("Capability revoked",
			zap.String("session_id", sid.String()),
			zap.String("grant", key))
		h.publishGrantChange(events.CapabilityRevoked, sid, key)
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sid, "revoked": removed})
}

func (h *Handlers) publishGrantChange(kind events.Kind, sid id.SessionID, grant string) {
	var appName string
	if info, ok := h.Registry.Get(sid); ok {
		appName = info.AppName
	}
	h.Bus.Publish(events.Info(kind, sid, appName, string(kind)).With("grant", grant))
}

// CheckCapability evaluates one check for a session. The decision is
// audited like any other check.
func (h *Handlers) CheckCapability(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	var req types.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateString(req.Resource, "resource", 0, utils.MaxResourceLength, false); err != nil {
		badRequest(c, err)
		return
	}

	category, err := capability.ParseCategory(req.Category)
	if err != nil {
		h.fail(c, err)
		return
	}
	action, err := capability.ParseAction(category, req.Action)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, h.Enforcer.Check(sid, category, action, req.Resource))
}

// ListCategories lists every capability category and its actions
func (h *Handlers) ListCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": capability.Categories()})
}

// QueryAudit returns recent capability decisions, newest last
func (h *Handlers) QueryAudit(c *gin.Context) {
	filter := capability.AuditFilter{SessionID: id.SessionID(c.Query("session_id"))}
	if raw := c.Query("denied"); raw != "" {
		denied, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, fmt.Errorf("denied: %w", err))
			return
		}
		filter.DeniedOnly = denied
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": h.Audit.Entries(filter),
		"written": h.Audit.Written(),
		"dropped": h.Audit.Dropped(),
	})
}
