package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/utils"
)

// SessionDetail is the full view of one session
type SessionDetail struct {
	Session   types.SessionInfo    `json:"session"`
	Grants    []capability.Grant   `json:"grants"`
	Mailbox   *router.MailboxStats `json:"mailbox,omitempty"`
	Usage     *types.Usage         `json:"usage,omitempty"`
	Connected bool                 `json:"surface_connected"`
}

// ListSessions lists sessions, optionally filtered by ?state= and ?app=
func (h *Handlers) ListSessions(c *gin.Context) {
	filter := session.ListFilter{AppName: c.Query("app")}
	if raw := c.Query("state"); raw != "" {
		state := types.State(raw)
		if !knownState(state) {
			badRequest(c, fmt.Errorf("unknown state %q", raw))
			return
		}
		filter.State = state
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": h.Registry.List(filter),
		"stats":    h.Registry.Stats(),
	})
}

func knownState(s types.State) bool {
	switch s {
	case types.StateStarting, types.StateReady, types.StateActive,
		types.StatePaused, types.StateClosing, types.StateStopped:
		return true
	}
	return false
}

// GetSession returns a session with its grants, mailbox and last usage
func (h *Handlers) GetSession(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}

	info, ok := h.Registry.Get(sid)
	if !ok {
		h.fail(c, fmt.Errorf("%s: %w", sid, errs.ErrSessionNotFound))
		return
	}

	detail := SessionDetail{Session: info}
	detail.Grants, _ = h.Store.Grants(sid)
	if mb, ok := h.Router.Mailbox(sid); ok {
		stats := mb.Stats()
		detail.Mailbox = &stats
	}
	if usage, ok := h.Monitor.Last(sid); ok {
		detail.Usage = &usage
	}
	if h.Surfaces != nil {
		detail.Connected = h.Surfaces.Connected(sid)
	}
	c.JSON(http.StatusOK, detail)
}

// LaunchSession starts a cataloged app. A second launch of a live app
// focuses the existing session and answers 200 instead of 201.
func (h *Handlers) LaunchSession(c *gin.Context) {
	var req types.LaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var result session.LaunchResult
	err := h.traced(c, "session.launch", func(ctx context.Context) error {
		manifest, err := h.Catalog.Get(req.AppName)
		if err != nil {
			return err
		}
		result, err = h.Registry.Launch(ctx, manifest)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// FocusSession brings a session to the front
func (h *Handlers) FocusSession(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	if err := h.Registry.Focus(sid); err != nil {
		h.fail(c, err)
		return
	}
	info, _ := h.Registry.Get(sid)
	c.JSON(http.StatusOK, info)
}

// CloseSession starts teardown. With ?wait=true the call blocks until the
// surface confirms or the grace period forces removal.
func (h *Handlers) CloseSession(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	wait, _ := strconv.ParseBool(c.DefaultQuery("wait", "false"))

	var forced bool
	err := h.traced(c, "session.close", func(ctx context.Context) error {
		td, err := h.Registry.Close(ctx, sid)
		if err != nil || !wait {
			return err
		}
		err = td.Wait(ctx)
		if errors.Is(err, errs.ErrTeardownTimeout) {
			forced = true
			return nil
		}
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if !wait {
		c.JSON(http.StatusAccepted, gin.H{"session_id": sid, "state": types.StateClosing})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sid, "state": types.StateStopped, "forced": forced})
}

// MarkReady records that a session's surface finished mounting
func (h *Handlers) MarkReady(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	if err := h.Registry.MarkReady(sid); err != nil {
		h.fail(c, err)
		return
	}
	info, _ := h.Registry.Get(sid)
	c.JSON(http.StatusOK, info)
}

// ConfirmTeardown records that a session's surface finished unmounting
func (h *Handlers) ConfirmTeardown(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	if err := h.Registry.ConfirmTeardown(sid); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sid, "state": types.StateStopped})
}

// ReportFailure records a render failure, stopping the session
func (h *Handlers) ReportFailure(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	var req types.FailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateString(req.Reason, "reason", 0, utils.MaxReasonLength, false); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.Registry.ReportRenderFailure(c.Request.Context(), sid, req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sid, "state": types.StateStopped})
}

// SendMessage routes a message from the session in the path. An empty
// destination broadcasts to every other live session.
func (h *Handlers) SendMessage(c *gin.Context) {
	from, req, ok := h.bindSend(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if req.To == "" {
		outcomes, err := h.Router.Broadcast(ctx, from, req.Type, req.Payload)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
		return
	}

	outcome, err := h.Router.Send(ctx, from, id.SessionID(req.To), req.Type, req.Payload)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// CallSession sends a request and blocks for the correlated reply
func (h *Handlers) CallSession(c *gin.Context) {
	from, req, ok := h.bindSend(c)
	if !ok {
		return
	}
	if req.To == "" {
		badRequest(c, errors.New("call requires a destination"))
		return
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond

	var reply types.Message
	err := h.traced(c, "router.call", func(ctx context.Context) error {
		var err error
		reply, err = h.Router.Call(ctx, from, id.SessionID(req.To), req.Type, req.Payload, timeout)
		return err
	})
	if err != nil {
		h.Logger.Debug("Call failed",
			zap.String("from", from.String()),
			zap.String("to", req.To),
			zap.String("kind", errs.Kind(err)))
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h *Handlers) bindSend(c *gin.Context) (id.SessionID, types.SendRequest, bool) {
	var req types.SendRequest
	sid, ok := h.sessionParam(c)
	if !ok {
		return "", req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return "", req, false
	}
	if req.To != "" {
		if err := utils.ValidateID(req.To, "to", true); err != nil {
			badRequest(c, err)
			return "", req, false
		}
	}
	if err := utils.ValidateMessage(req.Type, req.Payload); err != nil {
		h.fail(c, err)
		return "", req, false
	}
	return sid, req, true
}
