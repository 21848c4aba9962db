package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// FocusOrder returns the presentation stack, bottom first
func (h *Handlers) FocusOrder(c *gin.Context) {
	body := gin.H{"stack": h.Focus.Order()}
	if top, ok := h.Focus.Top(); ok {
		body["top"] = top
	}
	c.JSON(http.StatusOK, body)
}

// ListEvents returns buffered events matching the query filter
func (h *Handlers) ListEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": h.Bus.Recent(ws.FilterFromQuery(c))})
}

// MonitorSummary returns per-session usage trends and the aggregate
func (h *Handlers) MonitorSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.Monitor.Summary())
}

// SessionUsage returns the most recent usage sample for one session
func (h *Handlers) SessionUsage(c *gin.Context) {
	sid, ok := h.sessionParam(c)
	if !ok {
		return
	}
	usage, ok := h.Monitor.Last(sid)
	if !ok {
		h.fail(c, fmt.Errorf("usage for %s: %w", sid, errs.ErrSessionNotFound))
		return
	}
	c.JSON(http.StatusOK, usage)
}

// RouterStats returns mailbox depths and the pending request count
func (h *Handlers) RouterStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Router.Stats())
}

// ============================================================================
// Catalog
// ============================================================================

// ListCatalog lists launchable apps and manifests that failed to load
func (h *Handlers) ListCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"apps":     h.Catalog.List(),
		"failures": h.Catalog.Failures(),
		"stats":    h.Catalog.Stats(),
	})
}

// GetCatalogApp returns one manifest by name
func (h *Handlers) GetCatalogApp(c *gin.Context) {
	m, err := h.Catalog.Get(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// ReloadCatalog rescans the manifest directory
func (h *Handlers) ReloadCatalog(c *gin.Context) {
	if h.Loader == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no manifest directory configured", "kind": "no_loader"})
		return
	}
	if err := h.Catalog.Reload(c.Request.Context(), h.Loader); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Catalog.Stats())
}
