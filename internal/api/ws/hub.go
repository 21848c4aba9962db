package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/utils"
)

// ErrNotConnected is returned when a session has no rendering host attached
var ErrNotConnected = errors.New("surface not connected")

// Sessions is the part of the session registry the hub reports to
type Sessions interface {
	Lookup(sessionID id.SessionID) (types.SessionInfo, bool)
	MarkReady(sessionID id.SessionID) error
	ConfirmTeardown(sessionID id.SessionID) error
	ReportRenderFailure(ctx context.Context, sessionID id.SessionID, reason string) error
}

// UsageRecorder accepts usage samples pushed by a rendering host
type UsageRecorder interface {
	Record(info types.SessionInfo, usage types.Usage)
}

// Config tunes the hub
type Config struct {
	// AllowedOrigins limits which browser origins may connect. Empty or "*"
	// allows any origin.
	AllowedOrigins []string
	// WriteTimeout bounds every outbound frame
	WriteTimeout time.Duration
	// ReadLimit is the largest inbound frame accepted, in bytes
	ReadLimit int64
}

// DefaultConfig returns the hub defaults
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 5 * time.Second,
		ReadLimit:    1 << 20,
	}
}

type slot struct {
	info     types.SessionInfo
	manifest *types.AppManifest
	peer     *peer
	mounted  bool // mount frame sent to the current peer
	closing  bool // teardown requested
}

// Hub is the render surface spoken over WebSocket. A rendering host
// connects once per session at /surface/:id, receives a mount frame, and
// from then on exchanges frames for that session only.
type Hub struct {
	cfg      Config
	sessions Sessions
	router   *router.Router
	usage    UsageRecorder
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu    sync.Mutex
	slots map[id.SessionID]*slot // Protected by mu

	waiters sync.WaitGroup
}

// NewHub creates a hub. usage may be nil.
func NewHub(cfg Config, sessions Sessions, r *router.Router, usage UsageRecorder, logger *zap.Logger) *Hub {
	defaults := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaults.ReadLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sessions: sessions,
		router:   r,
		usage:    usage,
		logger:   logger,
		slots:    make(map[id.SessionID]*slot),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)}
	return h
}

// WithMetrics adds metrics tracking to the hub
func (h *Hub) WithMetrics(metrics *monitoring.Metrics) *Hub {
	h.metrics = metrics
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ============================================================================
// Session attachment
// ============================================================================

// Attach opens a slot a rendering host can connect to
func (h *Hub) Attach(info types.SessionInfo) {
	h.mu.Lock()
	h.slots[info.ID] = &slot{info: info}
	h.mu.Unlock()
}

// Detach drops the slot and disconnects its host
func (h *Hub) Detach(sessionID id.SessionID) {
	h.mu.Lock()
	s, ok := h.slots[sessionID]
	delete(h.slots, sessionID)
	h.mu.Unlock()

	if ok && s.peer != nil {
		s.peer.close()
	}
}

// Connected reports whether a rendering host is attached to the session
func (h *Hub) Connected(sessionID id.SessionID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.slots[sessionID]
	return ok && s.peer != nil
}

// Close disconnects every host and waits for outstanding requests to settle
func (h *Hub) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.slots))
	for _, s := range h.slots {
		if s.peer != nil {
			peers = append(peers, s.peer)
		}
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	h.waiters.Wait()
}

// ============================================================================
// render.Surface
// ============================================================================

// Mount records the manifest for the session's host. The mount frame goes
// out as soon as a host is connected.
func (h *Hub) Mount(ctx context.Context, info types.SessionInfo, manifest types.AppManifest) (string, error) {
	h.mu.Lock()
	s, ok := h.slots[info.ID]
	if !ok {
		h.mu.Unlock()
		return "", fmt.Errorf("mount %s: %w", info.ID, errs.ErrSessionNotFound)
	}
	s.manifest = &manifest
	p := h.takeMountLocked(s)
	h.mu.Unlock()

	if p != nil {
		h.sendMount(ctx, p, info, manifest)
	}
	return "ws:/surface/" + info.ID.String(), nil
}

// takeMountLocked returns the peer owed a mount frame, if any
func (h *Hub) takeMountLocked(s *slot) *peer {
	if s.peer == nil || s.manifest == nil || s.mounted {
		return nil
	}
	s.mounted = true
	return s.peer
}

func (h *Hub) sendMount(ctx context.Context, p *peer, info types.SessionInfo, manifest types.AppManifest) {
	frame := types.SurfaceFrame{Type: types.FrameMount, Session: &info, Manifest: &manifest}
	if err := h.write(ctx, p, frame); err != nil {
		h.logger.Warn("Failed to send mount frame",
			zap.String("session_id", info.ID.String()),
			zap.Error(err))
	}
}

// Deliver writes a routed message to the session's host
func (h *Hub) Deliver(ctx context.Context, info types.SessionInfo, msg types.Message) error {
	p := h.peer(info.ID)
	if p == nil {
		return fmt.Errorf("deliver to %s: %w", info.ID, ErrNotConnected)
	}
	return h.write(ctx, p, types.SurfaceFrame{Type: types.FrameDeliver, Message: &msg})
}

// Unmount asks the host to tear the session down. The host answers with a
// teardown_complete frame.
func (h *Hub) Unmount(ctx context.Context, info types.SessionInfo) error {
	h.mu.Lock()
	s, ok := h.slots[info.ID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	s.closing = true
	p := s.peer
	h.mu.Unlock()

	if p == nil {
		return fmt.Errorf("unmount %s: %w", info.ID, ErrNotConnected)
	}
	return h.write(ctx, p, types.SurfaceFrame{Type: types.FrameTeardown, Session: &info})
}

func (h *Hub) peer(sessionID id.SessionID) *peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.slots[sessionID]; ok {
		return s.peer
	}
	return nil
}

func (h *Hub) write(ctx context.Context, p *peer, frame types.SurfaceFrame) error {
	if err := p.write(ctx, frame, h.cfg.WriteTimeout); err != nil {
		return err
	}
	h.metrics.RecordWSMessage("out", frame.Type)
	return nil
}

// ============================================================================
// Connections
// ============================================================================

// HandleSurface upgrades a rendering host connection for one session
func (h *Hub) HandleSurface(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))

	h.mu.Lock()
	s, ok := h.slots[sid]
	busy := ok && s.peer != nil
	h.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "kind": errs.Kind(errs.ErrSessionNotFound)})
		return
	}
	if busy {
		c.JSON(http.StatusConflict, gin.H{"error": "surface already connected"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("Surface upgrade failed", zap.String("session_id", sid.String()), zap.Error(err))
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)

	p := newPeer(sid, conn)
	defer p.close()

	h.mu.Lock()
	s, ok = h.slots[sid]
	if !ok || s.peer != nil {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session unavailable"),
			time.Now().Add(time.Second))
		return
	}
	s.peer = p
	info, manifest := s.info, s.manifest
	owed := h.takeMountLocked(s)
	h.mu.Unlock()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()
	h.logger.Info("Surface connected", zap.String("session_id", sid.String()), zap.String("app", info.AppName))

	if owed != nil {
		h.sendMount(p.ctx, p, info, *manifest)
	}

	err = h.readLoop(p)
	h.disconnected(p, err)
}

func (h *Hub) readLoop(p *peer) error {
	for {
		var frame types.SurfaceFrame
		if err := p.conn.ReadJSON(&frame); err != nil {
			return err
		}
		h.metrics.RecordWSMessage("in", frame.Type)

		if reply, ok := h.handle(p, frame); ok {
			reply.Ref = frame.Ref
			if err := h.write(p.ctx, p, reply); err != nil {
				return err
			}
		}
	}
}

// disconnected clears the slot. A host that drops a session it was not
// asked to tear down is reported as a render failure.
func (h *Hub) disconnected(p *peer, readErr error) {
	p.cancel()

	h.mu.Lock()
	s, ok := h.slots[p.sid]
	attached := ok && s.peer == p
	closing := false
	if attached {
		s.peer = nil
		s.mounted = false
		closing = s.closing
	}
	h.mu.Unlock()

	h.logger.Info("Surface disconnected",
		zap.String("session_id", p.sid.String()),
		zap.Bool("attached", attached),
		zap.Error(readErr))

	if attached && !closing {
		if err := h.sessions.ReportRenderFailure(context.Background(), p.sid, "surface disconnected"); err != nil {
			h.logger.Debug("Render failure after disconnect", zap.String("session_id", p.sid.String()), zap.Error(err))
		}
	}
}

// ============================================================================
// Inbound frames
// ============================================================================

func (h *Hub) handle(p *peer, frame types.SurfaceFrame) (types.SurfaceFrame, bool) {
	ctx := p.ctx
	sid := p.sid

	switch frame.Type {
	case types.FramePing:
		return types.SurfaceFrame{Type: types.FramePong}, true

	case types.FrameReady:
		return result(nil, h.sessions.MarkReady(sid))

	case types.FrameTornDown:
		return result(nil, h.sessions.ConfirmTeardown(sid))

	case types.FrameFailure:
		h.mu.Lock()
		if s, ok := h.slots[sid]; ok {
			s.closing = true
		}
		h.mu.Unlock()
		return result(nil, h.sessions.ReportRenderFailure(ctx, sid, frame.Reason))

	case types.FrameUsage:
		if frame.Usage == nil {
			return errorFrame(fmt.Errorf("usage frame without usage"))
		}
		info, ok := h.sessions.Lookup(sid)
		if !ok {
			return errorFrame(fmt.Errorf("usage for %s: %w", sid, errs.ErrSessionNotFound))
		}
		if h.usage != nil {
			h.usage.Record(info, *frame.Usage)
		}
		return types.SurfaceFrame{}, false

	case types.FrameSend, types.FrameBroadcast, types.FrameReply, types.FrameRequest:
		if err := utils.ValidateMessage(frame.MessageType, frame.Payload); err != nil {
			return errorFrame(err)
		}
		return h.route(p, frame)

	default:
		return errorFrame(fmt.Errorf("unknown frame type %q", frame.Type))
	}
}

// route carries an app-originated message into the router
func (h *Hub) route(p *peer, frame types.SurfaceFrame) (types.SurfaceFrame, bool) {
	ctx := p.ctx
	sid := p.sid

	switch frame.Type {
	case types.FrameSend:
		return result(h.router.Send(ctx, sid, id.SessionID(frame.To), frame.MessageType, frame.Payload))

	case types.FrameBroadcast:
		return result(h.router.Broadcast(ctx, sid, frame.MessageType, frame.Payload))

	case types.FrameReply:
		if frame.CorrelationID == "" {
			return errorFrame(fmt.Errorf("reply frame without correlation_id"))
		}
		msg := types.NewMessage(sid, id.SessionID(frame.To), frame.MessageType, frame.Payload).
			WithCorrelation(id.CorrelationID(frame.CorrelationID))
		return result(h.router.SendMessage(ctx, msg))

	case types.FrameRequest:
		timeout := time.Duration(frame.TimeoutMS) * time.Millisecond
		pending, err := h.router.Request(ctx, sid, id.SessionID(frame.To), frame.MessageType, frame.Payload, timeout)
		if err != nil {
			return errorFrame(err)
		}
		h.await(p, frame.Ref, pending)
		return types.SurfaceFrame{Type: types.FrameResult, CorrelationID: pending.CorrelationID.String()}, true
	}
	return errorFrame(fmt.Errorf("unknown frame type %q", frame.Type))
}

// await writes the request's reply, or its failure, once it settles. A
// host that disconnects first abandons the request.
func (h *Hub) await(p *peer, ref string, pending *router.PendingReply) {
	h.waiters.Add(1)
	go func() {
		defer h.waiters.Done()

		reply, err := pending.Wait(p.ctx)
		if p.ctx.Err() != nil {
			pending.Cancel()
			return
		}

		frame := types.SurfaceFrame{
			Type:          types.FrameResult,
			Ref:           ref,
			CorrelationID: pending.CorrelationID.String(),
		}
		if err != nil {
			frame = types.SurfaceFrame{Type: types.FrameError, Error: err.Error(), Reason: errs.Kind(err)}
			frame.Ref = ref
			frame.CorrelationID = pending.CorrelationID.String()
		} else {
			frame.Message = &reply
		}
		if werr := h.write(p.ctx, p, frame); werr != nil {
			h.logger.Debug("Failed to write request result",
				zap.String("session_id", p.sid.String()),
				zap.Error(werr))
		}
	}()
}

func result(v interface{}, err error) (types.SurfaceFrame, bool) {
	if err != nil {
		return errorFrame(err)
	}
	return types.SurfaceFrame{Type: types.FrameResult, Result: v}, true
}

func errorFrame(err error) (types.SurfaceFrame, bool) {
	return types.SurfaceFrame{Type: types.FrameError, Error: err.Error(), Reason: errs.Kind(err)}, true
}
