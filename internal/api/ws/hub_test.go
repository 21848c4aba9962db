package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/focus"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/render"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

type usageRecorder struct {
	mu      sync.Mutex
	samples map[id.SessionID]types.Usage
}

func (u *usageRecorder) Record(info types.SessionInfo, usage types.Usage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.samples[info.ID] = usage
}

func (u *usageRecorder) get(sid id.SessionID) (types.Usage, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	usage, ok := u.samples[sid]
	return usage, ok
}

type harness struct {
	registry *session.Registry
	hub      *Hub
	usage    *usageRecorder
	server   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := capability.NewStore()
	audit := capability.NewAuditLog(capability.DefaultAuditConfig(), nil)
	enforcer := capability.NewEnforcer(store, audit, capability.DefaultEnv(t.TempDir()), nil)

	reg := session.NewRegistry(session.Config{TeardownGrace: 2 * time.Second, FocusOnReady: true},
		focus.NewManager(), store, nil, nil, nil)
	rt := router.New(router.DefaultConfig(), reg, enforcer, nil, nil)
	usage := &usageRecorder{samples: make(map[id.SessionID]types.Usage)}
	hub := NewHub(Config{}, reg, rt, usage, nil)
	dispatcher := render.NewDispatcher(render.DefaultConfig(), hub, rt, reg, nil)

	reg.Attach(rt)
	reg.Attach(dispatcher)
	reg.Attach(hub)
	reg.SetSurface(hub)

	engine := gin.New()
	engine.GET("/surface/:id", hub.HandleSurface)
	srv := httptest.NewServer(engine)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
		dispatcher.Close()
		hub.Close()
		rt.Close()
		audit.Close()
		srv.Close()
	})
	return &harness{registry: reg, hub: hub, usage: usage, server: srv}
}

func (h *harness) launch(t *testing.T, name string, caps map[string]map[string]types.CapabilityValue) types.SessionInfo {
	t.Helper()
	res, err := h.registry.Launch(context.Background(), types.AppManifest{
		Name:         name,
		Entrypoint:   "index.html",
		WindowType:   types.WindowPanel,
		Capabilities: caps,
	})
	require.NoError(t, err)
	return res.Session
}

func (h *harness) dial(t *testing.T, sid id.SessionID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/surface/" + sid.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials a session, consumes its mount frame and marks it ready
func (h *harness) connect(t *testing.T, sid id.SessionID) *websocket.Conn {
	t.Helper()
	conn := h.dial(t, sid)
	mount := readFrame(t, conn)
	require.Equal(t, types.FrameMount, mount.Type)

	writeFrame(t, conn, types.SurfaceFrame{Type: types.FrameReady, Ref: "ready"})
	res := readFrame(t, conn)
	require.Equal(t, types.FrameResult, res.Type, res.Error)
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame types.SurfaceFrame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) types.SurfaceFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame types.SurfaceFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

var canSend = map[string]map[string]types.CapabilityValue{
	"messaging": {"send": types.Allowed()},
}

func TestHubMountAndReady(t *testing.T) {
	h := newHarness(t)
	info := h.launch(t, "calendar", nil)

	got, ok := h.registry.Get(info.ID)
	require.True(t, ok)
	assert.Equal(t, "ws:/surface/"+info.ID.String(), got.Handle)

	conn := h.dial(t, info.ID)
	mount := readFrame(t, conn)
	require.Equal(t, types.FrameMount, mount.Type)
	require.NotNil(t, mount.Manifest)
	assert.Equal(t, "calendar", mount.Manifest.Name)
	assert.Equal(t, info.ID, mount.Session.ID)

	writeFrame(t, conn, types.SurfaceFrame{Type: types.FrameReady, Ref: "r1"})
	res := readFrame(t, conn)
	assert.Equal(t, types.FrameResult, res.Type)
	assert.Equal(t, "r1", res.Ref)

	got, _ = h.registry.Get(info.ID)
	assert.Equal(t, types.StateActive, got.State)
	assert.True(t, h.hub.Connected(info.ID))

	// A second ready is an invalid transition and comes back as an error frame.
	writeFrame(t, conn, types.SurfaceFrame{Type: types.FrameReady, Ref: "r2"})
	res = readFrame(t, conn)
	assert.Equal(t, types.FrameError, res.Type)
	assert.Equal(t, "invalid_transition", res.Reason)
}

func TestHubRejectsUnknownSession(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/surface/sess_missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHubRejectsSecondConnection(t *testing.T) {
	h := newHarness(t)
	info := h.launch(t, "calendar", nil)
	h.connect(t, info.ID)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/surface/" + info.ID.String()
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHubRoutesAndDelivers(t *testing.T) {
	h := newHarness(t)
	sender := h.launch(t, "chat", canSend)
	target := h.launch(t, "notes", nil)
	senderConn := h.connect(t, sender.ID)
	targetConn := h.connect(t, target.ID)

	writeFrame(t, senderConn, types.SurfaceFrame{
		Type:        types.FrameSend,
		Ref:         "s1",
		To:          target.ID.String(),
		MessageType: "note.append",
		Payload:     json.RawMessage(`{"text":"hi"}`),
	})
	res := readFrame(t, senderConn)
	require.Equal(t, types.FrameResult, res.Type, res.Error)
	assert.Equal(t, "s1", res.Ref)

	deliver := readFrame(t, targetConn)
	require.Equal(t, types.FrameDeliver, deliver.Type)
	require.NotNil(t, deliver.Message)
	assert.Equal(t, "note.append", deliver.Message.Type)
	assert.Equal(t, sender.ID, deliver.Message.From)
	assert.JSONEq(t, `{"text":"hi"}`, string(deliver.Message.Payload))

	// The target holds no send grant.
	writeFrame(t, targetConn, types.SurfaceFrame{Type: types.FrameSend, To: sender.ID.String(), MessageType: "x"})
	res = readFrame(t, targetConn)
	assert.Equal(t, types.FrameError, res.Type)
	assert.Equal(t, "permission_denied", res.Reason)
}

func TestHubRequestReply(t *testing.T) {
	h := newHarness(t)
	asker := h.launch(t, "chat", canSend)
	answerer := h.launch(t, "clock", canSend)
	askerConn := h.connect(t, asker.ID)
	answererConn := h.connect(t, answerer.ID)

	writeFrame(t, askerConn, types.SurfaceFrame{
		Type:        types.FrameRequest,
		Ref:         "q1",
		To:          answerer.ID.String(),
		MessageType: "time.now",
		TimeoutMS:   2000,
	})
	ack := readFrame(t, askerConn)
	require.Equal(t, types.FrameResult, ack.Type, ack.Error)
	require.NotEmpty(t, ack.CorrelationID)

	deliver := readFrame(t, answererConn)
	require.Equal(t, types.FrameDeliver, deliver.Type)
	assert.Equal(t, ack.CorrelationID, deliver.Message.CorrelationID.String())

	writeFrame(t, answererConn, types.SurfaceFrame{
		Type:          types.FrameReply,
		Ref:           "a1",
		To:            asker.ID.String(),
		MessageType:   "time.now.result",
		CorrelationID: ack.CorrelationID,
		Payload:       json.RawMessage(`"12:00"`),
	})
	res := readFrame(t, answererConn)
	require.Equal(t, types.FrameResult, res.Type, res.Error)

	reply := readFrame(t, askerConn)
	require.Equal(t, types.FrameResult, reply.Type, reply.Error)
	assert.Equal(t, "q1", reply.Ref)
	require.NotNil(t, reply.Message)
	assert.Equal(t, "time.now.result", reply.Message.Type)
	assert.JSONEq(t, `"12:00"`, string(reply.Message.Payload))
}

func TestHubTeardown(t *testing.T) {
	h := newHarness(t)
	info := h.launch(t, "calendar", nil)
	conn := h.connect(t, info.ID)

	td, err := h.registry.Close(context.Background(), info.ID)
	require.NoError(t, err)

	frame := readFrame(t, conn)
	require.Equal(t, types.FrameTeardown, frame.Type)

	writeFrame(t, conn, types.SurfaceFrame{Type: types.FrameTornDown})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, td.Wait(ctx))

	_, ok := h.registry.Get(info.ID)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return !h.hub.Connected(info.ID) }, time.Second, 10*time.Millisecond)
}

func TestHubDisconnectIsRenderFailure(t *testing.T) {
	h := newHarness(t)
	info := h.launch(t, "calendar", nil)
	conn := h.connect(t, info.ID)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		_, ok := h.registry.Get(info.ID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubRecordsUsage(t *testing.T) {
	h := newHarness(t)
	info := h.launch(t, "calendar", nil)
	conn := h.connect(t, info.ID)

	writeFrame(t, conn, types.SurfaceFrame{Type: types.FrameUsage, Usage: &types.Usage{MemoryBytes: 4096, CPUPercent: 1.5}})
	writeFrame(t, conn, types.SurfaceFrame{Type: types.FramePing, Ref: "p"})
	pong := readFrame(t, conn)
	assert.Equal(t, types.FramePong, pong.Type)

	usage, ok := h.usage.get(info.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(4096), usage.MemoryBytes)
}

func TestEventStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := events.NewBus(events.Config{}, nil)
	stream := NewEventStream(Config{}, bus, nil)

	engine := gin.New()
	engine.GET("/events/stream", stream.Handle)
	srv := httptest.NewServer(engine)
	defer srv.Close()
	defer stream.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream?level=warning"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade completes, so keep
	// publishing until the first frame arrives.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(events.Info(events.SessionReady, "", "calendar", "ignored"))
				bus.Publish(events.Warning(events.SessionTeardownTimeout, "", "calendar", "stuck"))
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	var frame types.SurfaceFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, types.FrameEvent, frame.Type)
	data, ok := frame.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(events.LevelWarning), data["level"])
}
