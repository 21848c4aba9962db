package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/catalog"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/focus"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/monitor"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	engine   *gin.Engine
	handlers *Handlers
	home     string
}

func newFixture(t *testing.T, grace time.Duration) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	home := t.TempDir()
	bus := events.NewBus(events.Config{History: 64}, nil)
	store := capability.NewStore()
	audit := capability.NewAuditLog(capability.DefaultAuditConfig(), nil)
	enforcer := capability.NewEnforcer(store, audit, capability.DefaultEnv(home), nil)
	fm := focus.NewManager()

	reg := session.NewRegistry(session.Config{TeardownGrace: grace, FocusOnReady: true}, fm, store, nil, bus, nil)
	rt := router.New(router.DefaultConfig(), reg, enforcer, bus, nil)
	reg.Attach(rt)

	cat := catalog.New(bus, nil)
	messaging := map[string]map[string]types.CapabilityValue{
		"messaging": {"send": types.Allowed(), "broadcast": types.Allowed()},
	}
	for _, name := range []string{"notes", "calendar"} {
		require.NoError(t, cat.Register(types.AppManifest{
			Name:         name,
			Entrypoint:   "index.html",
			WindowType:   types.WindowPanel,
			Capabilities: messaging,
		}))
	}
	require.NoError(t, cat.Register(types.AppManifest{
		Name:       "viewer",
		Entrypoint: "index.html",
		WindowType: types.WindowPanel,
	}))

	tracer := tracing.New("apphost-test", nil)

	h := NewHandlers(Deps{
		Registry: reg,
		Focus:    fm,
		Store:    store,
		Enforcer: enforcer,
		Audit:    audit,
		Bus:      bus,
		Router:   rt,
		Monitor:  monitor.New(monitor.DefaultConfig(), reg, nil, bus, nil),
		Catalog:  cat,
		Loader:   catalog.NewLoader(filepath.Join(home, "apps"), nil),
		Tracer:   tracer,
	})
	engine := gin.New()
	h.Register(engine)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
		rt.Close()
		audit.Close()
		tracer.Close()
	})
	return &fixture{engine: engine, handlers: h, home: home}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) launch(t *testing.T, app string) types.SessionInfo {
	t.Helper()
	w := f.do(t, http.MethodPost, "/sessions", types.LaunchRequest{AppName: app})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res session.LaunchResult
	decode(t, w, &res)
	return res.Session
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	decode(t, w, &body)
	assert.NotEmpty(t, body.Error)
	return body.Kind
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t, time.Second)

	w := f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), Version)

	f.launch(t, "notes")
	w = f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string      `json:"status"`
		Sessions types.Stats `json:"sessions"`
	}
	decode(t, w, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.Sessions.TotalSessions)
}

func TestLaunchSession(t *testing.T) {
	f := newFixture(t, time.Second)

	first := f.launch(t, "notes")
	assert.Equal(t, types.StateStarting, first.State)

	w := f.do(t, http.MethodPost, "/sessions", types.LaunchRequest{AppName: "notes"})
	require.Equal(t, http.StatusOK, w.Code)
	var again session.LaunchResult
	decode(t, w, &again)
	assert.True(t, again.Existing)
	assert.Equal(t, first.ID, again.Session.ID)

	tests := []struct {
		name   string
		body   interface{}
		status int
		kind   string
	}{
		{"unknown app", types.LaunchRequest{AppName: "missing"}, http.StatusNotFound, "app_not_found"},
		{"missing name", map[string]string{}, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/sessions", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.kind, errorKind(t, w))
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, time.Second)
	notes := f.launch(t, "notes")
	calendar := f.launch(t, "calendar")
	base := "/sessions/" + notes.ID.String()

	w := f.do(t, http.MethodPost, base+"/ready", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var info types.SessionInfo
	decode(t, w, &info)
	assert.Equal(t, types.StateActive, info.State)

	w = f.do(t, http.MethodPost, base+"/ready", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", errorKind(t, w))

	w = f.do(t, http.MethodGet, "/sessions?state=starting", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Sessions []types.SessionInfo `json:"sessions"`
	}
	decode(t, w, &list)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, calendar.ID, list.Sessions[0].ID)

	w = f.do(t, http.MethodGet, "/sessions?state=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/focus", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stack struct {
		Stack []focus.Entry `json:"stack"`
		Top   *focus.Entry  `json:"top"`
	}
	decode(t, w, &stack)
	require.NotNil(t, stack.Top)
	assert.Equal(t, notes.ID, stack.Top.ID)

	w = f.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(t, http.MethodPost, base+"/focus", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, base+"/teardown", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/sessions/"+calendar.ID.String()+"/failure",
		types.FailureRequest{Reason: "renderer crashed"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/sessions?app=calendar&state=active", nil)
	decode(t, w, &list)
	assert.Empty(t, list.Sessions)
}

func TestCloseSessionWaitForcesAfterGrace(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	notes := f.launch(t, "notes")

	w := f.do(t, http.MethodDelete, "/sessions/"+notes.ID.String()+"?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		State  types.State `json:"state"`
		Forced bool        `json:"forced"`
	}
	decode(t, w, &body)
	assert.Equal(t, types.StateStopped, body.State)
	assert.True(t, body.Forced)
}

func TestSessionNotFound(t *testing.T) {
	f := newFixture(t, time.Second)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/sessions/sess-missing", http.StatusNotFound},
		{http.MethodPost, "/sessions/sess-missing/focus", http.StatusNotFound},
		{http.MethodDelete, "/sessions/sess-missing", http.StatusNotFound},
		{http.MethodGet, "/sessions/sess-missing/grants", http.StatusNotFound},
		{http.MethodGet, "/sessions/sess-missing/usage", http.StatusNotFound},
		{http.MethodGet, "/sessions/bad%20id", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestGrantRevokeAndCheck(t *testing.T) {
	f := newFixture(t, time.Second)
	viewer := f.launch(t, "viewer")
	base := "/sessions/" + viewer.ID.String()
	docs := filepath.Join(f.home, "docs")
	check := types.CheckRequest{Category: "filesystem", Action: "read", Resource: filepath.Join(docs, "a.txt")}

	decision := func() capability.Decision {
		w := f.do(t, http.MethodPost, base+"/check", check)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var d capability.Decision
		decode(t, w, &d)
		return d
	}

	assert.False(t, decision().Allowed)

	w := f.do(t, http.MethodPost, base+"/grants", types.GrantRequest{
		Category: "filesystem", Action: "read", Scopes: []string{docs},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, decision().Allowed)

	w = f.do(t, http.MethodGet, base+"/grants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), docs)

	w = f.do(t, http.MethodDelete, base+"/grants/filesystem/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"session_id":"`+viewer.ID.String()+`","revoked":true}`, w.Body.String())
	assert.False(t, decision().Allowed)

	w = f.do(t, http.MethodGet, "/events?kind=capability.granted", nil)
	var evs struct {
		Events []events.Event `json:"events"`
	}
	decode(t, w, &evs)
	require.Len(t, evs.Events, 1)
	assert.Equal(t, viewer.ID, evs.Events[0].SessionID)

	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/audit?denied=true&session_id="+viewer.ID.String(), nil)
		var body struct {
			Entries []types.AuditEntry `json:"entries"`
		}
		decode(t, w, &body)
		return len(body.Entries) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestGrantRejectsUnknownCapability(t *testing.T) {
	f := newFixture(t, time.Second)
	base := "/sessions/" + f.launch(t, "viewer").ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"grant category", http.MethodPost, base + "/grants", types.GrantRequest{Category: "camera", Action: "read"}},
		{"grant action", http.MethodPost, base + "/grants", types.GrantRequest{Category: "clipboard", Action: "delete"}},
		{"revoke", http.MethodDelete, base + "/grants/camera/read", nil},
		{"check", http.MethodPost, base + "/check", types.CheckRequest{Category: "system", Action: "reboot"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "unknown_capability", errorKind(t, w))
		})
	}
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, time.Second)
	notes := f.launch(t, "notes")
	calendar := f.launch(t, "calendar")
	viewer := f.launch(t, "viewer")
	base := "/sessions/" + notes.ID.String()

	w := f.do(t, http.MethodPost, base+"/messages", types.SendRequest{
		To: calendar.ID.String(), Type: "note.created", Payload: json.RawMessage(`{"id":1}`),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out router.Outcome
	decode(t, w, &out)
	assert.Equal(t, router.StatusDelivered, out.Status)

	w = f.do(t, http.MethodGet, "/sessions/"+calendar.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail SessionDetail
	decode(t, w, &detail)
	require.NotNil(t, detail.Mailbox)
	assert.Equal(t, 1, detail.Mailbox.Queued)
	assert.NotEmpty(t, detail.Grants)

	w = f.do(t, http.MethodPost, base+"/messages", types.SendRequest{Type: "note.sync"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var fanout struct {
		Outcomes []router.Outcome `json:"outcomes"`
	}
	decode(t, w, &fanout)
	assert.Len(t, fanout.Outcomes, 2)

	tests := []struct {
		name   string
		from   string
		req    types.SendRequest
		status int
		kind   string
	}{
		{"no grant", viewer.ID.String(), types.SendRequest{To: notes.ID.String(), Type: "hello"}, http.StatusForbidden, "permission_denied"},
		{"dead destination", notes.ID.String(), types.SendRequest{To: "sess-gone", Type: "hello"}, http.StatusNotFound, "destination_not_found"},
		{"bad type", notes.ID.String(), types.SendRequest{To: calendar.ID.String(), Type: "bad type!"}, http.StatusBadRequest, "invalid_message"},
		{"bad payload", notes.ID.String(), types.SendRequest{To: calendar.ID.String(), Type: "x", Payload: json.RawMessage(`[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[[]]]]]]]]]]]]]]]]]]]]]]]]]]]]]]]]]]`)}, http.StatusBadRequest, "invalid_message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/sessions/"+tt.from+"/messages", tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, errorKind(t, w))
		})
	}
}

func TestCallSession(t *testing.T) {
	f := newFixture(t, time.Second)
	notes := f.launch(t, "notes")
	calendar := f.launch(t, "calendar")

	mb, ok := f.handlers.Router.Mailbox(calendar.ID)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		req, err := mb.Receive(ctx)
		if err != nil {
			return
		}
		_, _ = f.handlers.Router.Reply(ctx, calendar.ID, req, "day.events", json.RawMessage(`{"count":3}`))
	}()

	w := f.do(t, http.MethodPost, "/sessions/"+notes.ID.String()+"/call", types.SendRequest{
		To: calendar.ID.String(), Type: "day.query", TimeoutMS: 1000,
	})
	<-done
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var reply types.Message
	decode(t, w, &reply)
	assert.Equal(t, "day.events", reply.Type)
	assert.JSONEq(t, `{"count":3}`, string(reply.Payload))

	w = f.do(t, http.MethodPost, "/sessions/"+notes.ID.String()+"/call", types.SendRequest{
		To: calendar.ID.String(), Type: "day.query", TimeoutMS: 20,
	})
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "timeout", errorKind(t, w))

	w = f.do(t, http.MethodPost, "/sessions/"+notes.ID.String()+"/call", types.SendRequest{Type: "day.query"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	f := newFixture(t, time.Second)

	w := f.do(t, http.MethodGet, "/catalog", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Apps  []catalog.Entry `json:"apps"`
		Stats catalog.Stats   `json:"stats"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Apps, 3)

	w = f.do(t, http.MethodGet, "/catalog/notes", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/catalog/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/catalog/reload", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats catalog.Stats
	decode(t, w, &stats)
	assert.Equal(t, uint64(1), stats.Reloads)
	assert.Equal(t, 3, stats.Apps)
}

func TestObservationEndpoints(t *testing.T) {
	f := newFixture(t, time.Second)
	notes := f.launch(t, "notes")
	f.handlers.Monitor.Record(notes, types.Usage{MemoryBytes: 1 << 20, CPUPercent: 4})

	w := f.do(t, http.MethodGet, "/sessions/"+notes.ID.String()+"/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var usage types.Usage
	decode(t, w, &usage)
	assert.Equal(t, uint64(1<<20), usage.MemoryBytes)

	w = f.do(t, http.MethodGet, "/monitor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary monitor.Summary
	decode(t, w, &summary)
	assert.Len(t, summary.Sessions, 1)

	w = f.do(t, http.MethodGet, "/router", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats router.Stats
	decode(t, w, &stats)
	assert.Len(t, stats.Mailboxes, 1)

	w = f.do(t, http.MethodGet, "/events?session_id="+notes.ID.String()+"&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var evs struct {
		Events []events.Event `json:"events"`
	}
	decode(t, w, &evs)
	assert.Len(t, evs.Events, 1)

	w = f.do(t, http.MethodGet, "/capabilities", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "filesystem")
}
