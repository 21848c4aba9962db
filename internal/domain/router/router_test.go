package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

type fakeDirectory struct {
	mu       sync.Mutex
	sessions map[id.SessionID]types.SessionInfo
}

func (d *fakeDirectory) Lookup(sid id.SessionID) (types.SessionInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.sessions[sid]
	return info, ok
}

func (d *fakeDirectory) Live() []types.SessionInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.SessionInfo, 0, len(d.sessions))
	for _, info := range d.sessions {
		out = append(out, info)
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	router    *Router
	store     *capability.Store
	directory *fakeDirectory
	events    *recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := capability.NewStore()
	audit := capability.NewAuditLog(capability.AuditConfig{Buffer: 1024, Retain: 64}, nil)
	t.Cleanup(audit.Close)

	h := &harness{
		store:     store,
		directory: &fakeDirectory{sessions: make(map[id.SessionID]types.SessionInfo)},
		events:    &recorder{},
	}
	enforcer := capability.NewEnforcer(store, audit, capability.Env{HomeDir: "/home/test"}, nil)
	h.router = New(cfg, h.directory, enforcer, h.events, nil)
	t.Cleanup(h.router.Close)
	return h
}

// start registers a live session of app with grants
func (h *harness) start(app string, grants ...capability.Grant) id.SessionID {
	info := types.SessionInfo{ID: id.NewSessionID(), AppName: app, State: types.StateActive}
	h.store.Register(info.ID, grants)
	h.directory.mu.Lock()
	h.directory.sessions[info.ID] = info
	h.directory.mu.Unlock()
	h.router.Attach(info)
	return info.ID
}

func (h *harness) stop(sid id.SessionID) {
	h.directory.mu.Lock()
	delete(h.directory.sessions, sid)
	h.directory.mu.Unlock()
	h.router.Detach(sid)
	h.store.Unregister(sid)
}

func (h *harness) queued(t *testing.T, sid id.SessionID) int {
	t.Helper()
	mb, ok := h.router.Mailbox(sid)
	require.True(t, ok)
	return mb.Len()
}

var (
	canSend      = capability.MustGrant("messaging", "send")
	canBroadcast = capability.MustGrant("messaging", "broadcast")
)

func payload(v string) json.RawMessage {
	return json.RawMessage(`"` + v + `"`)
}

// ============================================================================
// Send
// ============================================================================

func TestSendPreservesOrder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar")
	ctx := context.Background()

	for _, typ := range []string{"one", "two", "three"} {
		out, err := h.router.Send(ctx, notes, calendar, typ, nil)
		require.NoError(t, err)
		assert.Equal(t, StatusDelivered, out.Status)
		assert.Equal(t, calendar, out.To)
		assert.NoError(t, out.Err)
	}

	mb, _ := h.router.Mailbox(calendar)
	for _, want := range []string{"one", "two", "three"} {
		msg, ok := mb.Pop()
		require.True(t, ok)
		assert.Equal(t, want, msg.Type)
		assert.Equal(t, notes, msg.From)
	}
}

func TestSendUnknownTarget(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar")

	_, err := h.router.Send(context.Background(), notes, id.NewSessionID(), "ping", nil)
	assert.True(t, errors.Is(err, errs.ErrDestinationNotFound))
	assert.Zero(t, h.queued(t, notes))
	assert.Zero(t, h.queued(t, calendar))
}

func TestSendPermissionCheckedFirst(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes")
	calendar := h.start("calendar")

	_, err := h.router.Send(context.Background(), notes, calendar, "ping", nil)
	assert.True(t, errors.Is(err, errs.ErrPermissionDenied))

	// denial wins over a missing target
	_, err = h.router.Send(context.Background(), notes, id.NewSessionID(), "ping", nil)
	assert.True(t, errors.Is(err, errs.ErrPermissionDenied))

	assert.Zero(t, h.queued(t, calendar))
}

func TestSendScopedToTargetApp(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", capability.MustGrant("messaging", "send", "mail*"))
	mail := h.start("mail")
	calendar := h.start("calendar")
	ctx := context.Background()

	_, err := h.router.Send(ctx, notes, mail, "draft", payload("hi"))
	assert.NoError(t, err)

	_, err = h.router.Send(ctx, notes, calendar, "draft", payload("hi"))
	assert.True(t, errors.Is(err, errs.ErrPermissionDenied))
	assert.Zero(t, h.queued(t, calendar))
}

func TestSendToStoppedSession(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar")
	h.stop(calendar)

	_, err := h.router.Send(context.Background(), notes, calendar, "ping", nil)
	assert.True(t, errors.Is(err, errs.ErrDestinationNotFound))
	_, ok := h.router.Mailbox(calendar)
	assert.False(t, ok)
}

func TestSendOverflowWarnsPeriodically(t *testing.T) {
	h := newHarness(t, Config{MailboxCapacity: 2, OverflowWarnEvery: 3})
	notes := h.start("notes", canSend)
	calendar := h.start("calendar")
	ctx := context.Background()

	var overflows int
	for i := 0; i < 9; i++ {
		out, err := h.router.Send(ctx, notes, calendar, "tick", nil)
		require.NoError(t, err)
		if out.Status == StatusOverflow {
			overflows++
			assert.True(t, errors.Is(out.Err, errs.ErrMailboxOverflow))
			assert.NotEmpty(t, out.Evicted)
		}
	}

	assert.Equal(t, 7, overflows)
	assert.Equal(t, 2, h.queued(t, calendar))

	var warnings int
	for _, k := range h.events.kinds() {
		if k == events.MailboxOverflow {
			warnings++
		}
	}
	// overflows 1, 4 and 7
	assert.Equal(t, 3, warnings)
}

// ============================================================================
// Broadcast
// ============================================================================

func TestBroadcastWithFullMailbox(t *testing.T) {
	h := newHarness(t, Config{MailboxCapacity: 1})
	sender := h.start("notes", canBroadcast)
	mail := h.start("mail")
	calendar := h.start("calendar")
	clock := h.start("clock", canSend)
	ctx := context.Background()

	_, err := h.router.Send(ctx, clock, calendar, "fill", nil)
	require.NoError(t, err)

	outcomes, err := h.router.Broadcast(ctx, sender, "theme.changed", payload("dark"))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	byTarget := make(map[id.SessionID]Outcome)
	for _, out := range outcomes {
		byTarget[out.To] = out
	}
	assert.NotContains(t, byTarget, sender)
	assert.Equal(t, StatusDelivered, byTarget[mail].Status)
	assert.Equal(t, StatusDelivered, byTarget[clock].Status)
	assert.Equal(t, StatusOverflow, byTarget[calendar].Status)
	assert.True(t, errors.Is(byTarget[calendar].Err, errs.ErrMailboxOverflow))

	mb, _ := h.router.Mailbox(calendar)
	msg, ok := mb.Pop()
	require.True(t, ok)
	assert.Equal(t, "theme.changed", msg.Type)
	assert.True(t, msg.IsBroadcast())
}

func TestBroadcastRequiresCapability(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	sender := h.start("notes", canSend)
	mail := h.start("mail")

	outcomes, err := h.router.Broadcast(context.Background(), sender, "hello", nil)
	assert.True(t, errors.Is(err, errs.ErrPermissionDenied))
	assert.Nil(t, outcomes)
	assert.Zero(t, h.queued(t, mail))
}

func TestBroadcastHonoursScope(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	core, logs := observer.New(zapcore.DebugLevel)
	h.router.logger = zap.New(core)
	sender := h.start("notes", capability.MustGrant("messaging", "broadcast", "mail*"))
	mail := h.start("mail")
	mailArchive := h.start("mail-archive")
	calendar := h.start("calendar")

	outcomes, err := h.router.Broadcast(context.Background(), sender, "hello", nil)
	require.NoError(t, err)

	var targets []id.SessionID
	for _, out := range outcomes {
		targets = append(targets, out.To)
	}
	assert.ElementsMatch(t, []id.SessionID{mail, mailArchive}, targets)
	assert.Zero(t, h.queued(t, calendar))

	skipped := logs.FilterMessage("Broadcast recipient out of scope").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, calendar.String(), skipped[0].ContextMap()["session_id"])

	routed := logs.FilterMessage("Broadcast routed").All()
	require.Len(t, routed, 1)
	assert.EqualValues(t, 1, routed[0].ContextMap()["out_of_scope"])
}

// ============================================================================
// Request/response
// ============================================================================

// answer pops the request from target's mailbox and replies to it
func answer(t *testing.T, h *harness, target id.SessionID, body string) (types.Message, Outcome) {
	t.Helper()
	mb, ok := h.router.Mailbox(target)
	require.True(t, ok)
	req, ok := mb.Pop()
	require.True(t, ok, "request not delivered")
	require.NotEmpty(t, req.CorrelationID)

	out, err := h.router.Reply(context.Background(), target, req, "reply", payload(body))
	require.NoError(t, err)
	return req, out
}

func TestRequestResolvesOnReply(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)
	ctx := context.Background()

	pending, err := h.router.Request(ctx, notes, calendar, "lookup", payload("tomorrow"), time.Second)
	require.NoError(t, err)

	req, out := answer(t, h, calendar, "free")
	assert.Equal(t, pending.CorrelationID, req.CorrelationID)
	assert.Equal(t, StatusResolved, out.Status)

	reply, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, calendar, reply.From)
	assert.JSONEq(t, `"free"`, string(reply.Payload))

	assert.Zero(t, h.queued(t, notes), "a resolving reply never reaches the mailbox")
	assert.Zero(t, h.router.Stats().Pending)

	// duplicate
	dup, err := h.router.Reply(ctx, calendar, req, "reply", payload("busy"))
	require.NoError(t, err)
	assert.Equal(t, StatusDiscarded, dup.Status)
	assert.Zero(t, h.queued(t, notes))
}

func TestRequestTimeout(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)
	ctx := context.Background()

	pending, err := h.router.Request(ctx, notes, calendar, "lookup", nil, 20*time.Millisecond)
	require.NoError(t, err)

	_, err = pending.Wait(ctx)
	assert.True(t, errors.Is(err, errs.ErrTimeout))

	_, out := answer(t, h, calendar, "late")
	assert.Equal(t, StatusDiscarded, out.Status)
	assert.Zero(t, h.queued(t, notes))
}

func TestRequestCancel(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)
	ctx := context.Background()

	pending, err := h.router.Request(ctx, notes, calendar, "lookup", nil, time.Minute)
	require.NoError(t, err)
	pending.Cancel()
	pending.Cancel()

	_, err = pending.Wait(ctx)
	assert.True(t, errors.Is(err, errs.ErrCanceled))

	_, out := answer(t, h, calendar, "ignored")
	assert.Equal(t, StatusDiscarded, out.Status)
}

func TestRequestCanceledByContext(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)

	ctx, cancel := context.WithCancel(context.Background())
	pending, err := h.router.Request(ctx, notes, calendar, "lookup", nil, time.Minute)
	require.NoError(t, err)
	cancel()

	select {
	case <-pending.Done():
	case <-time.After(time.Second):
		t.Fatal("request not settled after context cancel")
	}
	_, err = pending.Wait(context.Background())
	assert.True(t, errors.Is(err, errs.ErrCanceled))
}

func TestRequestReplyFromOtherSessionIsOrdinary(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)
	mail := h.start("mail", canSend)
	ctx := context.Background()

	pending, err := h.router.Request(ctx, notes, calendar, "lookup", nil, time.Minute)
	require.NoError(t, err)

	forged := types.NewMessage(mail, notes, "reply", nil).WithCorrelation(pending.CorrelationID)
	out, err := h.router.SendMessage(ctx, forged)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, out.Status)
	assert.Equal(t, 1, h.queued(t, notes))

	select {
	case <-pending.Done():
		t.Fatal("request settled by the wrong session")
	default:
	}
	pending.Cancel()
}

func TestRequestExactlyOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)
	ctx := context.Background()

	pending, err := h.router.Request(ctx, notes, calendar, "lookup", nil, 50*time.Millisecond)
	require.NoError(t, err)
	mb, _ := h.router.Mailbox(calendar)
	req, ok := mb.Pop()
	require.True(t, ok)

	var resolved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.router.Reply(ctx, calendar, req, "reply", nil)
			if err == nil && out.Status == StatusResolved {
				resolved.Add(1)
			}
		}()
	}
	pending.Cancel()
	wg.Wait()

	<-pending.Done()
	assert.LessOrEqual(t, resolved.Load(), int32(1))
	_, err = pending.Wait(ctx)
	if resolved.Load() == 1 {
		assert.NoError(t, err)
	} else {
		assert.True(t, errors.Is(err, errs.ErrCanceled))
	}
}

func TestRequestTargetStops(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)
	ctx := context.Background()

	pending, err := h.router.Request(ctx, notes, calendar, "lookup", nil, time.Minute)
	require.NoError(t, err)
	h.stop(calendar)

	_, err = pending.Wait(ctx)
	assert.True(t, errors.Is(err, errs.ErrDestinationNotFound))
}

func TestRequestRejectedBeforeRegistering(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes")
	calendar := h.start("calendar")

	pending, err := h.router.Request(context.Background(), notes, calendar, "lookup", nil, time.Second)
	assert.True(t, errors.Is(err, errs.ErrPermissionDenied))
	assert.Nil(t, pending)
	assert.Zero(t, h.router.Stats().Pending)
	assert.Zero(t, h.queued(t, calendar))
}

func TestCall(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		mb, _ := h.router.Mailbox(calendar)
		req, err := mb.Receive(ctx)
		if err != nil {
			return
		}
		_, _ = h.router.Reply(ctx, calendar, req, "pong", payload("ok"))
	}()

	reply, err := h.router.Call(ctx, notes, calendar, "ping", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Type)
	<-done
}

func TestReplyRequiresCorrelation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)

	plain := types.NewMessage(notes, calendar, "hello", nil)
	_, err := h.router.Reply(context.Background(), calendar, plain, "reply", nil)
	assert.Error(t, err)
}

func TestCloseFailsPending(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar", canSend)

	pending, err := h.router.Request(context.Background(), notes, calendar, "lookup", nil, time.Minute)
	require.NoError(t, err)
	h.router.Close()

	_, err = pending.Wait(context.Background())
	assert.True(t, errors.Is(err, errs.ErrCanceled))
}

func TestStats(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	notes := h.start("notes", canSend)
	calendar := h.start("calendar")

	_, err := h.router.Send(context.Background(), notes, calendar, "ping", nil)
	require.NoError(t, err)

	stats := h.router.Stats()
	require.Len(t, stats.Mailboxes, 2)
	for _, mb := range stats.Mailboxes {
		if mb.SessionID == calendar {
			assert.Equal(t, 1, mb.Queued)
			assert.Equal(t, "calendar", mb.AppName)
		}
	}
}
