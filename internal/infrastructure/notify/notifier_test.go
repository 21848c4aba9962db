package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

func TestBuildSanitizes(t *testing.T) {
	n := New(Config{Source: "host-1"}, nil)
	e := events.Warning(events.SessionRenderFailure, id.NewSessionID(), "notes", "render failure").
		With("reason", `<script>alert(1)</script>surface crashed`).
		With("attempts", 3)

	notice := n.Build(e)
	assert.Equal(t, "host-1", notice.Source)
	assert.Equal(t, "surface crashed", notice.Data["reason"])
	assert.Equal(t, 3, notice.Data["attempts"])
	assert.Equal(t, "warning", notice.Level)
	assert.Equal(t, string(events.SessionRenderFailure), notice.Kind)
}

type webhook struct {
	mu       sync.Mutex
	notices  []Notice
	failures atomic.Int32
}

func (w *webhook) handler(t *testing.T) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if w.failures.Load() > 0 {
			w.failures.Add(-1)
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var notice Notice
		require.NoError(t, sonic.Unmarshal(body, &notice))

		w.mu.Lock()
		w.notices = append(w.notices, notice)
		w.mu.Unlock()
		rw.WriteHeader(http.StatusNoContent)
	}
}

func (w *webhook) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.notices)
}

func TestRunPostsWithRetry(t *testing.T) {
	hook := &webhook{}
	hook.failures.Store(1)
	srv := httptest.NewServer(hook.handler(t))
	defer srv.Close()

	n := New(Config{WebhookURL: srv.URL, RetryMax: 2, Timeout: time.Second}, nil)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()

	n.Notify(events.Warning(events.SessionTeardownTimeout, id.NewSessionID(), "calendar", "teardown timed out"))
	require.Eventually(t, func() bool { return hook.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, Stats{Sent: 1}, n.Stats())
}

func TestRunCountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := New(Config{WebhookURL: srv.URL, RetryMax: 0, Timeout: time.Second}, nil)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()

	n.Notify(events.Warning(events.CeilingExceeded, id.NewSessionID(), "notes", "memory above ceiling"))
	require.Eventually(t, func() bool { return n.Stats().Failed == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestNotifyDropsWhenFull(t *testing.T) {
	n := New(Config{Queue: 1}, nil)
	e := events.Warning(events.MailboxOverflow, id.NewSessionID(), "notes", "overflow")

	n.Notify(e)
	n.Notify(e)
	assert.Equal(t, uint64(1), n.Stats().Dropped)
}
