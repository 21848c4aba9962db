package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

// peer is one upgraded connection. gorilla/websocket allows a single
// concurrent writer, so writes are serialized here; Close may race them.
type peer struct {
	sid  id.SessionID
	conn *websocket.Conn
	ctx  context.Context

	cancel context.CancelFunc
	wmu    sync.Mutex
	once   sync.Once
}

func newPeer(sid id.SessionID, conn *websocket.Conn) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &peer{sid: sid, conn: conn, ctx: ctx, cancel: cancel}
}

func (p *peer) write(ctx context.Context, v interface{}, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := p.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return p.conn.WriteJSON(v)
}

func (p *peer) close() {
	p.once.Do(func() {
		p.cancel()
		_ = p.conn.Close()
	})
}
