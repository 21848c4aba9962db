package router

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// PendingReply is the future returned by Request. It resolves exactly once:
// with the reply, with ErrTimeout when the deadline passes, or with
// ErrCanceled when the requester gives up.
type PendingReply struct {
	CorrelationID id.CorrelationID
	Requester     id.SessionID
	Target        id.SessionID

	router *Router
	timer  *time.Timer
	stop   func() bool // detaches the context watcher
	timing *monitoring.Timer

	done  chan struct{}
	once  sync.Once
	reply types.Message
	err   error
}

func (p *PendingReply) resolve(reply types.Message, err error) {
	p.once.Do(func() {
		p.reply = reply
		p.err = err
		close(p.done)
	})
}

// Done is closed once the request is settled
func (p *PendingReply) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request settles or ctx ends. Ending ctx only stops
// the wait; use Cancel to abandon the request.
func (p *PendingReply) Wait(ctx context.Context) (types.Message, error) {
	select {
	case <-p.done:
		return p.reply, p.err
	case <-ctx.Done():
		return types.Message{}, errs.FromContext(ctx)
	}
}

// Cancel abandons the request. A reply arriving afterwards is discarded.
func (p *PendingReply) Cancel() {
	p.router.settle(p.CorrelationID, types.Message{}, errs.ErrCanceled, outcomeCanceled)
}
