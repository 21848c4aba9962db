package session

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
)

// Teardown resolves once a closing session has been removed. Err is nil
// when the surface confirmed teardown and wraps ErrTeardownTimeout when the
// grace period ran out first.
type Teardown struct {
	SessionID id.SessionID

	done chan struct{}
	once sync.Once
	err  error
}

func newTeardown(sessionID id.SessionID) *Teardown {
	return &Teardown{SessionID: sessionID, done: make(chan struct{})}
}

func (t *Teardown) resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done is closed when the teardown has resolved
func (t *Teardown) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome. It is only meaningful after Done is closed.
func (t *Teardown) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the teardown resolves or ctx ends
func (t *Teardown) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return errs.FromContext(ctx)
	}
}
