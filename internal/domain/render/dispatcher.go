package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/router"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Mailboxes gives the dispatcher access to session mailboxes
type Mailboxes interface {
	Mailbox(sessionID id.SessionID) (*router.Mailbox, bool)
}

// Sessions is the part of the session registry the dispatcher calls back
type Sessions interface {
	AwaitReady(ctx context.Context, sessionID id.SessionID) (types.SessionInfo, error)
	ReportRenderFailure(ctx context.Context, sessionID id.SessionID, reason string) error
}

// Config tunes delivery
type Config struct {
	// DeliverTimeout bounds a single Deliver call
	DeliverTimeout time.Duration
	// BreakerFailures is the number of consecutive delivery failures that
	// trip a session's breaker
	BreakerFailures uint32
	// BreakerTimeout is how long a tripped breaker stays open
	BreakerTimeout time.Duration
}

// DefaultConfig returns the delivery defaults
func DefaultConfig() Config {
	return Config{
		DeliverTimeout:  5 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

type pump struct {
	cancel  context.CancelFunc
	breaker *resilience.Breaker
}

// Dispatcher pumps each ready session's mailbox into the surface. Each
// session gets its own goroutine and circuit breaker; a tripped breaker is
// reported to the registry as a render failure.
type Dispatcher struct {
	cfg       Config
	surface   Surface
	mailboxes Mailboxes
	sessions  Sessions
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	pumps  map[id.SessionID]*pump // Protected by mu
	closed bool
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg Config, surface Surface, mailboxes Mailboxes, sessions Sessions, logger *zap.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = def.DeliverTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:       cfg,
		surface:   surface,
		mailboxes: mailboxes,
		sessions:  sessions,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		pumps:     make(map[id.SessionID]*pump),
	}
}

// WithMetrics adds metrics collection to the dispatcher
func (d *Dispatcher) WithMetrics(metrics *monitoring.Metrics) *Dispatcher {
	d.metrics = metrics
	return d
}

// Attach starts a pump for a new session. The pump idles until the session
// is ready.
func (d *Dispatcher) Attach(info types.SessionInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if _, exists := d.pumps[info.ID]; exists {
		return
	}

	settings := resilience.ConsecutiveFailures(d.cfg.BreakerFailures, d.cfg.BreakerTimeout)
	settings.OnStateChange = func(name string, from, to resilience.State) {
		d.logger.Info("Delivery breaker state changed",
			zap.String("session_id", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}

	ctx, cancel := context.WithCancel(d.ctx)
	p := &pump{
		cancel:  cancel,
		breaker: resilience.New(info.ID.String(), settings),
	}
	d.pumps[info.ID] = p

	d.wg.Add(1)
	go d.run(ctx, info.ID, p.breaker)
}

// Detach stops a session's pump without waiting for it
func (d *Dispatcher) Detach(sessionID id.SessionID) {
	d.mu.Lock()
	p, ok := d.pumps[sessionID]
	delete(d.pumps, sessionID)
	d.mu.Unlock()

	if ok {
		p.cancel()
	}
}

// Active returns the number of running pumps
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pumps)
}

// Close stops every pump and waits for them to exit
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.pumps = make(map[id.SessionID]*pump)
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, sessionID id.SessionID, breaker *resilience.Breaker) {
	defer d.wg.Done()

	info, err := d.sessions.AwaitReady(ctx, sessionID)
	if err != nil {
		return
	}
	mb, ok := d.mailboxes.Mailbox(sessionID)
	if !ok {
		return
	}

	logger := logging.ForSession(d.logger, sessionID, info.AppName)
	logger.Debug("Delivery started")

	for {
		for {
			if ctx.Err() != nil {
				return
			}
			msg, ok := mb.Pop()
			if !ok {
				break
			}
			if err := d.deliver(ctx, breaker, info, msg); err != nil {
				if !errors.Is(err, resilience.ErrCircuitOpen) {
					logger.Warn("Delivery failed",
						zap.String("message_id", msg.ID.String()),
						zap.Error(err))
					continue
				}
				d.fail(sessionID, logger, err)
				return
			}
		}
		if mb.Closed() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-mb.Ready():
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, breaker *resilience.Breaker, info types.SessionInfo, msg types.Message) error {
	err := breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, d.cfg.DeliverTimeout)
		defer cancel()
		return d.surface.Deliver(ctx, info, msg)
	})

	switch {
	case err == nil:
		d.metrics.RecordSurfaceDelivery("delivered")
	case errors.Is(err, resilience.ErrCircuitOpen):
		d.metrics.RecordSurfaceDelivery("rejected")
	default:
		d.metrics.RecordSurfaceDelivery("failed")
		if breaker.State() == resilience.StateOpen {
			// this failure tripped it
			return fmt.Errorf("deliver %s: %v: %w", msg.ID, err, resilience.ErrCircuitOpen)
		}
	}
	return err
}

func (d *Dispatcher) fail(sessionID id.SessionID, logger *zap.Logger, cause error) {
	logger.Warn("Surface stopped accepting messages", zap.Error(cause))

	reason := fmt.Sprintf("delivery breaker open: %v", cause)
	if err := d.sessions.ReportRenderFailure(context.Background(), sessionID, reason); err != nil {
		logger.Debug("Render failure not reported", zap.Error(err))
	}
}
