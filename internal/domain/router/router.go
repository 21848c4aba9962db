package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Directory resolves live sessions. The session registry satisfies it.
type Directory interface {
	Lookup(sessionID id.SessionID) (types.SessionInfo, bool)
	Live() []types.SessionInfo
}

// Enforcer authorizes messaging actions. *capability.Enforcer satisfies it.
type Enforcer interface {
	Require(sessionID id.SessionID, category capability.Category, action capability.Action, resource string) error
}

// Config tunes the router
type Config struct {
	// MailboxCapacity bounds each session's undelivered messages
	MailboxCapacity int
	// OverflowWarnEvery raises a warning event on every Nth consecutive
	// overflow of the same mailbox
	OverflowWarnEvery int
	// RequestTimeout is used when Request is given no timeout
	RequestTimeout time.Duration
	// SettledMemory is how many settled correlation IDs are remembered to
	// recognise late replies
	SettledMemory int
}

// DefaultConfig returns the router defaults
func DefaultConfig() Config {
	return Config{
		MailboxCapacity:   256,
		OverflowWarnEvery: 64,
		RequestTimeout:    10 * time.Second,
		SettledMemory:     1024,
	}
}

// Status is the delivery outcome for one recipient
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusOverflow  Status = "overflow"
	StatusResolved  Status = "resolved"
	StatusDiscarded Status = "discarded"
)

// Outcome reports what happened to a message for one recipient. Err is
// ErrMailboxOverflow when an older message was evicted to make room; the
// new message was still enqueued.
type Outcome struct {
	To        id.SessionID `json:"to"`
	MessageID id.MessageID `json:"message_id"`
	Status    Status       `json:"status"`
	Evicted   id.MessageID `json:"evicted,omitempty"`
	Err       error        `json:"-"`
}

// Message patterns used for metrics
const (
	patternDirect    = "direct"
	patternBroadcast = "broadcast"
	patternRequest   = "request"
	patternReply     = "reply"
)

type settleOutcome string

const (
	outcomeResolved settleOutcome = "resolved"
	outcomeTimeout  settleOutcome = "timeout"
	outcomeCanceled settleOutcome = "canceled"
	outcomeGone     settleOutcome = "gone"
)

// Router moves messages between sessions. Each live session owns one
// bounded mailbox, opened and closed with the session through the
// registry's attachment hooks.
type Router struct {
	cfg       Config
	directory Directory
	enforcer  Enforcer
	events    events.Publisher
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	mu        sync.RWMutex
	mailboxes map[id.SessionID]*Mailbox // Protected by mu

	pmu     sync.Mutex
	pending map[id.CorrelationID]*PendingReply // Protected by pmu
	settled map[id.CorrelationID]settleOutcome
	order   []id.CorrelationID // settled IDs, oldest first
}

// New creates a router
func New(cfg Config, directory Directory, enforcer Enforcer, publisher events.Publisher, logger *zap.Logger) *Router {
	def := DefaultConfig()
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = def.MailboxCapacity
	}
	if cfg.OverflowWarnEvery <= 0 {
		cfg.OverflowWarnEvery = def.OverflowWarnEvery
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.SettledMemory <= 0 {
		cfg.SettledMemory = def.SettledMemory
	}
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Router{
		cfg:       cfg,
		directory: directory,
		enforcer:  enforcer,
		events:    publisher,
		logger:    logger,
		mailboxes: make(map[id.SessionID]*Mailbox),
		pending:   make(map[id.CorrelationID]*PendingReply),
		settled:   make(map[id.CorrelationID]settleOutcome),
	}
}

// WithMetrics adds metrics collection to the router
func (r *Router) WithMetrics(metrics *monitoring.Metrics) *Router {
	r.metrics = metrics
	return r
}

// ============================================================================
// Session attachment
// ============================================================================

// Attach opens a mailbox for a new session
func (r *Router) Attach(info types.SessionInfo) {
	r.mu.Lock()
	r.mailboxes[info.ID] = newMailbox(info.ID, info.AppName, r.cfg.MailboxCapacity)
	r.mu.Unlock()
}

// Detach discards a session's mailbox and fails every request it is party
// to. Queued messages are dropped.
func (r *Router) Detach(sessionID id.SessionID) {
	r.mu.Lock()
	mb, ok := r.mailboxes[sessionID]
	delete(r.mailboxes, sessionID)
	r.mu.Unlock()

	if ok {
		if left := mb.close(); len(left) > 0 {
			r.logger.Debug("Mailbox discarded",
				zap.String("session_id", sessionID.String()),
				zap.Int("undelivered", len(left)))
		}
	}

	r.pmu.Lock()
	var orphaned []*PendingReply
	for _, p := range r.pending {
		if p.Requester == sessionID || p.Target == sessionID {
			orphaned = append(orphaned, p)
		}
	}
	r.pmu.Unlock()

	for _, p := range orphaned {
		err := fmt.Errorf("request %s: requester closed: %w", p.CorrelationID, errs.ErrCanceled)
		if p.Target == sessionID {
			err = fmt.Errorf("request %s: %s closed: %w", p.CorrelationID, sessionID, errs.ErrDestinationNotFound)
		}
		r.settle(p.CorrelationID, types.Message{}, err, outcomeGone)
	}
}

// Mailbox returns a session's mailbox
func (r *Router) Mailbox(sessionID id.SessionID) (*Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb, ok := r.mailboxes[sessionID]
	return mb, ok
}

// ============================================================================
// Direct messages
// ============================================================================

// Send delivers a message to one live session. A message carrying the
// correlation ID of an outstanding request from that session settles the
// request instead of reaching the mailbox.
func (r *Router) Send(ctx context.Context, from, to id.SessionID, msgType string, payload json.RawMessage) (Outcome, error) {
	return r.send(ctx, types.NewMessage(from, to, msgType, payload), patternDirect)
}

// Reply answers a request message received from a mailbox
func (r *Router) Reply(ctx context.Context, from id.SessionID, request types.Message, msgType string, payload json.RawMessage) (Outcome, error) {
	if request.CorrelationID == "" {
		return Outcome{}, fmt.Errorf("reply to %s: message %s is not a request", request.From, request.ID)
	}
	msg := types.NewMessage(from, request.From, msgType, payload).WithCorrelation(request.CorrelationID)
	return r.send(ctx, msg, patternReply)
}

// SendMessage routes a prebuilt message, as received from a surface
func (r *Router) SendMessage(ctx context.Context, msg types.Message) (Outcome, error) {
	if msg.ID == "" {
		msg.ID = id.NewMessageID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	pattern := patternDirect
	if msg.CorrelationID != "" {
		pattern = patternReply
	}
	return r.send(ctx, msg, pattern)
}

func (r *Router) send(ctx context.Context, msg types.Message, pattern string) (Outcome, error) {
	if ctx.Err() != nil {
		return Outcome{}, errs.FromContext(ctx)
	}
	target, err := r.authorize(msg.From, msg.To, capability.ActionSend)
	if err != nil {
		r.metrics.RecordMessage(pattern, "rejected")
		return Outcome{}, err
	}

	if msg.CorrelationID != "" {
		if out, handled := r.matchReply(msg); handled {
			r.metrics.RecordMessage(pattern, string(out.Status))
			return out, nil
		}
	}

	out, err := r.enqueue(target, msg)
	if err != nil {
		r.metrics.RecordMessage(pattern, "rejected")
		return Outcome{}, err
	}
	r.metrics.RecordMessage(pattern, string(out.Status))
	return out, nil
}

// authorize runs the checks every directed message goes through, in order:
// the sender may send at all, the target is live, and the target is within
// the sender's scope. Nothing is enqueued until all three pass.
func (r *Router) authorize(from, to id.SessionID, action capability.Action) (types.SessionInfo, error) {
	if err := r.enforcer.Require(from, capability.CategoryMessaging, action, ""); err != nil {
		return types.SessionInfo{}, err
	}
	target, ok := r.directory.Lookup(to)
	if !ok {
		return types.SessionInfo{}, fmt.Errorf("send to %s: %w", to, errs.ErrDestinationNotFound)
	}
	if err := r.enforcer.Require(from, capability.CategoryMessaging, action, target.AppName); err != nil {
		return types.SessionInfo{}, err
	}
	return target, nil
}

func (r *Router) enqueue(target types.SessionInfo, msg types.Message) (Outcome, error) {
	mb, ok := r.Mailbox(target.ID)
	if !ok {
		return Outcome{}, fmt.Errorf("send to %s: %w", target.ID, errs.ErrDestinationNotFound)
	}
	res, err := mb.push(msg)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{To: target.ID, MessageID: msg.ID, Status: StatusDelivered}
	if res.evicted != nil {
		out.Status = StatusOverflow
		out.Evicted = res.evicted.ID
		out.Err = fmt.Errorf("mailbox %s: evicted %s: %w", target.ID, res.evicted.ID, errs.ErrMailboxOverflow)
		r.overflowed(target, res)
	}
	return out, nil
}

func (r *Router) overflowed(target types.SessionInfo, res pushResult) {
	r.metrics.IncMailboxOverflows()
	r.logger.Debug("Mailbox overflow",
		zap.String("session_id", target.ID.String()),
		zap.String("evicted", res.evicted.ID.String()))

	if (res.consecutive-1)%uint64(r.cfg.OverflowWarnEvery) != 0 {
		return
	}
	r.events.Publish(events.Warning(events.MailboxOverflow, target.ID, target.AppName, "mailbox overflowing; oldest messages dropped").
		With("consecutive", res.consecutive).
		With("capacity", r.cfg.MailboxCapacity))
}

// ============================================================================
// Broadcast
// ============================================================================

// Broadcast delivers one message to every live session except the sender
// whose app is within the sender's broadcast scope. It returns one outcome
// per recipient, ordered by session ID.
func (r *Router) Broadcast(ctx context.Context, from id.SessionID, msgType string, payload json.RawMessage) ([]Outcome, error) {
	if ctx.Err() != nil {
		return nil, errs.FromContext(ctx)
	}
	if err := r.enforcer.Require(from, capability.CategoryMessaging, capability.ActionBroadcast, ""); err != nil {
		r.metrics.RecordMessage(patternBroadcast, "rejected")
		return nil, err
	}

	live := r.directory.Live()
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	msg := types.NewMessage(from, id.Broadcast, msgType, payload)
	outcomes := make([]Outcome, 0, len(live))
	var outOfScope int
	for _, target := range live {
		if target.ID == from {
			continue
		}
		if err := r.enforcer.Require(from, capability.CategoryMessaging, capability.ActionBroadcast, target.AppName); err != nil {
			outOfScope++
			r.logger.Debug("Broadcast recipient out of scope",
				zap.String("from", from.String()),
				zap.String("session_id", target.ID.String()),
				zap.String("app", target.AppName))
			continue
		}
		out, err := r.enqueue(target, msg)
		if err != nil {
			// closed between Live and enqueue
			continue
		}
		r.metrics.RecordMessage(patternBroadcast, string(out.Status))
		outcomes = append(outcomes, out)
	}

	r.logger.Debug("Broadcast routed",
		zap.String("from", from.String()),
		zap.String("type", msgType),
		zap.Int("recipients", len(outcomes)),
		zap.Int("out_of_scope", outOfScope))
	return outcomes, nil
}

// ============================================================================
// Request/response
// ============================================================================

// Request sends a message carrying a fresh correlation ID and returns a
// future for the reply. A zero timeout uses the configured default. The
// request is also abandoned when ctx ends.
func (r *Router) Request(ctx context.Context, from, to id.SessionID, msgType string, payload json.RawMessage, timeout time.Duration) (*PendingReply, error) {
	if ctx.Err() != nil {
		return nil, errs.FromContext(ctx)
	}
	if timeout <= 0 {
		timeout = r.cfg.RequestTimeout
	}

	target, err := r.authorize(from, to, capability.ActionSend)
	if err != nil {
		r.metrics.RecordMessage(patternRequest, "rejected")
		return nil, err
	}

	cid := id.NewCorrelationID()
	msg := types.NewMessage(from, to, msgType, payload).WithCorrelation(cid)
	p := &PendingReply{
		CorrelationID: cid,
		Requester:     from,
		Target:        to,
		router:        r,
		timing:        monitoring.NewTimer(r.metrics),
		done:          make(chan struct{}),
	}

	// registered before enqueue so an immediate reply finds it
	r.pmu.Lock()
	r.pending[cid] = p
	r.metrics.SetPendingRequests(len(r.pending))
	r.pmu.Unlock()

	out, err := r.enqueue(target, msg)
	if err != nil {
		r.pmu.Lock()
		delete(r.pending, cid)
		r.metrics.SetPendingRequests(len(r.pending))
		r.pmu.Unlock()
		r.metrics.RecordMessage(patternRequest, "rejected")
		return nil, err
	}
	r.metrics.RecordMessage(patternRequest, string(out.Status))

	r.pmu.Lock()
	if _, still := r.pending[cid]; still {
		p.timer = time.AfterFunc(timeout, func() {
			r.settle(cid, types.Message{}, fmt.Errorf("request %s after %s: %w", cid, timeout, errs.ErrTimeout), outcomeTimeout)
		})
		p.stop = context.AfterFunc(ctx, func() {
			r.settle(cid, types.Message{}, fmt.Errorf("request %s: %w", cid, errs.FromContext(ctx)), outcomeCanceled)
		})
	}
	r.pmu.Unlock()

	r.logger.Debug("Request sent",
		zap.String("correlation_id", cid.String()),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Duration("timeout", timeout))
	return p, nil
}

// Call is Request followed by Wait. The request is canceled if ctx ends
// first.
func (r *Router) Call(ctx context.Context, from, to id.SessionID, msgType string, payload json.RawMessage, timeout time.Duration) (types.Message, error) {
	p, err := r.Request(ctx, from, to, msgType, payload, timeout)
	if err != nil {
		return types.Message{}, err
	}
	reply, err := p.Wait(ctx)
	if err != nil {
		p.Cancel()
	}
	return reply, err
}

// matchReply settles the request msg answers. handled is false when msg
// should be delivered as an ordinary message.
func (r *Router) matchReply(msg types.Message) (Outcome, bool) {
	cid := msg.CorrelationID
	out := Outcome{To: msg.To, MessageID: msg.ID}

	r.pmu.Lock()
	p, pending := r.pending[cid]
	prior, settled := r.settled[cid]
	r.pmu.Unlock()

	switch {
	case pending:
		if p.Target != msg.From || p.Requester != msg.To {
			return Outcome{}, false
		}
		if r.settle(cid, msg, nil, outcomeResolved) {
			out.Status = StatusResolved
			return out, true
		}
		// lost a race with the timer or a cancel; fall through as late
		r.pmu.Lock()
		prior = r.settled[cid]
		r.pmu.Unlock()
	case !settled:
		return Outcome{}, false
	}

	out.Status = StatusDiscarded
	fields := []zap.Field{
		zap.String("correlation_id", cid.String()),
		zap.String("from", msg.From.String()),
		zap.String("to", msg.To.String()),
		zap.String("settled", string(prior)),
	}
	if prior == outcomeCanceled || prior == outcomeGone {
		r.logger.Debug("Reply discarded after cancel", fields...)
	} else {
		r.logger.Warn("Late or duplicate reply discarded", fields...)
	}
	return out, true
}

// settle resolves a pending request. Only the caller that removes the entry
// resolves it, so each request settles exactly once.
func (r *Router) settle(cid id.CorrelationID, reply types.Message, err error, outcome settleOutcome) bool {
	r.pmu.Lock()
	p, ok := r.pending[cid]
	if !ok {
		r.pmu.Unlock()
		return false
	}
	delete(r.pending, cid)
	r.remember(cid, outcome)
	r.metrics.SetPendingRequests(len(r.pending))
	r.pmu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	if p.stop != nil {
		p.stop()
	}
	p.resolve(reply, err)
	p.timing.Stop(string(outcome))

	if outcome == outcomeTimeout {
		r.logger.Info("Request timed out",
			zap.String("correlation_id", cid.String()),
			zap.String("from", p.Requester.String()),
			zap.String("to", p.Target.String()))
	}
	return true
}

func (r *Router) remember(cid id.CorrelationID, outcome settleOutcome) {
	r.settled[cid] = outcome
	r.order = append(r.order, cid)
	if len(r.order) > r.cfg.SettledMemory {
		delete(r.settled, r.order[0])
		r.order[0] = ""
		r.order = r.order[1:]
	}
}

// ============================================================================
// Stats
// ============================================================================

// Stats summarizes the router
type Stats struct {
	Mailboxes []MailboxStats `json:"mailboxes"`
	Pending   int            `json:"pending_requests"`
}

// Stats returns a snapshot of every mailbox and the pending request count
func (r *Router) Stats() Stats {
	r.mu.RLock()
	boxes := make([]*Mailbox, 0, len(r.mailboxes))
	for _, mb := range r.mailboxes {
		boxes = append(boxes, mb)
	}
	r.mu.RUnlock()

	stats := Stats{Mailboxes: make([]MailboxStats, 0, len(boxes))}
	for _, mb := range boxes {
		stats.Mailboxes = append(stats.Mailboxes, mb.Stats())
	}
	sort.Slice(stats.Mailboxes, func(i, j int) bool {
		return stats.Mailboxes[i].SessionID < stats.Mailboxes[j].SessionID
	})

	r.pmu.Lock()
	stats.Pending = len(r.pending)
	r.pmu.Unlock()
	return stats
}

// Close fails every outstanding request. Mailboxes are closed as their
// sessions stop.
func (r *Router) Close() {
	r.pmu.Lock()
	ids := make([]id.CorrelationID, 0, len(r.pending))
	for cid := range r.pending {
		ids = append(ids, cid)
	}
	r.pmu.Unlock()

	for _, cid := range ids {
		r.settle(cid, types.Message{}, fmt.Errorf("request %s: router closed: %w", cid, errs.ErrCanceled), outcomeGone)
	}
}
