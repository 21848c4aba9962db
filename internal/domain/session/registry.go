package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/capability"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/events"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/focus"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/types"
)

// Surface mounts and unmounts a session's rendered content. Mount returns
// an opaque handle; the surface later reports readiness through MarkReady.
type Surface interface {
	Mount(ctx context.Context, info types.SessionInfo, manifest types.AppManifest) (string, error)
	Unmount(ctx context.Context, info types.SessionInfo) error
}

// Attachment is a collaborator whose per-session resources live exactly as
// long as the session. Both calls are made with the registry lock held and
// must not call back into the registry.
type Attachment interface {
	Attach(info types.SessionInfo)
	Detach(sessionID id.SessionID)
}

// Config tunes the registry
type Config struct {
	// TeardownGrace is how long a closing session waits for the surface to
	// confirm teardown before it is force-removed
	TeardownGrace time.Duration
	// FocusOnReady focuses every session as soon as it becomes ready
	FocusOnReady bool
}

// DefaultConfig returns the registry defaults
func DefaultConfig() Config {
	return Config{
		TeardownGrace: 5 * time.Second,
		FocusOnReady:  true,
	}
}

// LaunchResult describes a launch. Existing is true when the app was
// already live and the launch focused it instead of starting a new session.
type LaunchResult struct {
	Session  types.SessionInfo `json:"session"`
	Existing bool              `json:"existing"`
}

// ListFilter narrows List
type ListFilter struct {
	State   types.State
	AppName string
}

type record struct {
	info         types.SessionInfo
	manifest     types.AppManifest
	pendingFocus bool
	ready        chan struct{} // closed when the session leaves Starting
	teardown     *Teardown
	timer        *time.Timer
}

func (rec *record) leaveStarting() {
	select {
	case <-rec.ready:
	default:
		close(rec.ready)
	}
}

// Registry owns the session table and the lifecycle state machine. All
// mutations are linearized under one lock.
type Registry struct {
	cfg     Config
	focus   *focus.Manager
	store   *capability.Store
	surface Surface
	events  events.Publisher
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu          sync.RWMutex
	sessions    map[id.SessionID]*record // Protected by mu
	live        map[string]id.SessionID  // Protected by mu, app name -> live session
	active      id.SessionID             // Protected by mu
	attachments []Attachment             // Protected by mu
	launched    uint64
	forced      uint64
}

// NewRegistry creates a session registry. surface and publisher may be nil.
func NewRegistry(cfg Config, focusMgr *focus.Manager, store *capability.Store, surface Surface, publisher events.Publisher, logger *zap.Logger) *Registry {
	if cfg.TeardownGrace <= 0 {
		cfg.TeardownGrace = DefaultConfig().TeardownGrace
	}
	if focusMgr == nil {
		focusMgr = focus.NewManager()
	}
	if publisher == nil {
		publisher = events.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		focus:    focusMgr,
		store:    store,
		surface:  surface,
		events:   publisher,
		logger:   logger,
		sessions: make(map[id.SessionID]*record),
		live:     make(map[string]id.SessionID),
	}
}

// WithMetrics adds metrics tracking to the registry
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// SetSurface installs the render surface. It must be called before the
// first Launch.
func (r *Registry) SetSurface(surface Surface) {
	r.mu.Lock()
	r.surface = surface
	r.mu.Unlock()
}

// Attach registers a collaborator. Sessions already present are attached
// immediately.
func (r *Registry) Attach(a Attachment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attachments = append(r.attachments, a)
	for _, rec := range r.sessions {
		a.Attach(rec.info)
	}
}

// ============================================================================
// Launch and readiness
// ============================================================================

// Launch starts a session for manifest, or focuses the live session of the
// same app. A session whose surface fails to mount is rolled back.
func (r *Registry) Launch(ctx context.Context, manifest types.AppManifest) (LaunchResult, error) {
	if err := manifest.Validate(); err != nil {
		return LaunchResult{}, fmt.Errorf("%w: %v", errs.ErrInvalidManifest, err)
	}

	r.mu.Lock()
	if existing, ok := r.live[manifest.Name]; ok {
		res, err := r.relaunchLocked(existing)
		r.mu.Unlock()
		return res, err
	}

	grants, err := capability.ResolveGrants(manifest)
	if err != nil {
		r.mu.Unlock()
		return LaunchResult{}, err
	}

	rec := &record{
		info: types.SessionInfo{
			ID:         id.NewSessionID(),
			AppName:    manifest.Name,
			WindowType: manifest.WindowType,
			State:      types.StateStarting,
			LaunchedAt: time.Now(),
		},
		manifest: manifest,
		ready:    make(chan struct{}),
	}
	sid := rec.info.ID

	r.sessions[sid] = rec
	r.live[manifest.Name] = sid
	r.launched++
	if r.store != nil {
		r.store.Register(sid, grants)
	}
	for _, a := range r.attachments {
		a.Attach(rec.info)
	}
	surface := r.surface
	info := rec.info

	r.metrics.IncSessionsLaunched()
	r.metrics.RecordTransition(string(types.StateStarting))
	r.metrics.SetSessionsLive(len(r.live))
	r.events.Publish(events.Info(events.SessionLaunched, sid, manifest.Name, "session launched").
		With("grants", len(grants)))
	r.mu.Unlock()

	r.logger.Info("Session launched",
		zap.String("session_id", sid.String()),
		zap.String("app", manifest.Name),
		zap.Int("grants", len(grants)))

	if surface == nil {
		return LaunchResult{Session: info}, nil
	}

	handle, err := surface.Mount(ctx, info, manifest)
	if err != nil {
		r.mu.Lock()
		if rec, ok := r.sessions[sid]; ok {
			r.abortLocked(rec)
		}
		r.mu.Unlock()
		r.logger.Warn("Surface mount failed",
			zap.String("session_id", sid.String()),
			zap.String("app", manifest.Name),
			zap.Error(err))
		return LaunchResult{}, fmt.Errorf("mount %s: %w", manifest.Name, err)
	}

	r.mu.Lock()
	if rec, ok := r.sessions[sid]; ok {
		rec.info.Handle = handle
		info = rec.info
	}
	r.mu.Unlock()

	return LaunchResult{Session: info}, nil
}

// relaunchLocked focuses the live session of an app launched again. A
// session still starting is focused once it becomes ready.
func (r *Registry) relaunchLocked(sid id.SessionID) (LaunchResult, error) {
	rec := r.sessions[sid]
	if rec.info.State == types.StateStarting {
		rec.pendingFocus = true
	} else if err := r.focusLocked(rec); err != nil {
		return LaunchResult{}, err
	}
	return LaunchResult{Session: rec.info, Existing: true}, nil
}

// abortLocked removes a session that never finished launching
func (r *Registry) abortLocked(rec *record) {
	if rec.info.State != types.StateClosing {
		r.beginCloseLocked(rec)
	}
	r.finishLocked(rec, nil)
}

// MarkReady moves a starting session to Ready and stacks it
func (r *Registry) MarkReady(sessionID id.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("mark ready %s: %w", sessionID, errs.ErrSessionNotFound)
	}
	if rec.info.State != types.StateStarting {
		return invalidTransition("mark ready", rec.info.State)
	}

	r.setStateLocked(rec, types.StateReady)
	rec.info.ZOrder = r.focus.Track(sessionID)
	rec.leaveStarting()
	r.events.Publish(events.Info(events.SessionReady, sessionID, rec.info.AppName, "session ready"))

	if r.cfg.FocusOnReady || rec.pendingFocus {
		rec.pendingFocus = false
		return r.focusLocked(rec)
	}
	return nil
}

// AwaitReady blocks until the session has left Starting. It fails with
// ErrSessionNotFound if the session was removed or began closing instead.
func (r *Registry) AwaitReady(ctx context.Context, sessionID id.SessionID) (types.SessionInfo, error) {
	r.mu.RLock()
	rec, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return types.SessionInfo{}, fmt.Errorf("await %s: %w", sessionID, errs.ErrSessionNotFound)
	}

	select {
	case <-rec.ready:
	case <-ctx.Done():
		return types.SessionInfo{}, errs.FromContext(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok = r.sessions[sessionID]
	if !ok || !rec.info.State.IsStacked() {
		return types.SessionInfo{}, fmt.Errorf("await %s: %w", sessionID, errs.ErrSessionNotFound)
	}
	return rec.info, nil
}

// ============================================================================
// Focus
// ============================================================================

// Focus makes a session Active, pausing the previously Active one. Focusing
// the Active session does nothing.
func (r *Registry) Focus(sessionID id.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("focus %s: %w", sessionID, errs.ErrSessionNotFound)
	}
	return r.focusLocked(rec)
}

func (r *Registry) focusLocked(rec *record) error {
	switch rec.info.State {
	case types.StateActive:
		return nil
	case types.StateReady, types.StatePaused:
	default:
		return invalidTransition("focus", rec.info.State)
	}

	sid := rec.info.ID
	previous := r.active
	if prev, ok := r.sessions[previous]; ok && previous != sid {
		r.setStateLocked(prev, types.StatePaused)
	}

	z, _, ok := r.focus.Focus(sid)
	if !ok {
		r.focus.Track(sid)
		z, _, _ = r.focus.Focus(sid)
	}

	now := time.Now()
	r.setStateLocked(rec, types.StateActive)
	rec.info.ZOrder = z
	rec.info.LastFocusedAt = &now
	r.active = sid

	r.metrics.IncFocusChanges()
	r.events.Publish(events.Info(events.SessionFocused, sid, rec.info.AppName, "session focused").
		With("previous", previous.String()).
		With("z_order", z))
	return nil
}

// ============================================================================
// Close and teardown
// ============================================================================

// Close begins tearing a session down. The returned Teardown resolves when
// the surface confirms or the grace period expires.
func (r *Registry) Close(ctx context.Context, sessionID id.SessionID) (*Teardown, error) {
	r.mu.Lock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("close %s: %w", sessionID, errs.ErrSessionNotFound)
	}
	if !canTransition(rec.info.State, types.StateClosing) {
		state := rec.info.State
		r.mu.Unlock()
		return nil, invalidTransition("close", state)
	}

	r.beginCloseLocked(rec)
	td := newTeardown(sessionID)
	rec.teardown = td
	rec.timer = time.AfterFunc(r.cfg.TeardownGrace, func() { r.teardownExpired(sessionID, td) })
	surface := r.surface
	info := rec.info
	r.mu.Unlock()

	if surface != nil {
		if err := surface.Unmount(ctx, info); err != nil {
			r.logger.Warn("Surface unmount failed, waiting for grace period",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
		}
	}
	return td, nil
}

// ConfirmTeardown is the surface's acknowledgement that a closing session
// has been torn down. The session is removed.
func (r *Registry) ConfirmTeardown(sessionID id.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("confirm teardown %s: %w", sessionID, errs.ErrSessionNotFound)
	}
	if rec.info.State != types.StateClosing {
		return invalidTransition("confirm teardown of", rec.info.State)
	}

	r.finishLocked(rec, nil)
	return nil
}

func (r *Registry) teardownExpired(sessionID id.SessionID, td *Teardown) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok || rec.teardown != td {
		return
	}

	r.forced++
	r.metrics.IncTeardownTimeouts()
	r.events.Publish(events.Warning(events.SessionTeardownTimeout, sessionID, rec.info.AppName,
		"surface did not confirm teardown, session force-removed").
		With("grace", r.cfg.TeardownGrace.String()))
	r.finishLocked(rec, fmt.Errorf("%s: %w", sessionID, errs.ErrTeardownTimeout))
}

// ReportRenderFailure is the surface reporting it can no longer render a
// session. The session is removed at once without waiting for teardown.
func (r *Registry) ReportRenderFailure(ctx context.Context, sessionID id.SessionID, reason string) error {
	return r.forceClose(ctx, sessionID, reason, true)
}

func (r *Registry) forceClose(ctx context.Context, sessionID id.SessionID, reason string, failure bool) error {
	r.mu.Lock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("force close %s: %w", sessionID, errs.ErrSessionNotFound)
	}

	if failure {
		r.events.Publish(events.Warning(events.SessionRenderFailure, sessionID, rec.info.AppName, "render failure").
			With("reason", reason))
	}

	unmount := rec.info.State != types.StateClosing
	if unmount {
		r.beginCloseLocked(rec)
	}
	info := rec.info
	surface := r.surface
	r.finishLocked(rec, nil)
	r.mu.Unlock()

	r.logger.Warn("Session force-closed",
		zap.String("session_id", sessionID.String()),
		zap.String("app", info.AppName),
		zap.String("reason", reason))

	if unmount && surface != nil {
		if err := surface.Unmount(ctx, info); err != nil {
			r.logger.Debug("Unmount after force close", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}
	return nil
}

// beginCloseLocked moves a session to Closing: it stops counting as live,
// leaves the focus stack and, if it was Active, hands focus to the most
// recently focused survivor without raising it.
func (r *Registry) beginCloseLocked(rec *record) {
	sid := rec.info.ID
	wasActive := rec.info.State == types.StateActive
	wasStacked := rec.info.State.IsStacked()

	r.setStateLocked(rec, types.StateClosing)
	rec.leaveStarting()
	if r.live[rec.info.AppName] == sid {
		delete(r.live, rec.info.AppName)
	}
	r.metrics.SetSessionsLive(len(r.live))

	if wasStacked {
		top, ok := r.focus.Remove(sid)
		if wasActive {
			r.active = ""
			if next, found := r.sessions[top.ID]; ok && found {
				now := time.Now()
				r.setStateLocked(next, types.StateActive)
				next.info.ZOrder = top.ZOrder
				next.info.LastFocusedAt = &now
				r.active = next.info.ID
				r.events.Publish(events.Info(events.SessionFocused, next.info.ID, next.info.AppName, "session promoted").
					With("previous", sid.String()).
					With("z_order", top.ZOrder))
			}
		}
	}
	rec.info.ZOrder = 0

	r.events.Publish(events.Info(events.SessionClosing, sid, rec.info.AppName, "session closing"))
}

// finishLocked moves a closing session to Stopped and removes it
func (r *Registry) finishLocked(rec *record, result error) {
	sid := rec.info.ID
	if rec.timer != nil {
		rec.timer.Stop()
	}
	r.setStateLocked(rec, types.StateStopped)
	delete(r.sessions, sid)

	for i := len(r.attachments) - 1; i >= 0; i-- {
		r.attachments[i].Detach(sid)
	}
	if r.store != nil {
		r.store.Unregister(sid)
	}
	if rec.teardown != nil {
		rec.teardown.resolve(result)
	}

	r.events.Publish(events.Info(events.SessionStopped, sid, rec.info.AppName, "session stopped"))
	r.logger.Info("Session removed",
		zap.String("session_id", sid.String()),
		zap.String("app", rec.info.AppName),
		zap.Bool("forced", result != nil))
}

func (r *Registry) setStateLocked(rec *record, to types.State) {
	if !canTransition(rec.info.State, to) {
		// internal callers only request legal steps
		r.logger.Error("Illegal session transition",
			zap.String("session_id", rec.info.ID.String()),
			zap.String("from", string(rec.info.State)),
			zap.String("to", string(to)))
		return
	}
	rec.info.State = to
	r.metrics.RecordTransition(string(to))
}

// ============================================================================
// Queries
// ============================================================================

// Get returns a copy of a session, including one that is closing
func (r *Registry) Get(sessionID id.SessionID) (types.SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return types.SessionInfo{}, false
	}
	return rec.info, true
}

// Lookup returns a session only if it is live
func (r *Registry) Lookup(sessionID id.SessionID) (types.SessionInfo, bool) {
	info, ok := r.Get(sessionID)
	if !ok || !info.State.IsLive() {
		return types.SessionInfo{}, false
	}
	return info, true
}

// Manifest returns the manifest a session was launched from
func (r *Registry) Manifest(sessionID id.SessionID) (types.AppManifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return types.AppManifest{}, false
	}
	return rec.manifest, true
}

// List returns sessions matching filter, oldest first
func (r *Registry) List(filter ListFilter) []types.SessionInfo {
	r.mu.RLock()
	out := make([]types.SessionInfo, 0, len(r.sessions))
	for _, rec := range r.sessions {
		if filter.State != "" && rec.info.State != filter.State {
			continue
		}
		if filter.AppName != "" && rec.info.AppName != filter.AppName {
			continue
		}
		out = append(out, rec.info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Live returns every live session, oldest first
func (r *Registry) Live() []types.SessionInfo {
	all := r.List(ListFilter{})
	out := all[:0]
	for _, info := range all {
		if info.State.IsLive() {
			out = append(out, info)
		}
	}
	return out
}

// Active returns the Active session, if any
func (r *Registry) Active() (types.SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[r.active]
	if !ok {
		return types.SessionInfo{}, false
	}
	return rec.info, true
}

// Stats returns registry statistics
func (r *Registry) Stats() types.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[types.State]int)
	for _, rec := range r.sessions {
		counts[rec.info.State]++
	}

	var active *id.SessionID
	if _, ok := r.sessions[r.active]; ok {
		sid := r.active
		active = &sid
	}

	return types.Stats{
		TotalSessions:  len(r.sessions),
		StateCounts:    counts,
		ActiveSession:  active,
		TotalLaunched:  r.launched,
		TeardownForced: r.forced,
	}
}

// Shutdown force-closes every session without waiting for teardown
func (r *Registry) Shutdown(ctx context.Context) {
	for _, info := range r.List(ListFilter{}) {
		if err := r.forceClose(ctx, info.ID, "host shutting down", false); err != nil {
			r.logger.Debug("Shutdown close", zap.String("session_id", info.ID.String()), zap.Error(err))
		}
	}
}
