// Package session enforces session inactivity and keeps it in step across
// every instance that shares a storage.Store.
//
// A Machine watches for activity, opens a warning once the inactivity
// timeout passes without any, counts the warning down and logs out when it
// runs out. Activity, logouts and credential loss observed in the shared
// store are replayed locally, so all instances of one user end together.
//
// A Machine is confined to its eventloop.Scheduler. Every method must be
// called on the scheduler's execution context, for example through
// eventloop.Loop.Do.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/sessionguard/eventloop"
	"github.com/jmcleod/sessionguard/ratelimit"
	"github.com/jmcleod/sessionguard/storage"
)

// Machine is one instance's session state machine.
type Machine struct {
	cfg       Config
	store     storage.Store
	sched     guardedScheduler
	logger    *slog.Logger
	hooks     Hooks
	attention AttentionSignal
	renderer  Renderer

	ctx    context.Context
	cancel context.CancelFunc
	live   liveness

	started    bool
	stopped    bool
	lastLogout LogoutType
	lastLocal  bool

	clock      *ActivityClock
	inactivity *InactivityTimer
	countdown  *WarningCountdown
	sync       *CrossTabSync
	visibility *VisibilityRecovery
	activity   *ratelimit.Throttler[struct{}]
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithHooks sets the application callbacks.
func WithHooks(h Hooks) Option {
	return func(m *Machine) {
		m.hooks = h
	}
}

// WithAttention sets the attention signal toggled during the countdown.
func WithAttention(a AttentionSignal) Option {
	return func(m *Machine) {
		m.attention = a
	}
}

// WithRenderer sets the warning dialog renderer.
func WithRenderer(r Renderer) Option {
	return func(m *Machine) {
		m.renderer = r
	}
}

// New returns a Machine for cfg over store, driven by sched.
func New(cfg Config, store storage.Store, sched eventloop.Scheduler, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || sched == nil {
		return nil, fmt.Errorf("%w: store and scheduler are required", ErrInvalidConfig)
	}

	m := &Machine{
		cfg:       cfg,
		store:     store,
		attention: NopAttention{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "session", "source", store.Source())

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.sched = guardedScheduler{Scheduler: sched, live: &m.live}
	m.clock = NewActivityClock(store)
	m.inactivity = newInactivityTimer(m.ctx, m.sched, m.clock, cfg.InactivityTimeout, m.logger, m.openWarning)
	m.countdown = newWarningCountdown(m.sched, cfg, m.attention, m.render, m.countdownExpired)
	m.sync = newCrossTabSync(m.ctx, store, m.sched, cfg, m.logger, m.remoteActivity, m.credentialLost)
	m.visibility = newVisibilityRecovery(m.clock, cfg.RecoveryThreshold())
	m.activity = ratelimit.Throttle(m.sched, cfg.ActivityThrottle, func(struct{}) { m.localActivity() })
	return m, nil
}

// Start begins a session: it clears any stale logout cause, records
// activity, subscribes to the shared store and arms the inactivity timer.
// A Machine can be started once.
func (m *Machine) Start() error {
	if m.stopped {
		return ErrStopped
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	m.live.alive = true

	if err := m.store.Delete(m.ctx, LogoutCauseKey); err != nil {
		m.logger.Warn("clearing logout cause failed", "error", err)
	}
	m.recordActivity()

	if err := m.sync.Attach(); err != nil {
		if errors.Is(err, storage.ErrWatchUnavailable) {
			m.logger.Warn("store notifications unavailable, running without cross-instance sync", "error", err)
		} else {
			m.logger.Warn("subscribing to store failed, running without cross-instance sync", "error", err)
		}
	}

	m.inactivity.Reset()
	m.logger.Info("session started",
		"inactivity_timeout", m.cfg.InactivityTimeout,
		"modal_timeout", m.cfg.ModalInactivityTimeout,
		"cross_instance", m.sync.Attached())
	m.render()
	return nil
}

// Stop ends the machine without logging out. No hook or render happens
// after Stop returns. Stop is idempotent.
func (m *Machine) Stop() {
	m.stopped = true
	if !m.live.alive {
		return
	}
	m.teardown()
	m.logger.Info("session stopped")
}

// NotifyActivity reports user activity. Calls are throttled.
func (m *Machine) NotifyActivity() {
	if !m.live.alive {
		return
	}
	m.activity.Call(struct{}{})
}

// ContinueSession closes the warning and treats the click as fresh
// activity.
func (m *Machine) ContinueSession() {
	if !m.live.alive {
		return
	}
	m.countdown.Close()
	m.recordActivity()
	m.inactivity.Reset()
	m.render()
}

// LogoutClick logs out because the user asked to.
func (m *Machine) LogoutClick() {
	m.Logout(LogoutButton)
}

// Logout ends the session locally with cause. Only the first logout has any
// effect.
func (m *Machine) Logout(cause LogoutType) {
	m.logout(cause, false)
}

// SetVisible reports that the instance moved to the foreground or the
// background.
func (m *Machine) SetVisible(visible bool) {
	if !m.live.alive {
		return
	}
	if !visible {
		m.visibility.Hidden()
		m.logger.Debug("hidden")
		return
	}

	expired, downtime, err := m.visibility.Returned(m.ctx, m.sched.Now())
	if err != nil {
		m.logger.Warn("reading last activity failed, resyncing", "error", err)
	}
	if expired {
		m.logger.Info("downtime exceeded warning window", "downtime", downtime)
		m.logout(LogoutInactivity, false)
		return
	}
	m.countdown.Close()
	m.recordActivity()
	m.inactivity.Reset()
	m.render()
}

// Active reports whether the session is running.
func (m *Machine) Active() bool {
	return m.live.alive
}

// Done is closed once the session has ended by logout or Stop.
func (m *Machine) Done() <-chan struct{} {
	return m.ctx.Done()
}

// State returns a snapshot of the machine.
func (m *Machine) State() State {
	return State{
		Active:           m.live.alive,
		ModalOpen:        m.countdown.IsOpen(),
		SecondsRemaining: m.countdown.Remaining(),
		TotalSeconds:     m.countdown.Total(),
		LastLogout:       m.lastLogout,
		LastLogoutLocal:  m.lastLocal,
	}
}

// Props returns what the warning dialog currently shows.
func (m *Machine) Props() ModalProps {
	return ModalProps{
		IsOpen:             m.countdown.IsOpen(),
		Title:              m.cfg.Title,
		Message:            m.cfg.Message,
		TimerMessage:       m.cfg.TimerMessage,
		LogoutButtonText:   m.cfg.LogoutButtonText,
		ContinueButtonText: m.cfg.ContinueButtonText,
		RemainingTime:      m.countdown.Remaining(),
		ProgressPercent:    m.countdown.Progress() * 100,
	}
}

// InactivityState returns the phase of the inactivity timer.
func (m *Machine) InactivityState() TimerState {
	return m.inactivity.State()
}

func (m *Machine) render() {
	if m.renderer != nil {
		m.renderer.Render(m.Props())
	}
}

func (m *Machine) recordActivity() {
	if err := m.clock.Record(m.ctx, m.sched.Now()); err != nil {
		m.logger.Warn("recording activity failed", "error", err)
	}
}

func (m *Machine) localActivity() {
	m.recordActivity()
	if m.countdown.IsOpen() {
		m.countdown.Reset()
		m.render()
		return
	}
	m.inactivity.Reset()
}

func (m *Machine) remoteActivity() {
	wasOpen := m.countdown.IsOpen()
	m.countdown.Close()
	m.inactivity.Reset()
	if wasOpen {
		m.logger.Debug("warning closed by activity elsewhere")
		m.render()
	}
}

func (m *Machine) openWarning() {
	m.logger.Info("inactivity timeout, opening warning")
	m.countdown.Open()
	if m.hooks.OnInactivityTimeout != nil {
		m.hooks.OnInactivityTimeout()
	}
	if m.live.alive {
		m.render()
	}
}

func (m *Machine) countdownExpired() {
	if m.hooks.OnModalTimeout != nil {
		m.hooks.OnModalTimeout()
	}
	m.logout(LogoutInactivity, false)
}

func (m *Machine) credentialLost(cause LogoutType) {
	m.logger.Info("credential removed elsewhere", "cause", cause)
	m.logout(cause, true)
}

// teardown detaches from the store and cancels every timer.
func (m *Machine) teardown() {
	m.live.alive = false
	m.sync.Detach()
	m.inactivity.Cancel()
	m.countdown.Close()
	m.activity.Cancel()
	m.cancel()
}

func (m *Machine) logout(cause LogoutType, remote bool) {
	if !m.live.alive {
		return
	}
	local := !remote
	m.teardown()
	m.stopped = true
	m.lastLogout, m.lastLocal = cause, local

	if local {
		// The deciding instance leaves the cause for the others to read.
		if err := m.store.Set(context.Background(), LogoutCauseKey, cause.String()); err != nil {
			m.logger.Warn("writing logout cause failed", "error", err)
		}
	}
	m.logger.Info("logged out", "cause", cause, "local", local)
	m.render()
	if m.hooks.OnLogout != nil {
		m.hooks.OnLogout(cause, local)
	}
}
