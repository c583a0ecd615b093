package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmcleod/sessionguard/eventloop"
)

// TimerState is the phase of an InactivityTimer.
type TimerState int

const (
	TimerIdle TimerState = iota
	TimerArmed
	TimerFired
)

func (s TimerState) String() string {
	switch s {
	case TimerIdle:
		return "idle"
	case TimerArmed:
		return "armed"
	case TimerFired:
		return "fired"
	default:
		return "unknown"
	}
}

// InactivityTimer fires once no activity has been recorded for the timeout.
// A fire is checked against the shared activity clock first, so activity
// recorded by any instance after the timer was armed pushes the deadline
// out instead of opening the warning.
type InactivityTimer struct {
	ctx      context.Context
	sched    eventloop.Scheduler
	clock    *ActivityClock
	timeout  time.Duration
	logger   *slog.Logger
	onExpire func()

	slot  eventloop.Slot
	state TimerState
}

func newInactivityTimer(ctx context.Context, sched eventloop.Scheduler, clock *ActivityClock, timeout time.Duration, logger *slog.Logger, onExpire func()) *InactivityTimer {
	return &InactivityTimer{
		ctx:      ctx,
		sched:    sched,
		clock:    clock,
		timeout:  timeout,
		logger:   logger,
		onExpire: onExpire,
	}
}

// Arm schedules a fire after d, replacing any pending one.
func (t *InactivityTimer) Arm(d time.Duration) {
	t.state = TimerArmed
	t.slot.Schedule(t.sched, d, t.fire)
}

// Reset arms the timer for the full timeout.
func (t *InactivityTimer) Reset() {
	t.Arm(t.timeout)
}

// Cancel drops the pending fire.
func (t *InactivityTimer) Cancel() {
	t.slot.Cancel()
	t.state = TimerIdle
}

// State returns the current phase.
func (t *InactivityTimer) State() TimerState {
	return t.state
}

func (t *InactivityTimer) fire() {
	t.slot.Release()

	elapsed, ok, err := t.clock.Since(t.ctx, t.sched.Now())
	if err != nil {
		t.logger.Warn("reading last activity failed, rearming", "error", err)
		t.Reset()
		return
	}
	if ok && elapsed < t.timeout {
		t.Arm(t.timeout - elapsed)
		return
	}
	t.state = TimerFired
	t.onExpire()
}
