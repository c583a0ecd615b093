// Package ratelimit coalesces repeated calls to a callback.
//
// Two policies are provided: trailing-edge debounce, where only the last call
// of a burst runs once the burst has been quiet for the delay, and
// leading-edge throttle, where the first call of a window runs immediately
// and the rest of the window is dropped. Both are plain control wrappers;
// they never touch shared state themselves.
//
// Wrappers are bound to an eventloop.Scheduler and, like everything on it,
// must only be called from the scheduler's execution context.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/jmcleod/sessionguard/eventloop"
)

// Policy selects how calls are coalesced.
type Policy int

const (
	// PolicyDebounce runs the callback once, delay after the last call.
	PolicyDebounce Policy = iota
	// PolicyThrottle runs the first call of each window and drops the rest.
	PolicyThrottle
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyDebounce:
		return "debounce"
	case PolicyThrottle:
		return "throttle"
	default:
		return "unknown"
	}
}

// Limiter is a rate-limited wrapper around a callback taking one argument.
type Limiter[T any] interface {
	// Call submits an invocation with arg.
	Call(arg T)
	// Cancel drops any invocation that has not run yet.
	Cancel()
}

// New returns a Limiter for fn using the given policy and window.
func New[T any](s eventloop.Scheduler, p Policy, window time.Duration, fn func(T)) Limiter[T] {
	if p == PolicyThrottle {
		return Throttle(s, window, fn)
	}
	return Debounce(s, window, fn)
}

// Debouncer delays fn until calls have stopped arriving for the delay.
type Debouncer[T any] struct {
	sched eventloop.Scheduler
	delay time.Duration
	fn    func(T)
	slot  eventloop.Slot
}

// Debounce wraps fn with trailing-edge debounce. The argument of the last
// call in a burst is the one forwarded.
func Debounce[T any](s eventloop.Scheduler, delay time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{sched: s, delay: delay, fn: fn}
}

// Call cancels any pending invocation and schedules a new one.
func (d *Debouncer[T]) Call(arg T) {
	d.slot.Schedule(d.sched, d.delay, func() {
		d.slot.Release()
		d.fn(arg)
	})
}

// Cancel drops the pending invocation, if any.
func (d *Debouncer[T]) Cancel() {
	d.slot.Cancel()
}

// Pending reports whether an invocation is scheduled.
func (d *Debouncer[T]) Pending() bool {
	return d.slot.Pending()
}

// Throttler runs fn at most once per window, on the leading edge.
type Throttler[T any] struct {
	sched   eventloop.Scheduler
	window  time.Duration
	limiter *rate.Limiter
	fn      func(T)
}

// Throttle wraps fn with a leading-edge gate. Calls made while the gate is
// closed are dropped, not queued.
func Throttle[T any](s eventloop.Scheduler, window time.Duration, fn func(T)) *Throttler[T] {
	th := &Throttler[T]{sched: s, window: window, fn: fn}
	th.reset()
	return th
}

// Call invokes fn immediately if the gate is open.
func (t *Throttler[T]) Call(arg T) {
	if t.window <= 0 || t.limiter.AllowN(t.sched.Now(), 1) {
		t.fn(arg)
	}
}

// Cancel reopens the gate. A throttle never holds a pending invocation.
func (t *Throttler[T]) Cancel() {
	t.reset()
}

func (t *Throttler[T]) reset() {
	limit := rate.Inf
	if t.window > 0 {
		limit = rate.Every(t.window)
	}
	t.limiter = rate.NewLimiter(limit, 1)
}
