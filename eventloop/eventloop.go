// Package eventloop provides the single-threaded execution model the session
// core runs on.
//
// Every timer fire, store notification and external command is executed on
// one goroutine, one task at a time, so the state it touches needs no locks.
// Loop is the production executor; Manual is a deterministic stand-in whose
// virtual time only moves when the caller advances it.
package eventloop

import "time"

// Timer is a handle to a pending callback scheduled with AfterFunc.
type Timer interface {
	// Stop cancels the callback. It reports whether the call prevented the
	// callback from running.
	Stop() bool
}

// Scheduler is the capability the session core needs from its runtime.
// AfterFunc callbacks and posted tasks both run on the scheduler's single
// execution context.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	Post(f func())
}

// Slot owns at most one pending timer for a single role. Scheduling a new
// callback always cancels the previous one first.
type Slot struct {
	t Timer
}

// Schedule cancels any pending callback and schedules f after d.
func (s *Slot) Schedule(sched Scheduler, d time.Duration, f func()) {
	s.Cancel()
	s.t = sched.AfterFunc(d, f)
}

// Cancel stops the pending callback, if any.
func (s *Slot) Cancel() {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
}

// Pending reports whether the slot currently holds a timer.
func (s *Slot) Pending() bool {
	return s.t != nil
}

// Release forgets the held timer without stopping it. Callbacks call this on
// themselves once they fire so Pending reflects reality.
func (s *Slot) Release() {
	s.t = nil
}
