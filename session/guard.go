package session

import (
	"time"

	"github.com/jmcleod/sessionguard/eventloop"
)

// liveness is the flag checked at the top of every deferred callback.
type liveness struct {
	alive bool
}

// guardedScheduler drops callbacks that come due after the owner stopped.
type guardedScheduler struct {
	eventloop.Scheduler
	live *liveness
}

func (g guardedScheduler) AfterFunc(d time.Duration, f func()) eventloop.Timer {
	return g.Scheduler.AfterFunc(d, func() {
		if g.live.alive {
			f()
		}
	})
}

func (g guardedScheduler) Post(f func()) {
	g.Scheduler.Post(func() {
		if g.live.alive {
			f()
		}
	})
}
