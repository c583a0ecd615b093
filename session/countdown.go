package session

import (
	"time"

	"github.com/jmcleod/sessionguard/eventloop"
)

const tickInterval = time.Second

// WarningCountdown counts the warning down one second at a time.
type WarningCountdown struct {
	sched     eventloop.Scheduler
	total     int
	attention AttentionSignal
	alertText string
	alert     bool
	onTick    func()
	onExpire  func()

	slot      eventloop.Slot
	open      bool
	remaining int
	alerting  bool
}

func newWarningCountdown(sched eventloop.Scheduler, cfg Config, attention AttentionSignal, onTick, onExpire func()) *WarningCountdown {
	total := int(cfg.ModalInactivityTimeout / time.Second)
	return &WarningCountdown{
		sched:     sched,
		total:     total,
		attention: attention,
		alertText: cfg.AttentionAlertText,
		alert:     cfg.ShowAttentionAlert,
		onTick:    onTick,
		onExpire:  onExpire,
		remaining: total,
	}
}

// Open starts counting from the full length.
func (w *WarningCountdown) Open() {
	w.open = true
	w.remaining = w.total
	w.slot.Schedule(w.sched, tickInterval, w.tick)
}

// Reset restarts the count from the full length and keeps the warning open.
func (w *WarningCountdown) Reset() {
	if !w.open {
		return
	}
	w.Open()
}

// Close stops counting and rewinds to the full length.
func (w *WarningCountdown) Close() {
	w.slot.Cancel()
	w.open = false
	w.remaining = w.total
	w.restoreAttention()
}

// IsOpen reports whether the warning is counting down.
func (w *WarningCountdown) IsOpen() bool {
	return w.open
}

// Remaining returns the whole seconds left.
func (w *WarningCountdown) Remaining() int {
	return w.remaining
}

// Total returns the countdown length in seconds.
func (w *WarningCountdown) Total() int {
	return w.total
}

// Progress returns the fraction of the countdown still left, from 1 down to
// 0.
func (w *WarningCountdown) Progress() float64 {
	if w.total == 0 {
		return 0
	}
	return float64(w.remaining) / float64(w.total)
}

func (w *WarningCountdown) tick() {
	w.slot.Release()
	w.remaining--
	if w.remaining <= 0 {
		w.remaining = 0
		w.restoreAttention()
		w.onExpire()
		return
	}
	w.toggleAttention()
	w.slot.Schedule(w.sched, tickInterval, w.tick)
	w.onTick()
}

func (w *WarningCountdown) toggleAttention() {
	if !w.alert {
		return
	}
	if w.alerting {
		w.attention.Restore()
	} else {
		w.attention.Set(w.alertText)
	}
	w.alerting = !w.alerting
}

func (w *WarningCountdown) restoreAttention() {
	if w.alerting {
		w.attention.Restore()
		w.alerting = false
	}
}
