package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestManual_FiresInDeadlineOrder(t *testing.T) {
	m := NewManual(epoch)
	var got []string

	m.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	m.AfterFunc(1*time.Second, func() { got = append(got, "a") })
	m.AfterFunc(2*time.Second, func() { got = append(got, "b1") })
	m.AfterFunc(2*time.Second, func() { got = append(got, "b2") })

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b1", "b2"}, got)
	assert.Equal(t, epoch.Add(2*time.Second), m.Now())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, got)
	assert.Zero(t, m.Pending())
}

func TestManual_ClockAtDeadlineDuringCallback(t *testing.T) {
	m := NewManual(epoch)
	var at time.Time
	m.AfterFunc(1500*time.Millisecond, func() { at = m.Now() })

	m.Advance(5 * time.Second)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), at)
	assert.Equal(t, epoch.Add(5*time.Second), m.Now())
}

func TestManual_StopPreventsFire(t *testing.T) {
	m := NewManual(epoch)
	fired := false
	timer := m.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second Stop reports nothing to cancel")

	m.Advance(time.Minute)
	assert.False(t, fired)
}

func TestManual_CallbackSchedulesWithinAdvance(t *testing.T) {
	m := NewManual(epoch)
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		m.AfterFunc(time.Second, tick)
	}
	m.AfterFunc(time.Second, tick)

	m.Advance(5 * time.Second)
	assert.Equal(t, 5, ticks)
	assert.Equal(t, 1, m.Pending())
}

func TestManual_PostRunsOnFlush(t *testing.T) {
	m := NewManual(epoch)
	var got []int
	m.Post(func() {
		got = append(got, 1)
		m.Post(func() { got = append(got, 2) })
	})
	assert.Empty(t, got)

	m.Flush()
	assert.Equal(t, []int{1, 2}, got)
}

func TestSlot_CancelAndReplace(t *testing.T) {
	m := NewManual(epoch)
	var s Slot
	var got []string

	s.Schedule(m, time.Second, func() { got = append(got, "first") })
	s.Schedule(m, 2*time.Second, func() { got = append(got, "second") })
	require.True(t, s.Pending())
	assert.Equal(t, 1, m.Pending(), "rescheduling must not stack timers")

	m.Advance(3 * time.Second)
	assert.Equal(t, []string{"second"}, got)

	s.Cancel()
	assert.False(t, s.Pending())
}

func TestManual_SuspendSkipsTimers(t *testing.T) {
	m := NewManual(epoch)
	fired := false
	m.AfterFunc(time.Second, func() { fired = true })

	m.Suspend(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, epoch.Add(time.Minute), m.Now())

	m.Advance(0)
	assert.True(t, fired, "overdue timers fire on the next advance")
	assert.Equal(t, epoch.Add(time.Minute), m.Now())
}
