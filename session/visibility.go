package session

import (
	"context"
	"time"
)

// VisibilityRecovery decides what a returning instance does about the time
// it spent in the background.
type VisibilityRecovery struct {
	clock     *ActivityClock
	threshold time.Duration
	visible   bool
}

func newVisibilityRecovery(clock *ActivityClock, threshold time.Duration) *VisibilityRecovery {
	return &VisibilityRecovery{clock: clock, threshold: threshold, visible: true}
}

// Visible reports the last visibility passed to Returned or Hidden.
func (v *VisibilityRecovery) Visible() bool {
	return v.visible
}

// Hidden records that the instance went to the background.
func (v *VisibilityRecovery) Hidden() {
	v.visible = false
}

// Returned records that the instance is visible again and reports whether
// the downtime already covered the whole warning window. A missing
// timestamp counts as expired; a failed read does not.
func (v *VisibilityRecovery) Returned(ctx context.Context, now time.Time) (expired bool, downtime time.Duration, err error) {
	v.visible = true
	downtime, ok, err := v.clock.Since(ctx, now)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return true, 0, nil
	}
	return downtime >= v.threshold, downtime, nil
}
