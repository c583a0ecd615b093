package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jmcleod/sessionguard/storage"
)

// ActivityClock keeps the last activity time in the shared store.
type ActivityClock struct {
	store storage.Store
}

// NewActivityClock returns a clock over store.
func NewActivityClock(store storage.Store) *ActivityClock {
	return &ActivityClock{store: store}
}

// Record stores now as the last activity time.
func (c *ActivityClock) Record(ctx context.Context, now time.Time) error {
	return c.store.Set(ctx, LastActivityKey, strconv.FormatInt(now.UnixMilli(), 10))
}

// Last returns the stored activity time. ok is false when the value is
// missing, malformed or unreadable.
func (c *ActivityClock) Last(ctx context.Context) (t time.Time, ok bool, err error) {
	v, err := c.store.Get(ctx, LastActivityKey)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// Since returns the time elapsed since the last activity. ok is false when
// there is no usable timestamp, which callers treat as expired.
func (c *ActivityClock) Since(ctx context.Context, now time.Time) (elapsed time.Duration, ok bool, err error) {
	last, ok, err := c.Last(ctx)
	if !ok {
		return 0, false, err
	}
	return now.Sub(last), true, nil
}
