package bbolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/storage"
)

func newTestPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "shared.db")
}

func TestBBoltStorage(t *testing.T) {
	ctx := context.Background()
	path := newTestPath(t)

	a, err := Open(path, WithSource("tab-a"))
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path, WithSource("tab-b"))
	require.NoError(t, err)
	defer b.Close()

	t.Run("SetGet", func(t *testing.T) {
		require.NoError(t, a.Set(ctx, "token", "abc"))
		got, err := b.Get(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "abc", got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, b.Delete(ctx, "token"))
		_, err := a.Get(ctx, "token")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, b.Delete(ctx, "token"), "deleting a tombstone is a no-op")
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, a.Set(ctx, "k1", "v1"))
		require.NoError(t, a.Set(ctx, "k2", "v2"))
		require.NoError(t, b.Clear(ctx))
		_, err := a.Get(ctx, "k1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = a.Get(ctx, "k2")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestBBoltStorage_ClosedHandle(t *testing.T) {
	s, err := Open(newTestPath(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Set(context.Background(), "k", "v"), storage.ErrClosed)
	_, err = s.Subscribe(context.Background(), func(storage.Change) {})
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestBBoltStorage_WatchDeliversOtherWriters(t *testing.T) {
	ctx := context.Background()
	path := newTestPath(t)

	a, err := Open(path, WithSource("tab-a"))
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path, WithSource("tab-b"))
	require.NoError(t, err)
	defer b.Close()

	changes := make(chan storage.Change, 16)
	cancel, err := a.Subscribe(ctx, func(c storage.Change) { changes <- c })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, a.Set(ctx, "own", "write"))
	require.NoError(t, b.Set(ctx, "sc-last-activity-time", "1700000000000"))

	select {
	case c := <-changes:
		assert.Equal(t, storage.Change{
			Key:     "sc-last-activity-time",
			Value:   "1700000000000",
			Present: true,
			Source:  "tab-b",
		}, c)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}
}

func TestDiff(t *testing.T) {
	prev := map[string]entry{
		"keep":  {Value: "1", Writer: "b", Seq: 1},
		"gone":  {Value: "x", Writer: "b", Seq: 2},
		"mine":  {Value: "m", Writer: "a", Seq: 3},
		"stale": {Writer: "b", Seq: 4, Deleted: true},
	}
	cur := map[string]entry{
		"keep":  {Value: "1", Writer: "b", Seq: 1},
		"gone":  {Writer: "c", Seq: 6, Deleted: true},
		"mine":  {Value: "m2", Writer: "a", Seq: 7},
		"stale": {Writer: "b", Seq: 4, Deleted: true},
		"new":   {Value: "n", Writer: "c", Seq: 8},
	}

	changes := diff(prev, cur, "a")
	assert.ElementsMatch(t, []storage.Change{
		{Key: "gone", Source: "c"},
		{Key: "new", Value: "n", Present: true, Source: "c"},
	}, changes)

	t.Run("ClearReportedOnce", func(t *testing.T) {
		cleared := map[string]entry{
			"keep":      {Writer: "c", Seq: 9, Deleted: true},
			"new":       {Writer: "c", Seq: 9, Deleted: true},
			clearMarker: {Writer: "c", Seq: 9, Deleted: true},
		}
		changes := diff(cur, cleared, "a")
		require.Len(t, changes, 1)
		assert.True(t, changes[0].Cleared())
	})
}
