package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/internal/uuid"
	"github.com/jmcleod/sessionguard/storage"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()
	url := os.Getenv("SESSIONGUARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SESSIONGUARD_TEST_REDIS_URL not set; skipping Redis tests")
	}
	return Config{
		ConnectionURL:  url,
		KeyPrefix:      "sessionguard-test:" + uuid.New() + ":",
		RetryAttempts:  1,
		RetryInterval:  time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

func TestConnect_Errors(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrEmptyConnectionURL)

	_, err = Connect(context.Background(), Config{ConnectionURL: "://bad", ConnectTimeout: time.Second})
	assert.ErrorIs(t, err, ErrFailedToParseRedisConnString)
}

func TestRedisStorage(t *testing.T) {
	cfg := newTestConfig(t)
	ctx := context.Background()

	client, err := Connect(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	a := New(client, cfg.KeyPrefix, WithSource("tab-a"))
	defer a.Close()
	b := New(client, cfg.KeyPrefix, WithSource("tab-b"))
	defer b.Close()

	changes := make(chan storage.Change, 16)
	cancel, err := a.Subscribe(ctx, func(c storage.Change) { changes <- c })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, a.Set(ctx, "own", "ignored"))
	require.NoError(t, b.Set(ctx, "sc-last-activity-time", "42"))

	got, err := a.Get(ctx, "sc-last-activity-time")
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	select {
	case c := <-changes:
		assert.Equal(t, storage.Change{Key: "sc-last-activity-time", Value: "42", Present: true, Source: "tab-b"}, c)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}

	require.NoError(t, b.Delete(ctx, "sc-last-activity-time"))
	_, err = a.Get(ctx, "sc-last-activity-time")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	select {
	case c := <-changes:
		assert.Equal(t, "sc-last-activity-time", c.Key)
		assert.False(t, c.Present)
	case <-time.After(5 * time.Second):
		t.Fatal("no delete delivered")
	}

	require.NoError(t, b.Clear(ctx))
	select {
	case c := <-changes:
		assert.True(t, c.Cleared())
	case <-time.After(5 * time.Second):
		t.Fatal("no clear delivered")
	}
	_, err = a.Get(ctx, "own")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
