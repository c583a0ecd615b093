package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/internal/config"
	bboltstore "github.com/jmcleod/sessionguard/storage/bbolt"
	"github.com/jmcleod/sessionguard/storage/memory"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestTokenCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	env := filepath.Join(t.TempDir(), "none.env")
	common := []string{"--env-file", env, "--backend", "bbolt", "--bbolt-path", path, "--token-key", "jwt"}

	require.NoError(t, run(t, append([]string{"token", "set", "abc"}, common...)...))

	s, err := bboltstore.Open(path)
	require.NoError(t, err)
	v, err := s.Get(context.Background(), "jwt")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
	require.NoError(t, s.Close())

	require.NoError(t, run(t, append([]string{"clear"}, common...)...))

	s, err = bboltstore.Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(context.Background(), "jwt")
	assert.Error(t, err)
}

func TestUnknownBackend(t *testing.T) {
	env := filepath.Join(t.TempDir(), "none.env")
	err := run(t, "clear", "--env-file", env, "--backend", "floppy")
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestNewLogger(t *testing.T) {
	l := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
	_, ok := l.Handler().(*slog.JSONHandler)
	assert.True(t, ok)

	l = newLogger(config.LogConfig{Level: "bogus"})
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchLogins_StopsWatcherOnShutdown(t *testing.T) {
	cfg = config.Default()
	cfg.Session.TokenKey = "jwt"
	cfg.Session.TokenDebounce = 10 * time.Millisecond
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	hub := memory.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out lockedBuffer
	done := make(chan error, 1)
	go func() { done <- watchLogins(ctx, hub.Open(), &out) }()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Open().Set(context.Background(), "jwt", "abc"))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "login detected (jwt)")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watchLogins did not return")
	}
	assert.Equal(t, 0, hub.Subscribers(), "watcher must unsubscribe before the loop stops")
}
