package session

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionguard/eventloop"
	"github.com/jmcleod/sessionguard/storage"
	"github.com/jmcleod/sessionguard/storage/memory"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InactivityTimeout = 10 * time.Second
	cfg.ModalInactivityTimeout = 5 * time.Second
	cfg.StorageTokenKey = "token"
	return cfg
}

type logoutCall struct {
	cause LogoutType
	local bool
}

// recorder captures every outward call a machine makes.
type recorder struct {
	logouts      []logoutCall
	inactivity   int
	modalTimeout int
	renders      []ModalProps
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnLogout: func(cause LogoutType, local bool) {
			r.logouts = append(r.logouts, logoutCall{cause, local})
		},
		OnInactivityTimeout: func() { r.inactivity++ },
		OnModalTimeout:      func() { r.modalTimeout++ },
	}
}

func (r *recorder) Render(p ModalProps) {
	r.renders = append(r.renders, p)
}

func (r *recorder) calls() int {
	return len(r.logouts) + r.inactivity + r.modalTimeout + len(r.renders)
}

func (r *recorder) everOpened() bool {
	for _, p := range r.renders {
		if p.IsOpen {
			return true
		}
	}
	return false
}

// titleAttention remembers what the signal currently shows.
type titleAttention struct {
	current string
	sets    int
}

func (a *titleAttention) Set(text string) {
	a.current = text
	a.sets++
}

func (a *titleAttention) Restore() {
	a.current = ""
}

type tab struct {
	m     *Machine
	rec   *recorder
	store *memory.Store
}

func newTab(t *testing.T, hub *memory.Hub, sched eventloop.Scheduler, cfg Config, opts ...Option) *tab {
	t.Helper()
	rec := &recorder{}
	store := hub.Open()
	opts = append([]Option{WithLogger(quietLogger()), WithHooks(rec.hooks()), WithRenderer(rec)}, opts...)
	m, err := New(cfg, store, sched, opts...)
	require.NoError(t, err)
	return &tab{m: m, rec: rec, store: store}
}

func (tb *tab) start(t *testing.T) *tab {
	t.Helper()
	require.NoError(t, tb.m.Start())
	return tb
}

func lastActivity(t *testing.T, s storage.Store) time.Time {
	t.Helper()
	v, err := s.Get(context.Background(), LastActivityKey)
	require.NoError(t, err)
	ms, err := strconv.ParseInt(v, 10, 64)
	require.NoError(t, err)
	return time.UnixMilli(ms).UTC()
}

// deafStore is a store whose notifications never work.
type deafStore struct {
	*memory.Store
}

func (deafStore) Subscribe(context.Context, func(storage.Change)) (func(), error) {
	return nil, storage.ErrWatchUnavailable
}
