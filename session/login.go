package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/sessionguard/eventloop"
	"github.com/jmcleod/sessionguard/ratelimit"
	"github.com/jmcleod/sessionguard/storage"
)

// LoginWatcher runs while nobody is logged in and reports the credential
// key appearing in the shared store.
//
// Changes are debounced, and a login is only reported when both the
// change and a fresh read show the credential present, once per
// absent-to-present transition.
type LoginWatcher struct {
	store    storage.Store
	sched    guardedScheduler
	key      string
	logger   *slog.Logger
	onLogin  func()
	debounce *ratelimit.Debouncer[storage.Change]

	ctx     context.Context
	cancel  context.CancelFunc
	live    liveness
	unsub   func()
	present bool
}

// LoginOption configures a LoginWatcher.
type LoginOption func(*LoginWatcher)

// WithLoginLogger sets the watcher's logger.
func WithLoginLogger(logger *slog.Logger) LoginOption {
	return func(w *LoginWatcher) {
		w.logger = logger
	}
}

// NewLoginWatcher returns a watcher for cfg.StorageTokenKey that calls
// onLogin on the scheduler's execution context.
func NewLoginWatcher(cfg Config, store storage.Store, sched eventloop.Scheduler, onLogin func(), opts ...LoginOption) (*LoginWatcher, error) {
	if cfg.StorageTokenKey == "" {
		return nil, fmt.Errorf("%w: login watcher needs a storage token key", ErrInvalidConfig)
	}
	if cfg.TokenChangeDebounce < 0 {
		return nil, fmt.Errorf("%w: token change debounce must not be negative", ErrInvalidConfig)
	}
	w := &LoginWatcher{
		store:   store,
		key:     cfg.StorageTokenKey,
		onLogin: onLogin,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "session.login", "key", w.key)
	w.sched = guardedScheduler{Scheduler: sched, live: &w.live}
	w.debounce = ratelimit.Debounce(w.sched, cfg.TokenChangeDebounce, w.check)
	return w, nil
}

// Start records whether the credential is already present and subscribes
// to the store. A credential that is present at Start is not reported.
func (w *LoginWatcher) Start() error {
	if w.live.alive {
		return ErrAlreadyStarted
	}
	if w.ctx != nil {
		return ErrStopped
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	present, err := w.read()
	if err != nil {
		return err
	}
	w.present = present

	unsub, err := w.store.Subscribe(w.ctx, func(c storage.Change) {
		w.sched.Post(func() { w.handle(c) })
	})
	if err != nil {
		w.cancel()
		return err
	}
	w.unsub = unsub
	w.live.alive = true
	return nil
}

// Stop unsubscribes. No onLogin call happens after Stop returns.
func (w *LoginWatcher) Stop() {
	if !w.live.alive {
		return
	}
	w.live.alive = false
	w.unsub()
	w.debounce.Cancel()
	w.cancel()
}

func (w *LoginWatcher) read() (bool, error) {
	_, err := w.store.Get(w.ctx, w.key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (w *LoginWatcher) handle(c storage.Change) {
	if c.Key == w.key || c.Cleared() {
		w.debounce.Call(c)
	}
}

func (w *LoginWatcher) check(c storage.Change) {
	present, err := w.read()
	if err != nil {
		w.logger.Warn("reading credential failed", "error", err)
		return
	}
	if c.Present && present && !w.present {
		w.present = true
		w.logger.Info("login detected")
		w.onLogin()
		return
	}
	w.present = present
}
