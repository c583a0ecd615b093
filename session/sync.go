package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmcleod/sessionguard/eventloop"
	"github.com/jmcleod/sessionguard/ratelimit"
	"github.com/jmcleod/sessionguard/storage"
)

// CrossTabSync reacts to writes other instances make to the shared store.
//
// Activity timestamps written elsewhere count as activity here. The
// credential disappearing ends the session, with the cause taken from the
// marker the deciding instance left behind. Credential changes are
// debounced and then confirmed with a fresh read, which filters out
// remove-then-reset sequences but is not a hard guarantee when writes from
// several instances interleave inside the debounce window.
type CrossTabSync struct {
	ctx      context.Context
	store    storage.Store
	sched    eventloop.Scheduler
	tokenKey string
	debug    bool
	logger   *slog.Logger

	onRemoteActivity func()
	onCredentialLost func(cause LogoutType)

	check  *ratelimit.Debouncer[storage.Change]
	cancel func()
}

func newCrossTabSync(ctx context.Context, store storage.Store, sched eventloop.Scheduler, cfg Config, logger *slog.Logger, onRemoteActivity func(), onCredentialLost func(LogoutType)) *CrossTabSync {
	s := &CrossTabSync{
		ctx:              ctx,
		store:            store,
		sched:            sched,
		tokenKey:         cfg.StorageTokenKey,
		debug:            cfg.Debug,
		logger:           logger,
		onRemoteActivity: onRemoteActivity,
		onCredentialLost: onCredentialLost,
	}
	s.check = ratelimit.Debounce(sched, cfg.TokenChangeDebounce, s.checkCredential)
	return s
}

// Attach subscribes to the store. Notifications are moved onto the
// scheduler before they are handled.
func (s *CrossTabSync) Attach() error {
	cancel, err := s.store.Subscribe(s.ctx, func(c storage.Change) {
		s.sched.Post(func() { s.handle(c) })
	})
	if err != nil {
		return err
	}
	s.cancel = cancel
	return nil
}

// Attached reports whether notifications are being received.
func (s *CrossTabSync) Attached() bool {
	return s.cancel != nil
}

// Detach unsubscribes and drops any pending credential check.
func (s *CrossTabSync) Detach() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.check.Cancel()
}

func (s *CrossTabSync) handle(c storage.Change) {
	if c.Key == LastActivityKey {
		s.onRemoteActivity()
		return
	}
	if s.tokenKey == "" {
		return
	}
	if c.Key == s.tokenKey || c.Cleared() {
		if s.debug {
			s.logger.Debug("credential change", "key", c.Key, "present", c.Present, "source", c.Source)
		}
		s.check.Call(c)
	}
}

func (s *CrossTabSync) checkCredential(c storage.Change) {
	if c.Present {
		return
	}
	_, err := s.store.Get(s.ctx, s.tokenKey)
	if err == nil {
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("reading credential failed", "error", err)
		return
	}
	s.onCredentialLost(readLogoutCause(s.ctx, s.store, s.logger))
}

// readLogoutCause returns the cause marker, or LogoutLostToken when there is
// no usable marker.
func readLogoutCause(ctx context.Context, store storage.Store, logger *slog.Logger) LogoutType {
	v, err := store.Get(ctx, LogoutCauseKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("reading logout cause failed", "error", err)
		}
		return LogoutLostToken
	}
	cause, err := ParseLogoutType(v)
	if err != nil {
		return LogoutLostToken
	}
	return cause
}
