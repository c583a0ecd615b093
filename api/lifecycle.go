package api

import (
	"context"
	"log/slog"

	"github.com/jmcleod/sessionguard/session"
)

// The functions below run on the event loop.

func (a *API) active() bool {
	return a.machine != nil && a.machine.Active()
}

func (a *API) current() (*session.Machine, error) {
	if !a.active() {
		return nil, ErrNoSession
	}
	return a.machine, nil
}

func (a *API) startSession(event AuditEvent, remote string) error {
	if a.active() {
		return ErrSessionActive
	}
	a.stopWatcher()

	opts := append([]session.Option{
		session.WithLogger(a.logger),
		session.WithHooks(a.hooks()),
	}, a.sessionOpts...)
	m, err := session.New(a.cfg, a.store, a.loop, opts...)
	if err != nil {
		return err
	}
	if err := m.Start(); err != nil {
		return err
	}
	a.machine = m
	a.audit.log(context.Background(), event, remote)
	return nil
}

func (a *API) hooks() session.Hooks {
	return session.Hooks{
		OnInactivityTimeout: func() {
			a.audit.log(context.Background(), AuditWarningOpened, "")
		},
		OnModalTimeout: func() {
			a.audit.log(context.Background(), AuditWarningExpired, "")
		},
		OnLogout: func(cause session.LogoutType, local bool) {
			a.audit.log(context.Background(), AuditSessionLogout, "",
				slog.String("cause", cause.String()),
				slog.Bool("local", local))
			if a.autoLogin {
				if err := a.watchForLogin(); err != nil {
					a.logger.Warn("restarting login watcher failed", "error", err)
				}
			}
		},
	}
}

func (a *API) watchForLogin() error {
	if a.watcher != nil || a.active() {
		return nil
	}
	w, err := session.NewLoginWatcher(a.cfg, a.store, a.loop, a.loginDetected,
		session.WithLoginLogger(a.logger))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	a.watcher = w
	return nil
}

func (a *API) stopWatcher() {
	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
}

func (a *API) loginDetected() {
	if err := a.startSession(AuditLoginDetected, ""); err != nil {
		a.logger.Warn("starting session after login failed", "error", err)
	}
}

func (a *API) snapshot() SessionResponse {
	if a.machine == nil {
		return SessionResponse{Modal: disabledProps(a.cfg)}
	}
	st := a.machine.State()
	return SessionResponse{
		Active: st.Active,
		State:  st,
		Modal:  a.machine.Props(),
	}
}

func disabledProps(cfg session.Config) session.ModalProps {
	return session.ModalProps{
		Title:              cfg.Title,
		Message:            cfg.Message,
		TimerMessage:       cfg.TimerMessage,
		LogoutButtonText:   cfg.LogoutButtonText,
		ContinueButtonText: cfg.ContinueButtonText,
	}
}
