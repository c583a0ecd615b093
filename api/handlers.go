package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jmcleod/sessionguard/session"
)

// GetSession returns the session state and the warning dialog props.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	resp, err := call(r.Context(), a.loop, func() (SessionResponse, error) {
		return a.snapshot(), nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// StartSession begins a session, the equivalent of a login.
func (a *API) StartSession(w http.ResponseWriter, r *http.Request) {
	remote := r.RemoteAddr
	resp, err := call(r.Context(), a.loop, func() (SessionResponse, error) {
		if err := a.startSession(AuditSessionStarted, remote); err != nil {
			return SessionResponse{}, err
		}
		return a.snapshot(), nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Activity reports user activity.
func (a *API) Activity(w http.ResponseWriter, r *http.Request) {
	a.withMachine(w, r, func(m *session.Machine) error {
		m.NotifyActivity()
		return nil
	})
}

// Continue answers the warning with "stay logged in".
func (a *API) Continue(w http.ResponseWriter, r *http.Request) {
	a.withMachine(w, r, func(m *session.Machine) error {
		m.ContinueSession()
		a.audit.log(r.Context(), AuditSessionContinued, r.RemoteAddr)
		return nil
	})
}

// Logout ends the session. The cause defaults to the logout button.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cause := session.LogoutButton
	if req.Cause != "" {
		c, err := session.ParseLogoutType(req.Cause)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cause = c
	}
	a.withMachine(w, r, func(m *session.Machine) error {
		m.Logout(cause)
		return nil
	})
}

// Visibility reports the instance moving between foreground and
// background.
func (a *API) Visibility(w http.ResponseWriter, r *http.Request) {
	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Visible == nil {
		writeError(w, http.StatusBadRequest, `body must be {"visible": bool}`)
		return
	}
	a.withMachine(w, r, func(m *session.Machine) error {
		m.SetVisible(*req.Visible)
		return nil
	})
}

// Metrics returns event counters.
func (a *API) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MetricsResponse{Events: a.metrics.snapshot()})
}

// withMachine runs f against the running machine and answers with the
// resulting session state.
func (a *API) withMachine(w http.ResponseWriter, r *http.Request, f func(*session.Machine) error) {
	resp, err := call(r.Context(), a.loop, func() (SessionResponse, error) {
		m, err := a.current()
		if err != nil {
			return SessionResponse{}, err
		}
		if err := f(m); err != nil {
			return SessionResponse{}, err
		}
		return a.snapshot(), nil
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
