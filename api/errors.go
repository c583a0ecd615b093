package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/sessionguard/eventloop"
	"github.com/jmcleod/sessionguard/session"
)

var (
	// ErrNoSession is returned when an operation needs a running session.
	ErrNoSession = errors.New("no active session")
	// ErrSessionActive is returned when starting a second session.
	ErrSessionActive = errors.New("session already active")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, eventloop.ErrLoopClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
