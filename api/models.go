package api

import "github.com/jmcleod/sessionguard/session"

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SessionResponse describes the instance's session.
type SessionResponse struct {
	Active bool               `json:"active"`
	State  session.State      `json:"state"`
	Modal  session.ModalProps `json:"modal"`
}

// VisibilityRequest is the JSON body for POST /session/visibility.
type VisibilityRequest struct {
	Visible *bool `json:"visible"`
}

// LogoutRequest is the optional JSON body for POST /session/logout.
type LogoutRequest struct {
	Cause string `json:"cause,omitempty"`
}

// MetricsResponse is returned from GET /metrics.
type MetricsResponse struct {
	Events map[string]int `json:"events"`
}
