package api

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent identifies a session event being logged.
type AuditEvent string

const (
	AuditSessionStarted   AuditEvent = "session_started"
	AuditSessionContinued AuditEvent = "session_continued"
	AuditSessionLogout    AuditEvent = "session_logout"
	AuditWarningOpened    AuditEvent = "warning_opened"
	AuditWarningExpired   AuditEvent = "warning_expired"
	AuditLoginDetected    AuditEvent = "login_detected"
)

// auditLogger wraps slog.Logger for structured audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit entry. remoteAddr is empty for events the
// session raised by itself.
func (al *auditLogger) log(ctx context.Context, event AuditEvent, remoteAddr string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if remoteAddr != "" {
		baseAttrs = append(baseAttrs, slog.String("remote_addr", remoteAddr))
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}
