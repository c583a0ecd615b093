package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLogoutSpike  AlertType = "logout_spike"
	AlertRestartSpike AlertType = "restart_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector counts audit events and watches two sliding windows:
// logouts, which spike when a credential store misbehaves, and session
// starts, which spike when something keeps logging the user back in.
type metricsCollector struct {
	mu sync.Mutex

	counts map[AuditEvent]int

	logouts         []time.Time
	logoutWindow    time.Duration
	logoutThreshold int

	starts         []time.Time
	startWindow    time.Duration
	startThreshold int

	alertFn AlertFunc
}

const (
	defaultLogoutWindow    = 1 * time.Minute
	defaultLogoutThreshold = 20
	defaultStartWindow     = 1 * time.Minute
	defaultStartThreshold  = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		counts:          make(map[AuditEvent]int),
		logoutWindow:    defaultLogoutWindow,
		logoutThreshold: defaultLogoutThreshold,
		startWindow:     defaultStartWindow,
		startThreshold:  defaultStartThreshold,
		alertFn:         alertFn,
	}
}

// recordEvent counts an audit event and updates the relevant windows.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[event]++
	if m.alertFn == nil {
		return
	}
	now := time.Now()
	switch event {
	case AuditSessionLogout:
		m.logouts = m.spike(m.logouts, now, m.logoutWindow, m.logoutThreshold,
			AlertLogoutSpike, "logout rate exceeds threshold")
	case AuditSessionStarted, AuditLoginDetected:
		m.starts = m.spike(m.starts, now, m.startWindow, m.startThreshold,
			AlertRestartSpike, "session start rate exceeds threshold")
	}
}

// spike appends now to the window and alerts once the threshold is reached.
// The window is emptied after an alert to avoid repeats within one spike.
func (m *metricsCollector) spike(times []time.Time, now time.Time, window time.Duration, threshold int, typ AlertType, msg string) []time.Time {
	times = trimWindow(append(times, now), now, window)
	if len(times) < threshold {
		return times
	}
	m.alertFn(AlertEvent{
		Type:      typ,
		Message:   msg,
		Count:     len(times),
		Threshold: threshold,
		Timestamp: now,
	})
	return times[:0]
}

func (m *metricsCollector) snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.counts))
	for k, v := range m.counts {
		out[string(k)] = v
	}
	return out
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
