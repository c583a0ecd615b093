package session

import "fmt"

// Shared store keys owned by the session core.
const (
	// LastActivityKey holds the time of the last activity in any instance,
	// as decimal epoch milliseconds.
	LastActivityKey = "sc-last-activity-time"
	// LogoutCauseKey holds the LogoutType of the last locally decided
	// logout. It is cleared when a session starts.
	LogoutCauseKey = "sc-logout-cause"
)

// LogoutType is the reason a session ended.
type LogoutType string

const (
	// LogoutButton is an explicit logout by the user.
	LogoutButton LogoutType = "button"
	// LogoutInactivity is a logout forced by the inactivity countdown.
	LogoutInactivity LogoutType = "inactivity"
	// LogoutLostToken is a logout caused by the credential disappearing.
	LogoutLostToken LogoutType = "lostToken"
)

// String returns the stored form of the cause.
func (t LogoutType) String() string {
	return string(t)
}

// ParseLogoutType parses the stored form of a cause.
func ParseLogoutType(s string) (LogoutType, error) {
	switch t := LogoutType(s); t {
	case LogoutButton, LogoutInactivity, LogoutLostToken:
		return t, nil
	}
	return "", fmt.Errorf("unknown logout type %q", s)
}

// State is a snapshot of a Machine.
type State struct {
	// Active is true between Start and logout or Stop.
	Active           bool       `json:"active"`
	ModalOpen        bool       `json:"is_modal_open"`
	SecondsRemaining int        `json:"seconds_remaining"`
	TotalSeconds     int        `json:"total_seconds"`
	LastLogout       LogoutType `json:"last_logout,omitempty"`
	LastLogoutLocal  bool       `json:"last_logout_local,omitempty"`
}

// ModalProps is everything a warning dialog needs to draw itself.
type ModalProps struct {
	IsOpen             bool    `json:"is_open"`
	Title              string  `json:"title"`
	Message            string  `json:"message"`
	TimerMessage       string  `json:"timer_message"`
	LogoutButtonText   string  `json:"logout_button_text"`
	ContinueButtonText string  `json:"continue_button_text"`
	RemainingTime      int     `json:"remaining_time"`
	ProgressPercent    float64 `json:"progress_percent"`
}

// Renderer draws the warning dialog. Render is called on the machine's
// execution context after every observable change.
type Renderer interface {
	Render(ModalProps)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ModalProps)

// Render calls f(p).
func (f RendererFunc) Render(p ModalProps) {
	f(p)
}

// Hooks are the callbacks the embedding application receives. Every field is
// optional.
type Hooks struct {
	// OnLogout is called once when the session ends, with local set when
	// this instance decided the logout.
	OnLogout func(cause LogoutType, local bool)
	// OnInactivityTimeout is called when the warning opens.
	OnInactivityTimeout func()
	// OnModalTimeout is called when the countdown runs out, just before the
	// resulting logout.
	OnModalTimeout func()
}
