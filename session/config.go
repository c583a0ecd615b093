package session

import (
	"fmt"
	"time"
)

// Config controls a Machine.
type Config struct {
	// InactivityTimeout is how long without activity before the warning
	// opens. Whole seconds.
	InactivityTimeout time.Duration
	// ModalInactivityTimeout is the length of the warning countdown. Whole
	// seconds.
	ModalInactivityTimeout time.Duration
	// StorageTokenKey is the externally owned credential key. Empty disables
	// credential watching.
	StorageTokenKey string
	// TokenChangeDebounce coalesces bursts of credential key changes.
	TokenChangeDebounce time.Duration
	// ActivityThrottle is the minimum interval between handled activity
	// signals.
	ActivityThrottle time.Duration

	// ShowAttentionAlert toggles the attention signal on each countdown
	// tick.
	ShowAttentionAlert bool
	AttentionAlertText string

	Title              string
	Message            string
	TimerMessage       string
	LogoutButtonText   string
	ContinueButtonText string

	// Debug logs every credential key change.
	Debug bool
}

// DefaultConfig returns a Config with the stock texts and rate limits. The
// two timeouts are left for the caller to set.
func DefaultConfig() Config {
	return Config{
		TokenChangeDebounce: 500 * time.Millisecond,
		ActivityThrottle:    500 * time.Millisecond,
		ShowAttentionAlert:  true,
		AttentionAlertText:  "INACTIVITY ALERT",
		Title:               "Inactivity alert",
		Message:             "You have been inactive for a long time. Do you want to remain logged in?",
		TimerMessage:        "You will be disconnected in: ",
		LogoutButtonText:    "Logout",
		ContinueButtonText:  "Continue",
	}
}

// Validate checks the timing fields.
func (c Config) Validate() error {
	if err := wholeSeconds("inactivity timeout", c.InactivityTimeout); err != nil {
		return err
	}
	if err := wholeSeconds("modal inactivity timeout", c.ModalInactivityTimeout); err != nil {
		return err
	}
	if c.TokenChangeDebounce < 0 {
		return fmt.Errorf("%w: token change debounce must not be negative", ErrInvalidConfig)
	}
	if c.ActivityThrottle < 0 {
		return fmt.Errorf("%w: activity throttle must not be negative", ErrInvalidConfig)
	}
	return nil
}

func wholeSeconds(name string, d time.Duration) error {
	if d < time.Second || d%time.Second != 0 {
		return fmt.Errorf("%w: %s must be a positive whole number of seconds, got %s", ErrInvalidConfig, name, d)
	}
	return nil
}

// RecoveryThreshold is the downtime after which a returning instance logs
// out without showing the warning.
func (c Config) RecoveryThreshold() time.Duration {
	return c.InactivityTimeout + c.ModalInactivityTimeout
}
