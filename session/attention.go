package session

// AttentionSignal is an out-of-band way to draw the user's eye while the
// warning counts down, such as a window title. Only WarningCountdown drives
// it.
type AttentionSignal interface {
	// Set replaces the signal with text.
	Set(text string)
	// Restore puts back whatever was there before Set.
	Restore()
}

// NopAttention ignores every call.
type NopAttention struct{}

func (NopAttention) Set(string) {}
func (NopAttention) Restore()   {}
