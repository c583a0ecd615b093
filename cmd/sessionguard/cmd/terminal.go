package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/muesli/termenv"

	"github.com/jmcleod/sessionguard/session"
)

// titleAttention flashes the terminal window title during the countdown.
type titleAttention struct {
	out   *termenv.Output
	title string

	mu  sync.Mutex
	set bool
}

func newTitleAttention(w io.Writer, title string) *titleAttention {
	out := termenv.NewOutput(w)
	out.SetWindowTitle(title)
	return &titleAttention{out: out, title: title}
}

func (a *titleAttention) Set(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set = true
	a.out.SetWindowTitle(text)
}

func (a *titleAttention) Restore() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.set {
		return
	}
	a.set = false
	a.out.SetWindowTitle(a.title)
}

// terminalRenderer prints the warning when it opens, each countdown tick on
// one line, and a notice when it closes.
type terminalRenderer struct {
	out *termenv.Output

	mu   sync.Mutex
	open bool
}

func newTerminalRenderer(w io.Writer) *terminalRenderer {
	return &terminalRenderer{out: termenv.NewOutput(w)}
}

func (r *terminalRenderer) Render(p session.ModalProps) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case p.IsOpen && !r.open:
		r.open = true
		fmt.Fprintln(r.out, r.out.String(p.Title).Bold().Foreground(r.out.Color("3")))
		fmt.Fprintln(r.out, p.Message)
		fmt.Fprintf(r.out, "[%s] [%s]\n", p.ContinueButtonText, p.LogoutButtonText)
		fallthrough
	case p.IsOpen:
		fmt.Fprintf(r.out, "\r%s%s", p.TimerMessage,
			r.out.String(fmt.Sprintf("%3ds", p.RemainingTime)).Foreground(r.out.Color("1")))
	case r.open:
		r.open = false
		fmt.Fprintln(r.out)
	}
}
