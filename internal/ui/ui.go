package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/storyloom/internal/session"
)

// UI receives progress from a running story session.
type UI interface {
	UpdateStatus(status string)
	UpdateStep(step session.Step)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string)   {}
func (s SilentUI) UpdateStep(step session.Step) {}
func (s SilentUI) Log(msg string)               {}

var (
	statusStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	stepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	logStyle    = lipgloss.NewStyle().Faint(true)
)

// ConsoleUI prints progress lines, for non-interactive runs.
type ConsoleUI struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleUI(out io.Writer) *ConsoleUI {
	return &ConsoleUI{out: out}
}

func (c *ConsoleUI) UpdateStatus(status string) {
	c.println(statusStyle.Render("» " + status))
}

func (c *ConsoleUI) UpdateStep(step session.Step) {
	c.println(stepStyle.Render("  step: " + step.String()))
}

func (c *ConsoleUI) Log(msg string) {
	c.println(logStyle.Render("  " + msg))
}

func (c *ConsoleUI) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

// Forward reports every event published on bus to u.
func Forward(bus *session.EventBus, u UI) {
	bus.SubscribeAll(func(e session.Event) {
		u.Log(Describe(e))
		if e.Type != session.EventTransitionFailed {
			u.UpdateStep(e.Step)
		}
	})
}

// Describe renders an event as one line. Errors are not included; the
// presentation layer shows them separately.
func Describe(e session.Event) string {
	switch e.Type {
	case session.EventTitleProposed:
		return fmt.Sprintf("proposed %q", e.Data[session.PayloadTitle])
	case session.EventTitleRejected:
		return fmt.Sprintf("rejected %q", e.Data["rejected"])
	case session.EventStoryPersisted:
		return "story saved as " + e.Data[session.PayloadStoryID]
	case session.EventIllustrationPersisted:
		return "illustration saved: " + e.Data[session.PayloadImageURL]
	case session.EventTransitionFailed:
		return fmt.Sprintf("%s failed (%s)", e.Data["transition"], e.Data["kind"])
	case session.EventSessionReset:
		return "session reset"
	default:
		return string(e.Type)
	}
}
