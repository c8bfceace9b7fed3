// Package tui is the interactive terminal front end for a story session.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/storyloom/internal/export"
	"github.com/felixgeelhaar/storyloom/internal/fault"
	"github.com/felixgeelhaar/storyloom/internal/session"
	"github.com/felixgeelhaar/storyloom/internal/store"
)

// TUI forwards progress from outside the program into the model. It
// satisfies ui.UI. Messages are sent from their own goroutine because
// events are also published from inside Update, where a blocking Send
// would never be received.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	go t.program.Send(StatusMsg(status))
}

// UpdateStep sends nothing: the view renders the committed session's step,
// and events carry the step of a transition's working copy.
func (t *TUI) UpdateStep(step session.Step) {}

func (t *TUI) Log(msg string) {
	go t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	labelStyle = lipgloss.NewStyle().Bold(true)
	helpStyle  = lipgloss.NewStyle().Faint(true)
)

type LogMsg string
type StatusMsg string

// doneMsg carries the session copy a transition ran on.
type doneMsg struct {
	session session.Session
	label   string
	err     error
}

type exportedMsg struct {
	artifacts []*store.Artifact
	err       error
}

// Options wires the model to the session it drives.
type Options struct {
	Machine  *session.Machine
	Session  *session.Session
	Exporter *export.Exporter
	// Persist is called after every committed transition, e.g. to store a
	// snapshot. May be nil.
	Persist func(*session.Session) error
}

type Model struct {
	machine  *session.Machine
	sess     *session.Session
	exporter *export.Exporter
	persist  func(*session.Session) error
	lang     session.Language

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model

	audience int
	category int

	busy     bool
	busyText string
	status   string
	err      error
	log      []string

	ready    bool
	width    int
	height   int
	quitting bool
}

func NewModel(opts Options) Model {
	in := textinput.New()
	in.Placeholder = "a lost kitten finds its way home"
	in.CharLimit = 500
	in.Width = 60
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		machine:  opts.Machine,
		sess:     opts.Session,
		exporter: opts.Exporter,
		persist:  opts.Persist,
		lang:     opts.Machine.Language(),
		input:    in,
		spinner:  sp,
		viewport: viewport.New(80, 15),
		status:   "Enter a topic",
	}
	m.selectFromSession()
	return m
}

// selectFromSession points the audience and category pickers at the
// session's stored choice, if any.
func (m *Model) selectFromSession() {
	for i, a := range session.Audiences {
		if a == m.sess.Audience {
			m.audience = i
		}
	}
	for i, c := range m.categories() {
		if c == m.sess.Category {
			m.category = i
		}
	}
	m.viewport.SetContent(m.sess.Story)
}

// Session returns the session the model drives.
func (m Model) Session() *session.Session { return m.sess }

func (m Model) Audience() session.Audience { return session.Audiences[m.audience] }

func (m Model) Category() string { return m.categories()[m.category] }

func (m Model) Err() error { return m.err }

func (m Model) categories() []string {
	return session.Categories(m.lang, m.Audience())
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-14, 5)
		m.ready = true
		return m, nil

	case doneMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			m.status = msg.label + " failed"
			return m, nil
		}
		*m.sess = msg.session
		m.err = nil
		m.status = msg.label + " done"
		m.viewport.SetContent(m.sess.Story)
		if m.persist != nil {
			if err := m.persist(m.sess); err != nil {
				m.err = err
			}
		}
		return m, nil

	case exportedMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			m.status = "Export failed"
			return m, nil
		}
		names := make([]string, 0, len(msg.artifacts))
		for _, a := range msg.artifacts {
			names = append(names, a.Name)
		}
		m.status = "Exported " + strings.Join(names, ", ")
		return m, nil

	case LogMsg:
		m.log = append(m.log, string(msg))
		if len(m.log) > 5 {
			m.log = m.log[len(m.log)-5:]
		}
		return m, nil

	case StatusMsg:
		m.status = string(msg)
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.sess.Step == session.StepStart && !m.busy {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.quitting = true
		return m, tea.Quit
	}
	// Input is disabled while a transition is in flight.
	if m.busy {
		return m, nil
	}
	if msg.Type == tea.KeyCtrlR {
		return m.reset()
	}

	switch m.sess.Step {
	case session.StepStart:
		if msg.Type == tea.KeyEnter {
			topic := m.input.Value()
			return m.transition("Proposing a title", func(ctx context.Context, s *session.Session) error {
				return m.machine.SubmitTopic(ctx, s, topic)
			})
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case session.StepTitleConfirm:
		switch msg.String() {
		case "t":
			m.audience = (m.audience + 1) % len(session.Audiences)
			m.category = 0
		case "c", "right":
			m.category = (m.category + 1) % len(m.categories())
		case "left":
			n := len(m.categories())
			m.category = (m.category + n - 1) % n
		case "a", "enter":
			audience, category := m.Audience(), m.Category()
			return m.transition("Writing the story", func(ctx context.Context, s *session.Session) error {
				return m.machine.AcceptTitle(ctx, s, audience, category)
			})
		case "r":
			return m.transition("Proposing another title", func(ctx context.Context, s *session.Session) error {
				return m.machine.RejectTitle(ctx, s)
			})
		case "q":
			m.quitting = true
			return m, tea.Quit
		}

	case session.StepStoryGenerated:
		switch msg.String() {
		case "i":
			if m.sess.HasImage() {
				return m.transition("Redrawing the illustration", func(ctx context.Context, s *session.Session) error {
					return m.machine.RegenerateIllustration(ctx, s)
				})
			}
			return m.transition("Drawing the illustration", func(ctx context.Context, s *session.Session) error {
				return m.machine.GenerateIllustration(ctx, s)
			})
		case "e":
			return m.export()
		case "q":
			m.quitting = true
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

// transition runs fn on a copy of the session in the background. The copy
// replaces the session only when fn succeeds.
func (m Model) transition(label string, fn func(context.Context, *session.Session) error) (tea.Model, tea.Cmd) {
	m.busy = true
	m.busyText = label
	m.err = nil
	m.status = label + "..."

	work := *m.sess
	run := func() tea.Msg {
		err := fn(context.Background(), &work)
		return doneMsg{session: work, label: label, err: err}
	}
	return m, tea.Batch(m.spinner.Tick, run)
}

func (m Model) export() (tea.Model, tea.Cmd) {
	if m.exporter == nil {
		m.err = fault.Validation("export", "export is not configured")
		return m, nil
	}
	m.busy = true
	m.busyText = "Exporting"
	m.err = nil

	snapshot := *m.sess
	exporter, lang := m.exporter, m.lang
	run := func() tea.Msg {
		arts, err := exporter.All(context.Background(), &snapshot, lang)
		return exportedMsg{artifacts: arts, err: err}
	}
	return m, tea.Batch(m.spinner.Tick, run)
}

func (m Model) reset() (tea.Model, tea.Cmd) {
	if err := m.machine.Reset(m.sess); err != nil {
		m.err = err
		return m, nil
	}
	m.input.Reset()
	m.input.Focus()
	m.audience, m.category = 0, 0
	m.viewport.SetContent("")
	m.err = nil
	m.status = "Session reset. Enter a topic"
	if m.persist != nil {
		if err := m.persist(m.sess); err != nil {
			m.err = err
		}
	}
	return m, textinput.Blink
}

func (m Model) View() string {
	if m.quitting {
		return "  Bye.\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(" storyloom "))
	b.WriteString(infoStyle.Render(fmt.Sprintf(" %s ", m.sess.Step)))
	b.WriteString("\n\n")

	switch m.sess.Step {
	case session.StepStart:
		b.WriteString(labelStyle.Render("Topic") + "\n")
		b.WriteString(m.input.View() + "\n")

	case session.StepTitleConfirm:
		labels := m.lang.Labels()
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(labels.Title+":"), m.sess.Title)
		fmt.Fprintf(&b, "%s %s\n\n", labelStyle.Render(labels.Summary+":"), m.sess.Summary)
		fmt.Fprintf(&b, "Audience: %s   Category: ‹ %s ›\n",
			m.Audience().Label(m.lang), m.Category())

	case session.StepStoryGenerated:
		b.WriteString(labelStyle.Render(m.sess.Title) + "\n\n")
		b.WriteString(m.viewport.View() + "\n")
		if m.sess.HasImage() {
			b.WriteString("\n" + infoStyle.Render("Illustration: ") + m.sess.ImageURL + "\n")
		}
	}

	b.WriteString("\n")
	if m.busy {
		b.WriteString(m.spinner.View() + " " + m.busyText + "\n")
	} else {
		b.WriteString(infoStyle.Render(m.status) + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(fault.Message(m.err)) + "\n")
	}
	for _, line := range m.log {
		b.WriteString(helpStyle.Render("  "+line) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render(m.help()) + "\n")
	return b.String()
}

func (m Model) help() string {
	switch m.sess.Step {
	case session.StepTitleConfirm:
		return "a accept • r new title • t audience • ←/→ category • ctrl+r reset • esc quit"
	case session.StepStoryGenerated:
		if m.sess.HasImage() {
			return "i redraw illustration • e export • ↑/↓ scroll • ctrl+r reset • esc quit"
		}
		return "i illustrate • e export • ↑/↓ scroll • ctrl+r reset • esc quit"
	default:
		return "enter submit • ctrl+r reset • esc quit"
	}
}
