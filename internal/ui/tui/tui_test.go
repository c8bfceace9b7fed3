package tui

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/storyloom/internal/export"
	"github.com/felixgeelhaar/storyloom/internal/fault"
	"github.com/felixgeelhaar/storyloom/internal/guard"
	"github.com/felixgeelhaar/storyloom/internal/session"
	"github.com/felixgeelhaar/storyloom/internal/store"
	"github.com/felixgeelhaar/storyloom/internal/ui"
	"github.com/felixgeelhaar/storyloom/internal/vectorstore"
)

type scriptedText struct{ replies []string }

func (f *scriptedText) GenerateText(context.Context, string, float32, int) (string, error) {
	if len(f.replies) == 0 {
		return "", errors.New("no reply scripted")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

type images struct{ n int }

func (f *images) GenerateImage(context.Context, string) (string, error) {
	f.n++
	return "http://img/" + string(rune('0'+f.n)), nil
}

type embedder struct{}

func (embedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

type records struct{ points []vectorstore.Point }

func (r *records) Upsert(_ context.Context, _ string, p vectorstore.Point) error {
	r.points = append(r.points, p)
	return nil
}

const kitten = "Tytuł: Podróż Kotka\nStreszczenie: Kotek wraca do domu."

func newModel(t *testing.T, replies ...string) (Model, *records, *int) {
	t.Helper()
	recs := &records{}
	m, err := session.NewMachine(session.Deps{
		Text:     &scriptedText{replies: replies},
		Image:    &images{},
		Embedder: embedder{},
		Store:    recs,
	})
	if err != nil {
		t.Fatal(err)
	}
	persisted := 0
	model := NewModel(Options{
		Machine: m,
		Session: session.New(),
		Persist: func(*session.Session) error { persisted++; return nil },
	})
	return model, recs, &persisted
}

// press feeds a key to the model and runs the resulting command until the
// model is idle again.
func press(t *testing.T, m Model, key tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(key)
	return settle(t, next.(Model), cmd)
}

func settle(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	for _, msg := range results(cmd) {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

// results runs cmd and collects the messages produced by transitions.
// Timer driven commands such as spinner ticks are not executed.
func results(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		var out []tea.Msg
		for _, c := range msg {
			if c == nil {
				continue
			}
			switch inner := c().(type) {
			case doneMsg, exportedMsg:
				out = append(out, inner)
			}
		}
		return out
	case doneMsg, exportedMsg:
		return []tea.Msg{msg}
	}
	return nil
}

// topic fills the input the way typing would, without the cursor blink
// commands that typing schedules.
func topic(m Model, s string) Model {
	m.input.SetValue(s)
	return m
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var enter = tea.KeyMsg{Type: tea.KeyEnter}

func TestModel_FullSession(t *testing.T) {
	m, recs, persisted := newModel(t, kitten, "Pierwszy akapit.\n\nDrugi.\n\nTrzeci.")

	m = topic(m, "zagubiony kotek")
	m = press(t, m, enter)
	if m.Session().Step != session.StepTitleConfirm {
		t.Fatalf("expected title_confirm, got %s (err %v)", m.Session().Step, m.Err())
	}
	if m.Session().Title != "Podróż Kotka" {
		t.Errorf("unexpected title %q", m.Session().Title)
	}

	m = press(t, m, keys("a"))
	if m.Session().Step != session.StepStoryGenerated {
		t.Fatalf("expected story_generated, got %s (err %v)", m.Session().Step, m.Err())
	}
	if m.Session().Audience != session.Child || m.Session().Category != session.Categories(session.Polish, session.Child)[0] {
		t.Errorf("unexpected choice %s/%s", m.Session().Audience, m.Session().Category)
	}

	m = press(t, m, keys("i"))
	if m.Session().ImageURL != "http://img/1" {
		t.Errorf("unexpected image url %q", m.Session().ImageURL)
	}
	m = press(t, m, keys("i"))
	if m.Session().ImageURL != "http://img/2" {
		t.Errorf("expected a redrawn illustration, got %q", m.Session().ImageURL)
	}

	if len(recs.points) != 3 {
		t.Errorf("expected 3 stored records, got %d", len(recs.points))
	}
	if *persisted != 4 {
		t.Errorf("expected a snapshot after each of 4 transitions, got %d", *persisted)
	}
	if !strings.Contains(m.View(), "http://img/2") {
		t.Error("view should show the illustration url")
	}
}

func TestModel_FailedTransitionKeepsSession(t *testing.T) {
	m, _, persisted := newModel(t, "no labels here")

	m = topic(m, "kotek")
	m = press(t, m, enter)

	if m.Session().Step != session.StepStart {
		t.Errorf("expected start, got %s", m.Session().Step)
	}
	if !errors.Is(m.Err(), fault.ErrParse) {
		t.Errorf("expected parse error, got %v", m.Err())
	}
	if *persisted != 0 {
		t.Errorf("failed transitions must not persist, got %d", *persisted)
	}
	if !strings.Contains(m.View(), fault.Message(m.Err())) {
		t.Error("view should show the error")
	}
}

func TestModel_IgnoresKeysWhileBusy(t *testing.T) {
	m, _, _ := newModel(t, kitten)
	m = topic(m, "kotek")

	next, cmd := m.Update(enter)
	busy := next.(Model)
	if !busy.busy {
		t.Fatal("expected model to be busy")
	}

	next, extra := busy.Update(enter)
	if extra != nil {
		t.Error("second enter should be ignored while busy")
	}
	busy = next.(Model)

	done := settle(t, busy, cmd)
	if done.busy || done.Session().Step != session.StepTitleConfirm {
		t.Errorf("expected idle at title_confirm, got busy=%v step=%s", done.busy, done.Session().Step)
	}
}

func TestModel_ChoosesAudienceAndCategory(t *testing.T) {
	m, _, _ := newModel(t, kitten, "Opowieść.")
	m = topic(m, "kotek")
	m = press(t, m, enter)

	m = press(t, m, keys("t"))
	if m.Audience() != session.Adult {
		t.Fatalf("expected adult, got %s", m.Audience())
	}
	adult := session.Categories(session.Polish, session.Adult)
	m = press(t, m, keys("c"))
	if m.Category() != adult[1] {
		t.Errorf("expected %q, got %q", adult[1], m.Category())
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	if m.Category() != adult[len(adult)-1] {
		t.Errorf("expected wrap to %q, got %q", adult[len(adult)-1], m.Category())
	}

	m = press(t, m, keys("a"))
	if m.Session().Audience != session.Adult || m.Session().Category != adult[len(adult)-1] {
		t.Errorf("unexpected stored choice %s/%s", m.Session().Audience, m.Session().Category)
	}
}

func TestModel_RejectAndReset(t *testing.T) {
	m, _, persisted := newModel(t, kitten, "Tytuł: Inny\nStreszczenie: Inne.")
	m = topic(m, "kotek")
	m = press(t, m, enter)
	first := m.Session().ID

	m = press(t, m, keys("r"))
	if m.Session().Title != "Inny" || m.Session().Step != session.StepTitleConfirm {
		t.Errorf("unexpected state after reject: %q %s", m.Session().Title, m.Session().Step)
	}

	m = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	if m.Session().Step != session.StepStart || m.Session().Title != "" {
		t.Errorf("expected a fresh session, got %+v", m.Session())
	}
	if m.Session().ID == first {
		t.Error("reset should start a new session id")
	}
	if *persisted != 3 {
		t.Errorf("expected 3 persisted snapshots, got %d", *persisted)
	}
}

func TestModel_Export(t *testing.T) {
	m, _, _ := newModel(t, kitten, "Opowieść o kotku.")
	next, _ := m.Update(keys("e"))
	if next.(Model).Err() != nil || next.(Model).busy {
		t.Fatal("e at the topic step should only type")
	}

	m = topic(m, "kotek")
	m = press(t, m, enter)
	m = press(t, m, keys("a"))

	m = press(t, m, keys("e"))
	if !errors.Is(m.Err(), fault.ErrValidation) {
		t.Errorf("expected validation error without an exporter, got %v", m.Err())
	}

	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "storyloom.db"), filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	m.exporter = export.New(st, guard.New(guard.DefaultPolicy))

	m = press(t, m, keys("e"))
	if m.Err() != nil {
		t.Fatalf("export failed: %v", m.Err())
	}
	if !strings.Contains(m.status, "tytul.txt") || !strings.Contains(m.status, "opowiesc.txt") {
		t.Errorf("unexpected status %q", m.status)
	}

	arts, err := st.ListArtifacts(context.Background(), m.Session().ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 2 {
		t.Errorf("expected 2 artifacts, got %d", len(arts))
	}
}

func TestModel_LogAndStatusMessages(t *testing.T) {
	m, _, _ := newModel(t)
	for i := range 7 {
		next, _ := m.Update(LogMsg(string(rune('a' + i))))
		m = next.(Model)
	}
	if len(m.log) != 5 || m.log[0] != "c" {
		t.Errorf("expected the last 5 lines, got %v", m.log)
	}

	next, _ := m.Update(StatusMsg("working"))
	if next.(Model).status != "working" {
		t.Error("status message not applied")
	}
}

func TestTUI_StepUpdatesSendNothing(t *testing.T) {
	// No program is attached; any Send would panic.
	var sink ui.UI = NewTUI(nil)
	sink.UpdateStep(session.StepStoryGenerated)

	m, _, _ := newModel(t)
	if !strings.Contains(m.View(), session.StepStart.String()) {
		t.Errorf("view should show the session step, got %q", m.View())
	}
}

func TestModel_Quit(t *testing.T) {
	m, _, _ := newModel(t)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if next.View() != "  Bye.\n" {
		t.Errorf("unexpected view %q", next.View())
	}
}
