package ui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus/hooks/test"

	"tasklite/internal/config"
	"tasklite/internal/storage"
	"tasklite/internal/tasks"
)

type fakeRepo struct {
	tasks   []tasks.Task
	nextID  int64
	failOp  string
	listErr error
	lists   int
}

func (f *fakeRepo) ListAll(context.Context) ([]tasks.Task, error) {
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]tasks.Task(nil), f.tasks...), nil
}

func (f *fakeRepo) Add(_ context.Context, title string) (tasks.Task, error) {
	if f.failOp == "add" {
		return tasks.Task{}, storage.ErrWriteFailed
	}
	f.nextID++
	t := tasks.Task{ID: f.nextID, Title: title}
	f.tasks = append(f.tasks, t)
	return t, nil
}

func (f *fakeRepo) Remove(_ context.Context, id int64) error {
	if f.failOp == "remove" {
		return storage.ErrWriteFailed
	}
	out := f.tasks[:0]
	for _, t := range f.tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	f.tasks = out
	return nil
}

func (f *fakeRepo) SetCompleted(_ context.Context, id int64, completed bool) error {
	if f.failOp == "set" {
		return storage.ErrWriteFailed
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks[i].Completed = completed
		}
	}
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadOrCreate(t.TempDir() + "/" + config.DefaultConfigFileName)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func newTestModel(t *testing.T, repo Repository) Model {
	t.Helper()
	logger, _ := test.NewNullLogger()
	open := func(context.Context) (Repository, error) { return repo, nil }
	return New(open, testConfig(t), logger)
}

// step feeds msg to the model and then runs every command it returns until
// the model settles, mirroring the Bubble Tea loop for a single action.
func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if m.adding {
		// Commands from the text input only drive cursor blinking.
		return m
	}
	for cmd != nil {
		out := cmd()
		switch out.(type) {
		case openedMsg, mutatedMsg, reloadedMsg:
		default:
			return m
		}
		next, cmd = m.Update(out)
		m = next.(Model)
	}
	return m
}

func start(t *testing.T, m Model) Model {
	t.Helper()
	return step(t, m, m.Init()())
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keySpace = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	keyTab   = tea.KeyMsg{Type: tea.KeyTab}
)

func TestInitOpensAndLoads(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "a"}, {ID: 2, Title: "b", Completed: true}}}
	m := newTestModel(t, repo)
	if s0 := m.State(); s0.Ready() {
		t.Fatalf("model must start uninitialized")
	}
	m = start(t, m)
	s := m.State()
	if !s.Ready() {
		t.Fatalf("expected ready after open")
	}
	if len(s.Pending) != 1 || len(s.Completed) != 1 {
		t.Fatalf("unexpected projections %+v / %+v", s.Pending, s.Completed)
	}
}

func TestOpenFailureStaysUninitialized(t *testing.T) {
	logger, hook := test.NewNullLogger()
	open := func(context.Context) (Repository, error) { return nil, storage.ErrOpenFailed }
	m := New(open, testConfig(t), logger)
	m = start(t, m)
	if s0 := m.State(); s0.Ready() {
		t.Fatalf("failed open must not reach ready")
	}
	if !strings.Contains(m.State().Status, "open failed") {
		t.Fatalf("unexpected status %q", m.State().Status)
	}
	if hook.LastEntry() == nil {
		t.Fatalf("expected open failure to be logged")
	}
}

func TestNoMutationBeforeReady(t *testing.T) {
	repo := &fakeRepo{}
	m := newTestModel(t, repo)
	m.state.Pending = []tasks.Task{{ID: 1, Title: "ghost"}}

	next, cmd := m.Update(keySpace)
	if cmd != nil {
		t.Fatalf("no command may be issued while uninitialized")
	}
	if !strings.Contains(next.(Model).State().Status, "not ready") {
		t.Fatalf("expected not-ready status, got %q", next.(Model).State().Status)
	}
}

func TestAddReloadsIntoPending(t *testing.T) {
	repo := &fakeRepo{}
	m := start(t, newTestModel(t, repo))
	listsBefore := repo.lists

	m = step(t, m, keyRunes("a"))
	m = step(t, m, keyRunes("Buy milk"))
	if m.State().Draft != "Buy milk" {
		t.Fatalf("draft not tracked, got %q", m.State().Draft)
	}
	m = step(t, m, keyEnter)

	s := m.State()
	if repo.lists != listsBefore+1 {
		t.Fatalf("expected exactly one reload after add, got %d", repo.lists-listsBefore)
	}
	if len(s.Pending) != 1 || s.Pending[0].Title != "Buy milk" || s.Pending[0].Completed {
		t.Fatalf("unexpected pending %+v", s.Pending)
	}
	if s.Draft != "" {
		t.Fatalf("draft should clear after a successful add, got %q", s.Draft)
	}
}

func TestBlankDraftIsRejectedLocally(t *testing.T) {
	repo := &fakeRepo{}
	m := start(t, newTestModel(t, repo))
	m = step(t, m, keyRunes("a"))
	m = step(t, m, keyRunes("   "))

	next, cmd := m.Update(keyEnter)
	if cmd != nil {
		t.Fatalf("blank title must not reach the repository")
	}
	if got := next.(Model).State().Status; got != "Title cannot be empty" {
		t.Fatalf("unexpected status %q", got)
	}
	if len(repo.tasks) != 0 {
		t.Fatalf("blank title created a task")
	}
}

func TestCompleteMovesToHistory(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "Buy milk"}}, nextID: 1}
	m := start(t, newTestModel(t, repo))

	m = step(t, m, keySpace)
	s := m.State()
	if len(s.Pending) != 0 {
		t.Fatalf("expected pending empty, got %+v", s.Pending)
	}
	if len(s.Completed) != 1 || s.Completed[0].ID != 1 {
		t.Fatalf("expected task 1 completed, got %+v", s.Completed)
	}

	m = step(t, m, keyTab)
	if m.State().Tab != TabHistory {
		t.Fatalf("expected history tab")
	}
	m = step(t, m, keySpace)
	if s := m.State(); len(s.Pending) != 1 || len(s.Completed) != 0 {
		t.Fatalf("expected task reopened, got %+v / %+v", s.Pending, s.Completed)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "one"}, {ID: 2, Title: "two"}}, nextID: 2}
	m := start(t, newTestModel(t, repo))

	m = step(t, m, keyRunes("d"))
	m = step(t, m, keyRunes("n"))
	if len(m.State().Pending) != 2 {
		t.Fatalf("cancelled delete removed a task")
	}

	m = step(t, m, keyRunes("d"))
	m = step(t, m, keyRunes("y"))
	s := m.State()
	if len(s.Pending) != 1 || s.Pending[0].ID != 2 {
		t.Fatalf("expected only task 2, got %+v", s.Pending)
	}
}

func TestFailedMutationLeavesProjections(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "stuck"}}, nextID: 1}
	m := start(t, newTestModel(t, repo))
	before := m.State()
	listsBefore := repo.lists

	repo.failOp = "set"
	m = step(t, m, keySpace)

	s := m.State()
	if repo.lists != listsBefore {
		t.Fatalf("failed write must not trigger a reload")
	}
	if len(s.Pending) != len(before.Pending) || s.Pending[0] != before.Pending[0] {
		t.Fatalf("projections changed after failed write: %+v", s.Pending)
	}
	if !strings.Contains(s.Status, "complete failed") {
		t.Fatalf("unexpected status %q", s.Status)
	}
}

func TestFailedAddKeepsDraft(t *testing.T) {
	repo := &fakeRepo{failOp: "add"}
	m := start(t, newTestModel(t, repo))
	m = step(t, m, keyRunes("a"))
	m = step(t, m, keyRunes("retry me"))
	m = step(t, m, keyEnter)

	if got := m.State().Draft; got != "retry me" {
		t.Fatalf("draft should survive a failed add, got %q", got)
	}
	if len(m.State().Pending) != 0 {
		t.Fatalf("failed add changed projections")
	}
}

func TestReloadFailureKeepsSnapshot(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "kept"}}, nextID: 1}
	m := start(t, newTestModel(t, repo))

	repo.listErr = storage.ErrQueryFailed
	m = step(t, m, keyRunes("r"))
	s := m.State()
	if len(s.Pending) != 1 || s.Pending[0].Title != "kept" {
		t.Fatalf("failed reload should keep last snapshot, got %+v", s.Pending)
	}
	if !strings.Contains(s.Status, "reload failed") {
		t.Fatalf("unexpected status %q", s.Status)
	}
}

func TestOverlappingReloadsKeepNewest(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "one"}, {ID: 2, Title: "two"}}, nextID: 2}
	m := start(t, newTestModel(t, repo))

	next, firstCmd := m.Update(keyRunes("r"))
	m = next.(Model)
	stale := firstCmd()

	repo.tasks = repo.tasks[1:]
	next, secondCmd := m.Update(keyRunes("r"))
	m = next.(Model)
	fresh := secondCmd()

	next, _ = m.Update(fresh)
	m = next.(Model)
	next, _ = m.Update(stale)
	m = next.(Model)

	if s := m.State(); len(s.Pending) != 1 || s.Pending[0].ID != 2 {
		t.Fatalf("stale reload overwrote newer snapshot: %+v", s.Pending)
	}
}

func TestViewShowsTabsAndCounts(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "write report"}, {ID: 2, Title: "done thing", Completed: true}}}
	m := start(t, newTestModel(t, repo))
	out := m.View()
	for _, want := range []string{"Tasks (1)", "History (1)", "write report"} {
		if !strings.Contains(out, want) {
			t.Fatalf("view missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "done thing") {
		t.Fatalf("completed task rendered on Tasks tab:\n%s", out)
	}
}

func TestSupersededReloadErrorKeepsStatus(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "one"}}, nextID: 1}
	m := start(t, newTestModel(t, repo))
	status := m.State().Status

	next, firstCmd := m.Update(keyRunes("r"))
	m = next.(Model)
	next, secondCmd := m.Update(keyRunes("r"))
	m = next.(Model)

	repo.listErr = storage.ErrQueryFailed
	stale := firstCmd()
	repo.listErr = nil
	fresh := secondCmd()

	next, _ = m.Update(stale)
	m = next.(Model)
	if got := m.State().Status; got != status {
		t.Fatalf("superseded reload error changed status to %q", got)
	}
	next, _ = m.Update(fresh)
	m = next.(Model)
	if got := m.State().Status; got != status {
		t.Fatalf("status changed after newest reload: %q", got)
	}
	if strings.Contains(m.View(), "reload failed") {
		t.Fatalf("stale error rendered:\n%s", m.View())
	}
}

func TestViewMarksReloadInFlight(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "one"}}, nextID: 1}
	m := start(t, newTestModel(t, repo))
	if strings.Contains(m.View(), "reloading...") {
		t.Fatalf("idle view shows reload marker:\n%s", m.View())
	}

	next, cmd := m.Update(keyRunes("r"))
	m = next.(Model)
	if !strings.Contains(m.View(), "reloading...") {
		t.Fatalf("expected reload marker while reload runs:\n%s", m.View())
	}
	next, _ = m.Update(cmd())
	m = next.(Model)
	if strings.Contains(m.View(), "reloading...") {
		t.Fatalf("reload marker left after reload finished:\n%s", m.View())
	}
}

func TestQuitWaitsForPendingWrite(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "finish me"}}, nextID: 1}
	m := start(t, newTestModel(t, repo))

	next, writeCmd := m.Update(keySpace)
	m = next.(Model)
	if writeCmd == nil {
		t.Fatalf("expected a write command")
	}

	next, cmd := m.Update(keyRunes("q"))
	m = next.(Model)
	if cmd != nil {
		t.Fatalf("quit must wait while a write is pending")
	}
	if !strings.Contains(m.State().Status, "Finishing pending writes") {
		t.Fatalf("unexpected status %q", m.State().Status)
	}
	if _, cmd = m.Update(keyRunes("d")); cmd != nil {
		t.Fatalf("keys must be ignored while quitting")
	}

	listsBefore := repo.lists
	next, cmd = m.Update(writeCmd())
	m = next.(Model)
	if !repo.tasks[0].Completed {
		t.Fatalf("pending write did not land before quit")
	}
	if cmd == nil {
		t.Fatalf("expected quit once the write finished")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg after drain")
	}
	if repo.lists != listsBefore {
		t.Fatalf("no reload should start while quitting")
	}
}

func TestQuitWaitsForPendingReload(t *testing.T) {
	repo := &fakeRepo{tasks: []tasks.Task{{ID: 1, Title: "one"}}, nextID: 1}
	m := start(t, newTestModel(t, repo))

	next, reloadCmd := m.Update(keyRunes("r"))
	m = next.(Model)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(Model)
	if cmd != nil {
		t.Fatalf("quit must wait while a reload is pending")
	}
	_, cmd = m.Update(reloadCmd())
	if cmd == nil {
		t.Fatalf("expected quit once the reload finished")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg after drain")
	}
}

func TestQuitWhenIdle(t *testing.T) {
	m := start(t, newTestModel(t, &fakeRepo{}))
	_, cmd := m.Update(keyRunes("q"))
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}
