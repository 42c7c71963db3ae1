package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"

	"tasklite/internal/config"
	"tasklite/internal/tasks"
)

// Repository is what the view drives. *tasks.Repository satisfies it.
type Repository interface {
	ListAll(ctx context.Context) ([]tasks.Task, error)
	Add(ctx context.Context, title string) (tasks.Task, error)
	Remove(ctx context.Context, id int64) error
	SetCompleted(ctx context.Context, id int64, completed bool) error
}

// Opener opens the store and returns the repository over it. It runs once,
// off the update loop, when the program starts.
type Opener func(ctx context.Context) (Repository, error)

type openedMsg struct {
	repo Repository
	err  error
}

type mutatedMsg struct {
	op  string
	err error
}

type reloadedMsg struct {
	seq   uint64
	tasks []tasks.Task
	err   error
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ec9b0"))
	activeTabStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	tabStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#666"))
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#666")).Strikethrough(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#999"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d73a4a"))
)

type Model struct {
	open       Opener
	repo       Repository
	cfg        config.Config
	logger     log.FieldLogger
	state      State
	cursor     int
	adding     bool
	confirmDel bool
	pendingDel *tasks.Task
	failed     bool
	input      textinput.Model

	// inFlight counts store commands issued but not yet reported. Quit waits
	// for it to drain so no write is cut off by the store closing.
	inFlight int
	quitting bool
}

func New(open Opener, cfg config.Config, logger log.FieldLogger) Model {
	if logger == nil {
		logger = log.StandardLogger()
	}
	ti := textinput.New()
	ti.Placeholder = "Add a new task..."
	ti.CharLimit = 256
	ti.Width = 40

	m := Model{
		open:   open,
		cfg:    cfg,
		logger: logger,
		input:  ti,
	}
	if cfg.DefaultTab == config.TabHistory {
		m.state.Tab = TabHistory
	}
	m.state.Status = "Opening task store..."
	return m
}

func Run(open Opener, cfg config.Config, logger log.FieldLogger) error {
	program := tea.NewProgram(New(open, cfg, logger))
	_, err := program.Run()
	return err
}

// State returns a copy of the presentation state.
func (m Model) State() State {
	return m.state
}

func (m Model) Init() tea.Cmd {
	open := m.open
	return func() tea.Msg {
		if open == nil {
			return openedMsg{err: errors.New("no store configured")}
		}
		repo, err := open(context.Background())
		return openedMsg{repo: repo, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case openedMsg:
		return m.handleOpened(msg)
	case mutatedMsg:
		return m.handleMutated(msg)
	case reloadedMsg:
		return m.handleReloaded(msg)
	case tea.KeyMsg:
		if m.quitting {
			return m, nil
		}
		if m.confirmDel {
			return m.updateDeleteConfirm(msg.String())
		}
		if m.adding {
			return m.updateAddMode(msg.String(), msg)
		}
		return m.updateListMode(msg.String())
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	}
	return m, nil
}

func (m Model) handleOpened(msg openedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.logger.WithError(msg.err).Error("store open failed")
		m.setError(fmt.Sprintf("open failed: %v", msg.err))
		return m, nil
	}
	m.repo = msg.repo
	if !m.state.MarkReady() {
		return m, nil
	}
	m.logger.Debug("store ready")
	m.setStatus("Press 'a' to add, space to complete, 'd' to delete, tab to switch.")
	cmd := m.reload()
	return m, cmd
}

func (m Model) handleMutated(msg mutatedMsg) (tea.Model, tea.Cmd) {
	m.inFlight--
	if msg.err != nil {
		// Projections stay as they were: no reload follows a failed write.
		m.setError(fmt.Sprintf("%s failed: %v", msg.op, msg.err))
		return m, m.quitIfDrained()
	}
	switch msg.op {
	case "add":
		m.input.SetValue("")
		m.state.Draft = ""
		m.setStatus("Added task")
	case "complete":
		m.setStatus("Completed task")
	case "reopen":
		m.setStatus("Moved task back to Tasks")
	case "delete":
		m.setStatus("Deleted task")
	}
	if m.quitting {
		return m, m.quitIfDrained()
	}
	cmd := m.reload()
	return m, cmd
}

func (m Model) handleReloaded(msg reloadedMsg) (tea.Model, tea.Cmd) {
	m.inFlight--
	switch {
	case m.state.Superseded(msg.seq):
		m.logger.WithError(msg.err).WithField("seq", msg.seq).Debug("dropped stale reload")
	case msg.err != nil:
		m.state.FailReload(msg.seq)
		m.setError(fmt.Sprintf("reload failed: %v", msg.err))
	default:
		m.state.ApplyReload(msg.seq, msg.tasks)
		m.cursor = clampCursor(m.cursor, len(m.state.Visible()))
	}
	return m, m.quitIfDrained()
}

// quitIfDrained ends the program once a requested quit has nothing left to
// wait for.
func (m *Model) quitIfDrained() tea.Cmd {
	if m.quitting && m.inFlight <= 0 {
		return tea.Quit
	}
	return nil
}

// reload starts a full re-query of the store.
func (m *Model) reload() tea.Cmd {
	if !m.state.Ready() || m.repo == nil || m.quitting {
		return nil
	}
	seq := m.state.BeginReload()
	m.inFlight++
	repo := m.repo
	return func() tea.Msg {
		all, err := repo.ListAll(context.Background())
		return reloadedMsg{seq: seq, tasks: all, err: err}
	}
}

// mutate runs one repository write off the update loop.
func (m *Model) mutate(op string, fn func(ctx context.Context, repo Repository) error) tea.Cmd {
	if !m.state.Ready() || m.repo == nil {
		m.setStatus("Task store is not ready yet")
		return nil
	}
	if m.quitting {
		return nil
	}
	m.inFlight++
	repo := m.repo
	return func() tea.Msg {
		return mutatedMsg{op: op, err: fn(context.Background(), repo)}
	}
}

func (m Model) updateAddMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		m.adding = false
		m.input.Blur()
		m.setStatus("Cancelled")
		return m, nil
	case m.cfg.Keys.Confirm:
		title := strings.TrimSpace(m.input.Value())
		if title == "" {
			m.setStatus("Title cannot be empty")
			return m, nil
		}
		m.adding = false
		m.input.Blur()
		cmd := m.mutate("add", func(ctx context.Context, repo Repository) error {
			_, err := repo.Add(ctx, title)
			return err
		})
		return m, cmd
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.state.Draft = m.input.Value()
		return m, cmd
	}
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	visible := m.state.Visible()
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		m.quitting = true
		if m.inFlight > 0 {
			m.logger.WithField("pending", m.inFlight).Debug("waiting for store commands before quit")
			m.setStatus("Finishing pending writes...")
			return m, nil
		}
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		m.cursor = clampCursor(m.cursor+1, len(visible))
	case m.cfg.Keys.Up, "up":
		m.cursor = clampCursor(m.cursor-1, len(visible))
	case m.cfg.Keys.SwitchTab:
		m.state.SwitchTab()
		m.cursor = clampCursor(0, len(m.state.Visible()))
	case m.cfg.Keys.Reload:
		cmd := m.reload()
		return m, cmd
	case m.cfg.Keys.Add:
		if m.state.Tab != TabTasks {
			m.setStatus("Switch to Tasks to add")
			return m, nil
		}
		m.adding = true
		m.input.Focus()
		m.setStatus("Type a title and press Enter")
	case m.cfg.Keys.Complete:
		if len(visible) == 0 {
			return m, nil
		}
		t := visible[m.cursor]
		op, value := "complete", true
		if t.Completed {
			op, value = "reopen", false
		}
		cmd := m.mutate(op, func(ctx context.Context, repo Repository) error {
			return repo.SetCompleted(ctx, t.ID, value)
		})
		return m, cmd
	case m.cfg.Keys.Delete:
		if len(visible) == 0 {
			return m, nil
		}
		t := visible[m.cursor]
		m.confirmDel = true
		m.pendingDel = &t
		m.setStatus(fmt.Sprintf("Delete %q? y/n", t.Title))
	}
	return m, nil
}

func (m Model) updateDeleteConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", m.cfg.Keys.Cancel:
		m.confirmDel = false
		m.pendingDel = nil
		m.setStatus("Delete cancelled")
		return m, nil
	case "y", "Y":
		t := m.pendingDel
		m.confirmDel = false
		m.pendingDel = nil
		if t == nil {
			m.setStatus("Nothing to delete")
			return m, nil
		}
		id := t.ID
		cmd := m.mutate("delete", func(ctx context.Context, repo Repository) error {
			return repo.Remove(ctx, id)
		})
		return m, cmd
	default:
		return m, nil
	}
}

func (m *Model) setStatus(s string) {
	m.state.Status = s
	m.failed = false
}

func (m *Model) setError(s string) {
	m.state.Status = s
	m.failed = true
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("To-Do (SQLite)"))
	b.WriteString("\n\n")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	if m.state.Tab == TabTasks {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
	}

	visible := m.state.Visible()
	switch {
	case !m.state.Ready():
		b.WriteString("Loading...")
	case len(visible) == 0 && m.state.Tab == TabHistory:
		b.WriteString("No completed tasks yet.")
	case len(visible) == 0:
		b.WriteString("No tasks yet. Press 'a' to add one.")
	default:
		b.WriteString(m.renderTaskList(visible))
	}

	b.WriteString("\n---\n")
	if m.failed {
		b.WriteString(errorStyle.Render(m.state.Status))
	} else {
		b.WriteString(statusStyle.Render(m.state.Status))
	}
	b.WriteString("\n")
	b.WriteString(renderHelp(m.cfg.Keys))
	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []Tab{TabTasks, TabHistory}
	counts := []int{len(m.state.Pending), len(m.state.Completed)}
	parts := make([]string, 0, len(tabs))
	for i, tab := range tabs {
		label := fmt.Sprintf("%s (%d)", tab, counts[i])
		if tab == m.state.Tab {
			parts = append(parts, activeTabStyle.Render(label))
		} else {
			parts = append(parts, tabStyle.Render(label))
		}
	}
	if m.state.InFlight() {
		parts = append(parts, statusStyle.Render("reloading..."))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderTaskList(list []tasks.Task) string {
	var b strings.Builder
	for i, t := range list {
		cursor := " "
		if m.cursor == i && !m.adding {
			cursor = ">"
		}
		if t.Completed {
			b.WriteString(fmt.Sprintf("%s [x] %s\n", cursor, doneStyle.Render(t.Title)))
		} else {
			b.WriteString(fmt.Sprintf("%s [ ] %s\n", cursor, t.Title))
		}
	}
	return b.String()
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s add • %s complete • %s delete • %s switch tab • %s reload • %s quit",
		k.Up, k.Down, k.Add, keyLabel(k.Complete), k.Delete, k.SwitchTab, k.Reload, k.Quit)
}

func keyLabel(k string) string {
	if k == " " {
		return "space"
	}
	return k
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}
