package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/semdex/semdex/lifecycle"
)

var (
	watchTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	watchDimStyle    = lipgloss.NewStyle().Faint(true)
	watchErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	watchStatusStyle = map[lifecycle.FolderStatus]lipgloss.Style{
		lifecycle.StatusScanning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		lifecycle.StatusIndexing: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		lifecycle.StatusActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		lifecycle.StatusError:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

type folderLabel struct {
	ID   string
	Path string
}

type watchEventMsg struct {
	event lifecycle.Event
}

// watchUI runs the interactive status display and doubles as the lifecycle
// status sink. Sink calls never touch Program.Send directly: Send blocks
// until Run is underway, and the orchestrators start producing events
// before the display is on screen. Events are queued on a buffered channel
// instead and pumped into the program by Run.
type watchUI struct {
	program *tea.Program
	events  chan tea.Msg
}

func newWatchUI(folders []folderLabel) *watchUI {
	return &watchUI{
		program: tea.NewProgram(newWatchModel(folders)),
		events:  make(chan tea.Msg, 256),
	}
}

func (u *watchUI) Run() error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case msg := <-u.events:
				u.program.Send(msg)
			case <-done:
				return
			}
		}
	}()
	_, err := u.program.Run()
	return err
}

func (u *watchUI) Quit() {
	u.deliver(tea.QuitMsg{})
}

func (u *watchUI) OnStateChange(e lifecycle.Event) {
	u.deliver(watchEventMsg{event: e})
}

func (u *watchUI) OnProgress(e lifecycle.Event) {
	u.deliver(watchEventMsg{event: e})
}

// deliver queues a message without ever blocking the caller. Under
// backpressure the oldest queued message is dropped: the model keeps only
// the latest event per folder, so a dropped update is superseded by the
// newer one being enqueued.
func (u *watchUI) deliver(msg tea.Msg) {
	for {
		select {
		case u.events <- msg:
			return
		default:
		}
		select {
		case <-u.events:
		default:
		}
	}
}

type folderRow struct {
	label folderLabel
	event lifecycle.Event
	seen  bool
}

type watchModel struct {
	rows  []*folderRow
	index map[string]*folderRow
	width int
}

func newWatchModel(folders []folderLabel) watchModel {
	m := watchModel{
		rows:  make([]*folderRow, 0, len(folders)),
		index: make(map[string]*folderRow, len(folders)),
	}
	for _, f := range folders {
		row := &folderRow{label: f}
		m.rows = append(m.rows, row)
		m.index[f.ID] = row
	}
	return m
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case watchEventMsg:
		if row, ok := m.index[msg.event.FolderID]; ok {
			row.event = msg.event
			row.seen = true
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("semdex watch"))
	b.WriteString(watchDimStyle.Render(fmt.Sprintf("  %d folder(s)", len(m.rows))))
	b.WriteString("\n\n")

	for _, row := range m.rows {
		b.WriteString(m.renderRow(row))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(watchDimStyle.Render("press q to quit"))
	b.WriteString("\n")
	return b.String()
}

func (m watchModel) renderRow(row *folderRow) string {
	status := lifecycle.StatusScanning
	if row.seen {
		status = row.event.Status
	}
	style, ok := watchStatusStyle[status]
	if !ok {
		style = watchDimStyle
	}

	line := fmt.Sprintf("%s %-20s %s",
		style.Render(fmt.Sprintf("%-9s", status)),
		row.label.ID,
		watchDimStyle.Render(row.label.Path),
	)

	if !row.seen {
		return line
	}

	e := row.event
	switch status {
	case lifecycle.StatusIndexing:
		line += fmt.Sprintf("\n          %s %d%% (%d/%d)",
			progressBar(e.Progress.Percentage, 30),
			e.Progress.Percentage,
			e.Progress.CompletedTasks,
			e.Progress.TotalTasks,
		)
	case lifecycle.StatusActive:
		if e.Progress.TotalTasks > 0 {
			line += watchDimStyle.Render(fmt.Sprintf("  %d indexed", e.Progress.CompletedTasks))
			if e.Progress.FailedTasks > 0 {
				line += watchErrStyle.Render(fmt.Sprintf(", %d failed", e.Progress.FailedTasks))
			}
		} else {
			line += watchDimStyle.Render("  up to date")
		}
	case lifecycle.StatusError:
		line += "\n          " + watchErrStyle.Render(e.ErrorMessage)
	}
	return line
}

func progressBar(percentage, width int) string {
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	filled := percentage * width / 100
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
