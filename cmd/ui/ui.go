// Package ui renders the dock as a bubbletea program. The model is a
// thin projection of the session state: every mutation goes through the
// session's intent methods and comes back as a state update, so the UI
// never holds task data of its own.
package ui

import (
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/todoproxy/dock/internal/api"
	"github.com/todoproxy/dock/internal/client"
	"github.com/todoproxy/dock/internal/command"
	"github.com/todoproxy/dock/internal/wmhints"
)

// expandedHeight is the dock height hint when the list is open, in pixels.
const expandedHeight = 320

// collapsedHeight is the dock height hint for the one-line bar.
const collapsedHeight = 28

// Controller is the slice of the session the UI drives. Implemented by
// *client.Session; faked in tests.
type Controller interface {
	SubmitLogin(email, password string)
	Connect()
	Logout()
	Dispatch(in command.Intent)
	BeginEdit(pos int)
	UpdateEditText(text string)
	EndEdit()
	CancelEdit()
	Updates() <-chan client.State
}

// stateMsg delivers the next session state to the model.
type stateMsg struct {
	state client.State
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	finishedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Strikethrough(true)
)

// Model is the dock's bubbletea model.
type Model struct {
	ctrl  Controller
	hints wmhints.Hints

	state client.State

	collapsed    bool
	showFinished bool
	cursor       int

	input     textinput.Model // command/new-task line
	editInput textinput.Model // inline task edit
	editing   bool

	email        textinput.Model
	password     textinput.Model
	viewPassword bool
	focusIdx     int // 0 = email, 1 = password

	width int
}

// New builds the model around a running session.
func New(ctrl Controller, hints wmhints.Hints) Model {
	input := textinput.New()
	input.Placeholder = "new task or command (s/f/o, r, mv, rev, q, t, c)"
	input.Focus()

	edit := textinput.New()

	email := textinput.New()
	email.Placeholder = "email"
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	return Model{
		ctrl:      ctrl,
		hints:     hints,
		state:     client.NotLoggedIn{},
		input:     input,
		editInput: edit,
		email:     email,
		password:  password,
	}
}

// Run drives the program until quit.
func Run(ctrl Controller, hints wmhints.Hints) error {
	p := tea.NewProgram(New(ctrl, hints))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.waitForUpdate()
}

// waitForUpdate blocks on the session's updates channel.
func (m Model) waitForUpdate() tea.Cmd {
	updates := m.ctrl.Updates()
	return func() tea.Msg {
		return stateMsg{state: <-updates}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case stateMsg:
		return m.applyState(msg.state)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.state.(type) {
		case client.NotLoggedIn:
			return m.updateLogin(msg)
		case client.Restored, client.NotConnected:
			return m.updateNotConnected(msg)
		case client.Connected:
			return m.updateConnected(msg)
		}
	}
	return m, nil
}

// applyState folds a session update into the model, clamping the cursor
// and dropping a stale inline edit if the session lost it.
func (m Model) applyState(st client.State) (tea.Model, tea.Cmd) {
	m.state = st

	if c, ok := st.(client.Connected); ok {
		if n := len(m.visibleTasks(c)); m.cursor >= n && n > 0 {
			m.cursor = n - 1
		} else if n == 0 {
			m.cursor = 0
		}
		if m.editing && !c.Editing {
			m.editing = false
		}
	} else {
		m.editing = false
		m.showFinished = false
	}

	return m, m.waitForUpdate()
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	st := m.state.(client.NotLoggedIn)

	switch msg.String() {
	case "tab", "shift+tab":
		m.focusIdx = 1 - m.focusIdx
		if m.focusIdx == 0 {
			m.email.Focus()
			m.password.Blur()
		} else {
			m.password.Focus()
			m.email.Blur()
		}
		return m, nil

	case "ctrl+r":
		m.viewPassword = !m.viewPassword
		if m.viewPassword {
			m.password.EchoMode = textinput.EchoNormal
		} else {
			m.password.EchoMode = textinput.EchoPassword
		}
		return m, nil

	case "enter":
		if st.LoggingIn {
			return m, nil
		}
		m.ctrl.SubmitLogin(m.email.Value(), m.password.Value())
		return m, nil
	}

	var cmd tea.Cmd
	if m.focusIdx == 0 {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m Model) updateNotConnected(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "r":
		m.ctrl.Connect()
	case "ctrl+l":
		m.ctrl.Logout()
	}
	return m, nil
}

func (m Model) updateConnected(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	c := m.state.(client.Connected)

	if m.editing {
		switch msg.String() {
		case "enter":
			m.editing = false
			m.ctrl.EndEdit()
			return m, nil
		case "esc":
			m.editing = false
			m.ctrl.CancelEdit()
			return m, nil
		}
		var cmd tea.Cmd
		m.editInput, cmd = m.editInput.Update(msg)
		m.ctrl.UpdateEditText(m.editInput.Value())
		return m, cmd
	}

	if m.collapsed {
		switch msg.String() {
		case "s":
			m.ctrl.Dispatch(command.FinishFront{Status: api.StatusSucceeded})
		case "f":
			m.ctrl.Dispatch(command.FinishFront{Status: api.StatusFailed})
		case "o":
			m.ctrl.Dispatch(command.FinishFront{Status: api.StatusObsoleted})
		case "enter":
			m = m.expand()
		}
		return m, nil
	}

	switch msg.String() {
	case "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down":
		if m.cursor < len(m.visibleTasks(c))-1 {
			m.cursor++
		}
		return m, nil
	case "ctrl+e":
		if !m.showFinished && m.cursor < len(c.Snapshot.Live) {
			m.ctrl.BeginEdit(m.cursor)
			m.editing = true
			m.editInput.SetValue(c.Snapshot.Live[m.cursor].Value)
			m.editInput.CursorEnd()
			m.editInput.Focus()
		}
		return m, nil
	case "ctrl+l":
		m.ctrl.Logout()
		return m, nil
	case "esc":
		m = m.collapse()
		return m, nil
	case "enter":
		line := m.input.Value()
		m.input.SetValue("")
		switch in := command.Parse(line, len(c.Snapshot.Live)).(type) {
		case command.ToggleFinished:
			m.showFinished = !m.showFinished
			m.cursor = 0
		case command.Collapse:
			m = m.collapse()
		case command.NoOp:
		default:
			m.ctrl.Dispatch(in)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// expand opens the list and asks the window manager for room and keys.
// Hint failures are logged, never fatal.
func (m Model) expand() Model {
	m.collapsed = false
	if err := m.hints.SetDockHeight(expandedHeight); err != nil {
		log.Printf("ui: set dock height: %v", err)
	}
	if err := m.hints.GrabKeyboard(); err != nil {
		log.Printf("ui: grab keyboard: %v", err)
	}
	return m
}

// collapse shrinks back to the bar and releases the keyboard.
func (m Model) collapse() Model {
	m.collapsed = true
	m.showFinished = false
	if err := m.hints.UngrabKeyboard(); err != nil {
		log.Printf("ui: ungrab keyboard: %v", err)
	}
	if err := m.hints.SetDockHeight(collapsedHeight); err != nil {
		log.Printf("ui: set dock height: %v", err)
	}
	return m
}

// visibleTasks counts the rows of the current list view.
func (m Model) visibleTasks(c client.Connected) []string {
	if m.showFinished {
		rows := make([]string, len(c.Snapshot.Finished))
		for i, t := range c.Snapshot.Finished {
			rows[i] = fmt.Sprintf("%s [%s]", t.Value, t.Status)
		}
		return rows
	}
	rows := make([]string, len(c.Snapshot.Live))
	for i, t := range c.Snapshot.Live {
		rows[i] = t.Value
	}
	return rows
}

func (m Model) View() string {
	switch st := m.state.(type) {
	case client.NotLoggedIn:
		return m.viewLogin(st)
	case client.Restored:
		return dimStyle.Render("connecting…") + "\n"
	case client.NotConnected:
		return m.viewNotConnected(st)
	case client.Connected:
		if m.collapsed {
			return m.viewCollapsed(st)
		}
		return m.viewExpanded(st)
	}
	return ""
}

func (m Model) viewLogin(st client.NotLoggedIn) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("taskdock login"))
	b.WriteString("\n\n")
	b.WriteString(m.email.View())
	b.WriteString("\n")
	b.WriteString(m.password.View())
	b.WriteString("\n\n")
	if st.LoggingIn {
		b.WriteString(dimStyle.Render("logging in…"))
	} else {
		b.WriteString(dimStyle.Render("enter to log in · tab to switch · ctrl+r to show password"))
	}
	if st.Err != "" {
		b.WriteString("\n")
		b.WriteString(errStyle.Render(st.Err))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewNotConnected(st client.NotConnected) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("taskdock"))
	b.WriteString("\n\n")
	if st.Connecting {
		b.WriteString(dimStyle.Render("connecting…"))
	} else {
		b.WriteString(errStyle.Render("not connected"))
		if st.Err != "" {
			b.WriteString(dimStyle.Render(" — " + st.Err))
		}
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("enter to retry · ctrl+l to log out"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewCollapsed(st client.Connected) string {
	front := "nothing to do"
	if len(st.Snapshot.Live) > 0 {
		front = st.Snapshot.Live[0].Value
	}
	bar := statusStyle.Render("▸ ") + front
	return bar + dimStyle.Render("   s/f/o finish · enter to open") + "\n"
}

func (m Model) viewExpanded(st client.Connected) string {
	var b strings.Builder

	header := "tasks"
	if m.showFinished {
		header = "finished"
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")

	rows := m.visibleTasks(st)
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("  (empty)"))
		b.WriteString("\n")
	}
	for i, row := range rows {
		prefix := "  "
		if i == m.cursor {
			prefix = cursorStyle.Render("> ")
		}
		if m.editing && !m.showFinished && i == m.cursor {
			b.WriteString(prefix + m.editInput.View())
		} else if m.showFinished {
			b.WriteString(prefix + finishedStyle.Render(row))
		} else {
			b.WriteString(prefix + row)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("ctrl+e edit · t finished · c collapse · ctrl+l log out"))
	b.WriteString("\n")
	return b.String()
}
