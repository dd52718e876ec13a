package view

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/quillforge/quill/client/realtime"
	"github.com/quillforge/quill/client/reconcile"
)

// Notice is a transient message from a generation_complete or error event.
type Notice struct {
	Type    realtime.EventType
	Message string
}

// NoticeFromEvent pulls a human message out of a side-channel event's data.
func NoticeFromEvent(ev realtime.Event) Notice {
	n := Notice{Type: ev.Type}
	if len(ev.Data) == 0 {
		return n
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(ev.Data, &obj); err == nil {
		n.Message = obj.Message
		if n.Message == "" {
			n.Message = obj.Detail
		}
		return n
	}
	var s string
	if err := json.Unmarshal(ev.Data, &s); err == nil {
		n.Message = s
	}
	return n
}

type updateMsg reconcile.Update

type noticeMsg Notice

type streamClosedMsg struct{}

type keyMap struct {
	quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{{k.quit}} }

// Model is the watch screen. It renders the latest store update and exits
// when the update stream closes or the user quits.
type Model struct {
	title   string
	updates <-chan reconcile.Update
	notices <-chan Notice

	last    reconcile.Update
	notice  *Notice
	spinner spinner.Model
	help    help.Model
	keys    keyMap
	width   int
}

// NewModel builds a watch screen. notices may be nil.
func NewModel(title string, updates <-chan reconcile.Update, notices <-chan Notice) *Model {
	return &Model{
		title:   title,
		updates: updates,
		notices: notices,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.warn)),
		help:    help.New(),
		keys: keyMap{
			quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		},
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate(), m.waitForNotice())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		return m, nil

	case updateMsg:
		m.last = reconcile.Update(msg)
		return m, m.waitForUpdate()

	case noticeMsg:
		n := Notice(msg)
		m.notice = &n
		return m, m.waitForNotice()

	case streamClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render(m.title))
	b.WriteString("\n")
	b.WriteString(Render(m.last.Snapshot, m.last.Connected()))
	if !m.last.Connected() {
		b.WriteString(" ")
		b.WriteString(m.spinner.View())
		if c := m.last.Connection; c.RetryCount > 0 {
			b.WriteString(styles.muted.Render(fmt.Sprintf(" reconnecting (attempt %d)", c.RetryCount)))
		}
	}
	b.WriteString("\n")
	if m.notice != nil {
		b.WriteString("\n")
		b.WriteString(renderNotice(*m.notice))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// Last returns the most recently rendered update.
func (m *Model) Last() reconcile.Update {
	return m.last
}

func renderNotice(n Notice) string {
	msg := n.Message
	switch n.Type {
	case realtime.TypeGenerationComplete:
		if msg == "" {
			msg = "Generation complete"
		}
		return styles.ok.Render("✔ " + msg)
	default:
		if msg == "" {
			msg = "The backend reported an error"
		}
		return styles.err.Render("✖ " + msg)
	}
}

func (m *Model) waitForUpdate() tea.Cmd {
	ch := m.updates
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return updateMsg(u)
	}
}

func (m *Model) waitForNotice() tea.Cmd {
	if m.notices == nil {
		return nil
	}
	ch := m.notices
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}
