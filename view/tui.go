package view

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mrsingh-rishi/pitch-client/model"
)

type keyMap struct {
	Record  key.Binding
	Reset   key.Binding
	Dismiss key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Record, k.Reset, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Record, k.Reset, k.Dismiss, k.Quit}}
}

func defaultKeys() keyMap {
	return keyMap{
		Record:  key.NewBinding(key.WithKeys("r", " "), key.WithHelp("r/space", "record")),
		Reset:   key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new session")),
		Dismiss: key.NewBinding(key.WithKeys("esc", "enter"), key.WithHelp("esc", "dismiss")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type (
	statusMsg  string
	entryMsg   model.Entry
	clearMsg   struct{}
	avatarMsg  string
	noticeMsg  string
	controlMsg struct {
		control control
		on      bool
	}
)

type control int

const (
	controlRecordEnabled control = iota
	controlRecording
	controlActive
	controlListening
	controlSpeaking
)

// TUI is a session view backed by a bubbletea program. Its View methods are
// safe to call from any goroutine.
type TUI struct {
	program *tea.Program

	mu      sync.Mutex
	actions Actions
}

func NewTUI(opts ...tea.ProgramOption) *TUI {
	t := &TUI{}
	m := newTUIModel(lipgloss.DefaultRenderer())
	m.actions = t.bound
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	t.program = tea.NewProgram(m, opts...)
	return t
}

// Bind connects the keys to the controller. It may be called before Run.
func (t *TUI) Bind(a Actions) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = a
}

func (t *TUI) bound() Actions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actions
}

// Run blocks until the user quits.
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

func (t *TUI) Quit() { t.program.Quit() }

func (t *TUI) SetRecordEnabled(on bool)    { t.program.Send(controlMsg{controlRecordEnabled, on}) }
func (t *TUI) SetRecording(on bool)        { t.program.Send(controlMsg{controlRecording, on}) }
func (t *TUI) SetActive(on bool)           { t.program.Send(controlMsg{controlActive, on}) }
func (t *TUI) SetListening(on bool)        { t.program.Send(controlMsg{controlListening, on}) }
func (t *TUI) SetSpeaking(on bool)         { t.program.Send(controlMsg{controlSpeaking, on}) }
func (t *TUI) SetStatus(text string)       { t.program.Send(statusMsg(text)) }
func (t *TUI) AppendMessage(e model.Entry) { t.program.Send(entryMsg(e)) }
func (t *TUI) ClearMessages()              { t.program.Send(clearMsg{}) }
func (t *TUI) ShowAvatar(imageURL string)  { t.program.Send(avatarMsg(imageURL)) }
func (t *TUI) Notify(text string)          { t.program.Send(noticeMsg(text)) }

type tuiModel struct {
	keys    keyMap
	help    help.Model
	spinner spinner.Model
	styles  styles
	msgs    viewport.Model
	actions func() Actions

	entries       []model.Entry
	status        string
	notice        string
	avatar        model.AvatarSlot
	avatarImage   string
	recordEnabled bool
	recording     bool
	active        bool
	listening     bool
	speaking      bool
	width         int
}

func newTUIModel(r *lipgloss.Renderer) tuiModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return tuiModel{
		keys:    defaultKeys(),
		help:    help.New(),
		spinner: s,
		styles:  newStyles(r),
		msgs:    viewport.New(80, 12),
		avatar:  model.AvatarCircle,
		status:  "Connecting...",
		width:   80,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.msgs.Width = msg.Width
		// header, avatar box, status, help
		m.msgs.Height = max(msg.Height-9, 3)
		m.refresh()
		return m, nil
	case statusMsg:
		m.status = string(msg)
	case entryMsg:
		m.entries = append(m.entries, model.Entry(msg))
		m.refresh()
	case clearMsg:
		m.entries = nil
		m.refresh()
	case avatarMsg:
		m.avatar = model.AvatarAnimated
		m.avatarImage = string(msg)
	case noticeMsg:
		m.notice = string(msg)
	case controlMsg:
		m.setControl(msg.control, msg.on)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *tuiModel) setControl(c control, on bool) {
	switch c {
	case controlRecordEnabled:
		m.recordEnabled = on
	case controlRecording:
		m.recording = on
	case controlActive:
		m.active = on
	case controlListening:
		m.listening = on
	case controlSpeaking:
		m.speaking = on
	}
}

// handleKey runs controller actions in commands so Update never waits on the
// session loop.
func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case m.notice != "" && key.Matches(msg, m.keys.Dismiss):
		m.notice = ""
	case key.Matches(msg, m.keys.Record):
		a := m.bound()
		if !m.recordEnabled || a == nil {
			return m, nil
		}
		m.notice = ""
		return m, func() tea.Msg {
			a.ToggleRecording()
			return nil
		}
	case key.Matches(msg, m.keys.Reset):
		a := m.bound()
		if a == nil {
			return m, nil
		}
		return m, func() tea.Msg {
			a.Reset()
			return nil
		}
	default:
		var cmd tea.Cmd
		m.msgs, cmd = m.msgs.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m tuiModel) bound() Actions {
	if m.actions == nil {
		return nil
	}
	return m.actions()
}

func (m *tuiModel) refresh() {
	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		lines = append(lines, m.renderEntry(e))
	}
	m.msgs.SetContent(strings.Join(lines, "\n"))
	m.msgs.GotoBottom()
}

func (m tuiModel) renderEntry(e model.Entry) string {
	label := m.styles.User.Render(e.Speaker.Label() + ":")
	if e.Speaker == model.SpeakerAgent {
		label = m.styles.Agent.Render(e.Speaker.Label() + ":")
	}
	return m.styles.Line.Width(m.width).Render(fmt.Sprintf("%s %s", label, e.Text))
}

func (m tuiModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Pitch Practice"))
	b.WriteString("  ")
	b.WriteString(m.indicator())
	b.WriteString("\n")
	b.WriteString(m.renderAvatar())
	b.WriteString("\n")
	b.WriteString(m.msgs.View())
	b.WriteString("\n")

	status := m.styles.Status.Render(m.status)
	if m.listening {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status)
	b.WriteString("\n")

	if m.notice != "" {
		b.WriteString(m.styles.Notice.Render("! " + m.notice))
		b.WriteString("\n")
	}
	b.WriteString(m.recordLabel())
	b.WriteString("  ")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m tuiModel) indicator() string {
	switch {
	case m.listening:
		return m.styles.Recording.Render("● listening")
	case m.active:
		return m.styles.Active.Render("● connected")
	default:
		return m.styles.Muted.Render("○ offline")
	}
}

func (m tuiModel) recordLabel() string {
	switch {
	case m.recording:
		return m.styles.Recording.Render("[ Stop Recording ]")
	case !m.recordEnabled:
		return m.styles.Muted.Render("[ Start Recording ]")
	default:
		return m.styles.Active.Render("[ Start Recording ]")
	}
}

// renderAvatar draws whichever slot is visible. The legacy slot never is.
func (m tuiModel) renderAvatar() string {
	switch m.avatar {
	case model.AvatarAnimated:
		face := "AV"
		box := m.styles.Avatar
		if m.speaking {
			face = "AV ♪"
			box = m.styles.Speaking
		}
		return box.Render(face + "  " + m.styles.Muted.Render(m.avatarImage))
	default:
		return m.styles.Avatar.Render("( AV )")
	}
}
