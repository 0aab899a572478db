package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	session "github.com/koscakluka/synapse-voice/core"
	"github.com/koscakluka/synapse-voice/core/conversations"
	"github.com/koscakluka/synapse-voice/core/events"
	"github.com/koscakluka/synapse-voice/core/gateway"
	"github.com/muesli/reflow/wordwrap"
)

// TUI message types
type controllerEventMsg struct{ event events.Event }
type actionDoneMsg struct {
	action string
	err    error
}
type backendStatusMsg struct {
	line    string
	healthy bool
}

type backend interface {
	Health(ctx context.Context) (*gateway.HealthStatus, error)
	Status(ctx context.Context) (*gateway.ServiceStatus, error)
}

type model struct {
	controller   *session.Controller
	backend      backend
	audioEnabled bool
	copyToClip   func(string) error

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model

	snapshot      session.Snapshot
	backendLine   string
	backendOK     bool
	notice        string
	width, height int
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#01cdfe"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#05ffa1"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff71ce"))
	recordingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	playingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	panelStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238"))
)

const helpLine = "enter send · ctrl+r record · ctrl+s send clip · ctrl+p preview · ctrl+d discard · ctrl+l clear · ctrl+y copy · esc dismiss/stop · ctrl+c quit"

func newModel(controller *session.Controller, backend backend, audioEnabled bool) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Type a message, or ctrl+r to record"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	return model{
		controller:   controller,
		backend:      backend,
		audioEnabled: audioEnabled,
		copyToClip:   clipboard.WriteAll,
		input:        input,
		transcript:   viewport.New(0, 0),
		spinner:      sp,
		snapshot:     controller.Snapshot(),
		backendLine:  "checking backend...",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.checkBackend(),
		m.startSession(),
	)
}

func (m model) startSession() tea.Cmd {
	controller := m.controller
	return func() tea.Msg {
		ctx := context.Background()
		if err := controller.StartSession(ctx); err != nil {
			return actionDoneMsg{action: "start", err: err}
		}
		return actionDoneMsg{action: "restore", err: controller.RestoreHistory(ctx)}
	}
}

func (m model) checkBackend() tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		if backend == nil {
			return backendStatusMsg{line: "no backend"}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		health, err := backend.Health(ctx)
		if err != nil {
			logError("backend health check failed", err)
			return backendStatusMsg{line: "backend unreachable"}
		}
		line := fmt.Sprintf("backend %s · %d messages", health.Status, health.ConversationCount)
		if status, err := backend.Status(ctx); err == nil {
			line = fmt.Sprintf("%s v%s · %s", status.Service, status.Version, line)
		}
		logInfo(line)
		return backendStatusMsg{line: line, healthy: health.IsHealthy()}
	}
}

// do runs a controller operation off the update loop. Controller calls emit
// events that are sent back into the program, so they never run inline.
func (m model) do(action string, op func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: op(context.Background())}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case controllerEventMsg:
		m.refresh()

	case actionDoneMsg:
		m.refresh()
		m.notice = actionNotice(msg, m.snapshot)

	case backendStatusMsg:
		m.backendLine = msg.line
		m.backendOK = msg.healthy

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)

	default:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	controller := m.controller

	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return nil, true
		}
		switch m.snapshot.State {
		case session.StateAwaitingReply:
			m.notice = "Still waiting for the previous reply"
			return nil, true
		case session.StateRecording:
			m.notice = "Stop the recording first (ctrl+r)"
			return nil, true
		}
		m.input.Reset()
		m.notice = ""
		return m.do("send", func(ctx context.Context) error { return controller.SubmitText(ctx, text) }), true

	case "ctrl+r":
		if !m.audioEnabled {
			m.notice = "Audio is disabled"
			return nil, true
		}
		if m.snapshot.State == session.StateRecording {
			return m.do("stop recording", controller.EndRecording), true
		}
		return m.do("record", controller.BeginRecording), true

	case "ctrl+s":
		return m.do("send recording", controller.SendRecording), true

	case "ctrl+p":
		return m.do("preview", controller.PreviewRecording), true

	case "ctrl+d":
		return m.do("discard", func(context.Context) error {
			controller.DiscardRecording()
			return nil
		}), true

	case "ctrl+l":
		return m.do("clear history", controller.ClearHistory), true

	case "ctrl+y":
		reply := lastAssistantReply(m.snapshot.Turns)
		if reply == "" {
			m.notice = "Nothing to copy yet"
			return nil, true
		}
		if err := m.copyToClip(reply); err != nil {
			logError("clipboard copy failed", err)
			m.notice = "Could not copy to the clipboard"
			return nil, true
		}
		m.notice = "Copied the last reply"
		return nil, true

	case "esc":
		if m.snapshot.LastError != nil {
			return m.do("dismiss", func(context.Context) error {
				controller.DismissError()
				return nil
			}), true
		}
		return m.do("stop playback", func(context.Context) error {
			controller.StopPlayback()
			return nil
		}), true

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		return cmd, true
	}

	return nil, false
}

func (m *model) refresh() {
	m.snapshot = m.controller.Snapshot()
	m.renderTranscript()
}

func (m *model) resize() {
	m.input.Width = max(10, m.width-4)
	m.transcript.Width = max(20, m.width-2)
	m.transcript.Height = max(3, m.height-8)
	m.renderTranscript()
}

func (m *model) renderTranscript() {
	width := max(20, m.transcript.Width-2)

	var b strings.Builder
	for i, turn := range m.snapshot.Turns {
		if i > 0 {
			b.WriteString("\n")
		}
		label := userStyle.Render("You")
		if turn.Role == conversations.TurnRoleAssistant {
			label = assistantStyle.Render("Assistant")
		}
		b.WriteString(label + mutedStyle.Render(" "+turn.CreatedAt.Format("15:04")) + "\n")
		b.WriteString(wordwrap.String(turn.Content, width) + "\n")
	}
	if len(m.snapshot.Turns) == 0 {
		b.WriteString(mutedStyle.Render("No messages yet."))
	}

	m.transcript.SetContent(b.String())
	m.transcript.GotoBottom()
}

func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	backendLine := mutedStyle.Render(m.backendLine)
	if !m.backendOK {
		backendLine = errorStyle.Render(m.backendLine)
	}
	header := titleStyle.Render("synapse voice") + "  " + m.statusBadge() + "  " + backendLine

	lines := []string{header, panelStyle.Render(m.transcript.View())}

	if clip := m.snapshot.StagedClip; clip != nil {
		lines = append(lines, fmt.Sprintf("Recording ready (%s, %.1f KB): ctrl+s send · ctrl+p preview · ctrl+d discard",
			clip.MimeType, float64(clip.Size)/1024))
	}
	if lastError := m.snapshot.LastError; lastError != nil {
		lines = append(lines, errorStyle.Render("⚠ "+lastError.Message)+mutedStyle.Render("  (esc to dismiss)"))
	}
	if m.notice != "" {
		lines = append(lines, mutedStyle.Render(m.notice))
	}

	lines = append(lines, m.input.View(), mutedStyle.Render(wordwrap.String(helpLine, max(20, m.width))))
	return strings.Join(lines, "\n")
}

func (m model) statusBadge() string {
	switch m.snapshot.State {
	case session.StateRecording:
		return recordingStyle.Render("● REC")
	case session.StateAwaitingReply:
		return m.spinner.View() + " waiting for reply"
	case session.StatePlaying:
		return playingStyle.Render("♪ playing")
	case session.StateIdle:
		return mutedStyle.Render("idle")
	}
	return mutedStyle.Render("ready")
}

// actionNotice turns an action result into a one-line notice. Errors already
// shown as the session's last error are not repeated.
func actionNotice(msg actionDoneMsg, snapshot session.Snapshot) string {
	switch {
	case msg.err == nil:
		return ""
	case errors.Is(msg.err, session.ErrSessionEnded), errors.Is(msg.err, session.ErrRecordingCancelled):
		return ""
	case errors.Is(msg.err, session.ErrBusy):
		return "Still waiting for the previous reply"
	case errors.Is(msg.err, session.ErrNoStagedClip):
		return "Nothing recorded yet"
	case errors.Is(msg.err, session.ErrInvalidState):
		return fmt.Sprintf("Cannot %s right now", msg.action)
	case snapshot.LastError != nil:
		return ""
	}
	return fmt.Sprintf("%s failed: %v", msg.action, msg.err)
}

func lastAssistantReply(turns []conversations.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == conversations.TurnRoleAssistant {
			return turns[i].Content
		}
	}
	return ""
}
