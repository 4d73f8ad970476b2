package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nogataka/cc-discussion/internal/orchestrator"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#54A0FF", Dark: "#54A0FF"})
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AAAAAA", Dark: "#666666"})
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D63031", Dark: "#FF7675"})
	moderatorStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#E17055", Dark: "#FFB347"}).Bold(true)
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#888888", Dark: "#888888"})
)

// frameMsg delivers one decoded server frame to Update.
type frameMsg struct {
	frame Frame
}

// streamErrMsg signals the websocket read loop failed.
type streamErrMsg struct {
	err error
}

// Model is the watch-mode bubbletea model for one room.
type Model struct {
	client *Client
	roomID string

	viewport viewport.Model
	spinner  spinner.Model
	input    textinput.Model

	participants map[string]ParticipantInfo
	status       string
	currentTurn  int
	maxTurns     int
	speaking     string // name of the active speaker, empty between turns

	lines      []string
	moderating bool
	width      int
	height     int
	ready      bool
	err        error
}

// NewModel builds a watch model around an open client connection.
func NewModel(client *Client, roomID string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	input := textinput.New()
	input.Placeholder = "モデレーターメッセージ (@名前 で指名)"
	input.CharLimit = 0

	return Model{
		client:       client,
		roomID:       roomID,
		spinner:      sp,
		input:        input,
		participants: make(map[string]ParticipantInfo),
		status:       "connecting",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

// listen reads the next frame off the websocket.
func (m Model) listen() tea.Cmd {
	client := m.client
	if client == nil {
		return nil
	}
	return func() tea.Msg {
		frame, err := client.ReadFrame()
		if err != nil {
			return streamErrMsg{err: err}
		}
		return frameMsg{frame: frame}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 3)
		m.ready = true
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case frameMsg:
		m.applyFrame(msg.frame)
		return m, m.listen()

	case streamErrMsg:
		m.err = msg.err
		m.appendLine(errorStyle.Render("接続が切断されました: " + msg.err.Error()))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.moderating {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.moderating {
		switch msg.Type {
		case tea.KeyEsc:
			m.moderating = false
			m.input.Blur()
			return m, nil
		case tea.KeyEnter:
			content := strings.TrimSpace(m.input.Value())
			m.moderating = false
			m.input.SetValue("")
			m.input.Blur()
			if content != "" && m.client != nil {
				if err := m.client.Moderate(content); err != nil {
					m.appendLine(errorStyle.Render("送信に失敗しました: " + err.Error()))
				}
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.client != nil {
			_ = m.client.Close()
		}
		return m, tea.Quit
	case "s":
		if m.client != nil {
			_ = m.client.Start()
		}
	case "p":
		if m.client != nil {
			_ = m.client.Pause()
		}
	case "x":
		if m.client != nil {
			_ = m.client.Stop()
		}
	case "i":
		if m.client != nil {
			_ = m.client.Interject()
		}
	case "m":
		m.moderating = true
		m.input.Focus()
		return m, textinput.Blink
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// applyFrame folds one server frame into the transcript and header state.
func (m *Model) applyFrame(frame Frame) {
	switch frame.Type {
	case "room_state":
		var state RoomState
		if err := json.Unmarshal(frame.Raw, &state); err != nil {
			return
		}
		m.status = state.Status
		m.currentTurn = state.CurrentTurn
		m.maxTurns = state.MaxTurns
		for _, p := range state.Participants {
			m.participants[p.ID] = p
			if p.IsSpeaking {
				m.speaking = p.Name
			}
		}
		return

	case "discussion_starting":
		m.appendLine(dimStyle.Render("ディスカッションを開始しています..."))
		return

	case "info":
		var body struct {
			Content string `json:"content"`
		}
		_ = json.Unmarshal(frame.Raw, &body)
		m.appendLine(dimStyle.Render(body.Content))
		return

	case "pong":
		return
	}

	if frame.Event != nil {
		m.applyEvent(frame.Event)
	}
}

func (m *Model) applyEvent(event orchestrator.Event) {
	switch e := event.(type) {
	case orchestrator.DiscussionStart:
		m.status = "active"
		m.maxTurns = e.MaxTurns
		m.appendLine(statusStyle.Render(fmt.Sprintf("── ディスカッション開始 (最大 %d ターン) ──", e.MaxTurns)))

	case orchestrator.TurnStart:
		m.speaking = e.ParticipantName
		m.currentTurn = e.TurnNumber
		label := fmt.Sprintf("ターン %d", e.TurnNumber)
		switch {
		case e.IsClosing:
			label += " (まとめ)"
		case e.IsDesignation:
			label += " (指名)"
		case e.IsInterjection:
			label += " (介入)"
		}
		m.appendLine("")
		m.appendLine(headerStyle.Render(fmt.Sprintf("[%s] %s", label, e.ParticipantName)))

	case orchestrator.Text:
		m.appendLine(m.speakerStyle(e.ParticipantID).Render(m.speakerName(e.ParticipantID)+": ") + e.Content)

	case orchestrator.ToolUse:
		m.appendLine(dimStyle.Render(fmt.Sprintf("  ⚙ %s %s", m.speakerName(e.ParticipantID), e.Tool)))

	case orchestrator.BackgroundActivity:
		m.appendLine(dimStyle.Render(fmt.Sprintf("  … %s: %s", e.ParticipantName, e.Activity)))

	case orchestrator.PreparationStart:
		m.appendLine(dimStyle.Render(fmt.Sprintf("  … %s が発言を準備中", e.ParticipantName)))

	case orchestrator.PreparationComplete:
		m.appendLine(dimStyle.Render(fmt.Sprintf("  ✓ %s の準備完了", e.ParticipantName)))

	case orchestrator.TurnComplete:
		m.speaking = ""
		m.currentTurn = e.TurnNumber

	case orchestrator.WaitingForModerator:
		m.status = "paused"
		m.speaking = ""
		m.appendLine(moderatorStyle.Render("⚑ " + e.Message))

	case orchestrator.DiscussionPaused:
		m.status = "paused"
		m.speaking = ""
		m.appendLine(statusStyle.Render("── 一時停止 ──"))

	case orchestrator.DiscussionComplete:
		m.status = "completed"
		m.speaking = ""
		m.appendLine(statusStyle.Render(fmt.Sprintf("── ディスカッション終了 (全 %d ターン) ──", e.TotalTurns)))

	case orchestrator.ModeratorMessage:
		m.appendLine(moderatorStyle.Render("モデレーター: ") + e.Content)

	case orchestrator.ErrorEvent:
		m.appendLine(errorStyle.Render("エラー: " + e.Content))
	}
}

func (m *Model) speakerName(participantID string) string {
	if p, ok := m.participants[participantID]; ok {
		return p.Name
	}
	return "?"
}

func (m *Model) speakerStyle(participantID string) lipgloss.Style {
	if p, ok := m.participants[participantID]; ok && p.Color != "" {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(p.Color)).Bold(true)
	}
	return headerStyle
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	if !m.ready {
		return "読み込み中..."
	}

	header := headerStyle.Render("cc-discussion") + "  " +
		statusStyle.Render(m.status) +
		dimStyle.Render(fmt.Sprintf("  ターン %d/%d", m.currentTurn, m.maxTurns))
	if m.speaking != "" {
		header += "  " + m.spinner.View() + " " + m.speaking
	}

	var controls string
	if m.moderating {
		controls = m.input.View()
	} else {
		controls = footerStyle.Render("s: 開始  p: 一時停止  x: 終了  i: 介入  m: モデレート  q: 退出")
	}

	return strings.Join([]string{header, m.viewport.View(), controls}, "\n")
}
