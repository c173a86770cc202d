// Package tui is a terminal chat client for a running core. It speaks the
// gateway websocket protocol: messages go in as user_chat tasks, and the
// event stream paints tool calls, worker progress, and the final reply.
package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	wsclient "github.com/xbot-ai/xbot/clients/ws"
	"github.com/xbot-ai/xbot/internal/events"
	wsprotocol "github.com/xbot-ai/xbot/internal/gateway/ws"
)

type block struct {
	role string // "user" | "assistant" | "tool" | "status" | "error"
	text string
}

// Model is the root bubbletea model.
type Model struct {
	client    *wsclient.Client
	sessionID string
	userID    string

	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	blocks  []block
	waiting bool
	taskID  string
	width   int
	height  int
}

// New builds the root model over an established gateway connection.
func New(client *wsclient.Client, sessionID, userID string) Model {
	input := textarea.New()
	input.Placeholder = "Say something..."
	input.SetHeight(2)
	input.ShowLineNumbers = false
	input.Focus()

	spin := spinner.New(spinner.WithSpinner(spinner.Dot))

	vp := viewport.New(80, 20)

	return Model{
		client:    client,
		sessionID: sessionID,
		userID:    userID,
		viewport:  vp,
		input:     input,
		spin:      spin,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(listen(m.client), m.spin.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - m.input.Height() - 4
		m.input.SetWidth(msg.Width - 4)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(min(msg.Width-2, 100)),
		)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.waiting {
				break
			}
			m.input.Reset()
			m.append(block{role: "user", text: text})
			if _, err := m.client.SendMessage(m.sessionID, m.userID, "tui", text); err != nil {
				m.append(block{role: "error", text: err.Error()})
				break
			}
			m.waiting = true
		}

	case frameMsg:
		m.handleFrame(msg.frame)
		cmds = append(cmds, listen(m.client))

	case connErrMsg:
		m.append(block{role: "error", text: "connection lost: " + msg.err.Error()})
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) handleFrame(frame wsprotocol.Frame) {
	switch frame.Type {
	case wsprotocol.FrameTypeResponse:
		if frame.OK != nil && !*frame.OK {
			m.waiting = false
			m.append(block{role: "error", text: frame.Error})
			return
		}
		var resp struct {
			TaskID string `json:"task_id"`
		}
		if json.Unmarshal(frame.Payload, &resp) == nil && resp.TaskID != "" {
			m.taskID = resp.TaskID
		}

	case wsprotocol.FrameTypeEvent:
		var evt events.Event
		if json.Unmarshal(frame.Payload, &evt) != nil {
			return
		}
		if m.taskID == "" || evt.TaskID != m.taskID {
			return
		}

		switch events.EventType(frame.Event) {
		case events.EventToolCall:
			if status, _ := evt.Payload["status"].(string); status == "started" {
				name, _ := evt.Payload["name"].(string)
				m.append(block{role: "tool", text: name})
			}
		case events.EventWorkerProgress:
			note, _ := evt.Payload["note"].(string)
			workerID, _ := evt.Payload["worker_id"].(string)
			m.append(block{role: "status", text: fmt.Sprintf("worker %s: %s", workerID, note)})
		case events.EventOutgoingMessage:
			content, _ := evt.Payload["content"].(string)
			m.waiting = false
			m.taskID = ""
			m.append(block{role: "assistant", text: content})
		case events.EventTaskFailed:
			reason, _ := evt.Payload["error"].(string)
			m.waiting = false
			m.taskID = ""
			m.append(block{role: "error", text: "task failed: " + reason})
		case events.EventTaskCancelled:
			m.waiting = false
			m.taskID = ""
			m.append(block{role: "status", text: "task cancelled"})
		}
	}
}

func (m *Model) append(b block) {
	m.blocks = append(m.blocks, b)
	m.refresh()
}

// refresh re-renders every block into the viewport and scrolls to the end.
func (m *Model) refresh() {
	var sb strings.Builder
	for _, b := range m.blocks {
		switch b.role {
		case "user":
			sb.WriteString(userStyle.Render("you") + "  " + b.text + "\n\n")
		case "assistant":
			sb.WriteString(assistantStyle.Render("xbot") + "\n" + m.markdown(b.text) + "\n")
		case "tool":
			sb.WriteString(toolStyle.Render("⚙ "+b.text) + "\n")
		case "status":
			sb.WriteString(mutedStyle.Render(b.text) + "\n")
		case "error":
			sb.WriteString(errorStyle.Render("✗ "+b.text) + "\n\n")
		}
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m *Model) markdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return out
}

func (m Model) View() string {
	status := m.sessionID
	if m.waiting {
		status = m.spin.View() + " thinking — " + m.sessionID
	}

	return m.viewport.View() + "\n" +
		statusStyle.Render(status) + "\n" +
		inputStyle.Render(m.input.View())
}
