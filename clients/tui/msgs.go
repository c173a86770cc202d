package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	wsclient "github.com/xbot-ai/xbot/clients/ws"
	wsprotocol "github.com/xbot-ai/xbot/internal/gateway/ws"
)

// frameMsg is one gateway frame delivered into the bubbletea loop.
type frameMsg struct {
	frame wsprotocol.Frame
}

// connErrMsg ends the session; the websocket is gone.
type connErrMsg struct {
	err error
}

// listen blocks for the next frame. The Update loop re-issues it after
// every frameMsg so exactly one reader runs at a time.
func listen(client *wsclient.Client) tea.Cmd {
	return func() tea.Msg {
		frame, err := client.ReadFrame()
		if err != nil {
			return connErrMsg{err: err}
		}
		return frameMsg{frame: frame}
	}
}
