package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/xbot-ai/xbot/clients/ws"
	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/gateway/ws"
)

// NewAskCommand returns the ask subcommand: one message in, one answer out.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send a message through the gateway and print the reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway websocket URL",
				Value: "ws://127.0.0.1:18900/api/ws",
			},
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to attach to (default cli_<user>)",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "User ID the message runs as",
				Value:   "local",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 120,
			},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	message := cmd.Args().First()
	if message == "" {
		return cli.Exit("usage: xbot ask <message>", exitUserError)
	}

	userID := cmd.String("user")
	sessionID := cmd.String("session")
	if sessionID == "" {
		sessionID = "cli_" + userID
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	client, err := wsclient.Dial(ctx, cmd.String("gateway"))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	reqID, err := client.SendMessage(sessionID, userID, "cli", message)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	// The response frame names our task; then we follow the event stream
	// until that task replies or dies.
	var taskID string
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("timeout waiting for response")
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if frame.ID == reqID && frame.Type == ws.FrameTypeResponse {
			if frame.OK != nil && !*frame.OK {
				return cli.Exit("gateway: "+frame.Error, exitUserError)
			}
			var resp struct {
				TaskID string `json:"task_id"`
			}
			if err := json.Unmarshal(frame.Payload, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			taskID = resp.TaskID
			continue
		}

		if frame.Event == "" || taskID == "" {
			continue
		}

		var evt events.Event
		if err := json.Unmarshal(frame.Payload, &evt); err != nil || evt.TaskID != taskID {
			continue
		}

		switch events.EventType(frame.Event) {
		case events.EventOutgoingMessage:
			content, _ := evt.Payload["content"].(string)
			fmt.Fprintln(os.Stdout, content)
			return nil
		case events.EventTaskFailed:
			reason, _ := evt.Payload["error"].(string)
			return fmt.Errorf("task failed: %s", reason)
		case events.EventTaskCancelled:
			return fmt.Errorf("task cancelled")
		}
	}
}
