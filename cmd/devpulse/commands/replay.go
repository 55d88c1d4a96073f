package commands

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/sumatoshi-tech/devpulse/pkg/stream"
)

// NewReplayCommand builds the "replay" subcommand: a WebSocket client
// against a running start instance's /ws endpoint. It asks the Hub to
// replay its in-memory ring since a point in time, then optionally
// stays connected to keep streaming live events. It sends a single
// OpReplay control message; live events arrive through the
// subscription the server opens for every /ws connection, so no new
// server-side replay surface is needed.
func NewReplayCommand() *cobra.Command {
	var addr string
	var sinceArg string
	var follow bool

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a running instance's recent stream, optionally following live",
		RunE: func(_ *cobra.Command, _ []string) error {
			u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}

			conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", u.String(), err)
			}
			defer conn.Close()

			var sinceTs *int64
			if sinceArg != "" {
				ms, parseErr := parseSince(sinceArg)
				if parseErr != nil {
					return fmt.Errorf("parse --since: %w", parseErr)
				}
				sinceTs = &ms
			}

			args, err := json.Marshal(struct {
				SinceTs *int64 `json:"sinceTs,omitempty"`
			}{SinceTs: sinceTs})
			if err != nil {
				return err
			}

			replayMsg := stream.ControlMessage{Op: stream.OpReplay, Args: args}
			if err := conn.WriteJSON(replayMsg); err != nil {
				return fmt.Errorf("send replay request: %w", err)
			}

			if !follow {
				return drainUntilIdle(conn, 2*time.Second)
			}

			return streamUntilClosed(conn)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "host:port of a running devpulse start instance")
	cmd.Flags().StringVar(&sinceArg, "since", "", "Replay events after this time (e.g. '15m', RFC3339); default the Hub's whole ring")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep the connection open and print live events after replay")

	return cmd
}

func drainUntilIdle(conn *websocket.Conn, idle time.Duration) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		var msg stream.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err) {
				return fmt.Errorf("connection closed: %w", err)
			}
			return nil // read timeout: replay ring drained
		}
		printServerMessage(msg)
	}
}

func streamUntilClosed(conn *websocket.Conn) error {
	for {
		var msg stream.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		printServerMessage(msg)
	}
}

func printServerMessage(msg stream.ServerMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stdout, string(b))
}
