package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/signalnine/riskarena/internal/events"
)

var flagRunID string

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <server-url>",
		Short: "Tail evaluation state transitions from a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := eventsURL(args[0], flagRunID)
			if err != nil {
				return err
			}
			conn, _, err := websocket.DefaultDialer.Dial(target, nil)
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", target, err)
			}
			defer conn.Close()

			var interrupted atomic.Bool
			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			go func() {
				<-interrupt
				interrupted.Store(true)
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
			}()

			fmt.Printf("Watching %s\n", target)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					if interrupted.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return fmt.Errorf("reading events: %w", err)
				}
				var e events.Event
				if err := json.Unmarshal(data, &e); err != nil {
					continue
				}
				fmt.Println(formatEvent(e))
			}
		},
	}
	cmd.Flags().StringVar(&flagRunID, "run", "", "only show one run")
	return cmd
}

// eventsURL turns a server base URL into its websocket events endpoint.
func eventsURL(server, runID string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/events"
	if runID != "" {
		u.RawQuery = url.Values{"run_id": {runID}}.Encode()
	}
	return u.String(), nil
}

func formatEvent(e events.Event) string {
	line := fmt.Sprintf("%s %s %s → %s",
		e.Time.Format("15:04:05"), shortID(e.RunID), e.From, stateColor(e.To).Sprint(e.To))
	if e.AgentID != "" {
		line += " [" + e.AgentID + "]"
	}
	if e.Score != nil {
		line += fmt.Sprintf(" score=%.3f", *e.Score)
	}
	if e.Message != "" {
		line += " " + e.Message
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
