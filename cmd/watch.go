package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
)

// watchStatus follows the running agent's status websocket and prints one line
// per event until ctx is done or the agent goes away.
func watchStatus(ctx context.Context, addr string, w io.Writer) error {
	url := "ws://" + addr + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to the agent status websocket at %s: %w", url, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				fmt.Fprintln(w, "Agent closed the status stream.")
				return nil
			}
			return fmt.Errorf("status stream failed: %w", err)
		}
		printEvent(w, message)
	}
}

func printEvent(w io.Writer, message []byte) {
	var ev struct {
		Type      schemas.EventType   `json:"type"`
		Data      jsoniter.RawMessage `json:"data"`
		Timestamp int64               `json:"timestamp"`
	}
	if err := json.Unmarshal(message, &ev); err != nil {
		return
	}
	at := time.UnixMilli(ev.Timestamp).Format("15:04:05")

	switch ev.Type {
	case schemas.EventConnectionState:
		var s schemas.ConnectionState
		if err := json.Unmarshal(ev.Data, &s); err != nil {
			return
		}
		line := fmt.Sprintf("%s connection %s", at, s.Status)
		if s.Attempt > 0 {
			line += fmt.Sprintf(" attempt=%d", s.Attempt)
		}
		if s.LastError != "" {
			line += " error=" + s.LastError
		}
		fmt.Fprintln(w, line)
	case schemas.EventTaskQueue:
		var tasks []schemas.Task
		if err := json.Unmarshal(ev.Data, &tasks); err != nil {
			return
		}
		running := 0
		for _, t := range tasks {
			if t.Status == schemas.TaskRunning || t.Status == schemas.TaskPending {
				running++
			}
		}
		line := fmt.Sprintf("%s tasks %d (%d active)", at, len(tasks), running)
		if len(tasks) > 0 {
			latest := tasks[0]
			line += fmt.Sprintf(" latest=%s %s %s", latest.ID, latest.Type, latest.Status)
		}
		fmt.Fprintln(w, line)
	}
}
