package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/uihub"
)

// controlTimeout bounds the wait for the agent's answer to a session request.
const controlTimeout = 30 * time.Second

func newConnectCmd() *cobra.Command {
	var url string
	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Ask the running agent to connect to its controller",
		Long: `Ask the running agent to start a connection campaign. This is how an agent
started with --no-connect, or one that gave up after its reconnect attempts,
is brought back online.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, uihub.RequestConnect, url)
		},
	}
	connectCmd.Flags().StringVar(&url, "url", "", "controller websocket URL (default: the agent's session.url)")
	return connectCmd
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Ask the running agent to close its controller session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, uihub.RequestDisconnect, "")
		},
	}
}

func runControl(cmd *cobra.Command, request, url string) error {
	cfg, err := configFromContext(cmd.Context())
	if err != nil {
		return err
	}
	if cfg.UI.ListenAddr == "" {
		return fmt.Errorf("%s needs ui.listen_addr to be set", request)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), controlTimeout)
	defer cancel()
	if err := sendControl(ctx, cfg.UI.ListenAddr, request, url); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Agent accepted the %s request.\n", request)
	return nil
}

// sendControl delivers one session request over the status websocket and
// waits for the agent's answer, skipping the state snapshot sent on connect.
func sendControl(ctx context.Context, addr, request, url string) error {
	endpoint := "ws://" + addr + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to the agent status websocket at %s: %w", endpoint, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(map[string]string{"type": request, "url": url}); err != nil {
		return fmt.Errorf("failed to send %s request: %w", request, err)
	}
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("no answer to the %s request: %w", request, ctx.Err())
			}
			return fmt.Errorf("status stream failed: %w", err)
		}
		if jsoniter.Get(message, "type").ToString() != string(schemas.EventRequestResult) {
			continue
		}
		var ev struct {
			Data schemas.RequestResult `json:"data"`
		}
		if err := json.Unmarshal(message, &ev); err != nil {
			return fmt.Errorf("malformed answer to the %s request: %w", request, err)
		}
		res := ev.Data
		if !res.OK {
			return fmt.Errorf("agent refused the %s request: %s", request, res.Error)
		}
		return nil
	}
}
