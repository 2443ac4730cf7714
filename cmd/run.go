package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/agent"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/browser"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/observability"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/session"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/store"
)

// newBrowser launches the browser host. Tests replace it to avoid starting Chrome.
var newBrowser = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (agent.Browser, error) {
	m, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newRunCmd() *cobra.Command {
	var (
		url       string
		uiAddr    string
		noConnect bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the controller and execute its commands until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("url") {
				cfg.Session.URL = url
				if err := cfg.Session.Validate(); err != nil {
					return fmt.Errorf("invalid --url: %w", err)
				}
			}
			if cmd.Flags().Changed("ui-addr") {
				cfg.UI.ListenAddr = uiAddr
			}
			if noConnect {
				cfg.Session.AutoConnect = false
			}
			return runAgent(cmd.Context(), cfg, observability.GetLogger())
		},
	}

	runCmd.Flags().StringVar(&url, "url", "", "controller websocket URL (overrides session.url)")
	runCmd.Flags().StringVar(&uiAddr, "ui-addr", "", "status websocket listen address; empty disables it")
	runCmd.Flags().BoolVar(&noConnect, "no-connect", false, "start without connecting to the controller")
	return runCmd
}

// runAgent builds the agent's dependencies and blocks until ctx is done.
// The agent owns the sink and the browser once it has been created.
func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting basset-agent.",
		zap.String("version", Version),
		zap.String("controller", cfg.Session.URL),
		zap.String("storage", cfg.Storage.Driver))

	sink, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	host, err := newBrowser(ctx, cfg.Browser, logger)
	if err != nil {
		_ = sink.Close()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	a, err := agent.New(cfg, agent.Dependencies{
		Transport: session.NewWSTransport(cfg.Session.WriteTimeout, cfg.Session.ReadLimit),
		Sink:      sink,
		Browser:   host,
	}, logger)
	if err != nil {
		_ = host.Shutdown(context.Background())
		_ = sink.Close()
		return fmt.Errorf("failed to create agent: %w", err)
	}

	if err := a.Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}
