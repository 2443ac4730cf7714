// Package agent wires the session, router, task queue, handlers and browser
// host together and owns their lifecycle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/browser"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/handlers"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/router"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/session"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/store"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/taskqueue"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/uihub"
)

// shutdownTimeout bounds browser teardown once the agent is stopping.
const shutdownTimeout = 30 * time.Second

// Browser is everything the agent needs from the browser host.
type Browser interface {
	handlers.Browser
	browser.PageSource
	Shutdown(ctx context.Context) error
}

// Dependencies are the externally owned collaborators. The agent closes Sink
// and shuts Browser down when it stops.
type Dependencies struct {
	Transport session.Transport
	Sink      store.Sink
	Browser   Browser
}

// Agent is the running process: one controller session dispatching commands
// into the browser.
type Agent struct {
	cfg    *config.Config
	deps   Dependencies
	logger *zap.Logger

	queue   *taskqueue.Queue
	router  *router.Router
	session *session.Manager
	hub     *uihub.Hub

	// runCtx is the context commands run under; set by Run before connecting.
	mu     sync.Mutex
	runCtx context.Context

	replies sync.WaitGroup
}

// New builds an agent. Nothing is started until Run.
func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if deps.Transport == nil || deps.Sink == nil || deps.Browser == nil {
		return nil, errors.New("transport, sink and browser are required")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	a := &Agent{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("agent"),
		hub:    uihub.New(logger),
		runCtx: context.Background(),
	}

	var err error
	a.queue, err = taskqueue.New(cfg.Queue.Capacity, deps.Sink, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task queue: %w", err)
	}
	a.queue.Subscribe(func(tasks []schemas.Task) {
		a.hub.Publish(schemas.EventTaskQueue, tasks)
	})

	a.router, err = router.New(router.Config{
		DefaultTimeout:  cfg.Router.DefaultTimeout,
		CancelOnTimeout: cfg.Router.CancelOnTimeout,
	}, a.queue, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	messenger := browser.NewMessenger(deps.Browser, cfg.Interaction, logger)
	h, err := handlers.New(handlers.Config{
		AllowedURLs:  cfg.Browser.AllowedURLs,
		PollInterval: cfg.Browser.PollInterval,
	}, deps.Browser, messenger, a.queue, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create handlers: %w", err)
	}
	h.Register(a.router)
	a.hub.SetController(sessionControl{a})

	a.session, err = session.NewManager(session.Config{
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		InitialDelay:      cfg.Session.Reconnect.InitialDelay,
		MaxDelay:          cfg.Session.Reconnect.MaxDelay,
		MaxAttempts:       cfg.Session.Reconnect.MaxAttempts,
		AutoConnect:       cfg.Session.AutoConnect,
	}, deps.Transport, deps.Sink, session.Callbacks{
		OnMessage: a.handleFrame,
		OnClose:   a.handleClose,
		OnError: func(err error) {
			a.logger.Debug("Session error.", zap.Error(err))
		},
		OnState: func(state schemas.ConnectionState) {
			a.hub.Publish(schemas.EventConnectionState, state)
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	return a, nil
}

// Session exposes the session manager, e.g. for a manual reconnect.
func (a *Agent) Session() *session.Manager { return a.session }

// Queue exposes the task queue.
func (a *Agent) Queue() *taskqueue.Queue { return a.queue }

// Hub exposes the UI status hub.
func (a *Agent) Hub() *uihub.Hub { return a.hub }

// Run restores the task queue, serves the UI hub, connects to the controller
// when auto_connect is on, and blocks until ctx is done or a component fails.
// Everything is torn down before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.queue.Init(ctx); err != nil {
		a.teardown()
		return fmt.Errorf("failed to restore task queue: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	a.mu.Lock()
	a.runCtx = gctx
	a.mu.Unlock()

	if addr := a.cfg.UI.ListenAddr; addr != "" {
		g.Go(func() error {
			if err := a.hub.Serve(gctx, addr); err != nil {
				return fmt.Errorf("ui hub: %w", err)
			}
			return nil
		})
	}

	if a.cfg.Session.AutoConnect {
		if err := a.session.Connect(gctx, a.cfg.Session.URL); err != nil {
			a.teardown()
			return fmt.Errorf("failed to start session: %w", err)
		}
	} else {
		a.logger.Info("Auto-connect disabled; waiting for a connect request on the UI websocket.")
	}

	g.Go(func() error {
		<-gctx.Done()
		a.teardown()
		return nil
	})

	err := g.Wait()
	a.logger.Info("Agent stopped.")
	return err
}

// sessionControl serves the UI hub's connect and disconnect requests. A
// connect is the manual reconnect after a failed campaign.
type sessionControl struct{ a *Agent }

func (s sessionControl) Connect(url string) error {
	cfg := s.a.cfg.Session
	if url != "" {
		cfg.URL = url
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
	}
	return s.a.session.Connect(s.a.commandContext(), cfg.URL)
}

func (s sessionControl) Disconnect() error {
	return s.a.session.Disconnect()
}

func (a *Agent) commandContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runCtx
}

// handleFrame dispatches one inbound frame and sends its response once the
// command completes. It never blocks the session's read loop.
func (a *Agent) handleFrame(frame []byte) {
	cmd, err := session.DecodeCommand(frame)
	if err != nil {
		a.logger.Warn("Malformed command frame.", zap.Error(err))
		a.reply(schemas.NewErrorResponse("", string(failure.KindValidation), "Malformed command: "+err.Error()))
		return
	}

	ch := a.router.Dispatch(a.commandContext(), cmd)
	a.replies.Add(1)
	go func() {
		defer a.replies.Done()
		a.reply(<-ch)
	}()
}

func (a *Agent) reply(resp schemas.Response) {
	if err := a.session.SendJSON(resp); err != nil {
		a.logger.Warn("Dropping response.", zap.String("command_id", resp.CommandID), zap.Error(err))
	}
}

// handleClose fails every in-flight command: their responses have nowhere to go.
func (a *Agent) handleClose(err error) {
	if n := a.router.FailInFlight(err); n > 0 {
		a.logger.Info("Failed in-flight commands after disconnect.", zap.Int("commands", n))
	}
}

// teardown stops components in dependency order: the session first so no new
// commands arrive, then in-flight work, then the stores and the browser.
func (a *Agent) teardown() {
	a.logger.Debug("Beginning agent shutdown sequence.")

	if err := a.session.Disconnect(); err != nil {
		a.logger.Debug("Error closing controller socket.", zap.Error(err))
	}
	a.router.Wait()
	a.replies.Wait()
	a.logger.Debug("In-flight commands drained.")

	if err := a.queue.Close(); err != nil {
		a.logger.Warn("Error closing task queue.", zap.Error(err))
	}
	a.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.deps.Browser.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Error during browser shutdown.", zap.Error(err))
	} else {
		a.logger.Debug("Browser shut down.")
	}

	if err := a.deps.Sink.Close(); err != nil {
		a.logger.Warn("Error closing storage.", zap.Error(err))
	}
}
