// Package handlers implements the command surface the router dispatches to.
// Page interactions are relayed to the tab's content bridge; tab, cookie,
// screenshot and network operations go straight to the browser host.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/router"
)

// TabMessenger delivers a bridge message to the page running in a tab. An
// empty tabID addresses the active tab.
type TabMessenger interface {
	Send(ctx context.Context, tabID string, msg schemas.BridgeMessage) (schemas.BridgeReply, error)
}

// Browser is the browser host: tabs, navigation and DevTools level captures.
type Browser interface {
	Navigate(ctx context.Context, tabID, url string) (schemas.TabInfo, error)
	ListTabs(ctx context.Context) ([]schemas.TabInfo, error)
	Screenshot(ctx context.Context, tabID string, opts schemas.ScreenshotOptions) (schemas.Screenshot, error)
	Cookies(ctx context.Context, tabID string, urls []string) ([]schemas.Cookie, error)
	ExecuteScript(ctx context.Context, tabID, script string) (interface{}, error)
	StartNetworkCapture(ctx context.Context, tabID string) error
	StopNetworkCapture(ctx context.Context, tabID string) error
	NetworkLogs(ctx context.Context, tabID string, clear bool) ([]schemas.NetworkEntry, error)
}

// Queue is the read and clear surface of the task queue.
type Queue interface {
	List(limit int) []schemas.Task
	Len() int
	Clear(ctx context.Context)
}

// Registrar accepts handler registrations. *router.Router satisfies it.
type Registrar interface {
	Register(cmdType schemas.CommandType, h router.HandlerFunc, opts ...router.Option)
}

// Config tunes the handlers.
type Config struct {
	// AllowedURLs are glob patterns navigate targets must match. Empty allows any URL.
	AllowedURLs []string
	// PollInterval paces wait_for_element probes.
	PollInterval time.Duration
	// DefaultWait is the wait_for_element budget when the command names none.
	DefaultWait time.Duration
	// StepTimeout budgets each navigate_multi_step step when no timeout is given.
	StepTimeout time.Duration
}

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultWait         = 10 * time.Second
	defaultStepTimeout  = 30 * time.Second
	// waitSlack keeps the router's deadline behind the handler's own, so the
	// handler reports which element it was waiting for.
	waitSlack = 5 * time.Second
)

type entry struct {
	handler router.HandlerFunc
	opts    []router.Option
}

// Handlers holds the dependencies shared by every command.
type Handlers struct {
	cfg       Config
	browser   Browser
	messenger TabMessenger
	queue     Queue
	logger    *zap.Logger

	allowed []glob.Glob
	table   map[schemas.CommandType]entry
}

// New builds the command table. Every dependency is required.
func New(cfg Config, browser Browser, messenger TabMessenger, queue Queue, logger *zap.Logger) (*Handlers, error) {
	if browser == nil {
		return nil, errors.New("browser cannot be nil")
	}
	if messenger == nil {
		return nil, errors.New("messenger cannot be nil")
	}
	if queue == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = defaultWait
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}

	h := &Handlers{
		cfg:       cfg,
		browser:   browser,
		messenger: messenger,
		queue:     queue,
		logger:    logger.Named("handlers"),
		table:     make(map[schemas.CommandType]entry),
	}
	for _, pattern := range cfg.AllowedURLs {
		// '.' and '/' separate host labels and path segments: '*' stays
		// inside one, '**' crosses them.
		g, err := glob.Compile(pattern, '.', '/')
		if err != nil {
			return nil, fmt.Errorf("invalid allowed_urls pattern %q: %w", pattern, err)
		}
		h.allowed = append(h.allowed, g)
	}
	h.registerHandlers()
	return h, nil
}

func (h *Handlers) registerHandlers() {
	h.add(schemas.CommandNavigate, h.navigate, router.WithTimeoutFunc(h.navigateTimeout))
	h.add(schemas.CommandNavigateMultiStep, h.navigateMultiStep, router.WithTimeoutFunc(h.multiStepTimeout))
	h.add(schemas.CommandWaitForElement, h.waitForElement, router.WithTimeoutFunc(h.waitTimeout))

	for _, cmd := range []schemas.CommandType{
		schemas.CommandClick,
		schemas.CommandTypeText,
		schemas.CommandFillForm,
		schemas.CommandAutoFillForm,
		schemas.CommandFillSelect,
		schemas.CommandFillCheckbox,
		schemas.CommandFillRadio,
		schemas.CommandFillDate,
		schemas.CommandSubmitForm,
		schemas.CommandHandleFileUpload,
		schemas.CommandGetContent,
		schemas.CommandGetPageState,
		schemas.CommandDetectForms,
	} {
		h.add(cmd, h.relay(string(cmd)))
	}

	h.add(schemas.CommandScreenshot, h.screenshot)
	h.add(schemas.CommandExecuteScript, h.executeScript)
	h.add(schemas.CommandGetCookies, h.getCookies)
	h.add(schemas.CommandListTabs, h.listTabs)
	h.add(schemas.CommandStartNetwork, h.startNetwork)
	h.add(schemas.CommandStopNetwork, h.stopNetwork)
	h.add(schemas.CommandGetNetworkLogs, h.networkLogs)
	h.add(schemas.CommandGetTaskQueue, h.getTaskQueue)
	h.add(schemas.CommandClearTaskQueue, h.clearTaskQueue)
}

func (h *Handlers) add(cmd schemas.CommandType, fn router.HandlerFunc, opts ...router.Option) {
	h.table[cmd] = entry{handler: fn, opts: opts}
}

// Register binds every command to r.
func (h *Handlers) Register(r Registrar) {
	for cmd, e := range h.table {
		r.Register(cmd, e.handler, e.opts...)
	}
}

// Commands lists the command types in sorted order.
func (h *Handlers) Commands() []string {
	out := make([]string, 0, len(h.table))
	for cmd := range h.table {
		out = append(out, string(cmd))
	}
	sort.Strings(out)
	return out
}
