// Package browser drives Chrome over the DevTools protocol. It owns the browser
// process, maps tab ids to DevTools targets, and exposes each tab as a dom.Page.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
)

const (
	startupTimeout = 30 * time.Second
	scriptTimeout  = 20 * time.Second
)

// tab is an attached page target.
type tab struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	harvester *Harvester
}

// Manager owns the browser and its tabs. Tab ids are DevTools target ids.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx manages the browser process; browserCtx is the first tab
	// and the parent of every attached target.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	mu     sync.Mutex
	tabs   map[string]*tab
	active string
}

// NewManager launches Chrome, or attaches to cfg.RemoteURL, and waits until it responds.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
		tabs:   make(map[string]*tab),
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	if m.cfg.RemoteURL != "" {
		m.logger.Info("Attaching to running browser.", zap.String("url", m.cfg.RemoteURL))
		m.allocatorCtx, m.allocatorCancel = chromedp.NewRemoteAllocator(ctx, m.cfg.RemoteURL)
	} else {
		m.logger.Info("Initializing browser allocator...")
		m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	}
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx)

	// The first Run allocates the browser and is bound to browserCtx's lifetime,
	// so the startup deadline is applied from outside.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(m.browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			m.shutdownContexts()
			return fmt.Errorf("browser failed to start: %w", err)
		}
	case <-time.After(startupTimeout):
		m.shutdownContexts()
		return fmt.Errorf("browser did not start within %v", startupTimeout)
	}

	testCtx, cancel := context.WithTimeout(m.browserCtx, startupTimeout)
	defer cancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.shutdownContexts()
		return fmt.Errorf("browser failed to respond: %w", err)
	}

	first := chromedp.FromContext(m.browserCtx).Target
	if first != nil {
		id := string(first.TargetID)
		m.tabs[id] = &tab{id: id, ctx: m.browserCtx, cancel: func() {}, harvester: NewHarvester(id, m.cfg.NetworkLogLimit, m.logger)}
		m.active = id
	}
	chromedp.ListenBrowser(m.browserCtx, m.handleBrowserEvent)
	m.logger.Info("Browser launched successfully and is responsive.", zap.String("tab_id", m.active))
	return nil
}

func (m *Manager) handleBrowserEvent(ev interface{}) {
	if e, ok := ev.(*target.EventTargetDestroyed); ok {
		m.forgetTab(string(e.TargetID))
	}
}

// forgetTab drops a closed tab. When it was the active tab another attached
// tab takes over, or the next command picks one from the open page targets.
func (m *Manager) forgetTab(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	if !ok {
		return
	}
	delete(m.tabs, id)
	t.harvester.stopListening()
	// Listeners must not block the browser's event loop.
	go t.cancel()

	if m.active == id {
		m.active = ""
		ids := make([]string, 0, len(m.tabs))
		for other := range m.tabs {
			ids = append(ids, other)
		}
		if len(ids) > 0 {
			sort.Strings(ids)
			m.active = ids[0]
		}
	}
	m.logger.Debug("Tab closed.", zap.String("tab_id", id), zap.String("active", m.active))
}

// buildAllocatorOptions assembles the launch flags: chromedp's defaults without
// enable-automation, then the configured flags and container flags on linux.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// A false flag is dropped from the command line, so this undoes the default.
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
	)

	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// tab returns the attached target for id, attaching on first use. An empty
// id means the active tab.
func (m *Manager) tab(ctx context.Context, id string) (*tab, error) {
	m.mu.Lock()
	wantActive := id == ""
	if wantActive {
		id = m.active
	}
	if t, ok := m.tabs[id]; ok {
		m.mu.Unlock()
		return t, nil
	}
	m.mu.Unlock()

	known, err := m.pageTargets(ctx)
	if err != nil {
		return nil, err
	}
	if id == "" {
		if len(known) == 0 {
			return nil, failure.Handler("No active tab")
		}
		id = string(known[0].TargetID)
	}
	found := false
	for _, info := range known {
		if string(info.TargetID) == id {
			found = true
			break
		}
	}
	if !found {
		return nil, failure.Handler("Tab not found: %s", id)
	}

	tabCtx, cancel := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(target.ID(id)))
	runCtx, done := CombineContext(tabCtx, ctx)
	defer done()
	if err := chromedp.Run(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to attach to tab %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tabs[id]; ok {
		cancel()
		return t, nil
	}
	t := &tab{id: id, ctx: tabCtx, cancel: cancel, harvester: NewHarvester(id, m.cfg.NetworkLogLimit, m.logger)}
	m.tabs[id] = t
	if wantActive && m.active == "" {
		m.active = id
	}
	m.logger.Debug("Attached to tab.", zap.String("tab_id", id))
	return t, nil
}

func (m *Manager) pageTargets(ctx context.Context) ([]*target.Info, error) {
	runCtx, done := CombineContext(m.browserCtx, ctx)
	defer done()
	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	pages := infos[:0]
	for _, info := range infos {
		if info.Type == "page" {
			pages = append(pages, info)
		}
	}
	return pages, nil
}

// ListTabs reports every open page target.
func (m *Manager) ListTabs(ctx context.Context) ([]schemas.TabInfo, error) {
	infos, err := m.pageTargets(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	tabs := make([]schemas.TabInfo, 0, len(infos))
	for _, info := range infos {
		id := string(info.TargetID)
		tabs = append(tabs, schemas.TabInfo{ID: id, URL: info.URL, Title: info.Title, Active: id == active})
	}
	return tabs, nil
}

// Page exposes a tab to the resolver, simulator and extractor.
func (m *Manager) Page(ctx context.Context, tabID string) (dom.Page, error) {
	t, err := m.tab(ctx, tabID)
	if err != nil {
		return nil, err
	}
	return newCDPPage(t.ctx, m.logger.Named("page").With(zap.String("tab_id", t.id))), nil
}

// Navigate loads url in the tab and makes it the active tab.
func (m *Manager) Navigate(ctx context.Context, tabID, url string) (schemas.TabInfo, error) {
	t, err := m.tab(ctx, tabID)
	if err != nil {
		return schemas.TabInfo{}, err
	}
	runCtx, done := CombineContext(t.ctx, ctx)
	defer done()
	timeout := m.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	var loc, title string
	err = chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.Location(&loc),
		chromedp.Title(&title),
	)
	if err != nil {
		if ctx.Err() != nil {
			return schemas.TabInfo{}, ctx.Err()
		}
		if navCtx.Err() == context.DeadlineExceeded {
			return schemas.TabInfo{}, failure.Wrap(failure.KindTimeout, navCtx.Err(), fmt.Sprintf("navigation to %s timed out after %v", url, timeout))
		}
		return schemas.TabInfo{}, failure.Wrap(failure.KindHandler, err, fmt.Sprintf("Navigation to %s failed: %v", url, err))
	}

	m.mu.Lock()
	m.active = t.id
	m.mu.Unlock()
	m.logger.Info("Navigated.", zap.String("tab_id", t.id), zap.String("url", loc))
	return schemas.TabInfo{ID: t.id, URL: loc, Title: title, Active: true}, nil
}

// Screenshot captures the tab as png or jpeg.
func (m *Manager) Screenshot(ctx context.Context, tabID string, opts schemas.ScreenshotOptions) (schemas.Screenshot, error) {
	t, err := m.tab(ctx, tabID)
	if err != nil {
		return schemas.Screenshot{}, err
	}
	var format string
	switch strings.ToLower(opts.Format) {
	case "", "png":
		format = "png"
	case "jpg", "jpeg":
		format = "jpeg"
	default:
		return schemas.Screenshot{}, failure.Validation("Unsupported screenshot format: %s", opts.Format)
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	runCtx, done := CombineContext(t.ctx, ctx)
	defer done()
	var buf []byte
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithCaptureBeyondViewport(opts.FullPage)
		if format == "jpeg" {
			params = params.WithFormat(page.CaptureScreenshotFormatJpeg).WithQuality(int64(quality))
		} else {
			params = params.WithFormat(page.CaptureScreenshotFormatPng)
		}
		if opts.FullPage {
			_, _, _, _, _, content, err := page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return err
			}
			params = params.WithClip(&page.Viewport{X: 0, Y: 0, Width: content.Width, Height: content.Height, Scale: 1})
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return schemas.Screenshot{}, ctx.Err()
		}
		return schemas.Screenshot{}, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return schemas.Screenshot{TabID: t.id, Format: format, Data: base64.StdEncoding.EncodeToString(buf)}, nil
}

// Cookies returns the cookies visible to urls, or to the tab's URL when none are given.
func (m *Manager) Cookies(ctx context.Context, tabID string, urls []string) ([]schemas.Cookie, error) {
	t, err := m.tab(ctx, tabID)
	if err != nil {
		return nil, err
	}
	runCtx, done := CombineContext(t.ctx, ctx)
	defer done()

	var cookies []*network.Cookie
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		req := network.GetCookies()
		if len(urls) > 0 {
			req = req.WithURLs(urls)
		}
		var err error
		cookies, err = req.Do(ctx)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return convertCookies(cookies), nil
}

func convertCookies(in []*network.Cookie) []schemas.Cookie {
	out := make([]schemas.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

// ExecuteScript evaluates a controller supplied script in the tab and returns
// its JSON value. Promises are awaited.
func (m *Manager) ExecuteScript(ctx context.Context, tabID, script string) (interface{}, error) {
	t, err := m.tab(ctx, tabID)
	if err != nil {
		return nil, err
	}
	runCtx, done := CombineContext(t.ctx, ctx)
	defer done()
	opCtx, cancel := context.WithTimeout(runCtx, scriptTimeout)
	defer cancel()

	awaitPromise := func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	var raw []byte
	src := userScript(script)
	err = chromedp.Run(opCtx, chromedp.Evaluate(src, &raw, awaitPromise))
	if src == script && isIllegalReturn(err) {
		m.logger.Debug("Script has a top-level return; running it as a function body.", zap.String("tab_id", t.id))
		raw = nil
		err = chromedp.Run(opCtx, chromedp.Evaluate(functionBody(script), &raw, awaitPromise))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if opCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout during script execution: %w", opCtx.Err())
		}
		return nil, failure.Wrap(failure.KindHandler, err, fmt.Sprintf("Script failed: %v", err))
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to decode script result: %w", err)
	}
	return value, nil
}

// isIllegalReturn reports whether err is Chrome rejecting a return statement
// outside a function.
func isIllegalReturn(err error) bool {
	var exc *cdpruntime.ExceptionDetails
	if !errors.As(err, &exc) {
		return false
	}
	text := exc.Text
	if exc.Exception != nil {
		text += " " + exc.Exception.Description
	}
	return strings.Contains(text, "Illegal return statement")
}

// StartNetworkCapture begins recording requests on the tab.
func (m *Manager) StartNetworkCapture(ctx context.Context, tabID string) error {
	t, err := m.tab(ctx, tabID)
	if err != nil {
		return err
	}
	return t.harvester.Start(ctx, t.ctx)
}

// StopNetworkCapture stops recording on the tab.
func (m *Manager) StopNetworkCapture(ctx context.Context, tabID string) error {
	t, err := m.tab(ctx, tabID)
	if err != nil {
		return err
	}
	return t.harvester.Stop(ctx, t.ctx)
}

// NetworkLogs returns what the tab's harvester recorded. An empty tabID
// collects every attached tab.
func (m *Manager) NetworkLogs(ctx context.Context, tabID string, clear bool) ([]schemas.NetworkEntry, error) {
	if tabID != "" {
		t, err := m.tab(ctx, tabID)
		if err != nil {
			return nil, err
		}
		return t.harvester.Entries(clear), nil
	}
	m.mu.Lock()
	tabs := make([]*tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		tabs = append(tabs, t)
	}
	m.mu.Unlock()

	var entries []schemas.NetworkEntry
	for _, t := range tabs {
		entries = append(entries, t.harvester.Entries(clear)...)
	}
	return entries, nil
}

// Shutdown detaches every tab and terminates the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated.")
	m.mu.Lock()
	for id, t := range m.tabs {
		t.harvester.stopListening()
		t.cancel()
		delete(m.tabs, id)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.shutdownContexts()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Browser manager shutdown complete.")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for the browser to exit.", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (m *Manager) shutdownContexts() {
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
}
