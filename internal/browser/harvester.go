package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
)

// Harvester records the network traffic of one tab while capture is on.
// It keeps at most limit entries, dropping the oldest.
type Harvester struct {
	tabID  string
	limit  int
	logger *zap.Logger

	mu      sync.Mutex
	entries []*schemas.NetworkEntry
	byID    map[network.RequestID]*schemas.NetworkEntry
	cancel  context.CancelFunc
}

// NewHarvester creates an idle harvester for tabID.
func NewHarvester(tabID string, limit int, logger *zap.Logger) *Harvester {
	if limit <= 0 {
		limit = 1000
	}
	return &Harvester{
		tabID:  tabID,
		limit:  limit,
		logger: logger.Named("harvester").With(zap.String("tab_id", tabID)),
		byID:   make(map[network.RequestID]*schemas.NetworkEntry),
	}
}

// Active reports whether events are being recorded.
func (h *Harvester) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

// Start enables the network domain on the tab and begins recording. Starting
// an active harvester is a no-op.
func (h *Harvester) Start(ctx, tabCtx context.Context) error {
	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return nil
	}
	listenCtx, cancel := context.WithCancel(tabCtx)
	h.cancel = cancel
	h.mu.Unlock()

	chromedp.ListenTarget(listenCtx, h.handleEvent)

	runCtx, done := CombineContext(tabCtx, ctx)
	defer done()
	if err := chromedp.Run(runCtx, network.Enable()); err != nil {
		h.stopListening()
		return fmt.Errorf("failed to enable network capture: %w", err)
	}
	h.logger.Debug("Network capture started.")
	return nil
}

// Stop ends recording. Entries already captured are kept.
func (h *Harvester) Stop(ctx, tabCtx context.Context) error {
	if !h.stopListening() {
		return nil
	}
	runCtx, done := CombineContext(tabCtx, ctx)
	defer done()
	if err := chromedp.Run(runCtx, network.Disable()); err != nil {
		return fmt.Errorf("failed to disable network capture: %w", err)
	}
	h.logger.Debug("Network capture stopped.")
	return nil
}

func (h *Harvester) stopListening() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		return false
	}
	h.cancel()
	h.cancel = nil
	return true
}

// Entries returns the captured entries, oldest first, and empties the buffer
// when clear is set.
func (h *Harvester) Entries(clear bool) []schemas.NetworkEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]schemas.NetworkEntry, len(h.entries))
	for i, e := range h.entries {
		out[i] = *e
		out[i].Headers = copyHeaders(e.Headers)
	}
	if clear {
		h.entries = nil
		h.byID = make(map[network.RequestID]*schemas.NetworkEntry)
	}
	return out
}

func (h *Harvester) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		h.handleRequestWillBeSent(e)
	case *network.EventResponseReceived:
		h.handleResponseReceived(e)
	case *network.EventLoadingFinished:
		h.handleLoadingFinished(e)
	case *network.EventLoadingFailed:
		h.handleLoadingFailed(e)
	}
}

func (h *Harvester) handleRequestWillBeSent(e *network.EventRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	now := time.Now()
	started := now
	if e.WallTime != nil {
		started = e.WallTime.Time()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// A redirect reuses the request id; close out the previous hop.
	if prev, ok := h.byID[e.RequestID]; ok && e.RedirectResponse != nil {
		prev.Status = e.RedirectResponse.Status
		prev.MimeType = e.RedirectResponse.MimeType
		prev.Headers = flattenHeaders(e.RedirectResponse.Headers)
		prev.FinishedAt = &now
	}

	entry := &schemas.NetworkEntry{
		RequestID:    string(e.RequestID),
		TabID:        h.tabID,
		URL:          e.Request.URL,
		Method:       e.Request.Method,
		ResourceType: string(e.Type),
		StartedAt:    started,
	}
	h.entries = append(h.entries, entry)
	h.byID[e.RequestID] = entry

	if over := len(h.entries) - h.limit; over > 0 {
		for _, dropped := range h.entries[:over] {
			if h.byID[network.RequestID(dropped.RequestID)] == dropped {
				delete(h.byID, network.RequestID(dropped.RequestID))
			}
		}
		h.entries = append([]*schemas.NetworkEntry(nil), h.entries[over:]...)
	}
}

func (h *Harvester) handleResponseReceived(e *network.EventResponseReceived) {
	if e.Response == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.byID[e.RequestID]
	if !ok {
		return
	}
	entry.Status = e.Response.Status
	entry.MimeType = e.Response.MimeType
	entry.Headers = flattenHeaders(e.Response.Headers)
}

func (h *Harvester) handleLoadingFinished(e *network.EventLoadingFinished) {
	h.finish(e.RequestID, false, "")
}

func (h *Harvester) handleLoadingFailed(e *network.EventLoadingFailed) {
	h.finish(e.RequestID, true, e.ErrorText)
}

func (h *Harvester) finish(id network.RequestID, failed bool, errorText string) {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.byID[id]
	if !ok {
		return
	}
	entry.FinishedAt = &now
	entry.Failed = failed
	entry.ErrorText = errorText
}

func flattenHeaders(headers network.Headers) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func copyHeaders(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
