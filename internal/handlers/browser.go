package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/interact"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/params"
)

func (h *Handlers) screenshot(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	p := params.Params(raw)
	tabID, err := p.String("tab_id")
	if err != nil {
		return nil, err
	}
	format, err := p.String("format")
	if err != nil {
		return nil, err
	}
	quality, err := p.Int("quality", 0)
	if err != nil {
		return nil, err
	}
	fullPage, err := p.Bool("full_page", false)
	if err != nil {
		return nil, err
	}

	shot, err := h.browser.Screenshot(ctx, tabID, schemas.ScreenshotOptions{Format: format, Quality: quality, FullPage: fullPage})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"screenshot": "data:image/" + shot.Format + ";base64," + shot.Data,
		"format":     shot.Format,
		"tab_id":     shot.TabID,
	}, nil
}

func (h *Handlers) executeScript(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	p := params.Params(raw)
	script, err := p.FirstString("script", "code")
	if err != nil {
		return nil, err
	}
	tabID, err := p.String("tab_id")
	if err != nil {
		return nil, err
	}
	value, err := h.browser.ExecuteScript(ctx, tabID, script)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"result": value}, nil
}

func (h *Handlers) getCookies(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	p := params.Params(raw)
	tabID, err := p.String("tab_id")
	if err != nil {
		return nil, err
	}
	urls := interact.Strings(p.Raw("urls"))
	if len(urls) == 0 {
		if u, err := p.String("url"); err != nil {
			return nil, err
		} else if u != "" {
			urls = []string{u}
		}
	}
	cookies, err := h.browser.Cookies(ctx, tabID, urls)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"cookies": cookies, "count": len(cookies)}, nil
}

func (h *Handlers) listTabs(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	tabs, err := h.browser.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tabs": tabs, "count": len(tabs)}, nil
}

func (h *Handlers) startNetwork(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	tabID, err := params.Params(raw).String("tab_id")
	if err != nil {
		return nil, err
	}
	if err := h.browser.StartNetworkCapture(ctx, tabID); err != nil {
		return nil, err
	}
	h.logger.Info("Network monitoring started.", zap.String("tab_id", tabID))
	return map[string]interface{}{"monitoring": true, "tab_id": tabID}, nil
}

func (h *Handlers) stopNetwork(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	tabID, err := params.Params(raw).String("tab_id")
	if err != nil {
		return nil, err
	}
	if err := h.browser.StopNetworkCapture(ctx, tabID); err != nil {
		return nil, err
	}
	h.logger.Info("Network monitoring stopped.", zap.String("tab_id", tabID))
	return map[string]interface{}{"monitoring": false, "tab_id": tabID}, nil
}

func (h *Handlers) networkLogs(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	p := params.Params(raw)
	tabID, err := p.String("tab_id")
	if err != nil {
		return nil, err
	}
	clearAfter, err := p.Bool("clear", false)
	if err != nil {
		return nil, err
	}
	entries, err := h.browser.NetworkLogs(ctx, tabID, clearAfter)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"entries": entries, "count": len(entries)}, nil
}

func (h *Handlers) getTaskQueue(_ context.Context, raw map[string]interface{}) (interface{}, error) {
	limit, err := params.Params(raw).Int("limit", 0)
	if err != nil {
		return nil, err
	}
	tasks := h.queue.List(limit)
	return map[string]interface{}{"tasks": tasks, "count": len(tasks), "total": h.queue.Len()}, nil
}

// clearTaskQueue empties the queue, including the record of this command.
func (h *Handlers) clearTaskQueue(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	n := h.queue.Len()
	h.queue.Clear(ctx)
	h.logger.Info("Task queue cleared.", zap.Int("tasks", n))
	return map[string]interface{}{"cleared": n}, nil
}
