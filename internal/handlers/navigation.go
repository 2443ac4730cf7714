package handlers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/params"
)

// checkURL rejects targets that are not absolute http(s) URLs or that fall
// outside the allow-list.
func (h *Handlers) checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		if raw == "about:blank" {
			return nil
		}
		return failure.Validation("Invalid URL: %s", raw)
	}
	if len(h.allowed) == 0 {
		return nil
	}
	for _, g := range h.allowed {
		if g.Match(raw) {
			return nil
		}
	}
	return failure.Validation("URL not allowed: %s", raw)
}

func (h *Handlers) navigateTimeout(raw map[string]interface{}) time.Duration {
	d, err := params.Params(raw).Millis("timeout", 0)
	if err != nil || d == 0 {
		return 0
	}
	return d + waitSlack
}

// navigate loads a URL and optionally waits for a selector to appear.
func (h *Handlers) navigate(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	p := params.Params(raw)
	target, err := p.RequireString("url")
	if err != nil {
		return nil, err
	}
	if err := h.checkURL(target); err != nil {
		return nil, err
	}
	tabID, err := p.String("tab_id")
	if err != nil {
		return nil, err
	}
	waitFor, err := p.String("wait_for")
	if err != nil {
		return nil, err
	}
	budget, err := p.Millis("timeout", 0)
	if err != nil {
		return nil, err
	}
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	tab, err := h.browser.Navigate(ctx, tabID, target)
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{
		"url":    tab.URL,
		"title":  tab.Title,
		"tab_id": tab.ID,
		"tabId":  tab.ID, // older controllers
		"loaded": true,
	}
	if waitFor == "" {
		return result, nil
	}

	wait := h.cfg.DefaultWait
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	found, err := h.waitFor(ctx, tab.ID, waitFor, false, wait)
	if err != nil {
		return nil, err
	}
	result["wait_for"] = found
	return result, nil
}

// step is one entry of a navigate_multi_step sequence.
type step struct {
	id        string
	cmd       schemas.CommandType
	params    map[string]interface{}
	waitAfter time.Duration
}

func (h *Handlers) parseSteps(p params.Params) ([]step, error) {
	list, err := p.Slice("steps")
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, failure.Validation("Missing required parameter: steps")
	}
	tabID, err := p.String("tab_id")
	if err != nil {
		return nil, err
	}

	steps := make([]step, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, failure.Validation("Invalid step %d: expected an object", i+1)
		}
		sp := params.Params(m)
		typ, err := sp.FirstString("type", "action")
		if err != nil {
			return nil, err
		}
		cmd := schemas.CommandType(typ)
		if _, known := h.table[cmd]; !known || typ == "" {
			return nil, failure.Validation("Invalid step %d: unknown command type %q", i+1, typ)
		}
		if cmd == schemas.CommandNavigateMultiStep {
			return nil, failure.Validation("Invalid step %d: steps cannot nest", i+1)
		}
		stepParams, err := sp.Map("params")
		if err != nil {
			return nil, err
		}
		if stepParams == nil {
			stepParams = map[string]interface{}{}
		}
		if _, set := stepParams["tab_id"]; !set && tabID != "" {
			stepParams["tab_id"] = tabID
		}
		waitAfter, err := sp.Millis("wait_after", 0)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step{id: uuid.NewString(), cmd: cmd, params: stepParams, waitAfter: waitAfter})
	}
	return steps, nil
}

func (h *Handlers) multiStepTimeout(raw map[string]interface{}) time.Duration {
	p := params.Params(raw)
	if d, err := p.Millis("timeout", 0); err == nil && d > 0 {
		return d
	}
	list, err := p.Slice("steps")
	if err != nil || len(list) == 0 {
		return 0
	}
	var total time.Duration
	for _, item := range list {
		total += h.cfg.StepTimeout
		if m, ok := item.(map[string]interface{}); ok {
			if d, err := params.Params(m).Millis("wait_after", 0); err == nil {
				total += d
			}
		}
	}
	return total
}

// navigateMultiStep runs a sequence of commands in order. Each step gets its
// own id for logging; steps do not appear in the task queue.
func (h *Handlers) navigateMultiStep(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	p := params.Params(raw)
	steps, err := h.parseSteps(p)
	if err != nil {
		return nil, err
	}
	stopOnError, err := p.Bool("stop_on_error", true)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0, len(steps))
	failed := 0
	for i, s := range steps {
		logger := h.logger.With(zap.Int("step", i+1), zap.String("step_id", s.id), zap.String("type", string(s.cmd)))
		value, err := h.table[s.cmd].handler(ctx, s.params)
		res := map[string]interface{}{
			"step":    i + 1,
			"id":      s.id,
			"type":    string(s.cmd),
			"success": err == nil,
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failed++
			kind := failure.KindOf(err)
			res["error"] = err.Error()
			res["kind"] = string(kind)
			logger.Info("Step failed.", zap.Error(err))
			if stopOnError {
				return nil, failure.Wrap(kind, err, fmt.Sprintf("Step %d (%s) failed: %s", i+1, s.cmd, err.Error()))
			}
		} else {
			res["result"] = value
			logger.Debug("Step completed.")
		}
		results = append(results, res)

		if s.waitAfter > 0 {
			timer := time.NewTimer(s.waitAfter)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
	}

	return map[string]interface{}{
		"steps":     results,
		"completed": len(results) - failed,
		"failed":    failed,
		"summary":   fmt.Sprintf("%d of %d steps succeeded", len(results)-failed, len(results)),
	}, nil
}
