package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/bridge"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/params"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/router"
)

// relay forwards a command unchanged to the bridge action of the same name.
func (h *Handlers) relay(action string) router.HandlerFunc {
	return func(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
		tabID, err := params.Params(raw).String("tab_id")
		if err != nil {
			return nil, err
		}
		return h.send(ctx, tabID, action, raw)
	}
}

// send delivers one bridge message and turns a failed reply into an error
// that keeps the reply's kind.
func (h *Handlers) send(ctx context.Context, tabID, action string, p map[string]interface{}) (map[string]interface{}, error) {
	reply, err := h.messenger.Send(ctx, tabID, schemas.BridgeMessage{Action: action, Params: p})
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		return nil, bridge.ReplyError(reply)
	}
	if reply.Data == nil {
		return map[string]interface{}{}, nil
	}
	return reply.Data, nil
}

func (h *Handlers) waitBudget(p params.Params) (time.Duration, error) {
	return p.Millis("timeout", h.cfg.DefaultWait)
}

func (h *Handlers) waitTimeout(raw map[string]interface{}) time.Duration {
	d, err := h.waitBudget(raw)
	if err != nil {
		// Let the handler report the bad parameter.
		return 0
	}
	return d + waitSlack
}

// waitForElement polls the page until the selector resolves or the budget runs out.
func (h *Handlers) waitForElement(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	p := params.Params(raw)
	sel, err := p.RequireString("selector")
	if err != nil {
		return nil, err
	}
	budget, err := h.waitBudget(p)
	if err != nil {
		return nil, err
	}
	visible, err := p.Bool("visible", false)
	if err != nil {
		return nil, err
	}
	tabID, err := p.String("tab_id")
	if err != nil {
		return nil, err
	}
	return h.waitFor(ctx, tabID, sel, visible, budget)
}

func (h *Handlers) waitFor(ctx context.Context, tabID, selector string, visible bool, budget time.Duration) (map[string]interface{}, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(h.cfg.PollInterval), 1)
	limiter.Allow() // the first probe goes out immediately
	probe := map[string]interface{}{"selector": selector, "visible": visible}
	polls := 0
	for {
		polls++
		data, err := h.send(waitCtx, tabID, string(schemas.CommandWaitForElement), probe)
		if err != nil && waitCtx.Err() == nil {
			return nil, err
		}
		if err == nil {
			if found, _ := data["found"].(bool); found {
				data["elapsed_ms"] = time.Since(start).Milliseconds()
				return data, nil
			}
		}
		if err := limiter.Wait(waitCtx); err != nil || waitCtx.Err() != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.logger.Debug("Element wait expired.", zap.String("selector", selector), zap.Int("polls", polls))
			return nil, failure.Wrap(failure.KindTimeout, context.DeadlineExceeded,
				"Timed out after "+budget.String()+" waiting for element: "+selector)
		}
	}
}
