package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope is the shape every page script resolves to.
type envelope struct {
	OK    bool                `json:"ok"`
	Code  string              `json:"code"`
	Error string              `json:"error"`
	Value jsoniter.RawMessage `json:"value"`
}

// decodeEnvelope maps a page script result onto out, translating the script's
// error codes into the dom package's sentinel errors.
func decodeEnvelope(raw string, out interface{}) error {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("malformed page script result: %w", err)
	}
	if !env.OK {
		switch env.Code {
		case "invalid_selector":
			return fmt.Errorf("%w: %s", dom.ErrInvalidSelector, env.Error)
		case "detached":
			return fmt.Errorf("%w: %s", dom.ErrDetached, env.Error)
		}
		return fmt.Errorf("page script failed: %s", env.Error)
	}
	if out == nil || len(env.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return fmt.Errorf("failed to decode page script value: %w", err)
	}
	return nil
}

// cdpPage implements dom.Page on one DevTools target.
type cdpPage struct {
	// tabCtx carries the chromedp target; operation deadlines come from the
	// caller's context.
	tabCtx context.Context
	logger *zap.Logger
}

var _ dom.Page = (*cdpPage)(nil)

func newCDPPage(tabCtx context.Context, logger *zap.Logger) *cdpPage {
	return &cdpPage{tabCtx: tabCtx, logger: logger}
}

func (p *cdpPage) eval(ctx context.Context, script string, out interface{}) error {
	runCtx, cancel := CombineContext(p.tabCtx, ctx)
	defer cancel()

	var raw string
	err := chromedp.Run(runCtx, chromedp.Evaluate(script, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		// Report the caller's deadline or cancellation rather than chromedp's wrapper.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.logger.Debug("Page evaluation failed.", zap.Error(err))
		return fmt.Errorf("page evaluation failed: %w", err)
	}
	return decodeEnvelope(raw, out)
}

func (p *cdpPage) QueryAll(ctx context.Context, scope *dom.Handle, selector string) ([]dom.Element, error) {
	var els []dom.Element
	if err := p.eval(ctx, queryAllScript(scope, selector), &els); err != nil {
		return nil, err
	}
	for i := range els {
		h := dom.Handle{Selector: selector, Index: i}
		if scope != nil {
			h = scope.Child(selector, i)
		}
		els[i].Handle = h
		if els[i].Selector == "" {
			els[i].Selector = h.String()
		}
	}
	return els, nil
}

func (p *cdpPage) Describe(ctx context.Context, h dom.Handle) (dom.Element, error) {
	var el dom.Element
	if err := p.eval(ctx, describeScript(h), &el); err != nil {
		if errors.Is(err, dom.ErrInvalidSelector) {
			return dom.Element{}, fmt.Errorf("%w: %v", dom.ErrDetached, err)
		}
		return dom.Element{}, err
	}
	el.Handle = h
	if el.Selector == "" {
		el.Selector = h.String()
	}
	return el, nil
}

func (p *cdpPage) Dispatch(ctx context.Context, h dom.Handle, ev dom.Event) error {
	return p.eval(ctx, dispatchScript(h, ev), nil)
}

func (p *cdpPage) SetProperty(ctx context.Context, h dom.Handle, name string, value interface{}) error {
	return p.eval(ctx, setPropertyScript(h, name, value), nil)
}

func (p *cdpPage) Invoke(ctx context.Context, h dom.Handle, method string) error {
	return p.eval(ctx, invokeScript(h, method), nil)
}

func (p *cdpPage) HTML(ctx context.Context, h *dom.Handle) (string, error) {
	var html string
	err := p.eval(ctx, htmlScript(h), &html)
	return html, err
}

func (p *cdpPage) Location(ctx context.Context) (dom.Location, error) {
	var loc dom.Location
	err := p.eval(ctx, locationScript(), &loc)
	return loc, err
}
