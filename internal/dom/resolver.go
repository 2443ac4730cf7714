package dom

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"go.uber.org/zap"
)

// InteractiveSelector matches the elements considered by the visible-text strategy.
const InteractiveSelector = `a, button, label, select, textarea, summary, ` +
	`input[type="submit"], input[type="button"], input[type="reset"], ` +
	`[role="button"], [role="link"], [role="tab"], [role="menuitem"], ` +
	`[role="checkbox"], [role="radio"], [onclick]`

var bareIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Strategy names one resolution step.
type Strategy string

const (
	StrategyCSS         Strategy = "css"
	StrategyID          Strategy = "id"
	StrategyName        Strategy = "name"
	StrategyTestID      Strategy = "data-testid"
	StrategyAriaLabel   Strategy = "aria-label"
	StrategyPlaceholder Strategy = "placeholder"
	StrategyText        Strategy = "text"
)

type step struct {
	strategy Strategy
	find     func(ctx context.Context, p Page, input string) (Element, bool, error)
}

// Resolver maps selector or intent strings to elements using ordered strategies.
// The first strategy that matches wins.
type Resolver struct {
	page   Page
	logger *zap.Logger
	steps  []step
}

// NewResolver creates a Resolver over page.
func NewResolver(page Page, logger *zap.Logger) *Resolver {
	return &Resolver{
		page:   page,
		logger: logger.Named("resolver"),
		steps: []step{
			{StrategyCSS, func(ctx context.Context, p Page, in string) (Element, bool, error) {
				return first(ctx, p, in)
			}},
			{StrategyID, func(ctx context.Context, p Page, in string) (Element, bool, error) {
				if !bareIdentifier.MatchString(in) {
					return Element{}, false, nil
				}
				return first(ctx, p, "#"+EscapeIdent(in))
			}},
			{StrategyName, byAttr("name")},
			{StrategyTestID, byAttr("data-testid")},
			{StrategyAriaLabel, byAttr("aria-label")},
			{StrategyPlaceholder, byPlaceholder},
			{StrategyText, byVisibleText},
		},
	}
}

// Resolve returns the element input designates. found is false when no
// strategy matched; err is reserved for page failures.
func (r *Resolver) Resolve(ctx context.Context, input string) (Element, bool, error) {
	el, _, found, err := r.ResolveStrategy(ctx, input)
	return el, found, err
}

// ResolveStrategy is Resolve that also reports which strategy matched.
func (r *Resolver) ResolveStrategy(ctx context.Context, input string) (Element, Strategy, bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Element{}, "", false, nil
	}
	for _, s := range r.steps {
		if err := ctx.Err(); err != nil {
			return Element{}, "", false, err
		}
		el, ok, err := s.find(ctx, r.page, input)
		if err != nil {
			return Element{}, "", false, err
		}
		if ok {
			r.logger.Debug("Element resolved.", zap.String("input", input), zap.String("strategy", string(s.strategy)))
			return el, s.strategy, true, nil
		}
	}
	return Element{}, "", false, nil
}

// Require is Resolve with absence reported as an ElementNotFound error.
func (r *Resolver) Require(ctx context.Context, input string) (Element, error) {
	el, found, err := r.Resolve(ctx, input)
	if err != nil {
		return Element{}, err
	}
	if !found {
		return Element{}, failure.NotFound(input)
	}
	return el, nil
}

// first returns the first match of selector; an unparsable selector is a miss.
func first(ctx context.Context, p Page, selector string) (Element, bool, error) {
	els, err := p.QueryAll(ctx, nil, selector)
	if errors.Is(err, ErrInvalidSelector) {
		return Element{}, false, nil
	}
	if err != nil {
		return Element{}, false, err
	}
	if len(els) == 0 {
		return Element{}, false, nil
	}
	return els[0], true, nil
}

func byAttr(attr string) func(ctx context.Context, p Page, in string) (Element, bool, error) {
	return func(ctx context.Context, p Page, in string) (Element, bool, error) {
		return first(ctx, p, AttrSelector(attr, in))
	}
}

func byPlaceholder(ctx context.Context, p Page, in string) (Element, bool, error) {
	els, err := p.QueryAll(ctx, nil, "[placeholder]")
	if err != nil {
		return Element{}, false, err
	}
	needle := normalize(in)
	for _, el := range els {
		if strings.Contains(normalize(el.Placeholder), needle) {
			return el, true, nil
		}
	}
	return Element{}, false, nil
}

// byVisibleText prefers the shortest matching text; ties keep document order.
func byVisibleText(ctx context.Context, p Page, in string) (Element, bool, error) {
	els, err := p.QueryAll(ctx, nil, InteractiveSelector)
	if err != nil {
		return Element{}, false, err
	}
	needle := normalize(in)
	best, bestLen := -1, 0
	for i, el := range els {
		if !el.Visible {
			continue
		}
		text := normalize(el.Text)
		if text == "" || !strings.Contains(text, needle) {
			continue
		}
		if best < 0 || len(text) < bestLen {
			best, bestLen = i, len(text)
		}
	}
	if best < 0 {
		return Element{}, false, nil
	}
	return els[best], true, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
