// Package interact drives form fields and clicks with realistic DOM event
// sequences. Every mutation of a field ends with an input and a change event so
// reactive front ends observe it.
package interact

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/config"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"go.uber.org/zap"
)

// pointerSequence is dispatched, in order, at the element's centre by Click.
var pointerSequence = []string{"pointerover", "mouseover", "pointerdown", "mousedown", "pointerup", "mouseup", "click"}

// TypeOptions controls Type.
type TypeOptions struct {
	HumanLike bool
	// Clear empties the field first; otherwise text is appended.
	Clear bool
}

// ClickOptions controls Click.
type ClickOptions struct {
	WaitAfter time.Duration
}

// Simulator performs interactions against one page.
type Simulator struct {
	page   dom.Page
	cfg    config.InteractionConfig
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand

	// sleep waits between keystrokes and after clicks; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Simulator.
func New(page dom.Page, cfg config.InteractionConfig, logger *zap.Logger) *Simulator {
	return &Simulator{
		page:   page,
		cfg:    cfg,
		logger: logger.Named("interact"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interactable re-reads el and fails with ElementNotInteractable when it is
// detached, disabled, or has no size.
func (s *Simulator) Interactable(ctx context.Context, el dom.Element) (dom.Element, error) {
	fresh, err := s.page.Describe(ctx, el.Handle)
	if errors.Is(err, dom.ErrDetached) {
		return dom.Element{}, failure.NotInteractable(el.Selector, "detached")
	}
	if err != nil {
		return dom.Element{}, err
	}
	switch {
	case !fresh.Connected:
		return dom.Element{}, failure.NotInteractable(el.Selector, "detached")
	case fresh.Disabled:
		return dom.Element{}, failure.NotInteractable(el.Selector, "disabled")
	case fresh.Rect.Empty():
		return dom.Element{}, failure.NotInteractable(el.Selector, "zero size")
	}
	return fresh, nil
}

// Type enters text into el. Human-like typing sends keydown, keypress, and keyup
// per character with a Gaussian pause between characters; either way a single
// input and change pair follows.
func (s *Simulator) Type(ctx context.Context, el dom.Element, text string, opts TypeOptions) error {
	fresh, err := s.Interactable(ctx, el)
	if err != nil {
		return err
	}
	if fresh.ReadOnly {
		return failure.NotInteractable(el.Selector, "read-only")
	}
	h := fresh.Handle
	if err := s.prepare(ctx, fresh); err != nil {
		return err
	}

	value := fresh.Value
	if opts.Clear {
		value = ""
		if err := s.page.SetProperty(ctx, h, dom.PropValue, ""); err != nil {
			return err
		}
	}

	if !opts.HumanLike {
		if err := s.page.SetProperty(ctx, h, dom.PropValue, value+text); err != nil {
			return err
		}
		return s.commit(ctx, h)
	}

	runes := []rune(text)
	for i, r := range runes {
		key := keyName(r)
		for _, typ := range []string{"keydown", "keypress"} {
			if err := s.page.Dispatch(ctx, h, dom.Event{Type: typ, Key: key}); err != nil {
				return err
			}
		}
		value += string(r)
		if err := s.page.SetProperty(ctx, h, dom.PropValue, value); err != nil {
			return err
		}
		if err := s.page.Dispatch(ctx, h, dom.Event{Type: "keyup", Key: key}); err != nil {
			return err
		}
		if i < len(runes)-1 {
			if err := s.sleep(ctx, s.keyPause()); err != nil {
				return err
			}
		}
	}
	return s.commit(ctx, h)
}

func keyName(r rune) string {
	switch r {
	case '\n':
		return "Enter"
	case '\t':
		return "Tab"
	}
	return string(r)
}

// keyPause draws an inter-key delay from N(mean, stddev), floored at the minimum.
func (s *Simulator) keyPause() time.Duration {
	s.mu.Lock()
	n := s.rng.NormFloat64()
	s.mu.Unlock()
	ms := math.Max(s.cfg.KeyPauseMinMs, n*s.cfg.KeyPauseStdDevMs+s.cfg.KeyPauseMeanMs)
	return time.Duration(ms * float64(time.Millisecond))
}

// Click scrolls el into view, focuses it when focusable, and dispatches the
// pointer sequence ending in click at its visual centre.
func (s *Simulator) Click(ctx context.Context, el dom.Element, opts ClickOptions) error {
	fresh, err := s.Interactable(ctx, el)
	if err != nil {
		return err
	}
	if err := s.prepare(ctx, fresh); err != nil {
		return err
	}
	// The box moves when scrolling.
	if fresh, err = s.Interactable(ctx, fresh); err != nil {
		return err
	}
	x, y := fresh.Rect.Center()
	for _, typ := range pointerSequence {
		if err := s.page.Dispatch(ctx, fresh.Handle, dom.Event{Type: typ, ClientX: x, ClientY: y}); err != nil {
			return err
		}
	}
	s.logger.Debug("Clicked element.", zap.String("selector", el.Selector), zap.Float64("x", x), zap.Float64("y", y))
	return s.sleep(ctx, opts.WaitAfter)
}

func (s *Simulator) prepare(ctx context.Context, el dom.Element) error {
	if err := s.page.Invoke(ctx, el.Handle, dom.MethodScrollIntoView); err != nil {
		return err
	}
	if el.Focusable {
		return s.page.Invoke(ctx, el.Handle, dom.MethodFocus)
	}
	return nil
}

// commit dispatches the input and change pair.
func (s *Simulator) commit(ctx context.Context, h dom.Handle) error {
	if err := s.page.Dispatch(ctx, h, dom.Event{Type: "input"}); err != nil {
		return err
	}
	return s.page.Dispatch(ctx, h, dom.Event{Type: "change"})
}
