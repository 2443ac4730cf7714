// Package dom turns selector or intent strings into live page elements.
//
// All page access goes through the Page interface. The production implementation
// runs small scripts against a DevTools target; tests use an in-memory document.
// Elements are addressed by Handle, a query path that is re-evaluated on every
// call, so nothing resolved here outlives the command that resolved it.
package dom

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSelector is returned by Page.QueryAll when the selector does not parse.
var ErrInvalidSelector = errors.New("invalid selector")

// ErrDetached is returned when a Handle no longer addresses a node in the document.
var ErrDetached = errors.New("element is detached")

// Handle addresses the Index-th match of Selector inside Scope (the document when
// Scope is nil).
type Handle struct {
	Scope    *Handle `json:"scope,omitempty"`
	Selector string  `json:"selector"`
	Index    int     `json:"index"`
}

// Child returns a handle for the index-th match of selector inside h.
func (h Handle) Child(selector string, index int) Handle {
	scope := h
	return Handle{Scope: &scope, Selector: selector, Index: index}
}

// Path flattens the handle into its query steps, outermost first.
func (h Handle) Path() []Handle {
	var steps []Handle
	for cur := &h; cur != nil; cur = cur.Scope {
		steps = append(steps, Handle{Selector: cur.Selector, Index: cur.Index})
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps
}

func (h Handle) String() string {
	parts := make([]string, 0, 2)
	for _, step := range h.Path() {
		parts = append(parts, fmt.Sprintf("%s[%d]", step.Selector, step.Index))
	}
	return strings.Join(parts, " >> ")
}

// Rect is a bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the visual centre of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Empty reports a zero-size box.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Element is a point-in-time description of a node. It is never cached; callers
// that need current state ask the Page to Describe the handle again.
type Element struct {
	Handle Handle `json:"-"`

	// Selector is a best-effort CSS selector for the node, suitable for reporting.
	Selector    string `json:"selector"`
	Tag         string `json:"tag"`
	Type        string `json:"type"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Value       string `json:"value"`
	Text        string `json:"text"`
	Placeholder string `json:"placeholder"`
	Label       string `json:"label"`
	Href        string `json:"href"`
	Target      string `json:"target"`
	Action      string `json:"action"`
	Method      string `json:"method"`
	FormAction  string `json:"formAction"`
	Accept      string `json:"accept"`

	Checked   bool `json:"checked"`
	Selected  bool `json:"selected"`
	Disabled  bool `json:"disabled"`
	ReadOnly  bool `json:"readOnly"`
	Required  bool `json:"required"`
	Multiple  bool `json:"multiple"`
	Visible   bool `json:"visible"`
	Connected bool `json:"connected"`
	Focusable bool `json:"focusable"`
	InForm    bool `json:"inForm"`

	Rect Rect `json:"rect"`
}

// Is reports whether the element is an input of one of the given types.
func (e Element) Is(inputTypes ...string) bool {
	if e.Tag != "input" {
		return false
	}
	for _, t := range inputTypes {
		if strings.EqualFold(e.Type, t) {
			return true
		}
	}
	return false
}

// Event is a synthetic DOM event. The event class (keyboard, mouse, pointer,
// plain) follows from Type.
type Event struct {
	Type    string  `json:"type"`
	Key     string  `json:"key,omitempty"`
	ClientX float64 `json:"clientX,omitempty"`
	ClientY float64 `json:"clientY,omitempty"`
}

// Properties accepted by Page.SetProperty.
const (
	PropValue    = "value"
	PropChecked  = "checked"
	PropSelected = "selected"
)

// Methods accepted by Page.Invoke.
const (
	MethodFocus          = "focus"
	MethodScrollIntoView = "scrollIntoView"
	// MethodSubmit submits the element's form owner, or the element itself when it is a form.
	MethodSubmit = "submit"
)

// Location identifies the loaded document.
type Location struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Page is the narrow view of one tab used by the resolver, simulator and extractor.
type Page interface {
	// QueryAll returns every match of selector inside scope (the document when nil),
	// in document order. An unparsable selector yields ErrInvalidSelector.
	QueryAll(ctx context.Context, scope *Handle, selector string) ([]Element, error)
	// Describe re-reads the current state of h, or returns ErrDetached.
	Describe(ctx context.Context, h Handle) (Element, error)
	Dispatch(ctx context.Context, h Handle, ev Event) error
	SetProperty(ctx context.Context, h Handle, name string, value interface{}) error
	Invoke(ctx context.Context, h Handle, method string) error
	// HTML returns the inner HTML of h, or the document's outer HTML when h is nil.
	HTML(ctx context.Context, h *Handle) (string, error)
	Location(ctx context.Context) (Location, error)
}
