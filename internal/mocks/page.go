// Package mocks holds test doubles shared across packages: an in-memory
// document implementing dom.Page and testify mocks for the browser host.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
)

// Attrs is an attribute map for El.
type Attrs map[string]string

// Node is one element of a FakePage document.
type Node struct {
	Tag      string
	Attrs    Attrs
	Children []*Node
	Parent   *Node

	// OwnText is the text directly inside the node.
	OwnText  string
	Value    string
	Checked  bool
	Selected bool
	Hidden   bool
	Rect     dom.Rect
}

// El builds a node. value, checked and selected attributes seed the live state.
func El(tag string, attrs Attrs, children ...*Node) *Node {
	if attrs == nil {
		attrs = Attrs{}
	}
	n := &Node{Tag: strings.ToLower(tag), Attrs: attrs, Rect: dom.Rect{X: 10, Y: 10, Width: 120, Height: 24}}
	n.Value = attrs["value"]
	_, n.Checked = attrs["checked"]
	_, n.Selected = attrs["selected"]
	if n.Tag == "input" && attrs["type"] == "hidden" {
		n.Rect = dom.Rect{}
	}
	for _, c := range children {
		c.Parent = n
	}
	n.Children = children
	if n.Tag == "select" {
		n.syncSelectValue()
	}
	return n
}

// WithText sets the node's own text.
func (n *Node) WithText(text string) *Node {
	n.OwnText = text
	return n
}

// Invisible marks the node as not rendered.
func (n *Node) Invisible() *Node {
	n.Hidden = true
	n.Rect = dom.Rect{}
	return n
}

// At sets the node's bounding box.
func (n *Node) At(r dom.Rect) *Node {
	n.Rect = r
	return n
}

func (n *Node) syncSelectValue() {
	opts := n.descendants("option")
	n.Value = ""
	for _, o := range opts {
		if o.Selected {
			n.Value = o.optionValue()
			return
		}
	}
	if _, multi := n.Attrs["multiple"]; len(opts) > 0 && !multi {
		n.Value = opts[0].optionValue()
	}
}

func (n *Node) optionValue() string {
	if v, ok := n.Attrs["value"]; ok {
		return v
	}
	return n.innerText()
}

func (n *Node) descendants(tag string) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(cur *Node) {
		for _, c := range cur.Children {
			if tag == "" || c.Tag == tag {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func (n *Node) innerText() string {
	if n.Hidden {
		return ""
	}
	parts := []string{n.OwnText}
	for _, c := range n.Children {
		parts = append(parts, c.innerText())
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func (n *Node) closest(tag string) *Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Tag == tag {
			return cur
		}
	}
	return nil
}

// Record is one dispatched event, tagged with the target's selector.
type Record struct {
	Target string
	Event  dom.Event
}

// FakePage is an in-memory document implementing dom.Page. It is safe for
// concurrent use.
type FakePage struct {
	mu    sync.Mutex
	root  *Node
	url   string
	title string

	events      []Record
	invocations []string
	submitted   []string

	// Err, when set, fails every call.
	Err error
}

// NewFakePage builds a document with the given top-level nodes.
func NewFakePage(url, title string, body ...*Node) *FakePage {
	root := &Node{}
	for _, c := range body {
		c.Parent = root
	}
	root.Children = body
	return &FakePage{root: root, url: url, title: title}
}

// Append attaches child under parent (the document when nil).
func (p *FakePage) Append(parent, child *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if parent == nil {
		parent = p.root
	}
	child.Parent = parent
	parent.Children = append(parent.Children, child)
}

// Remove detaches n from the document.
func (p *FakePage) Remove(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n.Parent == nil {
		return
	}
	siblings := n.Parent.Children
	for i, c := range siblings {
		if c == n {
			n.Parent.Children = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	n.Parent = nil
}

// SetLocation changes the reported URL and title.
func (p *FakePage) SetLocation(url, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url, p.title = url, title
}

// Events returns the dispatched events in order.
func (p *FakePage) Events() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.events...)
}

// EventTypes returns the dispatched event types targeting selector, in order.
// Key events are reported as "type:key".
func (p *FakePage) EventTypes(selector string) []string {
	var out []string
	for _, r := range p.Events() {
		if r.Target != selector {
			continue
		}
		if r.Event.Key != "" {
			out = append(out, r.Event.Type+":"+r.Event.Key)
		} else {
			out = append(out, r.Event.Type)
		}
	}
	return out
}

// Invocations returns "method selector" for every Invoke call.
func (p *FakePage) Invocations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.invocations...)
}

// Submitted returns the selectors of submitted forms.
func (p *FakePage) Submitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.submitted...)
}

func (p *FakePage) QueryAll(ctx context.Context, scope *dom.Handle, selector string) ([]dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	base := p.root
	if scope != nil {
		n, err := p.locate(*scope)
		if err != nil {
			return nil, err
		}
		base = n
	}
	nodes, err := p.query(base, selector)
	if err != nil {
		return nil, err
	}
	out := make([]dom.Element, len(nodes))
	for i, n := range nodes {
		h := dom.Handle{Selector: selector, Index: i}
		if scope != nil {
			h = scope.Child(selector, i)
		}
		out[i] = p.describe(n, h)
	}
	return out, nil
}

func (p *FakePage) Describe(ctx context.Context, h dom.Handle) (dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return dom.Element{}, err
	}
	n, err := p.locate(h)
	if err != nil {
		return dom.Element{}, err
	}
	return p.describe(n, h), nil
}

func (p *FakePage) Dispatch(ctx context.Context, h dom.Handle, ev dom.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	n, err := p.locate(h)
	if err != nil {
		return err
	}
	p.events = append(p.events, Record{Target: selectorFor(n, h), Event: ev})
	return nil
}

func (p *FakePage) SetProperty(ctx context.Context, h dom.Handle, name string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	n, err := p.locate(h)
	if err != nil {
		return err
	}
	switch name {
	case dom.PropValue:
		s, _ := value.(string)
		n.Value = s
		if n.Tag == "select" {
			for _, o := range n.descendants("option") {
				o.Selected = o.optionValue() == s
			}
		}
	case dom.PropChecked:
		b, _ := value.(bool)
		n.Checked = b
		if b && n.Tag == "input" && n.Attrs["type"] == "radio" {
			p.uncheckGroup(n)
		}
	case dom.PropSelected:
		b, _ := value.(bool)
		n.Selected = b
		if sel := n.closest("select"); sel != nil {
			if _, multi := sel.Attrs["multiple"]; b && !multi {
				for _, o := range sel.descendants("option") {
					if o != n {
						o.Selected = false
					}
				}
			}
			sel.syncSelectValue()
		}
	default:
		return fmt.Errorf("unsupported property %q", name)
	}
	return nil
}

func (p *FakePage) uncheckGroup(n *Node) {
	name := n.Attrs["name"]
	if name == "" {
		return
	}
	scope := n.closest("form")
	if scope == nil {
		scope = p.root
	}
	for _, other := range scope.descendants("input") {
		if other != n && other.Attrs["type"] == "radio" && other.Attrs["name"] == name {
			other.Checked = false
		}
	}
}

func (p *FakePage) Invoke(ctx context.Context, h dom.Handle, method string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	n, err := p.locate(h)
	if err != nil {
		return err
	}
	p.invocations = append(p.invocations, method+" "+selectorFor(n, h))
	switch method {
	case dom.MethodFocus, dom.MethodScrollIntoView:
		return nil
	case dom.MethodSubmit:
		form := n
		if n.Tag != "form" {
			form = n.closest("form")
		}
		if form == nil {
			return fmt.Errorf("no form owner")
		}
		p.submitted = append(p.submitted, selectorFor(form, dom.Handle{Selector: "form"}))
		return nil
	}
	return fmt.Errorf("unsupported method %q", method)
}

func (p *FakePage) HTML(ctx context.Context, h *dom.Handle) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	if h == nil {
		var b strings.Builder
		for _, c := range p.root.Children {
			serialize(&b, c)
		}
		return b.String(), nil
	}
	n, err := p.locate(*h)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(n.OwnText)
	for _, c := range n.Children {
		serialize(&b, c)
	}
	return b.String(), nil
}

func (p *FakePage) Location(ctx context.Context) (dom.Location, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return dom.Location{}, err
	}
	return dom.Location{URL: p.url, Title: p.title}, nil
}

func (p *FakePage) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Err
}

func (p *FakePage) query(base *Node, selector string) ([]*Node, error) {
	groups, err := parseSelector(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dom.ErrInvalidSelector, selector, err)
	}
	var out []*Node
	for _, n := range base.descendants("") {
		for _, g := range groups {
			if g.matches(n) {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

func (p *FakePage) locate(h dom.Handle) (*Node, error) {
	cur := p.root
	for _, step := range h.Path() {
		nodes, err := p.query(cur, step.Selector)
		if err != nil {
			return nil, err
		}
		if step.Index >= len(nodes) {
			return nil, fmt.Errorf("%w: %s", dom.ErrDetached, h)
		}
		cur = nodes[step.Index]
	}
	return cur, nil
}

func (p *FakePage) connected(n *Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == p.root {
			return true
		}
	}
	return false
}

func (p *FakePage) describe(n *Node, h dom.Handle) dom.Element {
	_, disabled := n.Attrs["disabled"]
	_, readOnly := n.Attrs["readonly"]
	_, required := n.Attrs["required"]
	_, multiple := n.Attrs["multiple"]
	_, tabindex := n.Attrs["tabindex"]

	el := dom.Element{
		Handle:      h,
		Selector:    selectorFor(n, h),
		Tag:         n.Tag,
		Type:        n.Attrs["type"],
		ID:          n.Attrs["id"],
		Name:        n.Attrs["name"],
		Value:       n.Value,
		Text:        n.innerText(),
		Placeholder: n.Attrs["placeholder"],
		Label:       p.label(n),
		Href:        n.Attrs["href"],
		Target:      n.Attrs["target"],
		Action:      n.Attrs["action"],
		Method:      n.Attrs["method"],
		FormAction:  n.Attrs["formaction"],
		Accept:      n.Attrs["accept"],
		Checked:     n.Checked,
		Selected:    n.Selected,
		Disabled:    disabled,
		ReadOnly:    readOnly,
		Required:    required,
		Multiple:    multiple,
		Visible:     !n.Hidden && !n.Rect.Empty(),
		Connected:   p.connected(n),
		InForm:      n.closest("form") != nil,
		Rect:        n.Rect,
	}
	switch n.Tag {
	case "input":
		if el.Type == "" {
			el.Type = "text"
		}
		switch el.Type {
		case "submit", "button", "reset":
			el.Text = n.Value
		}
		el.Focusable = true
	case "button":
		if el.Type == "" {
			el.Type = "submit"
		}
		el.Focusable = true
	case "select":
		el.Type = "select-one"
		if multiple {
			el.Type = "select-multiple"
		}
		el.Focusable = true
	case "textarea":
		el.Type = "textarea"
		el.Focusable = true
	case "option":
		el.Value = n.optionValue()
	case "a":
		el.Focusable = el.Href != ""
	}
	if tabindex {
		el.Focusable = true
	}
	return el
}

func (p *FakePage) label(n *Node) string {
	if v := n.Attrs["aria-label"]; v != "" {
		return v
	}
	if id := n.Attrs["id"]; id != "" {
		for _, l := range p.root.descendants("label") {
			if l.Attrs["for"] == id {
				return l.innerText()
			}
		}
	}
	if l := n.closest("label"); l != nil {
		return l.innerText()
	}
	return ""
}

func selectorFor(n *Node, h dom.Handle) string {
	if id := n.Attrs["id"]; id != "" {
		return "#" + dom.EscapeIdent(id)
	}
	if name := n.Attrs["name"]; name != "" && n.Attrs["type"] != "radio" {
		return n.Tag + dom.AttrSelector("name", name)
	}
	return h.String()
}

func serialize(b *strings.Builder, n *Node) {
	b.WriteString("<" + n.Tag)
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%q", k, n.Attrs[k])
	}
	b.WriteString(">")
	b.WriteString(n.OwnText)
	for _, c := range n.Children {
		serialize(b, c)
	}
	b.WriteString("</" + n.Tag + ">")
}
