package mocks

import (
	"fmt"
	"strconv"
	"strings"
)

// selector.go implements the subset of CSS selectors FakePage understands:
// type, universal, #id, .class, [attr], [attr=value] compounds joined by
// descendant or child combinators, in comma separated groups.

type attrTest struct {
	name     string
	hasValue bool
	value    string
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrTest
	// child is true when this compound is joined to the previous one with '>'.
	child bool
}

type complexSelector []compound

type selectorParser struct {
	in  []rune
	pos int
}

func parseSelector(s string) ([]complexSelector, error) {
	p := &selectorParser{in: []rune(s)}
	var groups []complexSelector
	for {
		p.skipSpace()
		cs, err := p.parseComplex()
		if err != nil {
			return nil, err
		}
		groups = append(groups, cs)
		p.skipSpace()
		if p.eof() {
			return groups, nil
		}
		if p.peek() != ',' {
			return nil, fmt.Errorf("unexpected %q at %d", p.peek(), p.pos)
		}
		p.pos++
	}
}

func (p *selectorParser) parseComplex() (complexSelector, error) {
	var cs complexSelector
	child := false
	for {
		c, err := p.parseCompound()
		if err != nil {
			return nil, err
		}
		c.child = child
		cs = append(cs, c)

		sawSpace := p.skipSpace()
		if p.eof() || p.peek() == ',' {
			return cs, nil
		}
		child = false
		if p.peek() == '>' {
			p.pos++
			p.skipSpace()
			child = true
		} else if !sawSpace {
			return nil, fmt.Errorf("unexpected %q at %d", p.peek(), p.pos)
		}
	}
}

func (p *selectorParser) parseCompound() (compound, error) {
	var c compound
	start := p.pos
	if !p.eof() && p.peek() == '*' {
		p.pos++
		c.tag = "*"
	} else if !p.eof() && isIdentStart(p.peek()) {
		ident, err := p.ident()
		if err != nil {
			return c, err
		}
		c.tag = strings.ToLower(ident)
	}
	for !p.eof() {
		switch p.peek() {
		case '#':
			p.pos++
			ident, err := p.ident()
			if err != nil {
				return c, err
			}
			c.id = ident
		case '.':
			p.pos++
			ident, err := p.ident()
			if err != nil {
				return c, err
			}
			c.classes = append(c.classes, ident)
		case '[':
			p.pos++
			a, err := p.attr()
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, a)
		default:
			if p.pos == start {
				return c, fmt.Errorf("expected selector at %d", p.pos)
			}
			return c, nil
		}
	}
	if p.pos == start {
		return c, fmt.Errorf("empty selector")
	}
	return c, nil
}

func (p *selectorParser) attr() (attrTest, error) {
	p.skipSpace()
	name, err := p.ident()
	if err != nil {
		return attrTest{}, err
	}
	a := attrTest{name: strings.ToLower(name)}
	p.skipSpace()
	if p.eof() {
		return a, fmt.Errorf("unterminated attribute selector")
	}
	if p.peek() == ']' {
		p.pos++
		return a, nil
	}
	if p.peek() != '=' {
		return a, fmt.Errorf("unsupported attribute operator at %d", p.pos)
	}
	p.pos++
	p.skipSpace()
	if p.eof() {
		return a, fmt.Errorf("unterminated attribute selector")
	}
	a.hasValue = true
	if q := p.peek(); q == '"' || q == '\'' {
		a.value, err = p.str(q)
	} else {
		a.value, err = p.ident()
	}
	if err != nil {
		return a, err
	}
	p.skipSpace()
	if p.eof() || p.peek() != ']' {
		return a, fmt.Errorf("unterminated attribute selector")
	}
	p.pos++
	return a, nil
}

func (p *selectorParser) ident() (string, error) {
	var b strings.Builder
	for !p.eof() {
		r := p.peek()
		switch {
		case r == '\\':
			esc, err := p.escape()
			if err != nil {
				return "", err
			}
			b.WriteRune(esc)
		case isIdentChar(r):
			b.WriteRune(r)
			p.pos++
		default:
			return p.checkIdent(b.String())
		}
	}
	return p.checkIdent(b.String())
}

func (p *selectorParser) checkIdent(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("expected identifier at %d", p.pos)
	}
	return s, nil
}

func (p *selectorParser) str(quote rune) (string, error) {
	p.pos++
	var b strings.Builder
	for !p.eof() {
		r := p.peek()
		switch {
		case r == quote:
			p.pos++
			return b.String(), nil
		case r == '\n':
			return "", fmt.Errorf("newline in string")
		case r == '\\':
			esc, err := p.escape()
			if err != nil {
				return "", err
			}
			b.WriteRune(esc)
		default:
			b.WriteRune(r)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string")
}

// escape consumes a backslash escape: up to six hex digits and one optional
// whitespace, or any other single character.
func (p *selectorParser) escape() (rune, error) {
	p.pos++
	if p.eof() {
		return 0, fmt.Errorf("dangling escape")
	}
	if !isHex(p.peek()) {
		r := p.peek()
		if r == '\n' {
			return 0, fmt.Errorf("escaped newline")
		}
		p.pos++
		return r, nil
	}
	start := p.pos
	for !p.eof() && p.pos-start < 6 && isHex(p.peek()) {
		p.pos++
	}
	n, _ := strconv.ParseUint(string(p.in[start:p.pos]), 16, 32)
	if !p.eof() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n') {
		p.pos++
	}
	if n == 0 || n > 0x10FFFF || (n >= 0xD800 && n <= 0xDFFF) {
		return '\uFFFD', nil
	}
	return rune(n), nil
}

func (p *selectorParser) skipSpace() bool {
	skipped := false
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n') {
		p.pos++
		skipped = true
	}
	return skipped
}

func (p *selectorParser) eof() bool  { return p.pos >= len(p.in) }
func (p *selectorParser) peek() rune { return p.in[p.pos] }

func isIdentStart(r rune) bool {
	return r == '_' || r == '-' || r == '\\' || r >= 0x80 || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentChar(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func (c compound) matches(n *Node) bool {
	if c.tag != "" && c.tag != "*" && c.tag != n.Tag {
		return false
	}
	if c.id != "" && n.Attrs["id"] != c.id {
		return false
	}
	for _, class := range c.classes {
		found := false
		for _, have := range strings.Fields(n.Attrs["class"]) {
			if have == class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, a := range c.attrs {
		v, ok := n.Attrs[a.name]
		if !ok || (a.hasValue && v != a.value) {
			return false
		}
	}
	return true
}

// matches evaluates the selector right to left against n and its ancestors.
func (cs complexSelector) matches(n *Node) bool {
	return cs.matchFrom(len(cs)-1, n)
}

func (cs complexSelector) matchFrom(i int, n *Node) bool {
	if !cs[i].matches(n) {
		return false
	}
	if i == 0 {
		return true
	}
	if cs[i].child {
		return n.Parent != nil && n.Parent.Tag != "" && cs.matchFrom(i-1, n.Parent)
	}
	for anc := n.Parent; anc != nil && anc.Tag != ""; anc = anc.Parent {
		if cs.matchFrom(i-1, anc) {
			return true
		}
	}
	return false
}
