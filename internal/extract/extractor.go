// Package extract serializes the interactive surface of a page. It never
// mutates the document.
package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
)

const (
	fieldSelector  = "input, select, textarea"
	buttonSelector = `button, input[type="submit"], input[type="button"], input[type="reset"], input[type="image"], [role="button"]`
)

// Extractor reads page state through a dom.Page.
type Extractor struct {
	page     dom.Page
	resolver *dom.Resolver
}

// New creates an Extractor. resolver locates the regions passed to Content.
func New(page dom.Page, resolver *dom.Resolver) *Extractor {
	return &Extractor{page: page, resolver: resolver}
}

// PageState returns forms, links, buttons and form-less inputs with URLs made absolute.
func (x *Extractor) PageState(ctx context.Context) (schemas.PageState, error) {
	loc, err := x.page.Location(ctx)
	if err != nil {
		return schemas.PageState{}, err
	}
	base, _ := url.Parse(loc.URL)

	state := schemas.PageState{URL: loc.URL, Title: loc.Title}
	if state.Forms, err = x.forms(ctx, base); err != nil {
		return schemas.PageState{}, err
	}
	if state.Links, err = x.links(ctx, base); err != nil {
		return schemas.PageState{}, err
	}
	if state.Buttons, err = x.buttons(ctx, base); err != nil {
		return schemas.PageState{}, err
	}
	loose, err := x.page.QueryAll(ctx, nil, fieldSelector)
	if err != nil {
		return schemas.PageState{}, err
	}
	outside := loose[:0]
	for _, el := range loose {
		if !el.InForm {
			outside = append(outside, el)
		}
	}
	if state.Inputs, err = x.fields(ctx, outside); err != nil {
		return schemas.PageState{}, err
	}
	return state, nil
}

// Forms lists every form with its fields.
func (x *Extractor) Forms(ctx context.Context) ([]schemas.Form, error) {
	loc, err := x.page.Location(ctx)
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(loc.URL)
	return x.forms(ctx, base)
}

// DetectForms is the compact form listing.
func (x *Extractor) DetectForms(ctx context.Context) ([]schemas.FormSummary, error) {
	forms, err := x.Forms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.FormSummary, len(forms))
	for i, f := range forms {
		out[i] = schemas.FormSummary{
			Index:      f.Index,
			Selector:   f.Selector,
			ID:         f.ID,
			Name:       f.Name,
			Action:     f.Action,
			Method:     f.Method,
			FieldCount: len(f.Fields),
			Fields:     f.Fields,
		}
	}
	return out, nil
}

// Content returns the text and inner HTML of the element selector designates,
// or of the whole body when selector is empty.
func (x *Extractor) Content(ctx context.Context, selector string) (schemas.Content, error) {
	if strings.TrimSpace(selector) == "" {
		bodies, err := x.page.QueryAll(ctx, nil, "body")
		if err != nil {
			return schemas.Content{}, err
		}
		if len(bodies) == 0 {
			html, err := x.page.HTML(ctx, nil)
			return schemas.Content{HTML: html}, err
		}
		return x.content(ctx, bodies[0], "body")
	}
	el, err := x.resolver.Require(ctx, selector)
	if err != nil {
		return schemas.Content{}, err
	}
	return x.content(ctx, el, selector)
}

func (x *Extractor) content(ctx context.Context, el dom.Element, selector string) (schemas.Content, error) {
	html, err := x.page.HTML(ctx, &el.Handle)
	if err != nil {
		return schemas.Content{}, err
	}
	return schemas.Content{Selector: selector, Text: el.Text, HTML: html}, nil
}

func (x *Extractor) forms(ctx context.Context, base *url.URL) ([]schemas.Form, error) {
	els, err := x.page.QueryAll(ctx, nil, "form")
	if err != nil {
		return nil, err
	}
	forms := make([]schemas.Form, 0, len(els))
	for i, el := range els {
		controls, err := x.page.QueryAll(ctx, &el.Handle, fieldSelector)
		if err != nil {
			return nil, err
		}
		fields, err := x.fields(ctx, controls)
		if err != nil {
			return nil, err
		}
		method := strings.ToLower(el.Method)
		if method == "" {
			method = "get"
		}
		action := absolute(base, el.Action)
		if action == "" && base != nil {
			action = base.String()
		}
		forms = append(forms, schemas.Form{
			Index:    i,
			Selector: el.Selector,
			ID:       el.ID,
			Name:     el.Name,
			Action:   action,
			Method:   method,
			Fields:   fields,
		})
	}
	return forms, nil
}

// fields converts controls into Fields. Buttons are skipped, radios sharing a
// name collapse into one Field, and password values are masked.
func (x *Extractor) fields(ctx context.Context, controls []dom.Element) ([]schemas.Field, error) {
	fields := make([]schemas.Field, 0, len(controls))
	radioGroups := make(map[string]int)
	for _, el := range controls {
		if el.Is("submit", "button", "reset", "image") {
			continue
		}
		if el.Is("radio") && el.Name != "" {
			opt := schemas.Option{Value: el.Value, Text: el.Label, Selected: el.Checked, Disabled: el.Disabled}
			if idx, ok := radioGroups[el.Name]; ok {
				fields[idx].Options = append(fields[idx].Options, opt)
				if el.Checked {
					fields[idx].Value = el.Value
				}
				fields[idx].Required = fields[idx].Required || el.Required
				continue
			}
			f := field(el)
			f.Selector = `input[type="radio"]` + dom.AttrSelector("name", el.Name)
			f.ID, f.Label, f.Value = "", "", ""
			if el.Checked {
				f.Value = el.Value
			}
			f.Options = []schemas.Option{opt}
			radioGroups[el.Name] = len(fields)
			fields = append(fields, f)
			continue
		}

		f := field(el)
		switch {
		case el.Tag == "select":
			opts, err := x.page.QueryAll(ctx, &el.Handle, "option")
			if err != nil {
				return nil, err
			}
			for _, o := range opts {
				f.Options = append(f.Options, schemas.Option{Value: o.Value, Text: o.Text, Selected: o.Selected, Disabled: o.Disabled})
			}
		case el.Is("checkbox", "radio"):
			checked := el.Checked
			f.Checked = &checked
		case el.Is("password"):
			if f.Value != "" {
				f.Value = schemas.MaskedValue
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func field(el dom.Element) schemas.Field {
	return schemas.Field{
		Selector:    el.Selector,
		Tag:         el.Tag,
		Type:        el.Type,
		Name:        el.Name,
		ID:          el.ID,
		Label:       el.Label,
		Placeholder: el.Placeholder,
		Value:       el.Value,
		Required:    el.Required,
		Disabled:    el.Disabled,
		Multiple:    el.Multiple,
	}
}

func (x *Extractor) links(ctx context.Context, base *url.URL) ([]schemas.Link, error) {
	els, err := x.page.QueryAll(ctx, nil, "a[href]")
	if err != nil {
		return nil, err
	}
	links := make([]schemas.Link, 0, len(els))
	for _, el := range els {
		links = append(links, schemas.Link{Text: el.Text, Href: absolute(base, el.Href), Target: el.Target})
	}
	return links, nil
}

func (x *Extractor) buttons(ctx context.Context, base *url.URL) ([]schemas.Button, error) {
	els, err := x.page.QueryAll(ctx, nil, buttonSelector)
	if err != nil {
		return nil, err
	}
	buttons := make([]schemas.Button, 0, len(els))
	for _, el := range els {
		typ := el.Type
		if typ == "" {
			typ = "button"
		}
		buttons = append(buttons, schemas.Button{
			Selector:   el.Selector,
			Text:       el.Text,
			Type:       typ,
			Disabled:   el.Disabled,
			FormAction: absolute(base, el.FormAction),
		})
	}
	return buttons, nil
}

// absolute resolves ref against base. Unparsable references are returned as-is.
func absolute(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
