package bridge

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/interact"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/params"
	"go.uber.org/zap"
)

const fieldSelector = "input, select, textarea"

func (b *Bridge) click(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	el, err := b.require(ctx, p, "selector")
	if err != nil {
		return nil, err
	}
	wait, err := p.Millis("wait_after", b.cfg.ClickWait())
	if err != nil {
		return nil, err
	}
	if err := b.sim.Click(ctx, el, interact.ClickOptions{WaitAfter: wait}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"selector": el.Selector, "clicked": true}, nil
}

func (b *Bridge) typeText(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	if !p.Has("text") {
		return nil, failure.Validation("Missing required parameter: text")
	}
	text, err := p.String("text")
	if err != nil {
		return nil, err
	}
	human, err := b.humanLike(p)
	if err != nil {
		return nil, err
	}
	clearFirst, err := p.Bool("clear", false)
	if err != nil {
		return nil, err
	}
	el, err := b.require(ctx, p, "selector")
	if err != nil {
		return nil, err
	}
	if err := b.sim.Type(ctx, el, text, interact.TypeOptions{HumanLike: human, Clear: clearFirst}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"selector": el.Selector, "typed": len([]rune(text))}, nil
}

type fieldValue struct {
	selector string
	value    interface{}
}

// formFields accepts either {"selector": value} or [{"selector": s, "value": v}].
// Object keys are filled in sorted order.
func formFields(p params.Params) ([]fieldValue, error) {
	if list, ok := p.Raw("fields").([]interface{}); ok {
		out := make([]fieldValue, 0, len(list))
		for _, item := range list {
			entry, ok := item.(map[string]interface{})
			if !ok {
				return nil, failure.Validation("Invalid parameter fields: entries must be objects")
			}
			sel, err := params.Params(entry).RequireString("selector")
			if err != nil {
				return nil, err
			}
			out = append(out, fieldValue{selector: sel, value: entry["value"]})
		}
		return out, nil
	}
	m, err := p.Map("fields")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]fieldValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, fieldValue{selector: k, value: m[k]})
	}
	return out, nil
}

// fillForm fills every field independently. It fails only when no field could be filled.
func (b *Bridge) fillForm(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	fields, err := formFields(p)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, failure.Validation("Missing required parameter: fields")
	}
	human, err := b.humanLike(p)
	if err != nil {
		return nil, err
	}
	submit, err := p.Bool("submit", false)
	if err != nil {
		return nil, err
	}

	results := make([]schemas.FieldResult, 0, len(fields))
	var firstErr error
	var last *dom.Element
	for _, f := range fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		el, err := b.resolver.Require(ctx, f.selector)
		if err == nil {
			err = b.sim.Fill(ctx, el, f.value, human)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			b.logger.Debug("Field fill failed.", zap.String("selector", f.selector), zap.Error(err))
			results = append(results, schemas.FieldResult{Selector: f.selector, Error: err.Error()})
			continue
		}
		filled := el
		last = &filled
		results = append(results, schemas.FieldResult{Selector: f.selector, Success: true})
	}

	filled := countFilled(results)
	if filled == 0 {
		return nil, failure.Wrap(failure.KindOf(firstErr), firstErr, "Failed to fill any field: "+firstErr.Error())
	}

	data := map[string]interface{}{
		"results":   results,
		"filled":    filled,
		"failed":    len(results) - filled,
		"submitted": false,
	}
	if submit {
		if err := b.submitAfterFill(ctx, p, last); err != nil {
			return nil, err
		}
		data["submitted"] = true
	}
	return data, nil
}

func (b *Bridge) submitAfterFill(ctx context.Context, p params.Params, last *dom.Element) error {
	sel, err := p.String("form_selector")
	if err != nil {
		return err
	}
	if sel != "" {
		form, err := b.resolver.Require(ctx, sel)
		if err != nil {
			return err
		}
		return b.sim.Submit(ctx, form)
	}
	return b.sim.Submit(ctx, *last)
}

func countFilled(results []schemas.FieldResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}

// autoFillForm matches data keys against each control's name, id, label and
// placeholder, in that order, after folding case and dropping punctuation.
func (b *Bridge) autoFillForm(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	data, err := p.Map("data")
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, failure.Validation("Missing required parameter: data")
	}
	human, err := b.humanLike(p)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	scope, formSelector, err := b.autoFillScope(ctx, p, keys)
	if err != nil {
		return nil, err
	}
	controls, err := b.fillable(ctx, scope)
	if err != nil {
		return nil, err
	}

	used := make(map[string]bool, len(keys))
	radios := make(map[string]bool)
	var results []schemas.FieldResult
	var firstErr error
	for _, el := range controls {
		key := matchKey(keys, el)
		if key == "" || used[key] {
			continue
		}
		if el.Is("radio") {
			if radios[el.Name] {
				continue
			}
			radios[el.Name] = true
		}
		used[key] = true
		if err := b.sim.Fill(ctx, el, data[key], human); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			results = append(results, schemas.FieldResult{Selector: el.Selector, Error: err.Error()})
			continue
		}
		results = append(results, schemas.FieldResult{Selector: el.Selector, Success: true})
	}

	if len(results) == 0 {
		return nil, failure.Handler("No form fields matched the supplied data")
	}
	filled := countFilled(results)
	if filled == 0 {
		return nil, failure.Wrap(failure.KindOf(firstErr), firstErr, "Failed to fill any field: "+firstErr.Error())
	}
	unmatched := make([]string, 0)
	for _, k := range keys {
		if !used[k] {
			unmatched = append(unmatched, k)
		}
	}
	return map[string]interface{}{
		"form":      formSelector,
		"results":   results,
		"filled":    filled,
		"failed":    len(results) - filled,
		"unmatched": unmatched,
	}, nil
}

// autoFillScope picks the form to fill: the one named by form_selector, else the
// form with the most matching controls, else the whole document.
func (b *Bridge) autoFillScope(ctx context.Context, p params.Params, keys []string) (*dom.Handle, string, error) {
	sel, err := p.String("form_selector")
	if err != nil {
		return nil, "", err
	}
	if sel != "" {
		form, err := b.resolver.Require(ctx, sel)
		if err != nil {
			return nil, "", err
		}
		if form.Tag != "form" {
			return nil, "", failure.Handler("Element is not a form: %s", sel)
		}
		return &form.Handle, form.Selector, nil
	}

	forms, err := b.page.QueryAll(ctx, nil, "form")
	if err != nil {
		return nil, "", err
	}
	best, bestScore := -1, 0
	for i := range forms {
		controls, err := b.fillable(ctx, &forms[i].Handle)
		if err != nil {
			return nil, "", err
		}
		score := 0
		for _, el := range controls {
			if matchKey(keys, el) != "" {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil, "", nil
	}
	return &forms[best].Handle, forms[best].Selector, nil
}

func (b *Bridge) fillable(ctx context.Context, scope *dom.Handle) ([]dom.Element, error) {
	els, err := b.page.QueryAll(ctx, scope, fieldSelector)
	if err != nil {
		return nil, err
	}
	out := els[:0]
	for _, el := range els {
		if el.Disabled || el.Is("submit", "button", "reset", "image", "hidden", "file") {
			continue
		}
		out = append(out, el)
	}
	return out, nil
}

func matchKey(keys []string, el dom.Element) string {
	for _, candidate := range []string{el.Name, el.ID, el.Label, el.Placeholder} {
		c := fold(candidate)
		if c == "" {
			continue
		}
		for _, k := range keys {
			if fold(k) == c {
				return k
			}
		}
	}
	return ""
}

func fold(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func (b *Bridge) getContent(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	sel, err := p.String("selector")
	if err != nil {
		return nil, err
	}
	content, err := b.extractor.Content(ctx, sel)
	if err != nil {
		return nil, err
	}
	m, err := toMap(content)
	if err != nil {
		return nil, err
	}
	// Older controllers read the text as "content".
	m["content"] = content.Text
	return m, nil
}

func (b *Bridge) getPageState(ctx context.Context, _ params.Params) (map[string]interface{}, error) {
	state, err := b.extractor.PageState(ctx)
	if err != nil {
		return nil, err
	}
	return toMap(state)
}

func (b *Bridge) detectForms(ctx context.Context, _ params.Params) (map[string]interface{}, error) {
	forms, err := b.extractor.DetectForms(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"forms": forms, "count": len(forms)}, nil
}

// probeElement is one wait_for_element poll. A missing element is a normal
// reply with found=false; the caller owns the retry loop.
func (b *Bridge) probeElement(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	sel, err := p.RequireString("selector")
	if err != nil {
		return nil, err
	}
	visible, err := p.Bool("visible", false)
	if err != nil {
		return nil, err
	}
	el, found, err := b.resolver.Resolve(ctx, sel)
	if err != nil {
		return nil, err
	}
	if !found || (visible && !el.Visible) {
		return map[string]interface{}{"found": false, "selector": sel}, nil
	}
	return map[string]interface{}{"found": true, "selector": el.Selector, "visible": el.Visible, "tag": el.Tag}, nil
}

func (b *Bridge) fillSelect(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	raw := p.Raw("values")
	if raw == nil {
		raw = p.Raw("value")
	}
	values := interact.Strings(raw)
	el, err := b.require(ctx, p, "selector")
	if err != nil {
		return nil, err
	}
	selected, err := b.sim.SetSelect(ctx, el, values)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"selector": el.Selector, "selected": selected}, nil
}

func (b *Bridge) fillCheckbox(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	checked := true
	if p.Has("checked") {
		checked = interact.Truthy(p.Raw("checked"))
	}
	el, err := b.require(ctx, p, "selector")
	if err != nil {
		return nil, err
	}
	if err := b.sim.SetCheckbox(ctx, el, checked); err != nil {
		return nil, err
	}
	return map[string]interface{}{"selector": el.Selector, "checked": checked}, nil
}

// fillRadio checks the radio named by selector, or the option of group name
// whose value is value.
func (b *Bridge) fillRadio(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	sel, err := p.String("selector")
	if err != nil {
		return nil, err
	}
	value, err := p.String("value")
	if err != nil {
		return nil, err
	}

	var target dom.Element
	switch {
	case sel != "":
		el, err := b.resolver.Require(ctx, sel)
		if err != nil {
			return nil, err
		}
		target = el
		if value != "" && el.Name != "" && el.Value != value {
			if target, err = b.sim.RadioOption(ctx, el.Name, value); err != nil {
				return nil, err
			}
		}
	default:
		name, err := p.RequireString("name")
		if err != nil {
			return nil, err
		}
		if value == "" {
			return nil, failure.Validation("Missing required parameter: value")
		}
		if target, err = b.sim.RadioOption(ctx, name, value); err != nil {
			return nil, err
		}
	}
	if err := b.sim.SetRadio(ctx, target); err != nil {
		return nil, err
	}
	return map[string]interface{}{"selector": target.Selector, "name": target.Name, "value": target.Value}, nil
}

func (b *Bridge) fillDate(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	date, err := p.FirstString("date", "value")
	if err != nil {
		return nil, err
	}
	el, err := b.require(ctx, p, "selector")
	if err != nil {
		return nil, err
	}
	if err := b.sim.SetDate(ctx, el, date); err != nil {
		return nil, err
	}
	return map[string]interface{}{"selector": el.Selector, "value": date}, nil
}

// submitForm clicks button_selector when given, otherwise submits the form
// designated by selector (the first form by default).
func (b *Bridge) submitForm(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	button, err := p.String("button_selector")
	if err != nil {
		return nil, err
	}
	if button != "" {
		el, err := b.resolver.Require(ctx, button)
		if err != nil {
			return nil, err
		}
		if err := b.sim.Click(ctx, el, interact.ClickOptions{WaitAfter: b.cfg.ClickWait()}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"submitted": true, "selector": el.Selector, "via": "click"}, nil
	}

	sel, err := p.String("selector")
	if err != nil {
		return nil, err
	}
	if sel == "" {
		sel = "form"
	}
	el, err := b.resolver.Require(ctx, sel)
	if err != nil {
		return nil, err
	}
	if err := b.sim.Submit(ctx, el); err != nil {
		return nil, err
	}
	return map[string]interface{}{"submitted": true, "selector": el.Selector, "via": "submit"}, nil
}

// fileUpload cannot set files from page script. It validates the target and
// tells the controller a person must choose the file.
func (b *Bridge) fileUpload(ctx context.Context, p params.Params) (map[string]interface{}, error) {
	el, err := b.require(ctx, p, "selector")
	if err != nil {
		return nil, err
	}
	if !el.Is("file") {
		return nil, failure.Handler("Element is not a file input: %s", el.Selector)
	}
	return toMap(schemas.UserActionRequired{
		NeedsUserAction: true,
		Action:          "file_upload",
		Selector:        el.Selector,
		Accept:          el.Accept,
		Multiple:        el.Multiple,
		Message:         "Select the file to upload in the browser window.",
	})
}
