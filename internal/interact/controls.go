package interact

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
)

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// SetSelect selects the options of el whose value, or failing that visible
// text, equals one of values. It returns the selected option values.
func (s *Simulator) SetSelect(ctx context.Context, el dom.Element, values []string) ([]string, error) {
	fresh, err := s.Interactable(ctx, el)
	if err != nil {
		return nil, err
	}
	if fresh.Tag != "select" {
		return nil, failure.Handler("Element is not a select: %s", el.Selector)
	}
	if len(values) == 0 {
		return nil, failure.Validation("No option value given for %s", el.Selector)
	}
	if len(values) > 1 && !fresh.Multiple {
		return nil, failure.Validation("Select %s does not accept multiple values", el.Selector)
	}

	options, err := s.page.QueryAll(ctx, &fresh.Handle, "option")
	if err != nil {
		return nil, err
	}
	want := make(map[int]bool, len(values))
	selected := make([]string, 0, len(values))
	for _, v := range values {
		idx := matchOption(options, v)
		if idx < 0 {
			return nil, failure.Handler("Option not found in %s: %s", el.Selector, v)
		}
		if options[idx].Disabled {
			return nil, failure.NotInteractable(el.Selector, "option "+v+" is disabled")
		}
		want[idx] = true
		selected = append(selected, options[idx].Value)
	}

	if err := s.prepare(ctx, fresh); err != nil {
		return nil, err
	}
	for i, opt := range options {
		if opt.Selected == want[i] {
			continue
		}
		// Single selects deselect the others themselves.
		if !fresh.Multiple && !want[i] {
			continue
		}
		if err := s.page.SetProperty(ctx, opt.Handle, dom.PropSelected, want[i]); err != nil {
			return nil, err
		}
	}
	return selected, s.commit(ctx, fresh.Handle)
}

func matchOption(options []dom.Element, v string) int {
	for i, o := range options {
		if o.Value == v {
			return i
		}
	}
	for i, o := range options {
		if strings.EqualFold(strings.TrimSpace(o.Text), strings.TrimSpace(v)) {
			return i
		}
	}
	return -1
}

// SetCheckbox sets the checked state of a checkbox.
func (s *Simulator) SetCheckbox(ctx context.Context, el dom.Element, checked bool) error {
	fresh, err := s.Interactable(ctx, el)
	if err != nil {
		return err
	}
	if !fresh.Is("checkbox") {
		return failure.Handler("Element is not a checkbox: %s", el.Selector)
	}
	if err := s.prepare(ctx, fresh); err != nil {
		return err
	}
	if err := s.page.SetProperty(ctx, fresh.Handle, dom.PropChecked, checked); err != nil {
		return err
	}
	return s.commit(ctx, fresh.Handle)
}

// SetRadio checks the radio button el.
func (s *Simulator) SetRadio(ctx context.Context, el dom.Element) error {
	fresh, err := s.Interactable(ctx, el)
	if err != nil {
		return err
	}
	if !fresh.Is("radio") {
		return failure.Handler("Element is not a radio button: %s", el.Selector)
	}
	if err := s.prepare(ctx, fresh); err != nil {
		return err
	}
	if err := s.page.SetProperty(ctx, fresh.Handle, dom.PropChecked, true); err != nil {
		return err
	}
	return s.commit(ctx, fresh.Handle)
}

// RadioOption finds the radio in group name whose value is value.
func (s *Simulator) RadioOption(ctx context.Context, name, value string) (dom.Element, error) {
	sel := `input[type="radio"]` + dom.AttrSelector("name", name) + dom.AttrSelector("value", value)
	els, err := s.page.QueryAll(ctx, nil, sel)
	if err != nil {
		return dom.Element{}, err
	}
	if len(els) == 0 {
		return dom.Element{}, failure.NotFound(sel)
	}
	return els[0], nil
}

// SetDate writes an ISO YYYY-MM-DD date into el.
func (s *Simulator) SetDate(ctx context.Context, el dom.Element, value string) error {
	if !isoDate.MatchString(value) {
		return failure.Validation("Invalid date %q, expected YYYY-MM-DD", value)
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return failure.Validation("Invalid date %q: %v", value, err)
	}
	fresh, err := s.Interactable(ctx, el)
	if err != nil {
		return err
	}
	if fresh.ReadOnly {
		return failure.NotInteractable(el.Selector, "read-only")
	}
	if err := s.prepare(ctx, fresh); err != nil {
		return err
	}
	if err := s.page.SetProperty(ctx, fresh.Handle, dom.PropValue, value); err != nil {
		return err
	}
	return s.commit(ctx, fresh.Handle)
}

// Submit submits el when it is a form, or the form that owns it.
func (s *Simulator) Submit(ctx context.Context, el dom.Element) error {
	if el.Tag != "form" && !el.InForm {
		return failure.Handler("No form associated with %s", el.Selector)
	}
	if err := s.page.Invoke(ctx, el.Handle, dom.MethodSubmit); err != nil {
		return failure.Wrap(failure.KindHandler, err, fmt.Sprintf("Failed to submit %s: %v", el.Selector, err))
	}
	return nil
}

// Fill sets el to value using the control appropriate for its type.
func (s *Simulator) Fill(ctx context.Context, el dom.Element, value interface{}, humanLike bool) error {
	switch {
	case el.Tag == "select":
		_, err := s.SetSelect(ctx, el, Strings(value))
		return err
	case el.Is("checkbox"):
		return s.SetCheckbox(ctx, el, Truthy(value))
	case el.Is("radio"):
		if b, ok := value.(bool); ok {
			if !b {
				return failure.Validation("A radio button cannot be unchecked directly: %s", el.Selector)
			}
			return s.SetRadio(ctx, el)
		}
		opt, err := s.RadioOption(ctx, el.Name, Stringify(value))
		if err != nil {
			return err
		}
		return s.SetRadio(ctx, opt)
	case el.Is("date"):
		return s.SetDate(ctx, el, Stringify(value))
	case el.Is("file"):
		return failure.Handler("File input %s requires user action", el.Selector)
	}
	return s.Type(ctx, el, Stringify(value), TypeOptions{HumanLike: humanLike, Clear: true})
}

// Stringify renders a JSON scalar as field text.
func Stringify(v interface{}) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// Strings accepts a string or a JSON array of scalars. A single string is
// one value even when it contains spaces.
func Strings(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	}
	if out, err := cast.ToStringSliceE(v); err == nil {
		return out
	}
	return []string{Stringify(v)}
}

// Truthy interprets checkbox values. Besides what cast accepts, the words a
// form would post for a checked box count as true.
func Truthy(v interface{}) bool {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "on", "yes", "checked":
			return true
		}
		v = strings.TrimSpace(s)
	}
	return cast.ToBool(v)
}
