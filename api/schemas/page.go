package schemas

// -- Page State Schemas --

// MaskedValue replaces the value of password fields in extracted state.
const MaskedValue = "********"

// PageState is a read-only snapshot of the interactive surface of a page.
type PageState struct {
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Forms   []Form   `json:"forms"`
	Links   []Link   `json:"links"`
	Buttons []Button `json:"buttons"`
	// Inputs lists fields that are not owned by any form.
	Inputs []Field `json:"inputs"`
}

// Form describes one <form> element and its fields.
type Form struct {
	Index    int     `json:"index"`
	Selector string  `json:"selector"`
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name,omitempty"`
	Action   string  `json:"action,omitempty"`
	Method   string  `json:"method"`
	Fields   []Field `json:"fields"`
}

// Field describes one form control. Radios sharing a name are grouped into
// a single Field whose Options carry each choice.
type Field struct {
	Selector    string   `json:"selector"`
	Tag         string   `json:"tag"`
	Type        string   `json:"type"`
	Name        string   `json:"name,omitempty"`
	ID          string   `json:"id,omitempty"`
	Label       string   `json:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Value       string   `json:"value"`
	Required    bool     `json:"required"`
	Disabled    bool     `json:"disabled,omitempty"`
	Checked     *bool    `json:"checked,omitempty"`
	Multiple    bool     `json:"multiple,omitempty"`
	Options     []Option `json:"options,omitempty"`
}

// Option is a choice of a select, radio group, or checkbox.
type Option struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Link is an anchor with its href resolved against the page URL.
type Link struct {
	Text   string `json:"text"`
	Href   string `json:"href"`
	Target string `json:"target,omitempty"`
}

// Button is a clickable control. FormAction is resolved to an absolute URL when present.
type Button struct {
	Selector   string `json:"selector"`
	Text       string `json:"text"`
	Type       string `json:"type"`
	Disabled   bool   `json:"disabled,omitempty"`
	FormAction string `json:"formAction,omitempty"`
}

// Content is the text and markup of a selected region.
type Content struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
}

// FormSummary is the compact form listing returned by detect_forms.
type FormSummary struct {
	Index      int     `json:"index"`
	Selector   string  `json:"selector"`
	ID         string  `json:"id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Action     string  `json:"action,omitempty"`
	Method     string  `json:"method"`
	FieldCount int     `json:"fieldCount"`
	Fields     []Field `json:"fields"`
}
