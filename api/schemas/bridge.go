package schemas

import "time"

// -- Content Bridge Schemas --

// BridgeMessage is the cross-context request delivered to a tab's Content Bridge.
// Action mirrors the top-level command type naming.
type BridgeMessage struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// BridgeReply is the Content Bridge's answer. On failure Error and Kind are set.
type BridgeReply struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Kind    string                 `json:"kind,omitempty"`
}

// FieldResult reports the outcome of filling one field in fill_form.
type FieldResult struct {
	Selector string `json:"selector"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// UserActionRequired is returned by commands that cannot complete without the user,
// such as choosing a file for upload.
type UserActionRequired struct {
	NeedsUserAction bool   `json:"needs_user_action"`
	Action          string `json:"action"`
	Selector        string `json:"selector"`
	Accept          string `json:"accept,omitempty"`
	Multiple        bool   `json:"multiple"`
	Message         string `json:"message"`
}

// -- Browser Schemas --

// TabInfo describes an open page target.
type TabInfo struct {
	ID     string `json:"tab_id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// Cookie is a browser cookie as reported by the DevTools network domain.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// NetworkEntry is one captured request with its response summary, if any.
type NetworkEntry struct {
	RequestID    string            `json:"requestId"`
	TabID        string            `json:"tab_id"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	ResourceType string            `json:"resourceType,omitempty"`
	Status       int64             `json:"status,omitempty"`
	MimeType     string            `json:"mimeType,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Failed       bool              `json:"failed,omitempty"`
	ErrorText    string            `json:"errorText,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   *time.Time        `json:"finishedAt,omitempty"`
}

// ScreenshotOptions selects the capture format. Quality applies to jpeg only.
type ScreenshotOptions struct {
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
	FullPage bool   `json:"fullPage"`
}

// Screenshot is a base64 encoded capture of a tab.
type Screenshot struct {
	TabID  string `json:"tab_id"`
	Format string `json:"format"`
	Data   string `json:"data"`
}
