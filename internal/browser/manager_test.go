package browser

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		var out struct {
			URL string `json:"url"`
		}
		require.NoError(t, decodeEnvelope(`{"ok":true,"value":{"url":"https://example.com/"}}`, &out))
		assert.Equal(t, "https://example.com/", out.URL)
	})

	t.Run("no value", func(t *testing.T) {
		var out []string
		require.NoError(t, decodeEnvelope(`{"ok":true}`, &out))
		assert.Nil(t, out)
		require.NoError(t, decodeEnvelope(`{"ok":true,"value":true}`, nil))
	})

	t.Run("error codes", func(t *testing.T) {
		err := decodeEnvelope(`{"ok":false,"code":"invalid_selector","error":"'#[' is not valid"}`, nil)
		assert.ErrorIs(t, err, dom.ErrInvalidSelector)

		err = decodeEnvelope(`{"ok":false,"code":"detached","error":"form[0] >> input[2]"}`, nil)
		assert.ErrorIs(t, err, dom.ErrDetached)

		err = decodeEnvelope(`{"ok":false,"code":"error","error":"boom"}`, nil)
		assert.EqualError(t, err, "page script failed: boom")
	})

	t.Run("malformed", func(t *testing.T) {
		err := decodeEnvelope(`undefined`, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed page script result")
	})
}

func TestScriptArguments(t *testing.T) {
	assert.Equal(t, `"a \"quoted\" selector"`, jsArg(`a "quoted" selector`))
	assert.Equal(t, "null", pathArg(nil))

	h := dom.Handle{Selector: "form", Index: 0}.Child("input", 2)
	assert.Equal(t, `[{"selector":"form","index":0},{"selector":"input","index":2}]`, pathArg(&h))

	script := queryAllScript(&h, "#email")
	assert.True(t, strings.HasPrefix(script, "(() => {"))
	assert.Contains(t, script, `"#email"`)
	assert.Contains(t, script, `__fail('error'`)
}

func TestUserScript(t *testing.T) {
	expressions := []string{
		"document.title",
		"document.querySelector('#returnUrl').value",
		"location.href.includes('return_to')",
		"[returnValue, returned].length",
		"history.state && history.state.return",
		"`return ${x}`",
		"// return early\ndocument.title",
		"/* return */ 1 + 1",
	}
	for _, src := range expressions {
		assert.Equal(t, src, userScript(src), "expression must be evaluated as is")
	}

	bodies := []string{
		"const a = 1;\nreturn a + 1;",
		"if (x) return 'a'; else return \"b\"",
		"const el = document.querySelector('#return');\nreturn el && el.value",
	}
	for _, src := range bodies {
		wrapped := userScript(src)
		assert.True(t, strings.HasPrefix(wrapped, "(async () => {"), src)
		assert.True(t, strings.HasSuffix(wrapped, "})()"), src)
	}
}

func TestIsIllegalReturn(t *testing.T) {
	assert.True(t, isIllegalReturn(&cdpruntime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &cdpruntime.RemoteObject{Description: "SyntaxError: Illegal return statement"},
	}))
	assert.True(t, isIllegalReturn(fmt.Errorf("evaluate: %w", &cdpruntime.ExceptionDetails{Text: "SyntaxError: Illegal return statement"})))
	assert.False(t, isIllegalReturn(&cdpruntime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &cdpruntime.RemoteObject{Description: "ReferenceError: x is not defined"},
	}))
	assert.False(t, isIllegalReturn(errors.New("Illegal return statement")))
	assert.False(t, isIllegalReturn(nil))
}

func TestConvertCookies(t *testing.T) {
	in := []*network.Cookie{
		{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/", Expires: 1.7e9, HTTPOnly: true, Secure: true, SameSite: network.CookieSameSiteLax},
		nil,
		{Name: "theme", Value: "dark", Domain: "example.com", Path: "/", Expires: -1},
	}
	assert.Equal(t, []schemas.Cookie{
		{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/", Expires: 1.7e9, HTTPOnly: true, Secure: true, SameSite: "Lax"},
		{Name: "theme", Value: "dark", Domain: "example.com", Path: "/", Expires: -1},
	}, convertCookies(in))
	assert.Empty(t, convertCookies(nil))
}

func TestClosedTabsAreForgotten(t *testing.T) {
	m := &Manager{logger: zap.NewNop(), tabs: make(map[string]*tab)}
	cancelled := make(chan string, 3)
	for _, id := range []string{"A", "B", "C"} {
		id := id
		m.tabs[id] = &tab{
			id:        id,
			cancel:    func() { cancelled <- id },
			harvester: NewHarvester(id, 10, m.logger),
		}
	}
	m.active = "B"

	m.handleBrowserEvent(&target.EventTargetDestroyed{TargetID: "C"})
	assert.NotContains(t, m.tabs, "C")
	assert.Equal(t, "B", m.active, "closing another tab keeps the active one")

	m.handleBrowserEvent(&target.EventTargetDestroyed{TargetID: "B"})
	assert.NotContains(t, m.tabs, "B")
	assert.Equal(t, "A", m.active, "a remaining tab takes over")

	m.handleBrowserEvent(&target.EventTargetDestroyed{TargetID: "A"})
	assert.Empty(t, m.tabs)
	assert.Empty(t, m.active)

	got := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-cancelled:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("closed tab contexts were not released")
		}
	}
	assert.Equal(t, map[string]bool{"A": true, "B": true, "C": true}, got)

	// Unknown targets and unrelated events are ignored.
	m.handleBrowserEvent(&target.EventTargetDestroyed{TargetID: "Z"})
	m.handleBrowserEvent(&target.EventTargetCreated{})
}
