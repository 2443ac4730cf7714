package dom_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func loginPage() *mocks.FakePage {
	return mocks.NewFakePage("https://example.com/login", "Login",
		mocks.El("form", mocks.Attrs{"id": "login", "action": "/session"},
			// The name match comes first in document order; the id match must still win.
			mocks.El("input", mocks.Attrs{"name": "email", "type": "text"}),
			mocks.El("input", mocks.Attrs{"id": "email", "type": "email"}),
			mocks.El("input", mocks.Attrs{"data-testid": "user-password", "type": "password"}),
			mocks.El("input", mocks.Attrs{"aria-label": "Search the site", "type": "search"}),
			mocks.El("input", mocks.Attrs{"placeholder": "Enter your Phone Number", "type": "tel"}),
			mocks.El("button", mocks.Attrs{"type": "submit"}).WithText("Sign in to your account"),
			mocks.El("a", mocks.Attrs{"href": "/help"}).WithText("Sign in"),
			mocks.El("button", mocks.Attrs{"type": "button"}).WithText("Sign in").Invisible(),
		),
	)
}

func TestResolveStrategyOrder(t *testing.T) {
	r := dom.NewResolver(loginPage(), zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name     string
		input    string
		strategy dom.Strategy
		check    func(t *testing.T, el dom.Element)
	}{
		{"literal css", "form#login > input[type=email]", dom.StrategyCSS, func(t *testing.T, el dom.Element) {
			assert.Equal(t, "email", el.ID)
		}},
		{"bare identifier prefers id over name", "email", dom.StrategyID, func(t *testing.T, el dom.Element) {
			assert.Equal(t, "email", el.ID)
			assert.Equal(t, "email", el.Type)
		}},
		{"data-testid", "user-password", dom.StrategyTestID, func(t *testing.T, el dom.Element) {
			assert.Equal(t, "password", el.Type)
		}},
		{"aria-label with spaces", "Search the site", dom.StrategyAriaLabel, func(t *testing.T, el dom.Element) {
			assert.Equal(t, "search", el.Type)
		}},
		{"placeholder substring ignores case", "phone number", dom.StrategyPlaceholder, func(t *testing.T, el dom.Element) {
			assert.Equal(t, "tel", el.Type)
		}},
		{"visible text prefers the shortest match", "sign in", dom.StrategyText, func(t *testing.T, el dom.Element) {
			assert.Equal(t, "a", el.Tag)
			assert.Equal(t, "/help", el.Href)
		}},
		{"visible text substring", "YOUR ACCOUNT", dom.StrategyText, func(t *testing.T, el dom.Element) {
			assert.Equal(t, "button", el.Tag)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, strategy, found, err := r.ResolveStrategy(ctx, tt.input)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, tt.strategy, strategy)
			tt.check(t, el)
		})
	}
}

func TestResolveNameStrategy(t *testing.T) {
	page := mocks.NewFakePage("https://example.com", "",
		mocks.El("input", mocks.Attrs{"name": "first name"}),
	)
	el, strategy, found, err := dom.NewResolver(page, zap.NewNop()).ResolveStrategy(context.Background(), "first name")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, dom.StrategyName, strategy)
	assert.Equal(t, "first name", el.Name)
}

func TestResolveTextTieKeepsDocumentOrder(t *testing.T) {
	page := mocks.NewFakePage("https://example.com", "",
		mocks.El("button", mocks.Attrs{"id": "first"}).WithText("Next"),
		mocks.El("button", mocks.Attrs{"id": "second"}).WithText("next"),
	)
	el, found, err := dom.NewResolver(page, zap.NewNop()).Resolve(context.Background(), "Next")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", el.ID)
}

func TestResolveEscapesHostileInput(t *testing.T) {
	hostile := `x"] , * [y="`
	page := mocks.NewFakePage("https://example.com", "",
		mocks.El("input", mocks.Attrs{"id": "bystander"}),
		mocks.El("input", mocks.Attrs{"name": hostile}),
	)
	el, strategy, found, err := dom.NewResolver(page, zap.NewNop()).ResolveStrategy(context.Background(), hostile)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, dom.StrategyName, strategy)
	assert.Equal(t, hostile, el.Name, "the quoted value must match literally, not widen the query")
}

func TestResolveNotFound(t *testing.T) {
	r := dom.NewResolver(loginPage(), zap.NewNop())

	_, found, err := r.Resolve(context.Background(), "#missing")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = r.Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = r.Require(context.Background(), "#missing")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindElementNotFound))
	assert.EqualError(t, err, "Element not found: #missing")
}

func TestResolveInvalidCSSFallsThrough(t *testing.T) {
	page := mocks.NewFakePage("https://example.com", "",
		mocks.El("input", mocks.Attrs{"placeholder": "Search..."}),
	)
	el, strategy, found, err := dom.NewResolver(page, zap.NewNop()).ResolveStrategy(context.Background(), "Search...")
	require.NoError(t, err, "an unparsable selector is a miss, not a failure")
	require.True(t, found)
	assert.Equal(t, dom.StrategyPlaceholder, strategy)
	assert.Equal(t, "Search...", el.Placeholder)
}

func TestResolvePageFailure(t *testing.T) {
	page := loginPage()
	page.Err = errors.New("target closed")
	_, _, err := dom.NewResolver(page, zap.NewNop()).Resolve(context.Background(), "email")
	assert.EqualError(t, err, "target closed")
}

func TestHandlePath(t *testing.T) {
	form := dom.Handle{Selector: "form", Index: 1}
	field := form.Child("input", 2)
	assert.Equal(t, []dom.Handle{{Selector: "form", Index: 1}, {Selector: "input", Index: 2}}, field.Path())
	assert.Equal(t, "form[1] >> input[2]", field.String())
}
