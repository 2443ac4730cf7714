package dom_test

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/dom"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeIdent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"email", "email"},
		{"user-name_2", "user-name_2"},
		{"1st", `\31 st`},
		{"-1", `-\31 `},
		{"-", `\-`},
		{"a.b", `a\.b`},
		{"a b", `a\ b`},
		{"x\x00y", "x\uFFFDy"},
		{"tab\there", `tab\9 here`},
		{"ünïcödé", "ünïcödé"},
		{`q"uote`, `q\"uote`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dom.EscapeIdent(tt.in), "input %q", tt.in)
	}
}

func TestQuoteString(t *testing.T) {
	assert.Equal(t, `"plain"`, dom.QuoteString("plain"))
	assert.Equal(t, `"say \"hi\""`, dom.QuoteString(`say "hi"`))
	assert.Equal(t, `"back\\slash"`, dom.QuoteString(`back\slash`))
	assert.Equal(t, `"line\a break"`, dom.QuoteString("line\nbreak"))
	assert.Equal(t, `[name="a]b"]`, dom.AttrSelector("name", "a]b"))
}

// FuzzEscapedSelectorsMatchLiterally builds id and attribute selectors from
// arbitrary strings and checks that they parse and select exactly the element
// carrying that value.
func FuzzEscapedSelectorsMatchLiterally(f *testing.F) {
	f.Add([]byte(`x"] , * [y="`))
	f.Add([]byte("1st\\\n"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		value, err := consumer.GetString()
		if err != nil || value == "" || value == "decoy" || !utf8.ValidString(value) || strings.ContainsRune(value, 0) {
			return
		}

		page := mocks.NewFakePage("https://example.com", "",
			mocks.El("input", mocks.Attrs{"id": "decoy", "name": "decoy"}),
			mocks.El("input", mocks.Attrs{"id": value, "name": value}),
		)
		ctx := context.Background()

		byID, err := page.QueryAll(ctx, nil, "#"+dom.EscapeIdent(value))
		require.NoError(t, err)
		require.Len(t, byID, 1)
		assert.Equal(t, value, byID[0].ID)

		byName, err := page.QueryAll(ctx, nil, dom.AttrSelector("name", value))
		require.NoError(t, err)
		require.Len(t, byName, 1)
		assert.Equal(t, value, byName[0].Name)
	})
}
