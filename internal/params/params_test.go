package params

import (
	"testing"
	"time"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParams(t *testing.T) {
	p := Params{
		"selector": "#go",
		"blank":    "  ",
		"timeout":  float64(1500),
		"human":    "false",
		"fields":   map[string]interface{}{"#a": "x"},
		"steps":    []interface{}{"a", "b"},
		"nothing":  nil,
		"bad":      map[string]interface{}{},
	}

	s, err := p.RequireString("selector")
	require.NoError(t, err)
	assert.Equal(t, "#go", s)

	_, err = p.RequireString("blank")
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
	assert.EqualError(t, err, "Missing required parameter: blank")

	first, err := p.FirstString("missing", "selector")
	require.NoError(t, err)
	assert.Equal(t, "#go", first)

	d, err := p.Millis("timeout", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = p.Millis("nothing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d, "null falls back to the default")

	b, err := p.Bool("human", true)
	require.NoError(t, err)
	assert.False(t, b)

	m, err := p.Map("fields")
	require.NoError(t, err)
	assert.Equal(t, "x", m["#a"])

	steps, err := p.Slice("steps")
	require.NoError(t, err)
	assert.Len(t, steps, 2)

	_, err = p.Int("bad", 0)
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
	assert.Contains(t, err.Error(), "Invalid parameter bad")
}
