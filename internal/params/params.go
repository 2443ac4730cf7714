// Package params reads typed values out of a command's JSON params. Missing
// or mistyped values become ValidationErrors.
package params

import (
	"strings"
	"time"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/failure"
	"github.com/spf13/cast"
)

// Params is the decoded "params" object of a command or bridge message.
type Params map[string]interface{}

// Has reports whether key is present and not null.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Raw returns the undecoded value.
func (p Params) Raw(key string) interface{} {
	return p[key]
}

// String returns the value as a string, or "" when absent.
func (p Params) String(key string) (string, error) {
	if !p.Has(key) {
		return "", nil
	}
	s, err := cast.ToStringE(p[key])
	if err != nil {
		return "", invalid(key, err)
	}
	return s, nil
}

// RequireString is String that rejects absent or blank values.
func (p Params) RequireString(key string) (string, error) {
	s, err := p.String(key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", failure.Validation("Missing required parameter: %s", key)
	}
	return s, nil
}

// FirstString returns the first present, non-blank key among keys.
func (p Params) FirstString(keys ...string) (string, error) {
	for _, k := range keys {
		s, err := p.String(k)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(s) != "" {
			return s, nil
		}
	}
	return "", failure.Validation("Missing required parameter: %s", strings.Join(keys, " or "))
}

// Int returns the value as an int, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	if !p.Has(key) {
		return def, nil
	}
	n, err := cast.ToIntE(p[key])
	if err != nil {
		return 0, invalid(key, err)
	}
	return n, nil
}

// Bool returns the value as a bool, or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	if !p.Has(key) {
		return def, nil
	}
	b, err := cast.ToBoolE(p[key])
	if err != nil {
		return false, invalid(key, err)
	}
	return b, nil
}

// Millis reads a millisecond count as a Duration, or def when absent.
func (p Params) Millis(key string, def time.Duration) (time.Duration, error) {
	if !p.Has(key) {
		return def, nil
	}
	ms, err := cast.ToFloat64E(p[key])
	if err != nil {
		return 0, invalid(key, err)
	}
	if ms < 0 {
		return 0, failure.Validation("Invalid parameter %s: must not be negative", key)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// Map returns a nested object, or nil when absent.
func (p Params) Map(key string) (map[string]interface{}, error) {
	if !p.Has(key) {
		return nil, nil
	}
	m, err := cast.ToStringMapE(p[key])
	if err != nil {
		return nil, invalid(key, err)
	}
	return m, nil
}

// Slice returns a nested array, or nil when absent.
func (p Params) Slice(key string) ([]interface{}, error) {
	if !p.Has(key) {
		return nil, nil
	}
	s, err := cast.ToSliceE(p[key])
	if err != nil {
		return nil, invalid(key, err)
	}
	return s, nil
}

func invalid(key string, err error) error {
	return failure.Wrap(failure.KindValidation, err, "Invalid parameter "+key+": "+err.Error())
}
