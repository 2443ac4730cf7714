// Package failure defines the error taxonomy carried by every failed Response.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the category of a command failure. It is reported to the controller
// alongside the human readable message.
type Kind string

const (
	// KindValidation marks a malformed or unknown command, in which case no Task
	// is created, or invalid params rejected by a handler after its Task started.
	KindValidation Kind = "ValidationError"
	// KindElementNotFound marks a selector that matched nothing.
	KindElementNotFound Kind = "ElementNotFound"
	// KindElementNotInteractable marks a target that is detached, disabled, or has no size.
	KindElementNotInteractable Kind = "ElementNotInteractable"
	// KindTimeout marks a handler that exceeded its budget.
	KindTimeout Kind = "Timeout"
	// KindConnectionLost marks a command abandoned because the controller socket closed.
	KindConnectionLost Kind = "ConnectionLost"
	// KindHandler is the catch-all for domain failures and recovered panics.
	KindHandler Kind = "HandlerError"
)

// Error is a classified failure. Message is what the controller sees.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. The message of err is kept unless message is non-empty.
func Wrap(kind Kind, err error, message string) *Error {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation builds a ValidationError.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

// NotFound builds the ElementNotFound error for selector.
func NotFound(selector string) *Error {
	return &Error{Kind: KindElementNotFound, Message: "Element not found: " + selector}
}

// NotInteractable builds an ElementNotInteractable error for selector.
func NotInteractable(selector, reason string) *Error {
	return &Error{
		Kind:    KindElementNotInteractable,
		Message: fmt.Sprintf("Element not interactable: %s (%s)", selector, reason),
	}
}

// Handler wraps a domain failure as a HandlerError.
func Handler(format string, args ...interface{}) *Error {
	return New(KindHandler, format, args...)
}

// ErrConnectionLost is the cancellation cause used when the controller socket drops.
var ErrConnectionLost = &Error{Kind: KindConnectionLost, Message: "Connection lost"}

// KindOf returns the Kind of err. Context expiry maps to Timeout; anything
// unclassified is a HandlerError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindHandler
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
