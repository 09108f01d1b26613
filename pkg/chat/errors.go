package chat

import (
	"errors"
	"fmt"
)

const (
	ErrorInvalidEnvelope = "invalid_envelope"
	ErrorInvalidJSON     = "invalid_json"
	ErrorMissingField    = "missing_field"
)

// ErrDecode matches every categorized decoding error via errors.Is.
var ErrDecode = errors.New("decode chat event")

// Error represents a stable, categorized decoding failure.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Category
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", e.Category, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDecode) match any categorized error.
func (e *Error) Is(target error) bool {
	return target == ErrDecode
}

// NewError creates a categorized decoding error.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// WrapError creates a categorized decoding error around a cause.
func WrapError(category string, detail string, err error) error {
	return &Error{Category: category, Detail: detail, Err: err}
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	return ""
}
