package model

import "fmt"

// ErrorKind classifies request-level failures so transports can map them to
// status codes.
type ErrorKind int

const (
	KindInvalidInput ErrorKind = iota + 1
	KindFieldTooLong
	KindConflict
	KindPreconditionRequired
	KindNotFound
)

// String returns a short name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindFieldTooLong:
		return "field_too_long"
	case KindConflict:
		return "conflict"
	case KindPreconditionRequired:
		return "precondition_required"
	case KindNotFound:
		return "not_found"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure, optionally naming the offending property.
type Error struct {
	Kind    ErrorKind
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches sentinel errors of the same kind, so callers can write
// errors.Is(err, model.ErrInvalidInput).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Field == "" && t.Message == ""
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrFieldTooLong         = &Error{Kind: KindFieldTooLong}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrPreconditionRequired = &Error{Kind: KindPreconditionRequired}
	ErrNotFound             = &Error{Kind: KindNotFound}
)

// InvalidInput returns a KindInvalidInput error for field.
func InvalidInput(field, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Field: field, Message: fmt.Sprintf(format, args...)}
}

// FieldTooLong returns a KindFieldTooLong error for field.
func FieldTooLong(field, format string, args ...any) *Error {
	return &Error{Kind: KindFieldTooLong, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// PreconditionRequired returns a KindPreconditionRequired error.
func PreconditionRequired(format string, args ...any) *Error {
	return &Error{Kind: KindPreconditionRequired, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}
