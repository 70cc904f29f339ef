package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure so transport layers can map it to a
// status without inspecting individual error codes.
type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	Unauthorized
	Forbidden
	Unavailable
)

// Error is a coded service failure. Codes follow "<operation>.<reason>" so a
// response body can be correlated with the log line that produced it.
type Error struct {
	kind      Kind
	operation string
	reason    string
	err       error
}

// New wraps cause in a coded error of the given kind.
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{kind: kind, operation: operation, reason: reason, err: cause}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.Code()
	}
	return fmt.Sprintf("%s: %v", e.Code(), e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the dotted operation/reason identifier.
func (e *Error) Code() string {
	return fmt.Sprintf("%s.%s", e.operation, e.reason)
}

// Reason returns the failure reason without the operation prefix.
func (e *Error) Reason() string {
	return e.reason
}

// KindOf extracts the Kind carried by err, or Internal when err carries none.
func KindOf(err error) Kind {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.kind
	}
	return Internal
}

// CodeOf extracts the dotted code carried by err, or "internal_error".
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "internal_error"
}

// ReasonOf extracts the bare reason carried by err, or "internal_error".
func ReasonOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.reason
	}
	return "internal_error"
}
