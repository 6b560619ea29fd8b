// ABOUTME: Typed error taxonomy shared by every VulnLedger component.
// ABOUTME: Callers branch on Kind via errors.Is or IsKind, never on message text.

package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers and for the presentation layer
type Kind string

const (
	KindValidation            Kind = "VALIDATION_ERROR"
	KindPermissionDenied      Kind = "PERMISSION_DENIED"
	KindNotFound              Kind = "NOT_FOUND"
	KindConflict              Kind = "CONFLICT"
	KindRateLimited           Kind = "RATE_LIMITED"
	KindEnrichmentUnavailable Kind = "ENRICHMENT_UNAVAILABLE"
	KindMalformedResponse     Kind = "MALFORMED_RESPONSE"
	KindNetwork               Kind = "NETWORK_ERROR"
	KindUpstream              Kind = "UPSTREAM_ERROR"
)

// Sentinels for errors.Is comparisons. Only Kind takes part in the match.
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrRateLimited           = &Error{Kind: KindRateLimited}
	ErrEnrichmentUnavailable = &Error{Kind: KindEnrichmentUnavailable}
	ErrMalformedResponse     = &Error{Kind: KindMalformedResponse}
	ErrNetwork               = &Error{Kind: KindNetwork}
	ErrUpstream              = &Error{Kind: KindUpstream}
)

// Error is a structured error carrying its kind, the failing operation and an optional cause
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

// New creates an error of the given kind
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given kind caused by err
func Wrap(kind Kind, op string, err error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// Error formats as "op [KIND]: message: cause"
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("%s [%s]", e.Op, e.Kind))
	} else {
		parts = append(parts, string(e.Kind))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// UserMessage returns the feedback text shown for an error kind
func UserMessage(kind Kind) string {
	switch kind {
	case KindValidation:
		return "The request is invalid. Please check the submitted fields."
	case KindPermissionDenied:
		return "You are not allowed to perform this action on this finding."
	case KindNotFound:
		return "The requested finding or attachment does not exist."
	case KindConflict:
		return "Another import is already running for this project. Wait for it to finish."
	case KindRateLimited:
		return "The text generation service is busy."
	case KindEnrichmentUnavailable:
		return "The text generation service is temporarily unavailable. Please try again later."
	case KindMalformedResponse:
		return "The text generation service returned an unusable draft."
	case KindNetwork:
		return "Could not reach the text generation service."
	case KindUpstream:
		return "The text generation service rejected the request."
	default:
		return "An unexpected error occurred."
	}
}
