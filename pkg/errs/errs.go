// Package errs defines the closed set of error kinds returned by the safe
// engine and its components.
//
// Every failure that crosses a component boundary is an *Error carrying one
// Kind. At the call boundary errors are flattened into strings, so the
// formatted message is stable and greppable:
//
//	not found: file: docs/report.pdf
//	access denied: set users requires admin permission
//	io error: write destination: /tmp/out.bin: permission denied
//
// Callers match kinds with errors.Is against the exported sentinels:
//
//	if errors.Is(err, errs.ErrNotFound) {
//	    ...
//	}
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the category of an engine error.
type Kind int

const (
	// KindNotFound indicates the requested config key, identity, safe or file does not exist
	KindNotFound Kind = iota

	// KindAlreadyExists indicates a safe or file with the same name already exists
	KindAlreadyExists

	// KindAuthError indicates the identity's key cannot unwrap the safe's access structures
	KindAuthError

	// KindAccessDenied indicates the identity lacks the permission required by the operation
	KindAccessDenied

	// KindInvalidToken indicates an access token is malformed, tampered or unsupported
	KindInvalidToken

	// KindInvalidHandle indicates a safe handle is unknown or already closed
	KindInvalidHandle

	// KindIOError indicates a failure reading or writing storage, database or local files
	KindIOError

	// KindGenerationError indicates key material or identifiers could not be generated
	KindGenerationError

	// KindConflict indicates a concurrent modification was detected
	KindConflict

	// KindInvalidArgument indicates malformed input (options, names, JSON payloads)
	KindInvalidArgument

	// KindNotStarted indicates the engine was used before Start or after Stop
	KindNotStarted
)

// String returns the stable text used as the message prefix.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindAuthError:
		return "auth error"
	case KindAccessDenied:
		return "access denied"
	case KindInvalidToken:
		return "invalid token"
	case KindInvalidHandle:
		return "invalid handle"
	case KindIOError:
		return "io error"
	case KindGenerationError:
		return "generation error"
	case KindConflict:
		return "conflict"
	case KindInvalidArgument:
		return "invalid argument"
	case KindNotStarted:
		return "not started"
	default:
		return "unknown error"
	}
}

// Label returns the kind in snake case, for metric labels and logs.
func (k Kind) Label() string {
	return strings.ReplaceAll(k.String(), " ", "_")
}

// Error is a categorized engine error.
type Error struct {
	// Kind is the error category
	Kind Kind

	// Message is a short human-readable description
	Message string

	// Unit names the object the error refers to (file name, identity id, handle)
	Unit string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Unit != "" {
		msg += ": " + e.Unit
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Unit == "" && t.Err == nil
}

// Sentinels for errors.Is matching.
var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrAlreadyExists   = &Error{Kind: KindAlreadyExists}
	ErrAuth            = &Error{Kind: KindAuthError}
	ErrAccessDenied    = &Error{Kind: KindAccessDenied}
	ErrInvalidToken    = &Error{Kind: KindInvalidToken}
	ErrInvalidHandle   = &Error{Kind: KindInvalidHandle}
	ErrIO              = &Error{Kind: KindIOError}
	ErrGeneration      = &Error{Kind: KindGenerationError}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotStarted      = &Error{Kind: KindNotStarted}
)

// New creates an error of the given kind for unit.
func New(kind Kind, unit, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Unit: unit}
}

// Wrap creates an error of the given kind around cause.
//
// If cause already is an *Error it is returned unchanged, so the innermost
// classification wins when errors travel through several layers.
func Wrap(kind Kind, cause error, unit, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	var existing *Error
	if errors.As(cause, &existing) {
		return cause
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Unit: unit, Err: cause}
}

// KindOf returns the kind of err, or false if err is not an engine error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
