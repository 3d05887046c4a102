// Package apierr defines the closed set of error kinds the client surfaces
// to the UI and to the audit trail. Kinds, not types: every failure mode
// that can reach a user or a log line collapses into one of these before it
// crosses a package boundary.
package apierr

import "errors"

// Kind identifies a class of failure.
type Kind int

const (
	// KindNone means no error.
	KindNone Kind = iota
	KindNoHostname
	KindNoCredentials
	KindRequestsTimeout
	KindRequestsError
	KindAccessDenied
	KindInvalidHTTPStatus
	KindJSONDecodeError
	KindDBMigrationMismatch
	KindStoreUnavailable
	KindDiskFull
	KindAudioDecodeError
)

var messages = map[Kind]string{
	KindNone:                "",
	KindNoHostname:          "No host configured.",
	KindNoCredentials:       "No credentials configured.",
	KindRequestsTimeout:     "Timeout contacting host.",
	KindRequestsError:       "Timeout or bad response from host.",
	KindAccessDenied:        "Access denied.",
	KindInvalidHTTPStatus:   "Bad response from host.",
	KindJSONDecodeError:     "Invalid response format from host.",
	KindDBMigrationMismatch: "Server database schema is not understood by this client.",
	KindStoreUnavailable:    "Local catalog store is unavailable.",
	KindDiskFull:            "Disk is full.",
	KindAudioDecodeError:    "Could not decode audio file.",
}

// String returns the user-facing message for k.
func (k Kind) String() string {
	if msg, ok := messages[k]; ok {
		return msg
	}
	return "An unexpected error occurred."
}

// Error wraps a Kind with an optional cause and descriptive detail, so
// callers can log a precise message while switching on a closed Kind.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error for kind with an optional wrapped cause.
func New(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
