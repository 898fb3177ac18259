// Package errkind defines the closed error taxonomy used across the harvester.
// Every error that crosses a component boundary is wrapped with a Kind so
// handlers, metrics and run logs can act on classification instead of string
// matching.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the fixed taxonomy buckets.
type Kind string

const (
	Auth      Kind = "AUTH"
	Network   Kind = "NETWORK"
	Timeout   Kind = "TIMEOUT"
	Proxy     Kind = "PROXY"
	RateLimit Kind = "RATE_LIMIT"
	Scrape    Kind = "SCRAPE"
	Data      Kind = "DATA"
	Database  Kind = "DATABASE"
	Config    Kind = "CONFIG"
	Unknown   Kind = "UNKNOWN"
)

// Severity indicates how an error of a given kind should be treated
// operationally.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var severities = map[Kind]Severity{
	Auth:      SeverityHigh,
	Network:   SeverityMedium,
	Timeout:   SeverityMedium,
	Proxy:     SeverityMedium,
	RateLimit: SeverityMedium,
	Scrape:    SeverityMedium,
	Data:      SeverityLow,
	Database:  SeverityHigh,
	Config:    SeverityHigh,
	Unknown:   SeverityMedium,
}

// SeverityOf returns the severity associated with a kind.
func SeverityOf(k Kind) Severity {
	if s, ok := severities[k]; ok {
		return s
	}
	return SeverityMedium
}

// Error is a classified error. It preserves the originating message and
// supports errors.Is/As unwrapping.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Classify wraps err with fallback only when the chain carries no
// classification yet; an already-classified error keeps its kind.
func Classify(fallback Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: fallback, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain, or Unknown if the chain
// carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
