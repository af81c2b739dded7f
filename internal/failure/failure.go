// Package failure classifies errors that reach the control loop.
//
// Only three kinds end the process: a missing host dependency, a failed
// engine download and missing privileges. Everything else is reported and
// the menu is shown again.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindMissingDependency
	KindDownloadFailure
	KindEngineUnresponsive
	KindPrivilegeMissing
	KindUnknownSelection
)

func (k Kind) String() string {
	switch k {
	case KindMissingDependency:
		return "missing_dependency"
	case KindDownloadFailure:
		return "download_failure"
	case KindEngineUnresponsive:
		return "engine_unresponsive"
	case KindPrivilegeMissing:
		return "privilege_missing"
	case KindUnknownSelection:
		return "unknown_selection"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind terminate the process.
func (k Kind) Fatal() bool {
	switch k {
	case KindMissingDependency, KindDownloadFailure, KindPrivilegeMissing:
		return true
	default:
		return false
	}
}

// Error is a classified failure. Hint is an operator-facing remediation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	Hint string
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	if e.Err != nil {
		sb.WriteString(e.Err.Error())
	} else {
		sb.WriteString(strings.ReplaceAll(e.Kind.String(), "_", " "))
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can test against the
// package sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrMissingDependency  = &Error{Kind: KindMissingDependency}
	ErrDownloadFailure    = &Error{Kind: KindDownloadFailure}
	ErrEngineUnresponsive = &Error{Kind: KindEngineUnresponsive}
	ErrPrivilegeMissing   = &Error{Kind: KindPrivilegeMissing}
	ErrUnknownSelection   = &Error{Kind: KindUnknownSelection}
)

func MissingDependency(op, format string, args ...any) error {
	return &Error{Kind: KindMissingDependency, Op: op, Err: fmt.Errorf(format, args...)}
}

func DownloadFailure(op string, err error) error {
	return &Error{Kind: KindDownloadFailure, Op: op, Err: err}
}

func EngineUnresponsive(op string, err error) error {
	return &Error{Kind: KindEngineUnresponsive, Op: op, Err: err}
}

func PrivilegeMissing(op string, err error, hint string) error {
	return &Error{Kind: KindPrivilegeMissing, Op: op, Err: err, Hint: hint}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must terminate the process with exit code 1.
func IsFatal(err error) bool {
	return KindOf(err).Fatal()
}

// HintOf returns the remediation hint attached to err, if any.
func HintOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Hint
	}
	return ""
}
