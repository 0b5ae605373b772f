package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that branch on failure type.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotAuthorized        Kind = "not_authorized"
	KindAlreadyScored        Kind = "already_scored"
	KindAssigneeScoreMissing Kind = "assignee_score_missing"
	KindMissingOccurrence    Kind = "missing_occurrence"
	KindUploadError          Kind = "upload_error"
	KindUploadTimeout        Kind = "upload_timeout"
	KindNotFound             Kind = "not_found"
	KindInternal             Kind = "internal"
)

// Error is a domain error carrying a Kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal
// for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
