package scraper

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass labels why a unit failed. The empty class means success.
type ErrorClass string

// Error classes reported on WorkResults.
const (
	ClassNone                 ErrorClass = ""
	ClassCaptchaFailure       ErrorClass = "captcha_failure"
	ClassNavigationError      ErrorClass = "navigation_error"
	ClassSessionInvalid       ErrorClass = "session_invalid"
	ClassSessionUnrecoverable ErrorClass = "session_unrecoverable"
	ClassStorageError         ErrorClass = "storage_error"
	ClassCanceled             ErrorClass = "canceled"
)

var (
	// ErrCaptchaExhausted means every captcha attempt for a unit was used up.
	ErrCaptchaExhausted = errors.New("captcha attempts exhausted")
	// ErrSessionUnrecoverable means full setup failed after its retry budget.
	ErrSessionUnrecoverable = errors.New("session unrecoverable")
	// ErrSessionInvalid means the form no longer shows the expected selection.
	ErrSessionInvalid = errors.New("session selection lost")
	// ErrNoSessions means the pool could not establish a single session.
	ErrNoSessions = errors.New("no sessions could be established")
	// ErrRateLimitTimeout means a captcha slot could not be acquired before
	// the run context ended.
	ErrRateLimitTimeout = errors.New("rate limit wait aborted")
	// ErrStorage means the artifact for a scraped unit could not be saved.
	ErrStorage = errors.New("artifact storage failed")
	// ErrNotFound signals a missing reference-data entry.
	ErrNotFound = errors.New("not found")
)

// NavKind separates navigator failures so recovery can branch on them.
type NavKind int

// Navigator failure kinds.
const (
	NavNetwork NavKind = iota
	NavNotFound
	NavTimeout
	// NavNoOption means the dropdown exists but lacks the requested value.
	NavNoOption
)

func (k NavKind) String() string {
	switch k {
	case NavNotFound:
		return "element not found"
	case NavTimeout:
		return "timeout"
	case NavNoOption:
		return "option not found"
	default:
		return "navigation"
	}
}

// NavError is returned by FormNavigator implementations.
type NavError struct {
	Kind NavKind
	Op   string
	// Target is the field, selector or URL involved, if any.
	Target string
	Err    error
}

func (e *NavError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Kind)
	if e.Target != "" {
		msg += " (" + e.Target + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NavError) Unwrap() error {
	return e.Err
}

// NewNavError builds a NavError, inferring a timeout from the wrapped error.
func NewNavError(kind NavKind, op, target string, err error) *NavError {
	if kind == NavNetwork && errors.Is(err, context.DeadlineExceeded) {
		kind = NavTimeout
	}
	return &NavError{Kind: kind, Op: op, Target: target, Err: err}
}

// IsNavKind reports whether err is a NavError of the given kind.
func IsNavKind(err error, kind NavKind) bool {
	var navErr *NavError
	return errors.As(err, &navErr) && navErr.Kind == kind
}

// Classify maps an error onto the result taxonomy.
func Classify(err error) ErrorClass {
	var navErr *NavError
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, context.Canceled), errors.Is(err, ErrRateLimitTimeout):
		return ClassCanceled
	case errors.Is(err, ErrStorage):
		return ClassStorageError
	case errors.Is(err, ErrCaptchaExhausted):
		return ClassCaptchaFailure
	case errors.Is(err, ErrSessionUnrecoverable):
		return ClassSessionUnrecoverable
	case errors.Is(err, ErrSessionInvalid):
		return ClassSessionInvalid
	case errors.As(err, &navErr):
		if navErr.Kind == NavNotFound {
			return ClassSessionInvalid
		}
		return ClassNavigationError
	default:
		return ClassNavigationError
	}
}
