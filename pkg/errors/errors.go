// Package errors defines the typed failures surfaced by the matching and
// verification core. Every failure path returns an *Error carrying a Kind so
// callers can branch on it without string matching.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/lib/pq"
)

type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindDuplicateMapping      Kind = "duplicate_mapping"
	KindDuplicateMasterID     Kind = "duplicate_master_id"
	KindInvalidTransition     Kind = "invalid_transition"
	KindMissingMasterID       Kind = "missing_master_id"
	KindTransientStoreFailure Kind = "transient_store_failure"
	KindQueueExhausted        Kind = "queue_exhausted"
	KindValidation            Kind = "validation"
	KindInternal              Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Meta    map[string]any
	cause   error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, cause: err}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) AddMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

func (e *Error) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(statusFor(e.Kind), e.Message).AddMetaValue("kind", string(e.Kind))
	for k, v := range e.Meta {
		herr = herr.AddMetaValue(k, v)
	}
	return herr
}

func statusFor(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateMapping, KindDuplicateMasterID:
		return http.StatusConflict
	case KindInvalidTransition, KindMissingMasterID:
		return http.StatusUnprocessableEntity
	case KindValidation:
		return http.StatusBadRequest
	case KindTransientStoreFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

func IsTransient(err error) bool {
	return IsKind(err, KindTransientStoreFailure)
}

// As is re-exported so callers importing this package don't need the std one too.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// FromStore classifies a database error. Unique violations become
// duplicateKind, lock and connection failures become transient, anything
// else is internal.
func FromStore(err error, duplicateKind Kind, msg string) *Error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == "23505":
			return Wrap(duplicateKind, err, msg)
		case code == "40001", code == "40P01", code == "55P03", strings.HasPrefix(code, "08"):
			return Wrap(KindTransientStoreFailure, err, msg)
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTransientStoreFailure, err, msg)
	}
	return Wrap(KindInternal, err, msg)
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// attempts are used up. The delay doubles after each transient failure.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
