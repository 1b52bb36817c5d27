package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies ledger failures so callers never have to match on messages.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInsufficientStock   Kind = "insufficient_stock"
	KindInvalidStatus       Kind = "invalid_status"
	KindInvalidRefundStatus Kind = "invalid_refund_status"
	KindInvalidState        Kind = "invalid_state"
	KindRefundFailed        Kind = "refund_failed"
	KindConstraintViolation Kind = "constraint_violation"
	KindInvalidInput        Kind = "invalid_input"
	KindConflict            Kind = "conflict"
	KindUnauthorized        Kind = "unauthorized"
)

// Error carries a Kind, the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Public renders the error without its cause, for callers outside the process.
func (e *Error) Public() string {
	msg := e.Msg
	if msg == "" {
		msg = strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	return msg
}

// Is matches any *Error of the same kind, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInsufficientStock   = &Error{Kind: KindInsufficientStock}
	ErrInvalidStatus       = &Error{Kind: KindInvalidStatus}
	ErrInvalidRefundStatus = &Error{Kind: KindInvalidRefundStatus}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrRefundFailed        = &Error{Kind: KindRefundFailed}
	ErrConstraintViolation = &Error{Kind: KindConstraintViolation}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
)

// Errorf builds a kinded error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to a lower level error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// PublicMessage returns the outermost ledger error's Public text, or "" when
// err carries no kind.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Public()
	}
	return ""
}

// KindOf reports the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// notFound is a short helper used by lookups inside operations.
func notFound(op, what string, id int64) error {
	return Errorf(KindNotFound, op, "%s %d not found", what, id)
}

// orFound converts a store NotFound into a descriptive one and passes other errors through.
func orFound(err error, op, what string, id int64) error {
	if errors.Is(err, ErrNotFound) {
		return notFound(op, what, id)
	}
	return err
}
