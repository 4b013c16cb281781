// Package apperr is the error taxonomy shared by the reservation service,
// the gateway and the HTTP handlers.  Each Error carries a Kind that maps
// to an HTTP status and a stable Code that clients can switch on.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	KindServer Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindForbidden
	KindPayment
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindPayment:
		return "payment"
	default:
		return "server"
	}
}

// Stable codes.  Conflict codes distinguish held from sold seats so
// clients can render them differently.
const (
	CodeInvalid          = "INVALID"
	CodeSeatHeld         = "SEAT_HELD"
	CodeSeatBooked       = "SEAT_BOOKED"
	CodeNotFound         = "NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeScreeningOverlap = "SCREENING_OVERLAP"
	CodeTicketState      = "TICKET_STATE"
	CodePaymentRejected  = "PAYMENT_REJECTED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeServerError      = "SERVER_ERROR"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, code, msg string) *Error { return &Error{Kind: kind, Code: code, Message: msg} }

// Validation reports malformed input.  No side effects have happened.
func Validation(msg string) *Error { return newErr(KindValidation, CodeInvalid, msg) }

// Conflict reports a seat or state conflict identified by code.
func Conflict(code, msg string) *Error { return newErr(KindConflict, code, msg) }

// NotFound reports a missing hold, ticket or screening.
func NotFound(msg string) *Error { return newErr(KindNotFound, CodeNotFound, msg) }

// Forbidden reports an operation on someone else's resource.
func Forbidden(msg string) *Error { return newErr(KindForbidden, CodeForbidden, msg) }

// Payment reports a rejected payment.
func Payment(msg string) *Error { return newErr(KindPayment, CodePaymentRejected, msg) }

// Server wraps an unexpected failure.
func Server(msg string, err error) *Error {
	return &Error{Kind: KindServer, Code: CodeServerError, Message: msg, Err: err}
}

// With attaches a cause to e and returns it.
func (e *Error) With(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindServer for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeServerError.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeServerError
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindPayment:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show a client: the classified
// message, or a generic one for server errors.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindServer {
		return e.Message
	}
	return "internal server error"
}
