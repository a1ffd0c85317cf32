package constants

import (
	"errors"
	"fmt"
	"net/http"
)

// CodedError is an error that knows which HTTP status it should be rendered with.
type CodedError struct {
	code int
	msg  string
}

func NewCodedError(code int, msg string) *CodedError {
	return &CodedError{code: code, msg: msg}
}

func (e *CodedError) Error() string {
	return e.msg
}

func (e *CodedError) Code() int {
	return e.code
}

var (
	ErrBadRequest  = NewCodedError(http.StatusBadRequest, "bad request")
	ErrNotFound    = NewCodedError(http.StatusNotFound, "not found")
	ErrUpstream    = NewCodedError(http.StatusServiceUnavailable, "upstream unavailable")
	ErrForbidden   = NewCodedError(http.StatusForbidden, "forbidden")
	ErrRateLimited = NewCodedError(http.StatusTooManyRequests, "rate limited")
	ErrInternal    = NewCodedError(http.StatusInternalServerError, "internal error")

	ErrUnauthorized = NewCodedError(http.StatusUnauthorized, "unauthorized")
	ErrMaintenance  = NewCodedError(http.StatusServiceUnavailable, "site under maintenance")

	ErrDBNotFound = errors.New("db: not found")
)

// BadRequestf returns an error of kind ErrBadRequest with a descriptive message.
func BadRequestf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrBadRequest)
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func Upstreamf(err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), ErrUpstream, err)
}

// Redirect targets used by access denials.
const (
	RedirectPayment = "/accounts/payment-required/"
	RedirectUpgrade = "/accounts/upgrade/"
	RedirectDenied  = "/access-denied/"
)

// ForbiddenError is returned when the access controller denies a tier. Redirect is
// where an HTML client should be sent; an empty Redirect means render the denial page.
type ForbiddenError struct {
	Tier     string
	Redirect string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("access denied for tier %s", e.Tier)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}
