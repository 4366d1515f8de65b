package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a ScrapeError for callers and the API layer.
type ErrorKind string

const (
	KindInvalidRequest    ErrorKind = "INVALID_REQUEST"
	KindFetchFailure      ErrorKind = "FETCH_FAILURE"
	KindActionTimeout     ErrorKind = "ACTION_TIMEOUT"
	KindActionFailed      ErrorKind = "ACTION_FAILED"
	KindExtractionFailure ErrorKind = "EXTRACTION_FAILURE"
	KindUpstreamOverload  ErrorKind = "UPSTREAM_OVERLOAD"
	KindInternalFailure   ErrorKind = "INTERNAL_FAILURE"
	KindUnauthorized      ErrorKind = "UNAUTHORIZED"
)

// ReasonElementNotFound is set on KindActionFailed errors raised when an
// action's selector matched nothing.
const ReasonElementNotFound = "element_not_found"

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code      ErrorKind `json:"code"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason,omitempty"`
	Retryable bool      `json:"retryable"`
}

// ScrapeError is the internal error type carrying an error kind.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Kind    ErrorKind
	Message string
	Reason  string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed if sent again.
func (e *ScrapeError) Retryable() bool {
	switch e.Kind {
	case KindUpstreamOverload, KindActionTimeout, KindFetchFailure:
		return true
	}
	return false
}

// HTTPStatus maps the error kind to the status code returned by the API.
func (e *ScrapeError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest, KindActionFailed:
		return http.StatusBadRequest
	case KindFetchFailure:
		return http.StatusBadGateway
	case KindActionTimeout:
		return http.StatusRequestTimeout
	case KindExtractionFailure:
		return http.StatusUnprocessableEntity
	case KindUpstreamOverload:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(kind ErrorKind, message string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Message: message, Err: err}
}

// ElementNotFound builds the error returned when an action selector matched nothing.
func ElementNotFound(selector string, err error) *ScrapeError {
	return &ScrapeError{
		Kind:    KindActionFailed,
		Message: fmt.Sprintf("element %q not found", selector),
		Reason:  ReasonElementNotFound,
		Err:     err,
	}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{
		Code:      e.Kind,
		Message:   e.Message,
		Reason:    e.Reason,
		Retryable: e.Retryable(),
	}
}

// AsScrapeError extracts a *ScrapeError from err, wrapping unknown errors
// as KindInternalFailure.
func AsScrapeError(err error) *ScrapeError {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return NewScrapeError(KindInternalFailure, "internal error", err)
}

// IsKind reports whether err is a ScrapeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *ScrapeError
	return errors.As(err, &se) && se.Kind == kind
}
