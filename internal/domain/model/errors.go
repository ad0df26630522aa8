package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds from the error handling design. Each is checked
// with errors.Is; Timeout and HttpStatus carry fields and are matched
// with errors.As instead.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrLimited        = errors.New("rate limited")
	ErrCircuitOpen    = errors.New("circuit open")
	ErrPoolExhausted  = errors.New("connection pool exhausted")
	ErrTransport      = errors.New("transport error")
	ErrCancelled      = errors.New("request cancelled")
	ErrInternal       = errors.New("internal error")
	ErrTimeout        = errors.New("timeout")
	ErrHttpStatus     = errors.New("http status error")
)

// Phase identifies the pipeline stage a Timeout fired in, so callers
// and logs can tell a DNS timeout from a read timeout.
type Phase string

const (
	PhaseAdmission    Phase = "admission"
	PhaseQueue        Phase = "queue"
	PhaseRateLimit    Phase = "rate_limit"
	PhaseConnect      Phase = "connect"
	PhaseTLSHandshake Phase = "tls_handshake"
	PhaseHeaderWrite  Phase = "header_write"
	PhaseHeaderRead   Phase = "header_read"
	PhaseBodyRead     Phase = "body_read"
)

// TimeoutError reports which phase timed out and the budget that was
// exceeded.
type TimeoutError struct {
	Phase   Phase
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout in phase %s after %s", e.Phase, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// HttpStatusError wraps a non-2xx upstream response. It is not itself
// retry advice; internal/core/retry decides that from Status.
type HttpStatusError struct {
	Status int
	URL    string
}

func (e *HttpStatusError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.Status, e.URL)
}

func (e *HttpStatusError) Is(target error) bool {
	return target == ErrHttpStatus
}

// Retriable reports whether the pipeline should retry a failed fetch,
// per the error handling design's retriability table. Retriable by
// default: Transport, Timeout, Limited, and HttpStatus for
// {408, 429, 500, 502, 503, 504}. Never retried: CircuitOpen,
// InvalidRequest, Cancelled — an open breaker or a malformed request
// will not start succeeding by spinning, and a cancelled caller is no
// longer listening for the result.
func Retriable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrCancelled):
		return false
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrTransport), errors.Is(err, ErrLimited):
		return true
	}

	var statusErr *HttpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case 408, 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}

	return false
}

// ValidationError and ValidationErrors carry structured admission
// rejections back to the caller (e.g. scheme not allowed, host
// resolves to a private range, body too large).
type ValidationError struct {
	Field   string
	Message string
	Code    string
}

type ValidationErrors struct {
	Errors []ValidationError
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}

	return v.Errors[0].Message
}

func (v *ValidationErrors) Is(target error) bool {
	return target == ErrInvalidRequest
}

func (v *ValidationErrors) Add(field, message, code string) {
	v.Errors = append(v.Errors, ValidationError{
		Field:   field,
		Message: message,
		Code:    code,
	})
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}
