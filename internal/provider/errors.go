package provider

import (
	"errors"
	"fmt"
)

// ErrorCode classifies provider failures for failover and retry policy.
type ErrorCode string

// Provider error codes.
const (
	CodeAuth        ErrorCode = "auth"
	CodeQuota       ErrorCode = "quota"
	CodeCircuitOpen ErrorCode = "circuit_open"
	CodeTransient   ErrorCode = "transient"
	CodeCancelled   ErrorCode = "cancelled"
	CodeInvalid     ErrorCode = "invalid"
)

// Error is a classified provider failure.
type Error struct {
	Provider string
	Code     ErrorCode
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified provider error.
func NewError(name string, code ErrorCode, msg string, err error) *Error {
	return &Error{Provider: name, Code: code, Message: msg, Err: err}
}

func codeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsAuthError reports whether err is a credential failure.
func IsAuthError(err error) bool { return codeOf(err) == CodeAuth }

// IsQuotaError reports whether err is a quota/rate exhaustion.
func IsQuotaError(err error) bool { return codeOf(err) == CodeQuota }

// IsCircuitOpen reports whether err is a short-circuited execute.
func IsCircuitOpen(err error) bool { return codeOf(err) == CodeCircuitOpen }

// IsRetryable reports whether the failure kind qualifies for the retry
// queue. Cancellation and invalid-input errors never retry.
func IsRetryable(err error) bool {
	switch codeOf(err) {
	case CodeAuth, CodeQuota, CodeCircuitOpen, CodeTransient:
		return true
	}
	return false
}
