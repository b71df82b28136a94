package domain

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeAlreadyExists    ErrorCode = "ALREADY_EXISTS"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeRetryExhausted   ErrorCode = "RETRY_EXHAUSTED"
	CodeExternalFailure  ErrorCode = "EXTERNAL_FAILURE"
	CodeAgentCapped      ErrorCode = "AGENT_CAPPED"
	CodeAgentTimeout     ErrorCode = "AGENT_TIMEOUT"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
)

// Meta keys attached to coded errors.
const (
	MetaRetryAfter = "retry_after"
	MetaDependency = "dependency"
)

var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrPromptNotFound   = errors.New("prompt not found")
	ErrRegistryNotFound = errors.New("registry not found")
	ErrDuplicateName    = errors.New("duplicate name")
	ErrValidation       = errors.New("validation failed")
	ErrRateLimited      = errors.New("rate limited")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrAgentCapped      = errors.New("agent iteration cap reached")
	ErrAgentTimeout     = errors.New("agent step timed out")
)

type Error struct {
	Code      ErrorCode
	Op        string
	Message   string
	Cause     error
	Retryable bool
	Meta      map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:      existing.Code,
			Op:        op,
			Message:   existing.Message,
			Cause:     existing.Cause,
			Retryable: existing.Retryable,
			Meta:      existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// RateLimitedError reports a rejected caller with the time left in its window.
func RateLimitedError(op string, retryAfter time.Duration) *Error {
	err := E(CodeRateLimited, op, fmt.Sprintf("retry after %s", retryAfter), ErrRateLimited)
	err.Retryable = true
	err.Meta = map[string]string{MetaRetryAfter: strconv.FormatInt(retryAfter.Milliseconds(), 10)}
	return err
}

// RetryAfterFrom extracts the retry hint from a rate-limited error.
func RetryAfterFrom(err error) (time.Duration, bool) {
	var domainErr *Error
	if !errors.As(err, &domainErr) || domainErr.Meta == nil {
		return 0, false
	}
	raw, ok := domainErr.Meta[MetaRetryAfter]
	if !ok {
		return 0, false
	}
	ms, parseErr := strconv.ParseInt(raw, 10, 64)
	if parseErr != nil {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// ExternalFailure wraps a downstream error with the dependency name attached.
func ExternalFailure(dependency string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Code != CodeExternalFailure {
		return err
	}
	wrapped := E(CodeExternalFailure, dependency, "", err)
	wrapped.Retryable = IsRetryable(err)
	wrapped.Meta = map[string]string{MetaDependency: dependency}
	return wrapped
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrValidation):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrToolNotFound), errors.Is(err, ErrResourceNotFound), errors.Is(err, ErrPromptNotFound), errors.Is(err, ErrRegistryNotFound):
		return CodeNotFound, true
	case errors.Is(err, ErrDuplicateName):
		return CodeAlreadyExists, true
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited, true
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen, true
	case errors.Is(err, ErrAgentCapped):
		return CodeAgentCapped, true
	case errors.Is(err, ErrAgentTimeout):
		return CodeAgentTimeout, true
	default:
		return "", false
	}
}

// IsRetryable reports whether err describes a transient condition worth retrying:
// rate-limit signals, transient unavailability and timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable()
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		if domainErr.Retryable {
			return true
		}
		switch domainErr.Code {
		case CodeRateLimited, CodeUnavailable, CodeDeadlineExceeded:
			return true
		case CodeCircuitOpen:
			return false
		}
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return errors.Is(err, ErrRateLimited)
}
