package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModelUnavailable signals that a provider backend could not serve the
// request at all: connection failures, 5xx responses, or a reverse proxy
// answering with plain text instead of JSON. Callers treat it as retryable.
type ErrModelUnavailable struct {
	Provider string
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("model backend %s unavailable: %v", e.Provider, e.Cause)
	}
	if e.Body != "" {
		return fmt.Sprintf("model backend %s unavailable: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("model backend %s unavailable", e.Provider)
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// IsRetryable reports whether an orchestrator loop should retry the call
// after a backoff instead of failing the task.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var unavail *ErrModelUnavailable
	if errors.As(err, &unavail) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	if containsAny(errStr, "429", "rate limit", "too many requests", "overloaded") {
		return true
	}
	if containsAny(errStr, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable") {
		return true
	}
	if containsAny(errStr, "connection reset", "connection refused", "eof", "timeout", "temporary") {
		return true
	}
	return false
}

// HandleError converts common SDK errors to user-friendly errors.
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden") {
		return fmt.Errorf("authentication failed: %w", err)
	}

	if containsAny(errStr, "429", "rate limit", "quota", "too many requests") {
		return fmt.Errorf("rate limited: %w", err)
	}

	if containsAny(errStr, "context length", "too many tokens", "max tokens", "token limit") {
		return fmt.Errorf("context too long: %w", err)
	}

	if containsAny(errStr, "model not found", "404", "not found") {
		return fmt.Errorf("model not found: %w", err)
	}

	if containsAny(errStr, "connection", "eof", "timeout", "dial", "refused") {
		return fmt.Errorf("connection error: %w", err)
	}

	return err
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
