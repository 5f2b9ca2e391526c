package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies provider failures for retry and translation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuth
	KindTransient
	KindRateLimit
	KindCanceled
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindRateLimit:
		return "rate_limit"
	case KindCanceled:
		return "canceled"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	Kind     ErrorKind `json:"kind"`
	Provider string    `json:"provider,omitempty"`
	Status   int       `json:"status,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message"`
	Err      error     `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Wrap attaches a kind to err. The message of err is kept as is.
func Wrap(kind ErrorKind, provider string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: err.Error(), Err: err}
}

// StatusError builds a ProviderError for a non-2xx HTTP response.
func StatusError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Kind:     KindOfStatus(status),
		Provider: provider,
		Status:   status,
		Message:  fmt.Sprintf("%d %s: %s", status, http.StatusText(status), strings.TrimSpace(body)),
	}
}

// KindOfStatus maps an HTTP status to an error kind.
func KindOfStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

// KindOf returns the kind of err. Typed errors win; untyped errors
// fall back to message patterns.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind != KindUnknown {
		return pe.Kind
	}
	return ClassifyMessage(err.Error())
}

var (
	authPatterns = []string{
		"未登录", "not logged in", "sign in", "401", "403",
	}
	transientPatterns = []string{
		"no valid response found", "network error", "failed to fetch", "check network",
	}
	rateLimitPatterns = []string{
		"429", "too many requests",
	}
)

// ClassifyMessage classifies an error message by pattern.
func ClassifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	if containsAny(lower, authPatterns) {
		return KindAuth
	}
	if containsAny(lower, rateLimitPatterns) {
		return KindRateLimit
	}
	if containsAny(lower, transientPatterns) {
		return KindTransient
	}
	return KindUnknown
}

// IsLoginRequired reports whether the message says the account is signed out.
func IsLoginRequired(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "not logged in") || strings.Contains(msg, "未登录")
}

// IsRateLimited reports whether err is a rate limit response.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == KindRateLimit {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), rateLimitPatterns)
}

// IsRetryable reports whether a web attempt that failed with err may be retried.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindTransient, KindRateLimit:
		return true
	}
	return false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
