package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"typed auth", &ProviderError{Kind: KindAuth, Message: "whatever"}, KindAuth},
		{"typed wins over message", &ProviderError{Kind: KindTransient, Message: "403"}, KindTransient},
		{"wrapped typed", fmt.Errorf("call: %w", &ProviderError{Kind: KindRateLimit}), KindRateLimit},
		{"canceled", fmt.Errorf("do: %w", context.Canceled), KindCanceled},
		{"403 forbidden", errors.New("403 Forbidden"), KindAuth},
		{"not logged in", errors.New("Not logged in"), KindAuth},
		{"chinese login", errors.New("未登录"), KindAuth},
		{"sign in", errors.New("Please Sign in to continue"), KindAuth},
		{"429", errors.New("HTTP 429"), KindRateLimit},
		{"too many", errors.New("Too Many Requests"), KindRateLimit},
		{"no valid response", errors.New("No valid response found"), KindTransient},
		{"network", errors.New("Network Error"), KindTransient},
		{"fetch", errors.New("Failed to fetch"), KindTransient},
		{"check network", errors.New("please check network"), KindTransient},
		{"other", errors.New("model exploded"), KindUnknown},
		{"untyped provider error", &ProviderError{Message: "401 Unauthorized"}, KindAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(errors.New("Network Error")) {
		t.Error("network errors should retry")
	}
	if !IsRetryable(&ProviderError{Kind: KindRateLimit}) {
		t.Error("rate limits should retry")
	}
	if IsRetryable(errors.New("bad prompt")) {
		t.Error("unclassified errors should not retry")
	}
	if IsRetryable(context.Canceled) {
		t.Error("cancellation should not retry")
	}
}

func TestKindOfStatus(t *testing.T) {
	cases := map[int]ErrorKind{
		401: KindAuth,
		403: KindAuth,
		429: KindRateLimit,
		500: KindTransient,
		503: KindTransient,
		400: KindUnknown,
	}
	for status, want := range cases {
		if got := KindOfStatus(status); got != want {
			t.Errorf("KindOfStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	pe := Wrap(KindTransient, "web", base)
	if !errors.Is(pe, base) {
		t.Error("Wrap should keep the cause")
	}
	if pe.Error() != "boom" {
		t.Errorf("Error() = %q", pe.Error())
	}
}

func TestLoginAndRateLimitHelpers(t *testing.T) {
	if !IsLoginRequired("Account Not logged in") || !IsLoginRequired("账号未登录") {
		t.Error("IsLoginRequired missed a login message")
	}
	if IsLoginRequired("403 Forbidden") {
		t.Error("IsLoginRequired should only match the explicit phrase")
	}
	if !IsRateLimited(errors.New("status 429")) || !IsRateLimited(&ProviderError{Kind: KindRateLimit, Message: "limit"}) {
		t.Error("IsRateLimited missed a rate limit")
	}
}
