package types

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       *CourierError
		retryable bool
		permanent bool
	}{
		{"validation", ErrValidation("bad"), false, true},
		{"authentication", ErrAuthentication("bad sig"), false, true},
		{"rate limited", ErrRateLimited("svc-a", time.Second), false, false},
		{"broker unavailable", ErrBrokerUnavailable("LPUSH", errors.New("down")), true, false},
		{"processing", ErrProcessing("handler failed", nil), true, false},
		{"permanent", ErrPermanent("unknown type", nil), false, true},
		{"not found", ErrNotFound("agent", "a-1"), false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.IsRetryable(); got != tc.retryable {
				t.Errorf("IsRetryable() = %t, want %t", got, tc.retryable)
			}
			if got := tc.err.IsPermanent(); got != tc.permanent {
				t.Errorf("IsPermanent() = %t, want %t", got, tc.permanent)
			}
		})
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ErrValidation("bad"))
	if !errors.Is(err, ErrValidation("other message")) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(err, ErrAuthentication("x")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrBrokerUnavailable("BRPOP", cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
}

func TestRetryAfter(t *testing.T) {
	err := ErrRateLimited("svc-a", 2500*time.Millisecond)
	d, ok := err.RetryAfter()
	if !ok {
		t.Fatal("expected retry hint")
	}
	if d != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %v", d)
	}

	if _, ok := ErrValidation("bad").RetryAfter(); ok {
		t.Error("validation errors carry no retry hint")
	}
}

func TestToAPIError(t *testing.T) {
	api := ErrRateLimited("svc-a", 3*time.Second).ToAPIError()
	if api.Code != ErrCodeRateLimitExceeded {
		t.Errorf("expected code %s, got %s", ErrCodeRateLimitExceeded, api.Code)
	}
	if api.RetryAfter == nil || *api.RetryAfter != 3 {
		t.Errorf("expected retry_after 3, got %v", api.RetryAfter)
	}

	api = ErrValidation("bad").ToAPIError()
	if api.RetryAfter != nil {
		t.Error("expected no retry_after on validation errors")
	}
}

func TestAsCourierError(t *testing.T) {
	if AsCourierError(nil) != nil {
		t.Error("nil should map to nil")
	}

	ce := ErrPermanent("x", nil)
	if AsCourierError(ce) != ce {
		t.Error("CourierError should pass through unchanged")
	}

	plain := errors.New("boom")
	wrapped := AsCourierError(plain)
	if wrapped.Code != ErrCodeProcessing {
		t.Errorf("plain errors wrap as %s, got %s", ErrCodeProcessing, wrapped.Code)
	}
	if !errors.Is(wrapped, plain) {
		t.Error("the original error should remain reachable")
	}
}
