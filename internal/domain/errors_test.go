package domain

import (
	"errors"
	"testing"
)

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{403, KindAuthentication},
		{404, KindNotFound},
		{429, KindRateLimit},
		{500, KindConnection},
		{503, KindConnection},
		{400, KindConnection},
		{200, KindConnection},
	}
	for _, c := range cases {
		if got := ClassifyHTTPStatus(c.status); got != c.want {
			t.Errorf("ClassifyHTTPStatus(%d) = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestKindOfAndIsKind(t *testing.T) {
	wrapped := WrapError(KindTimeout, "request timed out", errors.New("dial tcp: timeout"))
	if KindOf(wrapped) != KindTimeout {
		t.Errorf("KindOf(wrapped) = %v, want Timeout", KindOf(wrapped))
	}
	if !IsKind(wrapped, KindTimeout) {
		t.Error("expected IsKind(wrapped, Timeout) to be true")
	}

	plain := errors.New("plain error, never classified")
	if KindOf(plain) != KindInternal {
		t.Errorf("KindOf(plain) = %v, want Internal (default)", KindOf(plain))
	}

	// errors.As must see through a wrapping fmt.Errorf-style chain.
	outer := errors.Join(wrapped)
	if KindOf(outer) != KindTimeout {
		t.Errorf("KindOf(joined) = %v, want Timeout to survive wrapping", KindOf(outer))
	}
}

func TestLoxoneErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := WrapError(KindConnection, "dial failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Error() == "" {
		t.Error("expected a non-empty error message")
	}
	bare := NewError(KindNotFound, "missing")
	if bare.Unwrap() != nil {
		t.Error("expected NewError to carry no cause")
	}
}

func TestNeverRetrySet(t *testing.T) {
	for _, k := range []Kind{KindAuthentication, KindInvalidInput, KindConsentDenied, KindCredentials} {
		if !NeverRetry[k] {
			t.Errorf("expected %v to be in NeverRetry", k)
		}
	}
	for _, k := range []Kind{KindConnection, KindTimeout, KindServiceUnavailable, KindRateLimit} {
		if NeverRetry[k] {
			t.Errorf("expected %v to be retryable (not in NeverRetry)", k)
		}
	}
}

func TestKindString(t *testing.T) {
	if Kind(999).String() != "Unknown" {
		t.Error("expected out-of-range Kind to stringify as Unknown")
	}
	if KindAuthentication.String() != "Authentication" {
		t.Errorf("got %q", KindAuthentication.String())
	}
}
