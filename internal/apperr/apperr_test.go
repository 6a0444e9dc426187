package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", E(KindNotFound, "resolve", errors.New("no row")))
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is to match ErrNotFound")
	}
	if errors.Is(err, ErrAuth) {
		t.Error("not found error should not match ErrAuth")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := E(KindProvider, "generate", cause)
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via Unwrap")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"classified", E(KindParse, "extract", nil), KindParse},
		{"wrapped", fmt.Errorf("x: %w", E(KindEmptyContent, "split", nil)), KindEmptyContent},
		{"plain", errors.New("plain"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"fetch default", E(KindFetch, "fetch", nil), true},
		{"transient provider", Transient(KindProvider, "embed", nil), true},
		{"provider default", E(KindProvider, "embed", nil), false},
		{"auth", E(KindAuth, "ingest", nil), false},
		{"not found", E(KindNotFound, "resolve", nil), false},
		{"parse", E(KindParse, "extract", nil), false},
		{"canceled", context.Canceled, false},
		{"unclassified", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotReady(t *testing.T) {
	err := NotReady("ask", "failed", "empty document")
	if !errors.Is(err, ErrNotReady) {
		t.Fatal("expected NotReady kind")
	}
	if err.State != "failed" {
		t.Errorf("State = %q", err.State)
	}
	if err.Error() != "ask: not_ready (state failed): empty document" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestMessage_DistinctPerKind(t *testing.T) {
	kinds := []Kind{KindAuth, KindNotFound, KindFetch, KindParse, KindEmptyContent, KindProvider, KindNotReady, KindInvalidInput, KindInternal}
	seen := make(map[string]Kind)
	for _, k := range kinds {
		m := Message(k)
		if m == "" {
			t.Errorf("empty message for %s", k)
		}
		if prev, ok := seen[m]; ok {
			t.Errorf("message for %s duplicates %s", k, prev)
		}
		seen[m] = k
	}
	if Message(Kind("unknown")) != Message(KindInternal) {
		t.Error("unknown kind should fall back to internal message")
	}
}

func TestHTTPStatus(t *testing.T) {
	if HTTPStatus(KindNotReady) != http.StatusConflict {
		t.Error("not ready should map to 409")
	}
	if HTTPStatus(KindAuth) != http.StatusUnauthorized {
		t.Error("auth should map to 401")
	}
	if HTTPStatus(KindProvider) != http.StatusServiceUnavailable {
		t.Error("provider should map to 503")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(KindProvider, "op", nil) != nil {
		t.Error("nil should stay nil")
	}
	classified := E(KindParse, "extract", errors.New("bad"))
	if got := Wrap(KindProvider, "op", classified); got != error(classified) {
		t.Errorf("classified error should pass through, got %v", got)
	}
	if !errors.Is(Wrap(KindProvider, "op", errors.New("disk")), ErrProvider) {
		t.Error("unclassified error should take the given kind")
	}
	if KindOf(Wrap(KindProvider, "op", context.Canceled)) != KindInternal {
		t.Error("cancellation should not be classified")
	}
}
