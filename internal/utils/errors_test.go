package utils

import (
	"errors"
	"testing"
)

func TestCollabErrorFormatsOpAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewCollabError("billing.charge", "request failed", cause)

	want := "billing.charge: request failed: connection refused"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause must be reachable through Unwrap")
	}
}

func TestCollabErrorWithoutCause(t *testing.T) {
	err := NewCollabError("billing.charge", "service returned 502 Bad Gateway", nil)
	want := "billing.charge: service returned 502 Bad Gateway"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
