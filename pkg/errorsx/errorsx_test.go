package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonProviderOpen)
	if Reason(err) != ReasonProviderOpen {
		t.Fatalf("expected reason %s, got %s", ReasonProviderOpen, Reason(err))
	}
	if !HasReason(err, ReasonProviderOpen) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonMissingCredentials)
	second := Wrap(fmt.Errorf("open: %w", first), ReasonProviderOpen)
	if Reason(second) != ReasonMissingCredentials {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestNewKeepsMessage(t *testing.T) {
	err := New(ReasonMalformedFrame, "missing event")
	if err.Error() != "missing event" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !HasReason(err, ReasonMalformedFrame) {
		t.Fatalf("expected malformed_frame reason")
	}
	var target assertErr
	if errors.As(err, &target) {
		t.Fatalf("unexpected assertErr in chain")
	}
}

func TestReasonOfPlainError(t *testing.T) {
	if Reason(errors.New("x")) != ReasonUnknown {
		t.Fatalf("expected unknown reason")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestNewfWrapsCause(t *testing.T) {
	cause := errors.New("no key")
	err := Newf(ReasonMissingCredentials, "deepgram: %w", cause)
	if err.Error() != "deepgram: no key" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) || !HasReason(err, ReasonMissingCredentials) {
		t.Fatalf("expected cause and reason to survive")
	}
}
