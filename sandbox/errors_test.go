package sandbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	tests := []struct {
		err  error
		want error
		kind Kind
	}{
		{initErrorf(errors.New("no such file"), "load guest artifact %q", "x.wasm"), ErrInit, KindInit},
		{guestError("ZeroDivisionError: division by zero"), ErrGuest, KindGuest},
		{&Error{Kind: KindInterrupted, Message: "execution timed out after 1s"}, ErrInterrupted, KindInterrupted},
		{hostTrap(errors.New("unreachable")), ErrHostTrap, KindHostTrap},
	}

	all := []error{ErrInit, ErrGuest, ErrInterrupted, ErrHostTrap}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			for _, s := range all {
				if got := errors.Is(tt.err, s); got != (s == tt.want) {
					t.Errorf("errors.Is(%v, %v) = %v", tt.err, s, got)
				}
			}
			if KindOf(tt.err) != tt.kind {
				t.Errorf("KindOf = %v, want %v", KindOf(tt.err), tt.kind)
			}
			if KindOf(fmt.Errorf("wrapped: %w", tt.err)) != tt.kind {
				t.Error("KindOf does not see through wrapping")
			}
		})
	}
}

func TestGuestErrorMessageVerbatim(t *testing.T) {
	msg := "SyntaxError: invalid syntax (<string>, line 1)"
	if got := guestError(msg).Error(); got != msg {
		t.Errorf("got %q, want %q", got, msg)
	}
}

func TestHostTrapUnwraps(t *testing.T) {
	err := hostTrap(context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to be reachable")
	}
	if err.Error() != "execution failed: context deadline exceeded" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestKindOfForeignError(t *testing.T) {
	if KindOf(errors.New("boom")) != 0 {
		t.Error("expected zero kind for foreign error")
	}
	if KindOf(nil) != 0 {
		t.Error("expected zero kind for nil")
	}
	if Kind(0).String() != "unknown" {
		t.Error("expected zero kind to print as unknown")
	}
}
