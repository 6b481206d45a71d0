package apperrors

import (
	"errors"
	"testing"
)

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(BindingFailure, "bind", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapPreservesKindAndChain(t *testing.T) {
	base := errors.New("address in use")
	err := Wrap(BindingFailure, "listen tcp://127.0.0.1:9000", base)

	kind, ok := KindOf(err)
	if !ok || kind != BindingFailure {
		t.Fatalf("expected BindingFailure, got %v (ok=%v)", kind, ok)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to find the wrapped base error")
	}
}

func TestKindOfUnclassifiedError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("expected ok=false for an unclassified error")
	}
}
