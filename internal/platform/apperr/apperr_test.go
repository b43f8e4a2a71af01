package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Wrapped(t *testing.T) {
	base := NotFound("chapter_not_found", "chapter %s not found", "ch-1")
	wrapped := fmt.Errorf("load chapter: %w", base)

	if got := KindOf(wrapped); got != KindNotFound {
		t.Errorf("KindOf() = %v, want %v", got, KindNotFound)
	}
	if got := CodeOf(wrapped); got != "chapter_not_found" {
		t.Errorf("CodeOf() = %q, want chapter_not_found", got)
	}
	if !Is(wrapped, KindNotFound) {
		t.Error("Is(wrapped, KindNotFound) = false, want true")
	}
}

func TestKindOf_Plain(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindUnknown {
		t.Errorf("KindOf() = %v, want unknown", got)
	}
	if Is(nil, KindUnknown) {
		t.Error("Is(nil) should be false")
	}
}

func TestStorage(t *testing.T) {
	if Storage("noop", nil) != nil {
		t.Fatal("Storage(nil) should be nil")
	}

	err := Storage("select progress", errors.New("connection reset"))
	if KindOf(err) != KindStorage {
		t.Errorf("KindOf() = %v, want storage", KindOf(err))
	}

	// Domain errors pass through unchanged.
	domain := InvalidState("already_submitted", "attempt a-1 already submitted")
	if got := Storage("update attempt", domain); KindOf(got) != KindInvalidState {
		t.Errorf("KindOf() = %v, want invalid_state", KindOf(got))
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindNotFound, "not_found"},
		{KindForbidden, "forbidden"},
		{KindInvalidState, "invalid_state"},
		{KindValidation, "validation"},
		{KindAttemptsExhausted, "attempts_exhausted"},
		{KindStorage, "storage"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
