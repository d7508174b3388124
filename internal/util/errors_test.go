package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorTaxonomyMatchesSentinels(t *testing.T) {
	perr := fmt.Errorf("embed: %w", &ProviderError{Op: "embed", Batch: 1, Err: errors.New("429")})
	if !errors.Is(perr, ErrProvider) {
		t.Fatalf("provider error should match ErrProvider")
	}
	if !errors.Is(Invalid("content", "empty"), ErrValidation) {
		t.Fatalf("validation error should match ErrValidation")
	}
	pw := &PartialWriteError{DocumentID: "d", Written: 3, Err: errors.New("boom")}
	if !errors.Is(pw, ErrPartialWrite) {
		t.Fatalf("partial write error should match ErrPartialWrite")
	}
	if !IsNoop(fmt.Errorf("claim: %w", ErrAlreadyCompleted)) || IsNoop(perr) {
		t.Fatalf("IsNoop misclassified")
	}
}

func TestErrorMessageTruncates(t *testing.T) {
	msg := ErrorMessage(errors.New(strings.Repeat("e", 400)))
	if len(msg) != MaxErrorMessageLen {
		t.Fatalf("expected %d chars, got %d", MaxErrorMessageLen, len(msg))
	}
	if ErrorMessage(nil) != "" {
		t.Fatalf("nil error should render empty")
	}
}
