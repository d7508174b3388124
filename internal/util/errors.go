package util

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyProcessing = errors.New("document already processing")
	ErrAlreadyCompleted  = errors.New("document already completed")
	ErrNoExtractableText = errors.New("no extractable text")
	ErrUnsupportedType   = errors.New("unsupported file type")
	ErrProvider          = errors.New("provider call failed")
	ErrPartialWrite      = errors.New("partial write")
)

// MaxErrorMessageLen is the longest error text stored on a document or cleanup job row.
const MaxErrorMessageLen = 255

// ValidationError rejects input before any state transition happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderError wraps a failed embedding or vector index call. Batch is -1 when the call
// was not part of a batch.
type ProviderError struct {
	Op    string
	Batch int
	Err   error
}

func (e *ProviderError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("%s batch %d: %v", e.Op, e.Batch, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// PartialWriteError means one side of a document write (vectors or chunk rows) may be
// visible without the other.
type PartialWriteError struct {
	DocumentID string
	Written    int
	Err        error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write for document %s (%d vectors written): %v", e.DocumentID, e.Written, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

func (e *PartialWriteError) Is(target error) bool { return target == ErrPartialWrite }

// IsNoop reports errors that mean "nothing to do" rather than failure.
func IsNoop(err error) bool {
	return errors.Is(err, ErrAlreadyProcessing) || errors.Is(err, ErrAlreadyCompleted)
}

// ErrorMessage renders err for storage on a status row.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return TruncateRunes(err.Error(), MaxErrorMessageLen)
}
