package usage

import (
	"context"
	"errors"
	"testing"
)

func TestStorageErrorWrapsBoth(t *testing.T) {
	err := storageError("commit session transition", context.DeadlineExceeded)

	if !errors.Is(err, ErrStorage) {
		t.Errorf("Expected ErrStorage in %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded in %v", err)
	}
	if errors.Is(err, ErrInvalidInput) {
		t.Errorf("Did not expect ErrInvalidInput in %v", err)
	}
}
