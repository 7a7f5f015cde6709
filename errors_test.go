package mailboxer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rbaliyan/mailboxer/store"
)

func TestErrorWrapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"not found wraps store", ErrNotFound, store.ErrNotFound},
		{"not connected wraps store", ErrNotConnected, store.ErrNotConnected},
		{"invalid id wraps store", ErrInvalidID, store.ErrInvalidID},
		{"store not found maps", wrapStoreError(store.ErrNotFound), ErrNotFound},
		{"store invalid id maps to not found", wrapStoreError(store.ErrInvalidID), ErrNotFound},
		{"store duplicate maps", wrapStoreError(store.ErrDuplicateEntry), ErrDuplicateEntry},
		{"store empty recipients maps", wrapStoreError(store.ErrEmptyRecipients), ErrValidation},
		{"empty conversation", &EmptyConversationError{ConversationID: "c"}, ErrEmptyConversation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("expected %v to match %v", tt.err, tt.target)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := error(invalid("subject", ErrSubjectTooLong, "length %d exceeds max %d", 10, 5))
	wrapped := fmt.Errorf("send: %w", err)

	ve, ok := IsValidationError(wrapped)
	if !ok {
		t.Fatal("expected IsValidationError to find the error")
	}
	if ve.Field != "subject" {
		t.Errorf("expected field subject, got %q", ve.Field)
	}
	if !errors.Is(wrapped, ErrValidation) || !errors.Is(wrapped, ErrSubjectTooLong) {
		t.Error("validation errors should match both sentinels")
	}
	if _, ok := IsValidationError(errors.New("other")); ok {
		t.Error("plain errors are not validation errors")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", invalid("body", ErrEmptyBody, "body is required"), false},
		{"not found", ErrNotFound, false},
		{"store not found", store.ErrNotFound, false},
		{"plugin veto", &PluginError{Plugin: "p", Op: "BeforeDeliver", Err: errors.New("no")}, false},
		{"transaction failure", store.ErrTransactionFailed, true},
		{"unknown", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBulkOperationError(t *testing.T) {
	boom := errors.New("boom")
	result := &BulkResult{
		Operation: OpTrash,
		Results: []OperationResult{
			{Target: "receipt:1", Matched: 1, Changed: 1},
			{Target: "receipt:2", Error: boom},
			{Target: "int", Skipped: true},
		},
	}
	err := result.Err()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, boom) {
		t.Error("bulk error should unwrap to the input failure")
	}
	if result.FailureCount() != 1 || result.SkippedCount() != 1 || result.TotalCount() != 3 {
		t.Errorf("unexpected counts: %d failed, %d skipped, %d total",
			result.FailureCount(), result.SkippedCount(), result.TotalCount())
	}

	var nilResult *BulkResult
	if nilResult.Err() != nil || nilResult.ChangedCount() != 0 {
		t.Error("nil results should be empty")
	}
}
