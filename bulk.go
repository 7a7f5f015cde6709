package mailboxer

import "fmt"

// OperationResult is the outcome for one flattened bulk input.
// Results are returned in the same order as the inputs.
type OperationResult struct {
	// Target describes the input, e.g. "conversation:42".
	Target string
	// Matched is the number of the participant's receipts behind the target.
	// Zero when the target does not exist or belongs to somebody else.
	Matched int
	// Changed is the number of receipts whose state changed.
	Changed int64
	// Skipped is set for inputs that are not a supported target.
	Skipped bool
	// Error is a store failure for this input.
	Error error
}

// Success reports whether the input was processed without a store failure.
// Skipped inputs and no-ops count as successful.
func (r OperationResult) Success() bool {
	return r.Error == nil
}

// BulkResult contains the result of a bulk operation.
type BulkResult struct {
	// Operation is one of OpRead, OpUnread, OpTrash, OpUntrash, OpDelete.
	Operation string
	// Results contains the outcome of each input in input order.
	Results []OperationResult
}

// ChangedCount returns the number of receipts whose state changed.
func (r *BulkResult) ChangedCount() int64 {
	if r == nil {
		return 0
	}
	var n int64
	for _, res := range r.Results {
		n += res.Changed
	}
	return n
}

// MatchedCount returns the number of receipts the inputs resolved to.
func (r *BulkResult) MatchedCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		n += res.Matched
	}
	return n
}

// SkippedCount returns the number of unsupported inputs.
func (r *BulkResult) SkippedCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.Skipped {
			n++
		}
	}
	return n
}

// FailureCount returns the number of inputs that hit a store failure.
func (r *BulkResult) FailureCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if !res.Success() {
			n++
		}
	}
	return n
}

// HasFailures returns true if any input hit a store failure.
func (r *BulkResult) HasFailures() bool {
	return r.FailureCount() > 0
}

// TotalCount returns the total number of flattened inputs.
func (r *BulkResult) TotalCount() int {
	if r == nil {
		return 0
	}
	return len(r.Results)
}

// Err returns an error if there are failures, nil otherwise.
// Skipped inputs and foreign or unknown targets are not failures.
func (r *BulkResult) Err() error {
	if !r.HasFailures() {
		return nil
	}
	return &BulkOperationError{Result: r}
}

// BulkOperationError is returned when a bulk operation has partial failures.
type BulkOperationError struct {
	Result *BulkResult
}

func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("mailboxer: bulk %s failed for %d of %d items",
		e.Result.Operation, e.Result.FailureCount(), e.Result.TotalCount())
}

// Unwrap returns the individual errors from failed inputs.
func (e *BulkOperationError) Unwrap() []error {
	var errs []error
	for _, r := range e.Result.Results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}
	return errs
}
