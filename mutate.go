package mailboxer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Read marks the participant's receipts behind targets as read.
func (m *userMailbox) Read(ctx context.Context, targets ...any) (*BulkResult, error) {
	return m.apply(ctx, OpRead, targets, func(ctx context.Context, ids []string, _ time.Time) (int64, error) {
		return m.service.store.MarkRead(ctx, m.userID, ids, true)
	})
}

// Unread marks the participant's receipts behind targets as unread.
func (m *userMailbox) Unread(ctx context.Context, targets ...any) (*BulkResult, error) {
	return m.apply(ctx, OpUnread, targets, func(ctx context.Context, ids []string, _ time.Time) (int64, error) {
		return m.service.store.MarkRead(ctx, m.userID, ids, false)
	})
}

// MoveToTrash trashes the participant's receipts behind targets.
// Already trashed receipts keep their original trash time.
func (m *userMailbox) MoveToTrash(ctx context.Context, targets ...any) (*BulkResult, error) {
	return m.apply(ctx, OpTrash, targets, func(ctx context.Context, ids []string, at time.Time) (int64, error) {
		return m.service.store.Trash(ctx, m.userID, ids, at)
	})
}

// Untrash restores the participant's trashed receipts behind targets.
func (m *userMailbox) Untrash(ctx context.Context, targets ...any) (*BulkResult, error) {
	return m.apply(ctx, OpUntrash, targets, func(ctx context.Context, ids []string, _ time.Time) (int64, error) {
		return m.service.store.Untrash(ctx, m.userID, ids)
	})
}

// Delete soft-deletes the participant's receipts behind targets.
// Deleted receipts disappear from every listing and cannot be restored.
func (m *userMailbox) Delete(ctx context.Context, targets ...any) (*BulkResult, error) {
	return m.apply(ctx, OpDelete, targets, func(ctx context.Context, ids []string, at time.Time) (int64, error) {
		return m.service.store.Delete(ctx, m.userID, ids, at)
	})
}

type mutation func(ctx context.Context, ids []string, at time.Time) (int64, error)

// apply resolves every input to the participant's own receipts and runs fn
// on each group. Inputs are processed independently: a failure is recorded
// and the remaining inputs still run.
func (m *userMailbox) apply(ctx context.Context, op string, inputs []any, fn mutation) (result *BulkResult, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	s := m.service

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "mailboxer."+op,
		attribute.String("user_id", m.userID),
		attribute.Int("input_count", len(inputs)),
	)
	defer func() {
		endSpan(err)
		s.otel.recordUpdate(ctx, time.Since(start), op, result.ChangedCount(), err)
	}()

	targets := flattenTargets(inputs)
	result = &BulkResult{Operation: op, Results: make([]OperationResult, len(targets))}
	at := s.now()
	var changedIDs []string

	for i, t := range targets {
		res := &result.Results[i]
		res.Target = t.label
		if t.target == nil {
			res.Skipped = true
			s.logger.Debug("skipping unsupported bulk input", "operation", op, "input", t.label)
			continue
		}

		ids, err := t.target.ResolveOwnReceipts(ctx, s.store, m.userID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			res.Error = wrapStoreError(err)
			continue
		}
		res.Matched = len(ids)
		if len(ids) == 0 {
			continue
		}

		n, err := fn(ctx, ids, at)
		if err != nil {
			res.Error = wrapStoreError(err)
			s.logger.Error("bulk update failed", "operation", op, "user_id", m.userID,
				"target", t.label, "error", err)
			continue
		}
		res.Changed = n
		if n > 0 {
			changedIDs = append(changedIDs, ids...)
		}
	}

	if changed := result.ChangedCount(); changed > 0 {
		s.invalidateStats(m.userID)
		if err := publish(ctx, s, s.events.ReceiptsUpdated, "ReceiptsUpdated", m.userID, ReceiptsUpdatedEvent{
			ReceiverID: m.userID,
			Operation:  op,
			ReceiptIDs: changedIDs,
			Changed:    changed,
			UpdatedAt:  at,
		}); err != nil {
			return result, err
		}
	}

	return result, result.Err()
}
