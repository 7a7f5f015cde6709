package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rbaliyan/mailboxer/store"
)

// Every mutation is a single conditional UPDATE scoped by receiver_id and
// guarded by the current state, so RowsAffected is the number of receipts
// that actually changed.

func (s *Store) MarkRead(ctx context.Context, receiverID string, ids []string, read bool) (int64, error) {
	return s.update(ctx, receiverID, ids,
		"is_read = $3, updated_at = $4",
		"is_read <> $3",
		read, time.Now().UTC())
}

func (s *Store) Trash(ctx context.Context, receiverID string, ids []string, at time.Time) (int64, error) {
	return s.update(ctx, receiverID, ids,
		"trashed_at = $3, updated_at = $3",
		"trashed_at IS NULL",
		at.UTC())
}

func (s *Store) Untrash(ctx context.Context, receiverID string, ids []string) (int64, error) {
	return s.update(ctx, receiverID, ids,
		"trashed_at = NULL, updated_at = $3",
		"trashed_at IS NOT NULL",
		time.Now().UTC())
}

func (s *Store) Delete(ctx context.Context, receiverID string, ids []string, at time.Time) (int64, error) {
	return s.update(ctx, receiverID, ids,
		"deleted_at = $3, updated_at = $3",
		"TRUE",
		at.UTC())
}

func (s *Store) update(ctx context.Context, receiverID string, ids []string, set, guard string, args ...any) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if receiverID == "" {
		return 0, store.ErrInvalidID
	}
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	q := fmt.Sprintf(`
		UPDATE %s SET %s
		WHERE receiver_id = $1 AND id = ANY($2) AND deleted_at IS NULL AND %s
	`, s.opts.receipts(), set, guard)

	result, err := s.db.ExecContext(ctx, q, append([]any{receiverID, pq.Array(ids)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("update receipts: %w", err)
	}
	return result.RowsAffected()
}
