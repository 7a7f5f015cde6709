package memory

import (
	"context"
	"time"

	"github.com/hashicorp/go-set/v2"
	"github.com/rbaliyan/mailboxer/store"
)

// MarkRead sets the read flag on the receiver's receipts.
func (s *Store) MarkRead(ctx context.Context, receiverID string, ids []string, read bool) (int64, error) {
	return s.mutate(receiverID, ids, func(r *store.Receipt, now time.Time) bool {
		if read {
			return r.MarkRead(now)
		}
		return r.MarkUnread(now)
	})
}

// Trash moves the receiver's receipts to the trash.
func (s *Store) Trash(ctx context.Context, receiverID string, ids []string, at time.Time) (int64, error) {
	return s.mutate(receiverID, ids, func(r *store.Receipt, _ time.Time) bool {
		return r.MoveToTrash(at)
	})
}

// Untrash restores the receiver's receipts from the trash.
func (s *Store) Untrash(ctx context.Context, receiverID string, ids []string) (int64, error) {
	return s.mutate(receiverID, ids, func(r *store.Receipt, now time.Time) bool {
		return r.Untrash(now)
	})
}

// Delete soft-deletes the receiver's receipts.
func (s *Store) Delete(ctx context.Context, receiverID string, ids []string, at time.Time) (int64, error) {
	return s.mutate(receiverID, ids, func(r *store.Receipt, _ time.Time) bool {
		return r.SoftDelete(at)
	})
}

// mutate applies fn to every listed receipt owned by receiverID.
// Unknown IDs and foreign receipts are skipped.
func (s *Store) mutate(receiverID string, ids []string, fn func(*store.Receipt, time.Time) bool) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if receiverID == "" {
		return 0, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var changed int64
	seen := set.New[string](len(ids))
	for _, id := range ids {
		if !seen.Insert(id) {
			continue
		}
		row, ok := s.receipts[id]
		if !ok || row.receipt.ReceiverID != receiverID {
			continue
		}
		if fn(row.receipt, now) {
			changed++
		}
	}
	return changed, nil
}

// DeleteExpiredTrash soft-deletes every receipt trashed before cutoff.
func (s *Store) DeleteExpiredTrash(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var deleted int64
	for _, row := range s.receipts {
		r := row.receipt
		if r.TrashedAt == nil || !r.TrashedAt.Before(cutoff) {
			continue
		}
		if r.SoftDelete(now) {
			deleted++
		}
	}
	return deleted, nil
}
