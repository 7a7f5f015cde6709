package memory

import (
	"context"

	"github.com/rbaliyan/mailboxer/store"
)

// MailboxStats returns aggregate statistics for a participant in one pass.
func (s *Store) MailboxStats(ctx context.Context, receiverID string) (*store.MailboxStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &store.MailboxStats{Mailboxes: make(map[store.MailboxType]store.MailboxCounts, 3)}
	for _, row := range s.receipts {
		r := row.receipt
		if r.ReceiverID != receiverID || r.IsDeleted() {
			continue
		}
		if r.IsTrashed() {
			stats.TrashCount++
			continue
		}
		c := stats.Mailboxes[r.MailboxType]
		c.Total++
		if !r.IsRead {
			c.Unread++
		}
		stats.Mailboxes[r.MailboxType] = c
	}
	return stats, nil
}
