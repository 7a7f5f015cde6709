package postgres

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailboxer/store"
)

// MailboxStats returns per-mailbox counts and the trash count in one
// conditional aggregation.
func (s *Store) MailboxStats(ctx context.Context, receiverID string) (*store.MailboxStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// Trashed receipts are reported under the pseudo mailbox '' so that a
	// single GROUP BY covers both.
	q := fmt.Sprintf(`
		SELECT CASE WHEN trashed_at IS NULL THEN mailbox_type ELSE '' END AS box,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN NOT is_read THEN 1 ELSE 0 END), 0) AS unread
		FROM %s
		WHERE receiver_id = $1 AND deleted_at IS NULL
		GROUP BY box
	`, s.opts.receipts())

	var rows []struct {
		Box    string `db:"box"`
		Total  int64  `db:"total"`
		Unread int64  `db:"unread"`
	}
	if err := s.db.SelectContext(ctx, &rows, q, receiverID); err != nil {
		return nil, fmt.Errorf("query mailbox stats: %w", err)
	}

	stats := &store.MailboxStats{Mailboxes: make(map[store.MailboxType]store.MailboxCounts, len(rows))}
	for _, r := range rows {
		if r.Box == "" {
			stats.TrashCount = r.Total
			continue
		}
		stats.Mailboxes[store.MailboxType(r.Box)] = store.MailboxCounts{Total: r.Total, Unread: r.Unread}
	}
	return stats, nil
}
