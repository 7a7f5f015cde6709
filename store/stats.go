package store

import (
	"context"
	"maps"
)

// MailboxCounts holds the receipt and unread counts for one mailbox.
// Trashed and deleted receipts are not counted.
type MailboxCounts struct {
	Total  int64
	Unread int64
}

// MailboxStats holds aggregate statistics for a participant's mailboxes.
type MailboxStats struct {
	// Mailboxes contains per-mailbox counts keyed by mailbox type.
	Mailboxes map[MailboxType]MailboxCounts
	// TrashCount is the number of trashed, non-deleted receipts.
	TrashCount int64
}

// Unread returns the number of unread receipts across inbox and notifications.
func (s *MailboxStats) Unread() int64 {
	return s.Mailboxes[MailboxInbox].Unread + s.Mailboxes[MailboxNotification].Unread
}

// Clone returns a deep copy of the stats.
func (s *MailboxStats) Clone() *MailboxStats {
	c := &MailboxStats{TrashCount: s.TrashCount}
	if s.Mailboxes != nil {
		c.Mailboxes = make(map[MailboxType]MailboxCounts, len(s.Mailboxes))
		maps.Copy(c.Mailboxes, s.Mailboxes)
	}
	return c
}

// StatsStore provides aggregate mailbox statistics.
type StatsStore interface {
	// MailboxStats returns aggregate statistics for a participant.
	// This should be implemented as a single efficient query (e.g., MongoDB $facet,
	// PostgreSQL conditional aggregation) rather than multiple round-trips.
	MailboxStats(ctx context.Context, receiverID string) (*MailboxStats, error)
}
