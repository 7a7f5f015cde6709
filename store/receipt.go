package store

import "time"

// Receipt is one participant's copy of a deliverable.
//
// ReceiverID never changes. Once DeletedAt is set the receipt is frozen:
// every transition becomes a no-op.
type Receipt struct {
	ID              string
	DeliverableID   string
	DeliverableKind DeliverableKind
	// ConversationID is empty for notification receipts.
	ConversationID string
	ReceiverID     string
	MailboxType    MailboxType
	IsRead         bool
	TrashedAt      *time.Time
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReceiptState is the lifecycle state of a receipt.
type ReceiptState string

// Receipt states.
const (
	StateActiveUnread  ReceiptState = "active_unread"
	StateActiveRead    ReceiptState = "active_read"
	StateTrashedUnread ReceiptState = "trashed_unread"
	StateTrashedRead   ReceiptState = "trashed_read"
	StateDeleted       ReceiptState = "deleted"
)

// IsTrashed reports whether the receipt is in the trash.
func (r *Receipt) IsTrashed() bool { return r.TrashedAt != nil }

// IsDeleted reports whether the receipt has been soft-deleted.
func (r *Receipt) IsDeleted() bool { return r.DeletedAt != nil }

// State returns the current lifecycle state.
func (r *Receipt) State() ReceiptState {
	switch {
	case r.IsDeleted():
		return StateDeleted
	case r.IsTrashed() && r.IsRead:
		return StateTrashedRead
	case r.IsTrashed():
		return StateTrashedUnread
	case r.IsRead:
		return StateActiveRead
	default:
		return StateActiveUnread
	}
}

// MarkRead marks the receipt read. It reports whether anything changed.
func (r *Receipt) MarkRead(at time.Time) bool {
	if r.IsDeleted() || r.IsRead {
		return false
	}
	r.IsRead = true
	r.UpdatedAt = at
	return true
}

// MarkUnread marks the receipt unread. It reports whether anything changed.
func (r *Receipt) MarkUnread(at time.Time) bool {
	if r.IsDeleted() || !r.IsRead {
		return false
	}
	r.IsRead = false
	r.UpdatedAt = at
	return true
}

// MoveToTrash trashes the receipt. The read flag is preserved.
func (r *Receipt) MoveToTrash(at time.Time) bool {
	if r.IsDeleted() || r.IsTrashed() {
		return false
	}
	t := at
	r.TrashedAt = &t
	r.UpdatedAt = at
	return true
}

// Untrash restores the receipt from the trash.
func (r *Receipt) Untrash(at time.Time) bool {
	if r.IsDeleted() || !r.IsTrashed() {
		return false
	}
	r.TrashedAt = nil
	r.UpdatedAt = at
	return true
}

// SoftDelete marks the receipt deleted. Deleted is absorbing.
func (r *Receipt) SoftDelete(at time.Time) bool {
	if r.IsDeleted() {
		return false
	}
	t := at
	r.DeletedAt = &t
	r.UpdatedAt = at
	return true
}

// Clone returns a deep copy of the receipt.
func (r *Receipt) Clone() *Receipt {
	cp := *r
	if r.TrashedAt != nil {
		t := *r.TrashedAt
		cp.TrashedAt = &t
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}
