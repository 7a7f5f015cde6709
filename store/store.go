// Package store provides interfaces and types for mailboxer storage.
// Implementations are in store/memory, store/postgres, and store/mongo subpackages.
//
// # Data Layout
//
// A delivery writes three kinds of records:
//
//   - A deliverable: either a Message (always part of a Conversation) or a
//     Notification (standalone, optionally pointing at an application object).
//   - For a Message sent into a new thread, the Conversation itself.
//   - One Receipt per recipient, plus a sentbox Receipt for a Message's sender.
//
// Receipts carry all per-participant state (read, trashed, deleted). Messages,
// notifications and conversations are immutable once written.
//
// # Architectural Principle: No Distributed Locks
//
// This package is designed to avoid distributed locks entirely. All concurrency
// concerns are handled by the database:
//
//  1. Transactional Fan-out: CreateDelivery writes the deliverable and every
//     receipt in one transaction (PostgreSQL transaction, MongoDB session).
//     Callers never observe a delivery with only some of its receipts.
//
//  2. Idempotency via Unique Constraints: a receipt is unique per
//     (deliverable, receiver, mailbox type). Duplicate fan-out fails with
//     ErrDuplicateEntry rather than producing a second receipt.
//
//  3. Conditional Updates: state transitions are single UPDATE statements
//     scoped by receiver and guarded by the current state, so concurrent
//     mutations on the same receipt cannot corrupt it and report an exact
//     count of changed rows.
//
// Example - Concurrent Trash Purge:
//
//	// WRONG: Distributed lock approach (DO NOT USE)
//	if !lock.TryAcquire("trash-purge") { return }
//	receipts := store.FindExpired()
//	for _, r := range receipts { store.Delete(r) }
//
//	// CORRECT: Atomic bulk update
//	deleted, err := store.DeleteExpiredTrash(ctx, cutoff)
//	// Multiple instances can call this safely - database handles atomicity
package store

import (
	"context"
	"time"
)

// Store is the storage interface for the mailboxer.
//
// All operations must be safe for concurrent use. Implementations must use
// database-level atomicity (transactions, conditional updates) rather than
// external locking mechanisms. See package documentation for details.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Delivery creation - atomic fan-out
	DeliveryStore

	// Conversation and deliverable reads
	ContentReader

	// Receipt reads and ownership-scoped mutations
	ReceiptStore

	// Maintenance operations - for background cleanup tasks
	MaintenanceStore

	// Stats operations - aggregate mailbox statistics
	StatsStore
}

// DeliveryStore persists new deliveries.
type DeliveryStore interface {
	// CreateDelivery writes a deliverable and all of its receipts atomically.
	//
	// When data.Message is set, the message is appended to data.ConversationID,
	// or to a new conversation with subject data.NewConversationSubject when
	// ConversationID is empty. When data.Notification is set, no conversation
	// is touched. Exactly one of Message and Notification must be set.
	//
	// Either everything is written or nothing is. IDs and timestamps are
	// assigned by the store.
	//
	// Returns ErrNotFound if data.ConversationID does not exist.
	CreateDelivery(ctx context.Context, data DeliveryData) (*Delivery, error)
}

// ContentReader reads conversations, messages and notifications.
type ContentReader interface {
	// GetConversation retrieves a conversation by ID.
	// Returns ErrNotFound if it doesn't exist.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ConversationMessages returns the messages of a conversation in
	// creation order (oldest first).
	ConversationMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// LastMessage returns the most recent message of a conversation.
	// Returns ErrNotFound if the conversation has no messages.
	LastMessage(ctx context.Context, conversationID string) (*Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// GetNotification retrieves a notification by ID.
	GetNotification(ctx context.Context, id string) (*Notification, error)
}

// ReceiptReader provides read operations for receipts.
type ReceiptReader interface {
	// GetReceipt retrieves a receipt by ID.
	// Returns ErrNotFound if the receipt doesn't exist.
	GetReceipt(ctx context.Context, id string) (*Receipt, error)

	// FindReceipts retrieves receipts matching all filters.
	FindReceipts(ctx context.Context, filters []Filter, opts ListOptions) (*ReceiptList, error)

	// CountReceipts returns the count of receipts matching all filters.
	CountReceipts(ctx context.Context, filters []Filter) (int64, error)
}

// ReceiptMutator changes per-participant receipt state.
//
// Every mutation is scoped to receiverID: receipts owned by anyone else are
// silently left untouched. Deleted receipts never change. Each method returns
// the number of receipts whose state actually changed.
type ReceiptMutator interface {
	// MarkRead sets the read flag of the given receipts.
	MarkRead(ctx context.Context, receiverID string, ids []string, read bool) (int64, error)

	// Trash moves the given receipts to the trash at the given time.
	Trash(ctx context.Context, receiverID string, ids []string, at time.Time) (int64, error)

	// Untrash restores the given receipts from the trash.
	Untrash(ctx context.Context, receiverID string, ids []string) (int64, error)

	// Delete soft-deletes the given receipts. Deleted is terminal.
	Delete(ctx context.Context, receiverID string, ids []string, at time.Time) (int64, error)
}

// ReceiptStore combines receipt reads and mutations.
type ReceiptStore interface {
	ReceiptReader
	ReceiptMutator
}

// MaintenanceStore provides operations for background maintenance tasks.
// These operations are designed to be safely called concurrently from
// multiple service instances without requiring distributed coordination.
type MaintenanceStore interface {
	// DeleteExpiredTrash atomically soft-deletes every receipt trashed before cutoff.
	//
	// Implementation should use an atomic bulk update:
	//   - MongoDB: updateMany({ trashed_at: { $lt: cutoff }, deleted_at: null }, ...)
	//   - PostgreSQL: UPDATE receipts SET deleted_at = now() WHERE trashed_at < $1 AND deleted_at IS NULL
	//
	// Returns the number of receipts deleted.
	DeleteExpiredTrash(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeliveryData describes a delivery to persist.
type DeliveryData struct {
	// ConversationID is the conversation to append a message to.
	// Empty means "start a new conversation".
	ConversationID string
	// NewConversationSubject is the subject of the conversation created
	// when ConversationID is empty.
	NewConversationSubject string

	Message      *MessageData
	Notification *NotificationData

	Receipts []ReceiptData
}

// MessageData holds the fields of a new message.
type MessageData struct {
	SenderID     string
	Subject      string
	Body         string
	RecipientIDs []string
	Attachment   *Attachment
}

// NotificationData holds the fields of a new notification.
type NotificationData struct {
	SenderID     string
	Subject      string
	Body         string
	Object       *ObjectRef
	RecipientIDs []string
}

// ReceiptData holds the fields of a new receipt.
type ReceiptData struct {
	ReceiverID  string
	MailboxType MailboxType
}

// Delivery is the result of CreateDelivery.
type Delivery struct {
	// Conversation is set for message deliveries.
	Conversation *Conversation
	// ConversationCreated reports whether Conversation was created by this delivery.
	ConversationCreated bool
	Message             *Message
	Notification        *Notification
	Receipts            []*Receipt
}

// Deliverable returns the message or notification of the delivery.
func (d *Delivery) Deliverable() Deliverable {
	if d.Message != nil {
		return d.Message
	}
	if d.Notification != nil {
		return d.Notification
	}
	return nil
}

// ReceiptList is a page of receipts.
type ReceiptList struct {
	Receipts   []*Receipt
	Total      int64
	HasMore    bool
	NextCursor string
}

// IDs returns the receipt IDs of the page in order.
func (l *ReceiptList) IDs() []string {
	ids := make([]string, len(l.Receipts))
	for i, r := range l.Receipts {
		ids[i] = r.ID
	}
	return ids
}
