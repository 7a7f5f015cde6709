package mailboxer

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for service events.
const (
	EventNameMessageDelivered      = "mailboxer.message.delivered"
	EventNameNotificationDelivered = "mailboxer.notification.delivered"
	EventNameReceiptsUpdated       = "mailboxer.receipts.updated"
	EventNameEmailFailed           = "mailboxer.email.failed"
)

// Receipt operations reported by ReceiptsUpdatedEvent.
const (
	OpRead    = "read"
	OpUnread  = "unread"
	OpTrash   = "trash"
	OpUntrash = "untrash"
	OpDelete  = "delete"
	OpPurge   = "purge"
)

// MessageDeliveredEvent is published after a message and its receipts are stored.
type MessageDeliveredEvent struct {
	MessageID           string    `json:"message_id"`
	ConversationID      string    `json:"conversation_id"`
	ConversationCreated bool      `json:"conversation_created"`
	SenderID            string    `json:"sender_id"`
	RecipientIDs        []string  `json:"recipient_ids"`
	Subject             string    `json:"subject"`
	DeliveredAt         time.Time `json:"delivered_at"`
}

// NotificationDeliveredEvent is published after a notification and its receipts are stored.
type NotificationDeliveredEvent struct {
	NotificationID string    `json:"notification_id"`
	SenderID       string    `json:"sender_id,omitempty"`
	RecipientIDs   []string  `json:"recipient_ids"`
	Subject        string    `json:"subject"`
	Object         string    `json:"object,omitempty"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// ReceiptsUpdatedEvent is published when a participant's receipts change state.
// Only published when at least one receipt actually changed.
type ReceiptsUpdatedEvent struct {
	ReceiverID string `json:"receiver_id"`
	Operation  string `json:"operation"`
	// ReceiptIDs lists the receipts resolved from each input that changed
	// at least one receipt. Inputs that changed nothing are left out, but an
	// input resolving to several receipts lists all of them even if some were
	// already in the target state. Changed is the exact count.
	ReceiptIDs []string  `json:"receipt_ids,omitempty"`
	Changed    int64     `json:"changed"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EmailFailedEvent is published when an email side effect fails after retries.
type EmailFailedEvent struct {
	DeliverableID string    `json:"deliverable_id"`
	Kind          string    `json:"kind"`
	RecipientID   string    `json:"recipient_id"`
	Error         string    `json:"error"`
	FailedAt      time.Time `json:"failed_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus.
//
//	svc.Events().MessageDelivered.Subscribe(ctx, handler)
type ServiceEvents struct {
	MessageDelivered      event.Event[MessageDeliveredEvent]
	NotificationDelivered event.Event[NotificationDeliveredEvent]
	ReceiptsUpdated       event.Event[ReceiptsUpdatedEvent]
	EmailFailed           event.Event[EmailFailedEvent]
}

func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageDelivered:      event.New[MessageDeliveredEvent](namePrefix + "." + EventNameMessageDelivered),
		NotificationDelivered: event.New[NotificationDeliveredEvent](namePrefix + "." + EventNameNotificationDelivered),
		ReceiptsUpdated:       event.New[ReceiptsUpdatedEvent](namePrefix + "." + EventNameReceiptsUpdated),
		EmailFailed:           event.New[EmailFailedEvent](namePrefix + "." + EventNameEmailFailed),
	}
}

func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageDelivered); err != nil {
		return fmt.Errorf("register MessageDelivered: %w", err)
	}
	if err := event.Register(ctx, bus, events.NotificationDelivered); err != nil {
		return fmt.Errorf("register NotificationDelivered: %w", err)
	}
	if err := event.Register(ctx, bus, events.ReceiptsUpdated); err != nil {
		return fmt.Errorf("register ReceiptsUpdated: %w", err)
	}
	if err := event.Register(ctx, bus, events.EmailFailed); err != nil {
		return fmt.Errorf("register EmailFailed: %w", err)
	}
	return nil
}

// publish sends data on ev. Failures are reported through the failure
// handler and only returned when event errors are fatal.
func publish[T any](ctx context.Context, s *service, ev event.Event[T], name, id string, data T) error {
	err := ev.Publish(ctx, data)
	if err == nil {
		return nil
	}
	if s.opts.eventErrorsFatal {
		return &EventPublishError{Event: name, ID: id, Err: err}
	}
	s.opts.safeEventPublishFailure(name, err)
	return nil
}
