package mailboxer

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-set/v2"
	"github.com/rbaliyan/mailboxer/store"
	"go.opentelemetry.io/otel/attribute"
)

// DeliveryResult is what a delivery stored, plus the email side effects.
type DeliveryResult struct {
	// Conversation is set for messages.
	Conversation        *store.Conversation
	ConversationCreated bool
	// Exactly one of Message and Notification is set.
	Message      *store.Message
	Notification *store.Notification
	// Receipts holds one receipt per recipient and, for messages, the sender's sentbox receipt.
	Receipts []*store.Receipt
	// Emails reports the email side effect per recipient that wanted one.
	// Asynchronous dispatch reports EmailQueued; see WithSyncEmail.
	Emails []EmailResult
}

// Deliverable returns the stored message or notification.
func (r *DeliveryResult) Deliverable() store.Deliverable {
	if r.Message != nil {
		return r.Message
	}
	return r.Notification
}

// ReceiptFor returns the receipt of receiverID in the given mailbox, or nil.
func (r *DeliveryResult) ReceiptFor(receiverID string, box store.MailboxType) *store.Receipt {
	for _, rc := range r.Receipts {
		if rc.ReceiverID == receiverID && rc.MailboxType == box {
			return rc
		}
	}
	return nil
}

// Deliver stores out for recipients in one atomic store call.
func (s *service) Deliver(ctx context.Context, out Outgoing, recipients []Participant) (result *DeliveryResult, err error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, invalid("outgoing", ErrValidation, "nothing to deliver")
	}

	kind := string(out.Kind())
	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "mailboxer.deliver",
		attribute.String("kind", kind),
		attribute.Int("recipient_count", len(recipients)),
	)
	defer func() {
		endSpan(err)
		s.otel.recordDeliver(ctx, time.Since(start), kind, len(recipients), err)
	}()

	unique, err := s.uniqueRecipients(recipients)
	if err != nil {
		return nil, err
	}

	data, sender, err := s.buildDelivery(out, unique)
	if err != nil {
		return nil, err
	}

	if err := s.plugins.beforeDeliver(ctx, out, unique); err != nil {
		return nil, err
	}

	if md, ok := out.(*MessageDraft); ok && md.Attachment != nil {
		att, err := s.uploadAttachment(ctx, md.Attachment)
		if err != nil {
			return nil, err
		}
		data.Message.Attachment = att
	}

	delivery, err := s.store.CreateDelivery(ctx, data)
	if err != nil {
		if data.Message != nil && data.Message.Attachment != nil {
			s.discardAttachment(ctx, data.Message.Attachment)
		}
		s.logger.Error("delivery failed", "kind", kind, "sender_id", sender, "error", err)
		return nil, wrapStoreError(err)
	}

	result = &DeliveryResult{
		Conversation:        delivery.Conversation,
		ConversationCreated: delivery.ConversationCreated,
		Message:             delivery.Message,
		Notification:        delivery.Notification,
		Receipts:            delivery.Receipts,
	}

	receivers := make([]string, 0, len(delivery.Receipts))
	for _, r := range delivery.Receipts {
		receivers = append(receivers, r.ReceiverID)
	}
	s.invalidateStats(receivers...)

	s.logger.Debug("delivered", "kind", kind, "id", delivery.Deliverable().GetID(),
		"sender_id", sender, "receipts", len(delivery.Receipts))

	if err := s.publishDelivered(ctx, delivery); err != nil {
		return result, err
	}

	if err := s.plugins.afterDeliver(ctx, delivery); err != nil {
		s.logger.Warn("after-deliver hook failed", "id", delivery.Deliverable().GetID(), "error", err)
	}

	result.Emails = s.dispatchEmails(ctx, delivery.Deliverable(), unique)
	return result, nil
}

// Notify delivers a notification.
func (s *service) Notify(ctx context.Context, n *NotificationDraft, recipients []Participant) (*DeliveryResult, error) {
	if n == nil {
		return nil, invalid("notification", ErrValidation, "nothing to deliver")
	}
	return s.Deliver(ctx, n, recipients)
}

// uniqueRecipients drops duplicate IDs, keeping the first occurrence.
func (s *service) uniqueRecipients(recipients []Participant) ([]Participant, error) {
	seen := set.New[string](len(recipients))
	out := make([]Participant, 0, len(recipients))
	for i, p := range recipients {
		if p == nil {
			return nil, invalid("recipients", ErrInvalidRecipient, "recipient %d is nil", i)
		}
		id := p.ID()
		if !isValidUserID(id) {
			return nil, invalid("recipients", ErrInvalidRecipient, "recipient %d has invalid id %q", i, id)
		}
		if seen.Insert(id) {
			out = append(out, p)
		}
	}
	if err := s.opts.limits.ValidateRecipientCount(len(out)); err != nil {
		return nil, err
	}
	return out, nil
}

// buildDelivery validates content and lays out the receipts.
func (s *service) buildDelivery(out Outgoing, recipients []Participant) (store.DeliveryData, string, error) {
	limits := s.opts.limits
	ids := make([]string, len(recipients))
	for i, p := range recipients {
		ids[i] = p.ID()
	}

	switch o := out.(type) {
	case *MessageDraft:
		if o.Sender == nil || o.Sender.ID() == "" {
			return store.DeliveryData{}, "", invalid("sender", ErrMissingSender, "a message needs a sender")
		}
		senderID := o.Sender.ID()
		if !isValidUserID(senderID) {
			return store.DeliveryData{}, "", invalid("sender", ErrInvalidParticipant, "invalid sender id %q", senderID)
		}
		if err := limits.ValidateSubject(o.Subject); err != nil {
			return store.DeliveryData{}, "", err
		}
		if err := limits.ValidateBody(o.Body); err != nil {
			return store.DeliveryData{}, "", err
		}

		data := store.DeliveryData{
			Message: &store.MessageData{
				SenderID:     senderID,
				Subject:      o.Subject,
				Body:         o.Body,
				RecipientIDs: ids,
			},
			Receipts: make([]store.ReceiptData, 0, len(ids)+1),
		}
		if o.Conversation != nil {
			if o.Conversation.ID == "" {
				return store.DeliveryData{}, "", invalid("conversation", ErrInvalidID, "conversation has no id")
			}
			data.ConversationID = o.Conversation.ID
		} else {
			data.NewConversationSubject = o.Subject
		}
		data.Receipts = append(data.Receipts, store.ReceiptData{ReceiverID: senderID, MailboxType: store.MailboxSentbox})
		for _, id := range ids {
			data.Receipts = append(data.Receipts, store.ReceiptData{ReceiverID: id, MailboxType: store.MailboxInbox})
		}
		return data, senderID, nil

	case *NotificationDraft:
		var senderID string
		if o.Sender != nil {
			senderID = o.Sender.ID()
			if !isValidUserID(senderID) {
				return store.DeliveryData{}, "", invalid("sender", ErrInvalidParticipant, "invalid sender id %q", senderID)
			}
		}
		if err := limits.ValidateSubject(o.Subject); err != nil {
			return store.DeliveryData{}, "", err
		}
		if err := limits.ValidateBody(o.Body); err != nil {
			return store.DeliveryData{}, "", err
		}
		if o.Object != nil && (o.Object.Type == "" || o.Object.ID == "") {
			return store.DeliveryData{}, "", invalid("object", ErrValidation, "object needs a type and an id")
		}

		data := store.DeliveryData{
			Notification: &store.NotificationData{
				SenderID:     senderID,
				Subject:      o.Subject,
				Body:         o.Body,
				Object:       o.Object,
				RecipientIDs: ids,
			},
			Receipts: make([]store.ReceiptData, 0, len(ids)),
		}
		for _, id := range ids {
			data.Receipts = append(data.Receipts, store.ReceiptData{ReceiverID: id, MailboxType: store.MailboxNotification})
		}
		return data, senderID, nil
	}

	return store.DeliveryData{}, "", invalid("outgoing", ErrValidation, "unsupported outgoing type %T", out)
}

func (s *service) publishDelivered(ctx context.Context, d *store.Delivery) error {
	var errs []error
	if m := d.Message; m != nil {
		errs = append(errs, publish(ctx, s, s.events.MessageDelivered, "MessageDelivered", m.ID, MessageDeliveredEvent{
			MessageID:           m.ID,
			ConversationID:      m.ConversationID,
			ConversationCreated: d.ConversationCreated,
			SenderID:            m.SenderID,
			RecipientIDs:        m.GetRecipientIDs(),
			Subject:             m.Subject,
			DeliveredAt:         m.CreatedAt,
		}))
	}
	if n := d.Notification; n != nil {
		ev := NotificationDeliveredEvent{
			NotificationID: n.ID,
			SenderID:       n.SenderID,
			RecipientIDs:   n.GetRecipientIDs(),
			Subject:        n.Subject,
			DeliveredAt:    n.CreatedAt,
		}
		if n.Object != nil {
			ev.Object = n.Object.String()
		}
		errs = append(errs, publish(ctx, s, s.events.NotificationDelivered, "NotificationDelivered", n.ID, ev))
	}
	return errors.Join(errs...)
}
