package mailboxer

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-set/v2"
	"github.com/rbaliyan/mailboxer/store"
)

// SendMessage starts a new conversation titled subject with a first message.
// Recipients are de-duplicated; sending to oneself is allowed.
func (m *userMailbox) SendMessage(ctx context.Context, recipients []Participant, body, subject string, opts ...MessageOption) (*DeliveryResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	o := newMessageOptions(opts...)
	return m.service.Deliver(ctx, &MessageDraft{
		Sender:     m.participant,
		Subject:    subject,
		Body:       body,
		Attachment: o.attachment,
	}, recipients)
}

// Reply appends a message to conversation, addressed to recipients minus the sender.
func (m *userMailbox) Reply(ctx context.Context, conversation *store.Conversation, recipients []Participant, body string, opts ...MessageOption) (*DeliveryResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return m.reply(ctx, conversation, recipients, body, newMessageOptions(opts...))
}

func (m *userMailbox) reply(ctx context.Context, conversation *store.Conversation, recipients []Participant, body string, o *messageOptions) (*DeliveryResult, error) {
	if conversation == nil || conversation.ID == "" {
		return nil, invalid("conversation", ErrInvalidID, "conversation is required")
	}

	subject := DefaultReplyPrefix + conversation.Subject
	if o.subject != nil {
		subject = *o.subject
	}

	rcpts := m.excludeSelf(recipients)
	if len(rcpts) == 0 {
		return nil, invalid("recipients", ErrEmptyRecipients, "no recipients left after removing the sender")
	}

	return m.service.Deliver(ctx, &MessageDraft{
		Sender:       m.participant,
		Conversation: conversation,
		Subject:      subject,
		Body:         body,
		Attachment:   o.attachment,
	}, rcpts)
}

// excludeSelf de-duplicates recipients and removes the mailbox owner.
func (m *userMailbox) excludeSelf(recipients []Participant) []Participant {
	seen := set.From([]string{m.userID})
	out := make([]Participant, 0, len(recipients))
	for _, p := range recipients {
		if p == nil {
			// Left for Deliver to reject with a validation error.
			out = append(out, p)
			continue
		}
		if seen.Insert(p.ID()) {
			out = append(out, p)
		}
	}
	return out
}

// ReplyToSender replies to whoever sent the receipt's message.
func (m *userMailbox) ReplyToSender(ctx context.Context, receipt *store.Receipt, body string, opts ...MessageOption) (*DeliveryResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	msg, conv, err := m.receiptMessage(ctx, receipt)
	if err != nil {
		return nil, err
	}
	recipients, err := m.service.lookup(ctx, []string{msg.SenderID})
	if err != nil {
		return nil, err
	}
	return m.reply(ctx, conv, recipients, body, newMessageOptions(opts...))
}

// ReplyToAll replies to the sender and every recipient of the receipt's message.
func (m *userMailbox) ReplyToAll(ctx context.Context, receipt *store.Receipt, body string, opts ...MessageOption) (*DeliveryResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	msg, conv, err := m.receiptMessage(ctx, receipt)
	if err != nil {
		return nil, err
	}
	recipients, err := m.service.lookup(ctx, msg.Participants())
	if err != nil {
		return nil, err
	}
	return m.reply(ctx, conv, recipients, body, newMessageOptions(opts...))
}

// ReplyToConversation replies to everyone on the last message of conversation.
// A conversation the participant trashed is restored first unless
// WithUntrash(false) is given.
func (m *userMailbox) ReplyToConversation(ctx context.Context, conversation *store.Conversation, body string, opts ...MessageOption) (*DeliveryResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if conversation == nil || conversation.ID == "" {
		return nil, invalid("conversation", ErrInvalidID, "conversation is required")
	}
	o := newMessageOptions(opts...)

	last, err := m.service.LastMessage(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	recipients, err := m.service.lookup(ctx, last.Participants())
	if err != nil {
		return nil, err
	}
	// A reply with nobody left to address must not untrash.
	if len(m.excludeSelf(recipients)) == 0 {
		return nil, invalid("recipients", ErrEmptyRecipients, "no recipients left after removing the sender")
	}

	if o.untrash {
		trashed, err := m.IsTrashed(ctx, conversation)
		if err != nil {
			return nil, err
		}
		if trashed {
			if _, err := m.Untrash(ctx, conversation); err != nil {
				return nil, fmt.Errorf("untrash conversation: %w", err)
			}
		}
	}

	return m.reply(ctx, conversation, recipients, body, o)
}

// Notify sends a notification to the participant itself.
func (m *userMailbox) Notify(ctx context.Context, subject, body string, object *store.ObjectRef) (*DeliveryResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return m.service.Deliver(ctx, &NotificationDraft{
		Subject: subject,
		Body:    body,
		Object:  object,
	}, []Participant{m.participant})
}

// receiptMessage loads the message and conversation a receipt points at.
func (m *userMailbox) receiptMessage(ctx context.Context, receipt *store.Receipt) (*store.Message, *store.Conversation, error) {
	if receipt == nil || receipt.DeliverableID == "" {
		return nil, nil, invalid("receipt", ErrInvalidID, "receipt is required")
	}
	if receipt.DeliverableKind != store.KindMessage {
		return nil, nil, invalid("receipt", ErrValidation, "cannot reply to a %s", receipt.DeliverableKind)
	}
	s := m.service
	msg, err := s.store.GetMessage(ctx, receipt.DeliverableID)
	if err != nil {
		return nil, nil, wrapStoreError(err)
	}
	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, nil, wrapStoreError(err)
	}
	return msg, conv, nil
}

// lookup resolves stored participant IDs through the directory.
func (s *service) lookup(ctx context.Context, ids []string) ([]Participant, error) {
	ps, err := s.directory.Lookup(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup participants: %w", err)
	}
	return ps, nil
}
