package memory

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailboxer/store"
)

// CreateDelivery writes a deliverable and its receipts under a single lock.
// Validation happens before any record is written, so a failed call leaves
// no partial state.
func (s *Store) CreateDelivery(ctx context.Context, data store.DeliveryData) (*store.Delivery, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := &store.Delivery{}

	var (
		deliverableID string
		kind          store.DeliverableKind
		convRow       *conversationRow
	)

	switch {
	case data.Message != nil:
		if data.ConversationID != "" {
			row, ok := s.conversations[data.ConversationID]
			if !ok {
				return nil, store.ErrNotFound
			}
			convRow = row
		} else {
			convRow = &conversationRow{conv: &store.Conversation{
				ID:        uuid.New().String(),
				Subject:   data.NewConversationSubject,
				CreatedAt: now,
				UpdatedAt: now,
			}}
			out.ConversationCreated = true
		}
		deliverableID = uuid.New().String()
		kind = store.KindMessage
	case data.Notification != nil:
		deliverableID = uuid.New().String()
		kind = store.KindNotification
	}

	// Check uniqueness before mutating anything.
	for _, rd := range data.Receipts {
		if _, exists := s.receiptKeys[receiptKey{deliverableID, rd.ReceiverID, rd.MailboxType}]; exists {
			return nil, store.ErrDuplicateEntry
		}
	}

	convID := ""
	if convRow != nil {
		convID = convRow.conv.ID
		msg := &store.Message{
			ID:             deliverableID,
			ConversationID: convID,
			SenderID:       data.Message.SenderID,
			Subject:        data.Message.Subject,
			Body:           data.Message.Body,
			RecipientIDs:   slices.Clone(data.Message.RecipientIDs),
			CreatedAt:      now,
		}
		if data.Message.Attachment != nil {
			a := *data.Message.Attachment
			msg.Attachment = &a
		}
		if out.ConversationCreated {
			s.conversations[convID] = convRow
		}
		convRow.messageIDs = append(convRow.messageIDs, msg.ID)
		convRow.conv.UpdatedAt = now
		s.messages[msg.ID] = &messageRow{msg: msg, seq: s.nextSeq()}
		out.Conversation = convRow.conv.Clone()
		out.Message = msg.Clone()
	} else {
		n := &store.Notification{
			ID:           deliverableID,
			SenderID:     data.Notification.SenderID,
			Subject:      data.Notification.Subject,
			Body:         data.Notification.Body,
			RecipientIDs: slices.Clone(data.Notification.RecipientIDs),
			CreatedAt:    now,
		}
		if data.Notification.Object != nil {
			o := *data.Notification.Object
			n.Object = &o
		}
		s.notifications[n.ID] = n
		out.Notification = n.Clone()
	}

	out.Receipts = make([]*store.Receipt, 0, len(data.Receipts))
	for _, rd := range data.Receipts {
		r := &store.Receipt{
			ID:              uuid.New().String(),
			DeliverableID:   deliverableID,
			DeliverableKind: kind,
			ConversationID:  convID,
			ReceiverID:      rd.ReceiverID,
			MailboxType:     rd.MailboxType,
			// Sentbox copies start read.
			IsRead:    rd.MailboxType == store.MailboxSentbox,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.receipts[r.ID] = &receiptRow{receipt: r, seq: s.nextSeq()}
		s.receiptKeys[receiptKey{deliverableID, rd.ReceiverID, rd.MailboxType}] = r.ID
		out.Receipts = append(out.Receipts, r.Clone())
	}

	return out, nil
}
