package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailboxer/store"
)

// CreateDelivery writes the deliverable, the optional new conversation and
// every receipt in a single transaction.
func (s *Store) CreateDelivery(ctx context.Context, data store.DeliveryData) (*store.Delivery, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	out := &store.Delivery{}
	deliverableID := uuid.New().String()
	var (
		kind   store.DeliverableKind
		convID string
	)

	switch {
	case data.Message != nil:
		kind = store.KindMessage
		if data.ConversationID != "" {
			var row conversationRow
			q := fmt.Sprintf(`UPDATE %s SET updated_at = $1 WHERE id = $2 RETURNING %s`,
				s.opts.conversations(), conversationColumns)
			if err := tx.GetContext(ctx, &row, q, now, data.ConversationID); err != nil {
				return nil, mapError("touch conversation", err)
			}
			out.Conversation = row.toStore()
		} else {
			out.Conversation = &store.Conversation{
				ID:        uuid.New().String(),
				Subject:   data.NewConversationSubject,
				CreatedAt: now,
				UpdatedAt: now,
			}
			out.ConversationCreated = true
			q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4)`, s.opts.conversations(), conversationColumns)
			if _, err := tx.ExecContext(ctx, q, out.Conversation.ID, out.Conversation.Subject, now, now); err != nil {
				return nil, mapError("insert conversation", err)
			}
		}
		convID = out.Conversation.ID

		attachment, err := marshalAttachment(data.Message.Attachment)
		if err != nil {
			return nil, fmt.Errorf("marshal attachment: %w", err)
		}
		out.Message = &store.Message{
			ID:             deliverableID,
			ConversationID: convID,
			SenderID:       data.Message.SenderID,
			Subject:        data.Message.Subject,
			Body:           data.Message.Body,
			RecipientIDs:   data.Message.RecipientIDs,
			Attachment:     data.Message.Attachment,
			CreatedAt:      now,
		}
		q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.opts.messages(), messageColumns)
		if _, err := tx.ExecContext(ctx, q,
			deliverableID, convID, data.Message.SenderID, data.Message.Subject, data.Message.Body,
			pq.Array(data.Message.RecipientIDs), attachment, now,
		); err != nil {
			return nil, mapError("insert message", err)
		}

	case data.Notification != nil:
		kind = store.KindNotification
		n := data.Notification
		out.Notification = &store.Notification{
			ID:           deliverableID,
			SenderID:     n.SenderID,
			Subject:      n.Subject,
			Body:         n.Body,
			Object:       n.Object,
			RecipientIDs: n.RecipientIDs,
			CreatedAt:    now,
		}
		var objType, objID string
		if n.Object != nil {
			objType, objID = n.Object.Type, n.Object.ID
		}
		q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.opts.notifications(), notificationColumns)
		if _, err := tx.ExecContext(ctx, q,
			deliverableID, n.SenderID, n.Subject, n.Body, nullString(objType), nullString(objID),
			pq.Array(n.RecipientIDs), now,
		); err != nil {
			return nil, mapError("insert notification", err)
		}
	}

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, $8, $8)`,
		s.opts.receipts(), receiptColumns)
	out.Receipts = make([]*store.Receipt, 0, len(data.Receipts))
	for _, rd := range data.Receipts {
		r := &store.Receipt{
			ID:              uuid.New().String(),
			DeliverableID:   deliverableID,
			DeliverableKind: kind,
			ConversationID:  convID,
			ReceiverID:      rd.ReceiverID,
			MailboxType:     rd.MailboxType,
			IsRead:          rd.MailboxType == store.MailboxSentbox,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := tx.ExecContext(ctx, q,
			r.ID, r.DeliverableID, string(r.DeliverableKind), nullString(convID), r.ReceiverID,
			string(r.MailboxType), r.IsRead, now,
		); err != nil {
			return nil, mapError("insert receipt", err)
		}
		out.Receipts = append(out.Receipts, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}

	return out, nil
}

// DeleteExpiredTrash soft-deletes all receipts trashed before cutoff in one statement.
func (s *Store) DeleteExpiredTrash(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	q := fmt.Sprintf(`
		UPDATE %s SET deleted_at = $1, updated_at = $1
		WHERE trashed_at IS NOT NULL AND trashed_at < $2 AND deleted_at IS NULL
	`, s.opts.receipts())
	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired trash: %w", err)
	}
	return result.RowsAffected()
}
