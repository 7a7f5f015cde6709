package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mailboxer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// deliveryDocs holds every document one delivery writes.
type deliveryDocs struct {
	conversation *conversationDoc // nil when appending to an existing conversation
	convID       bson.ObjectID
	message      *messageDoc
	notification *notificationDoc
	receipts     []any
	receiptRefs  []*receiptDoc
}

func newDeliveryDocs(data store.DeliveryData, now time.Time) (*deliveryDocs, error) {
	d := &deliveryDocs{}
	deliverableID := bson.NewObjectID()
	var (
		kind   store.DeliverableKind
		convID *string
	)

	switch {
	case data.Message != nil:
		kind = store.KindMessage
		if data.ConversationID != "" {
			oid, err := bson.ObjectIDFromHex(data.ConversationID)
			if err != nil {
				return nil, store.ErrNotFound
			}
			d.convID = oid
		} else {
			d.convID = bson.NewObjectID()
			d.conversation = &conversationDoc{
				ID:        d.convID,
				Subject:   data.NewConversationSubject,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		hex := d.convID.Hex()
		convID = &hex
		d.message = &messageDoc{
			ID:             deliverableID,
			ConversationID: hex,
			SenderID:       data.Message.SenderID,
			Subject:        data.Message.Subject,
			Body:           data.Message.Body,
			RecipientIDs:   data.Message.RecipientIDs,
			CreatedAt:      now,
		}
		if a := data.Message.Attachment; a != nil {
			d.message.Attachment = &attachmentDoc{Filename: a.Filename, ContentType: a.ContentType, Size: a.Size, Hash: a.Hash, URI: a.URI}
		}
	case data.Notification != nil:
		kind = store.KindNotification
		n := data.Notification
		d.notification = &notificationDoc{
			ID:           deliverableID,
			SenderID:     n.SenderID,
			Subject:      n.Subject,
			Body:         n.Body,
			RecipientIDs: n.RecipientIDs,
			CreatedAt:    now,
		}
		if n.Object != nil {
			d.notification.Object = &objectDoc{Type: n.Object.Type, ID: n.Object.ID}
		}
	}

	for _, rd := range data.Receipts {
		doc := &receiptDoc{
			ID:              bson.NewObjectID(),
			DeliverableID:   deliverableID.Hex(),
			DeliverableKind: string(kind),
			ConversationID:  convID,
			ReceiverID:      rd.ReceiverID,
			MailboxType:     string(rd.MailboxType),
			IsRead:          rd.MailboxType == store.MailboxSentbox,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		d.receipts = append(d.receipts, doc)
		d.receiptRefs = append(d.receiptRefs, doc)
	}
	return d, nil
}

func (d *deliveryDocs) result(conv *conversationDoc) *store.Delivery {
	out := &store.Delivery{
		ConversationCreated: d.conversation != nil,
		Receipts:            make([]*store.Receipt, len(d.receiptRefs)),
	}
	if conv != nil {
		out.Conversation = conv.toStore()
	}
	if d.message != nil {
		out.Message = d.message.toStore()
	}
	if d.notification != nil {
		out.Notification = d.notification.toStore()
	}
	for i, r := range d.receiptRefs {
		out.Receipts[i] = r.toStore()
	}
	return out
}

// CreateDelivery writes the delivery in a transaction. If the deployment
// does not support transactions, it falls back to ordered inserts.
func (s *Store) CreateDelivery(ctx context.Context, data store.DeliveryData) (*store.Delivery, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	docs, err := newDeliveryDocs(data, now)
	if err != nil {
		return nil, err
	}

	session, err := s.client.StartSession()
	if err != nil {
		// Standalone MongoDB doesn't support sessions
		return s.createDeliveryFallback(ctx, docs, now)
	}
	defer session.EndSession(ctx)

	var conv *conversationDoc
	_, txErr := session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		var werr error
		conv, werr = s.writeDelivery(sessCtx, docs, now)
		return nil, werr
	})
	if txErr != nil {
		if isTransactionNotSupported(txErr) {
			return s.createDeliveryFallback(ctx, docs, now)
		}
		if errors.Is(txErr, store.ErrNotFound) || errors.Is(txErr, store.ErrDuplicateEntry) {
			return nil, txErr
		}
		return nil, fmt.Errorf("%w: %v", store.ErrTransactionFailed, txErr)
	}
	return docs.result(conv), nil
}

// writeDelivery performs the inserts. ctx may carry a session.
func (s *Store) writeDelivery(ctx context.Context, docs *deliveryDocs, now time.Time) (*conversationDoc, error) {
	var conv *conversationDoc
	if docs.conversation != nil {
		if _, err := s.conversations.InsertOne(ctx, docs.conversation); err != nil {
			return nil, mapError("insert conversation", err)
		}
		conv = docs.conversation
	} else if docs.message != nil {
		var existing conversationDoc
		err := s.conversations.FindOneAndUpdate(ctx,
			bson.M{"_id": docs.convID},
			bson.M{"$set": bson.M{"updated_at": now}},
		).Decode(&existing)
		if err != nil {
			return nil, mapError("touch conversation", err)
		}
		existing.UpdatedAt = now
		conv = &existing
	}

	for _, step := range s.insertSteps(docs) {
		if _, err := step.coll.InsertMany(ctx, step.docs); err != nil {
			return nil, mapError("insert "+step.name, err)
		}
	}
	return conv, nil
}

type insertStep struct {
	name string
	coll *mongo.Collection
	docs []any
}

// insertSteps orders the inserts so that, without a transaction, readers
// never see a deliverable whose receipts are missing: receipts go first
// and the message or notification last.
func (s *Store) insertSteps(docs *deliveryDocs) []insertStep {
	steps := []insertStep{{name: "receipts", coll: s.receipts, docs: docs.receipts}}
	if docs.notification != nil {
		steps = append(steps, insertStep{name: "notification", coll: s.notifications, docs: []any{docs.notification}})
	}
	if docs.message != nil {
		steps = append(steps, insertStep{name: "message", coll: s.messages, docs: []any{docs.message}})
	}
	return steps
}

// createDeliveryFallback writes without a transaction and removes the
// documents it created if a later insert fails.
func (s *Store) createDeliveryFallback(ctx context.Context, docs *deliveryDocs, now time.Time) (*store.Delivery, error) {
	conv, err := s.writeDelivery(ctx, docs, now)
	if err == nil {
		return docs.result(conv), nil
	}

	cleanup := []error{err}
	ids := make([]bson.ObjectID, len(docs.receiptRefs))
	for i, r := range docs.receiptRefs {
		ids[i] = r.ID
	}
	if _, derr := s.receipts.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); derr != nil {
		cleanup = append(cleanup, derr)
	}
	if docs.message != nil {
		if _, derr := s.messages.DeleteOne(ctx, bson.M{"_id": docs.message.ID}); derr != nil {
			cleanup = append(cleanup, derr)
		}
	}
	if docs.notification != nil {
		if _, derr := s.notifications.DeleteOne(ctx, bson.M{"_id": docs.notification.ID}); derr != nil {
			cleanup = append(cleanup, derr)
		}
	}
	if docs.conversation != nil {
		if _, derr := s.conversations.DeleteOne(ctx, bson.M{"_id": docs.conversation.ID}); derr != nil {
			cleanup = append(cleanup, derr)
		}
	}
	if len(cleanup) > 1 {
		s.logger.Error("delivery rollback incomplete", "error", errors.Join(cleanup[1:]...))
	}
	return nil, err
}

// DeleteExpiredTrash soft-deletes all receipts trashed before cutoff.
func (s *Store) DeleteExpiredTrash(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	result, err := s.receipts.UpdateMany(ctx,
		bson.M{"trashed_at": bson.M{"$lt": cutoff}, "deleted_at": nil},
		bson.M{"$set": bson.M{"deleted_at": now, "updated_at": now}},
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired trash: %w", err)
	}
	return result.ModifiedCount, nil
}
