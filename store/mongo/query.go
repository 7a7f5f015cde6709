package mongo

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailboxer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc conversationDoc
	if err := s.conversations.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mapError("find conversation", err)
	}
	return doc.toStore(), nil
}

func (s *Store) ConversationMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongoopts.Find().SetSort(bson.D{
		bson.E{Key: "created_at", Value: 1},
		bson.E{Key: "_id", Value: 1},
	})
	cursor, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	out := make([]*store.Message, len(docs))
	for i := range docs {
		out[i] = docs[i].toStore()
	}
	return out, nil
}

func (s *Store) LastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongoopts.FindOne().SetSort(bson.D{
		bson.E{Key: "created_at", Value: -1},
		bson.E{Key: "_id", Value: -1},
	})
	var doc messageDoc
	if err := s.messages.FindOne(ctx, bson.M{"conversation_id": conversationID}, findOpts).Decode(&doc); err != nil {
		return nil, mapError("last message", err)
	}
	return doc.toStore(), nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc messageDoc
	if err := s.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mapError("find message", err)
	}
	return doc.toStore(), nil
}

func (s *Store) GetNotification(ctx context.Context, id string) (*store.Notification, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc notificationDoc
	if err := s.notifications.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mapError("find notification", err)
	}
	return doc.toStore(), nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc receiptDoc
	if err := s.receipts.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mapError("find receipt", err)
	}
	return doc.toStore(), nil
}

func (s *Store) FindReceipts(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.ReceiptList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}

	query := buildFilter(filters)
	total, err := s.receipts.CountDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count receipts: %w", err)
	}

	sortField := sortKey(opts.SortBy)
	dir := -1
	cmp := "$lt"
	if opts.SortOrder == store.SortAsc {
		dir = 1
		cmp = "$gt"
	}

	// Keyset pagination: (sortField, _id) strictly after the cursor receipt.
	if opts.StartAfter != "" {
		oid, err := bson.ObjectIDFromHex(opts.StartAfter)
		if err != nil {
			return nil, store.ErrInvalidID
		}
		var cursorDoc bson.M
		if err := s.receipts.FindOne(ctx, bson.M{"_id": oid}).Decode(&cursorDoc); err != nil {
			// Cursor not found. Return empty results since the page boundary is unknown.
			return &store.ReceiptList{Total: total}, nil
		}
		query = bson.M{"$and": bson.A{query, bson.M{"$or": bson.A{
			bson.M{sortField: bson.M{cmp: cursorDoc[sortField]}},
			bson.M{sortField: cursorDoc[sortField], "_id": bson.M{cmp: oid}},
		}}}}
		opts.Offset = 0
	}

	findOpts := mongoopts.Find().
		SetSort(bson.D{bson.E{Key: sortField, Value: dir}, bson.E{Key: "_id", Value: dir}}).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit + 1))

	cursor, err := s.receipts.Find(ctx, query, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find receipts: %w", err)
	}
	var docs []receiptDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode receipts: %w", err)
	}

	hasMore := len(docs) > opts.Limit
	if hasMore {
		docs = docs[:opts.Limit]
	}

	list := &store.ReceiptList{
		Receipts: make([]*store.Receipt, len(docs)),
		Total:    total,
		HasMore:  hasMore,
	}
	for i := range docs {
		list.Receipts[i] = docs[i].toStore()
	}
	if hasMore && len(docs) > 0 {
		list.NextCursor = list.Receipts[len(docs)-1].ID
	}
	return list, nil
}

func (s *Store) CountReceipts(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	n, err := s.receipts.CountDocuments(ctx, buildFilter(filters))
	if err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	return n, nil
}

// buildFilter converts store filters into a MongoDB query document.
// Multiple filters on the same key are combined with $and.
func buildFilter(filters []store.Filter) bson.M {
	var clauses bson.A
	for _, f := range filters {
		if c := filterToBSON(f); c != nil {
			clauses = append(clauses, c)
		}
	}
	switch len(clauses) {
	case 0:
		return bson.M{}
	case 1:
		return clauses[0].(bson.M)
	}
	return bson.M{"$and": clauses}
}

func filterToBSON(f store.Filter) bson.M {
	key, ok := store.ReceiptFieldKey(f.Key())
	if !ok {
		return nil
	}
	value := normalizeValue(f.Value())

	if key == "id" {
		key = "_id"
		value = idValue(value)
	}

	switch f.Operator() {
	case "eq":
		return bson.M{key: value}
	case "ne":
		return bson.M{key: bson.M{"$ne": value}}
	case "gt":
		return bson.M{key: bson.M{"$gt": value}}
	case "gte":
		return bson.M{key: bson.M{"$gte": value}}
	case "lt":
		return bson.M{key: bson.M{"$lt": value}}
	case "lte":
		return bson.M{key: bson.M{"$lte": value}}
	case "in":
		return bson.M{key: bson.M{"$in": value}}
	case "nin":
		return bson.M{key: bson.M{"$nin": value}}
	case "exists":
		// Nullable fields are stored as null, so existence means "not null".
		if value == true {
			return bson.M{key: bson.M{"$ne": nil}}
		}
		return bson.M{key: nil}
	}
	return nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case store.MailboxType:
		return string(t)
	case store.DeliverableKind:
		return string(t)
	case []any:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	case []string:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	}
	return v
}

// idValue converts hex receipt IDs (single or set) to ObjectIDs.
func idValue(v any) any {
	switch t := v.(type) {
	case string:
		oid, err := bson.ObjectIDFromHex(t)
		if err != nil {
			return t
		}
		return oid
	case bson.A:
		ids := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
		return objectIDs(ids)
	}
	return v
}

func sortKey(field string) string {
	key, ok := store.ReceiptOrderingKey(field)
	if !ok {
		return "created_at"
	}
	if key == "id" {
		return "_id"
	}
	return key
}
