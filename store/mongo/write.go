package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/mailboxer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Each mutation is one UpdateMany whose filter encodes ownership, the
// not-deleted guard and the source state, so ModifiedCount equals the
// number of receipts that changed.

func (s *Store) MarkRead(ctx context.Context, receiverID string, ids []string, read bool) (int64, error) {
	return s.update(ctx, receiverID, ids,
		bson.M{"is_read": !read},
		bson.M{"$set": bson.M{"is_read": read, "updated_at": time.Now().UTC()}})
}

func (s *Store) Trash(ctx context.Context, receiverID string, ids []string, at time.Time) (int64, error) {
	at = at.UTC()
	return s.update(ctx, receiverID, ids,
		bson.M{"trashed_at": nil},
		bson.M{"$set": bson.M{"trashed_at": at, "updated_at": at}})
}

func (s *Store) Untrash(ctx context.Context, receiverID string, ids []string) (int64, error) {
	return s.update(ctx, receiverID, ids,
		bson.M{"trashed_at": bson.M{"$ne": nil}},
		bson.M{"$set": bson.M{"trashed_at": nil, "updated_at": time.Now().UTC()}})
}

func (s *Store) Delete(ctx context.Context, receiverID string, ids []string, at time.Time) (int64, error) {
	at = at.UTC()
	return s.update(ctx, receiverID, ids,
		bson.M{},
		bson.M{"$set": bson.M{"deleted_at": at, "updated_at": at}})
}

func (s *Store) update(ctx context.Context, receiverID string, ids []string, guard, update bson.M) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if receiverID == "" {
		return 0, store.ErrInvalidID
	}
	oids := objectIDs(ids)
	if len(oids) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{
		"_id":         bson.M{"$in": oids},
		"receiver_id": receiverID,
		"deleted_at":  nil,
	}
	for k, v := range guard {
		filter[k] = v
	}

	result, err := s.receipts.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("update receipts: %w", err)
	}
	return result.ModifiedCount, nil
}
