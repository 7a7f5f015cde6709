package mongo

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailboxer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MailboxStats aggregates per-mailbox counts and the trash count in one pipeline.
func (s *Store) MailboxStats(ctx context.Context, receiverID string) (*store.MailboxStats, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	// Trashed receipts are grouped under the pseudo mailbox "".
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"receiver_id": receiverID, "deleted_at": nil}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$trashed_at", nil}}, nil}},
				"$mailbox_type",
				"",
			}},
			"total":  bson.M{"$sum": 1},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{"$is_read", 0, 1}}},
		}}},
	}

	cursor, err := s.receipts.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate mailbox stats: %w", err)
	}
	var rows []struct {
		Box    string `bson:"_id"`
		Total  int64  `bson:"total"`
		Unread int64  `bson:"unread"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode mailbox stats: %w", err)
	}

	stats := &store.MailboxStats{Mailboxes: make(map[store.MailboxType]store.MailboxCounts, len(rows))}
	for _, r := range rows {
		if r.Box == "" {
			stats.TrashCount = r.Total
			continue
		}
		stats.Mailboxes[store.MailboxType(r.Box)] = store.MailboxCounts{Total: r.Total, Unread: r.Unread}
	}
	return stats, nil
}
