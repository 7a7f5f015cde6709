// Package mongo provides a MongoDB implementation of store.Store.
//
// Deliveries are written in a multi-document transaction when the deployment
// supports it (replica sets, sharded clusters). On standalone servers the
// store falls back to ordered inserts and removes what it wrote if a later
// insert fails.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/mailboxer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client        *mongo.Client
	db            *mongo.Database
	conversations *mongo.Collection
	messages      *mongo.Collection
	notifications *mongo.Collection
	receipts      *mongo.Collection
	opts          *options
	connected     int32
	logger        *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.conversations = s.db.Collection(s.opts.prefix + "conversations")
	s.messages = s.db.Collection(s.opts.prefix + "messages")
	s.notifications = s.db.Collection(s.opts.prefix + "notifications")
	s.receipts = s.db.Collection(s.opts.prefix + "receipts")

	if err := s.ensureIndexes(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.logger.Info("connected to MongoDB", "database", s.opts.database, "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			bson.E{Key: "conversation_id", Value: 1},
			bson.E{Key: "created_at", Value: 1},
			bson.E{Key: "_id", Value: 1},
		},
	}); err != nil {
		return fmt.Errorf("messages: %w", err)
	}

	receiptIndexes := []mongo.IndexModel{
		// One receipt per deliverable, receiver and mailbox.
		{
			Keys: bson.D{
				bson.E{Key: "deliverable_id", Value: 1},
				bson.E{Key: "receiver_id", Value: 1},
				bson.E{Key: "mailbox_type", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
		// Mailbox listing
		{Keys: bson.D{
			bson.E{Key: "receiver_id", Value: 1},
			bson.E{Key: "mailbox_type", Value: 1},
			bson.E{Key: "created_at", Value: -1},
		}},
		// Conversation membership
		{
			Keys: bson.D{
				bson.E{Key: "receiver_id", Value: 1},
				bson.E{Key: "conversation_id", Value: 1},
			},
			Options: mongoopts.Index().SetPartialFilterExpression(bson.M{"conversation_id": bson.M{"$type": "string"}}),
		},
		// Trash purge
		{Keys: bson.D{bson.E{Key: "trashed_at", Value: 1}}},
	}
	if _, err := s.receipts.Indexes().CreateMany(ctx, receiptIndexes); err != nil {
		return fmt.Errorf("receipts: %w", err)
	}
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// isTransactionNotSupported checks if the error indicates transactions aren't supported.
func isTransactionNotSupported(err error) bool {
	if err == nil {
		return false
	}
	// MongoDB returns code 263 (OperationNotSupportedInTransaction) or
	// code 20 (IllegalOperation) for standalone servers.
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 263 || cmdErr.Code == 20
	}
	return false
}

func mapError(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, store.ErrDuplicateEntry)
	}
	return fmt.Errorf("%s: %w", op, err)
}
