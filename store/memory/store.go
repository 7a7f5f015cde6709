// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/mailboxer/store"
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
//
// A single RWMutex guards all records so that a delivery and its receipts
// become visible together.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversationRow
	messages      map[string]*messageRow
	notifications map[string]*store.Notification
	receipts      map[string]*receiptRow
	// receiptKeys enforces uniqueness of (deliverable, receiver, mailbox).
	receiptKeys map[receiptKey]string
	seq         int64
	connected   int32
	now         func() time.Time
}

type conversationRow struct {
	conv       *store.Conversation
	messageIDs []string // creation order
}

type messageRow struct {
	msg *store.Message
	seq int64
}

type receiptRow struct {
	receipt *store.Receipt
	seq     int64
}

type receiptKey struct {
	deliverableID string
	receiverID    string
	mailbox       store.MailboxType
}

// Option configures the memory store.
type Option func(*Store)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*conversationRow),
		messages:      make(map[string]*messageRow),
		notifications: make(map[string]*store.Notification),
		receipts:      make(map[string]*receiptRow),
		receiptKeys:   make(map[receiptKey]string),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// nextSeq must be called with mu held for writing.
func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// Compile-time check
var _ store.Store = (*Store)(nil)
