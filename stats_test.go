package mailboxer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/mailboxer/store"
	"github.com/rbaliyan/mailboxer/store/memory"
)

type countingStatsStore struct {
	*memory.Store
	calls atomic.Int64
}

func (s *countingStatsStore) MailboxStats(ctx context.Context, receiverID string) (*store.MailboxStats, error) {
	s.calls.Add(1)
	return s.Store.MailboxStats(ctx, receiverID)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	cs := &countingStatsStore{Store: memory.New()}
	svc := setupTestService(t, WithStore(cs), WithStatsCache(100, time.Minute))
	alice, bob := profile("alice"), profile("bob")
	res := sendTestMessage(t, svc, alice, bob)
	bobBox := svc.Client(bob)

	stats, err := bobBox.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got := stats.Mailboxes[store.MailboxInbox]; got.Total != 1 || got.Unread != 1 {
		t.Errorf("unexpected inbox counts %+v", got)
	}
	if stats.Unread() != 1 {
		t.Errorf("expected 1 unread, got %d", stats.Unread())
	}

	t.Run("served from cache", func(t *testing.T) {
		before := cs.calls.Load()
		cached, err := bobBox.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if cs.calls.Load() != before {
			t.Error("second call should not hit the store")
		}
		cached.Mailboxes[store.MailboxInbox] = store.MailboxCounts{}
		again, _ := bobBox.Stats(ctx)
		if again.Mailboxes[store.MailboxInbox].Total != 1 {
			t.Error("callers must get a copy of the cached stats")
		}
	})

	t.Run("invalidated by updates", func(t *testing.T) {
		if _, err := bobBox.Read(ctx, res.Message); err != nil {
			t.Fatalf("Read: %v", err)
		}
		stats, err := bobBox.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.Unread() != 0 {
			t.Errorf("expected 0 unread after read, got %d", stats.Unread())
		}

		if _, err := bobBox.MoveToTrash(ctx, res.Conversation); err != nil {
			t.Fatalf("MoveToTrash: %v", err)
		}
		stats, _ = bobBox.Stats(ctx)
		if stats.TrashCount != 1 || stats.Mailboxes[store.MailboxInbox].Total != 0 {
			t.Errorf("unexpected stats after trash %+v", stats)
		}
	})

	t.Run("invalidated by deliveries", func(t *testing.T) {
		sendTestMessage(t, svc, alice, bob)
		stats, _ := bobBox.Stats(ctx)
		if stats.Mailboxes[store.MailboxInbox].Total != 1 {
			t.Errorf("expected the new message in inbox counts, got %+v", stats.Mailboxes[store.MailboxInbox])
		}
	})
}

func TestStatsWithoutCache(t *testing.T) {
	ctx := context.Background()
	cs := &countingStatsStore{Store: memory.New()}
	svc := setupTestService(t, WithStore(cs), WithStatsCache(0, 0))
	bobBox := svc.Client(profile("bob"))

	for range 2 {
		if _, err := bobBox.Stats(ctx); err != nil {
			t.Fatalf("Stats: %v", err)
		}
	}
	if cs.calls.Load() != 2 {
		t.Errorf("expected every call to hit the store, got %d", cs.calls.Load())
	}
}
