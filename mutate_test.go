package mailboxer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/mailboxer/store"
	"github.com/rbaliyan/mailboxer/store/memory"
)

func TestReadUnread(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := profile("alice"), profile("bob")
	res := sendTestMessage(t, svc, alice, bob)
	bobBox := svc.Client(bob)

	result, err := bobBox.Read(ctx, res.Message)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if result.ChangedCount() != 1 || result.MatchedCount() != 1 {
		t.Errorf("expected 1 matched and changed, got %d/%d", result.MatchedCount(), result.ChangedCount())
	}

	again, err := bobBox.Read(ctx, res.Message)
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	if again.ChangedCount() != 0 || again.MatchedCount() != 1 {
		t.Errorf("second read should match but not change, got %d/%d", again.MatchedCount(), again.ChangedCount())
	}

	if _, err := bobBox.Unread(ctx, res.Message); err != nil {
		t.Fatalf("Unread: %v", err)
	}
	inbox, _ := bobBox.Inbox(ctx, store.ListOptions{})
	if inbox.Receipts[0].IsRead {
		t.Error("receipt should be unread again")
	}
}

func TestOwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob, mallory := profile("alice"), profile("bob"), profile("mallory")
	res := sendTestMessage(t, svc, alice, bob)
	bobReceipt := res.ReceiptFor("bob", store.MailboxInbox)

	malloryBox := svc.Client(mallory)
	for name, op := range map[string]func(context.Context, ...any) (*BulkResult, error){
		"read":    malloryBox.Read,
		"trash":   malloryBox.MoveToTrash,
		"delete":  malloryBox.Delete,
		"unread":  malloryBox.Unread,
		"untrash": malloryBox.Untrash,
	} {
		t.Run(name, func(t *testing.T) {
			result, err := op(ctx, bobReceipt, res.Message, res.Conversation)
			if err != nil {
				t.Fatalf("foreign targets should be a silent no-op, got %v", err)
			}
			if result.MatchedCount() != 0 || result.ChangedCount() != 0 {
				t.Errorf("expected nothing matched, got %d/%d", result.MatchedCount(), result.ChangedCount())
			}
		})
	}

	inbox, err := svc.Client(bob).Inbox(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if inbox.Total != 1 || inbox.Receipts[0].IsRead {
		t.Error("bob's receipt must be untouched by another participant")
	}
}

func TestTrashUntrash(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := profile("alice"), profile("bob")
	res := sendTestMessage(t, svc, alice, bob)
	conv := res.Conversation
	bobBox := svc.Client(bob)

	trashed, err := bobBox.MoveToTrash(ctx, conv)
	if err != nil {
		t.Fatalf("MoveToTrash: %v", err)
	}
	if trashed.ChangedCount() != 1 {
		t.Errorf("expected 1 changed, got %d", trashed.ChangedCount())
	}

	first, _ := bobBox.ReceiptsFor(ctx, conv)
	trashedAt := *first[0].TrashedAt

	again, err := bobBox.MoveToTrash(ctx, conv)
	if err != nil {
		t.Fatalf("second MoveToTrash: %v", err)
	}
	if again.ChangedCount() != 0 {
		t.Errorf("trashing twice should change nothing, got %d", again.ChangedCount())
	}
	second, _ := bobBox.ReceiptsFor(ctx, conv)
	if !second[0].TrashedAt.Equal(trashedAt) {
		t.Error("trashing twice must keep the original trash time")
	}

	inbox, _ := bobBox.Inbox(ctx, store.ListOptions{})
	if inbox.Total != 0 {
		t.Errorf("trashed receipts should leave the inbox, got %d", inbox.Total)
	}
	trash, _ := bobBox.Trash(ctx, store.ListOptions{})
	if trash.Total != 1 {
		t.Errorf("expected 1 receipt in trash, got %d", trash.Total)
	}

	if sent, _ := svc.Client(alice).Sentbox(ctx, store.ListOptions{}); sent.Total != 1 {
		t.Error("bob trashing must not affect alice's sentbox")
	}

	if _, err := bobBox.Untrash(ctx, conv); err != nil {
		t.Fatalf("Untrash: %v", err)
	}
	if again, _ := bobBox.Untrash(ctx, conv); again.ChangedCount() != 0 {
		t.Error("untrashing twice should change nothing")
	}
	if inbox, _ := bobBox.Inbox(ctx, store.ListOptions{}); inbox.Total != 1 {
		t.Errorf("untrashed receipt should be back in the inbox, got %d", inbox.Total)
	}
}

func TestIsTrashed(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := profile("alice"), profile("bob")
	res := sendTestMessage(t, svc, alice, bob)
	conv := res.Conversation
	reply, err := svc.Client(bob).Reply(ctx, conv, Recipients(alice), "reply")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	bobBox := svc.Client(bob)

	if trashed, _ := bobBox.IsTrashed(ctx, conv); trashed {
		t.Error("fresh conversation should not be trashed")
	}

	// Only one of bob's two receipts is trashed.
	if _, err := bobBox.MoveToTrash(ctx, reply.ReceiptFor("bob", store.MailboxSentbox)); err != nil {
		t.Fatalf("MoveToTrash: %v", err)
	}
	if trashed, _ := bobBox.IsTrashed(ctx, conv); trashed {
		t.Error("partially trashed conversation should not count as trashed")
	}

	if _, err := bobBox.MoveToTrash(ctx, conv); err != nil {
		t.Fatalf("MoveToTrash: %v", err)
	}
	if trashed, _ := bobBox.IsTrashed(ctx, conv); !trashed {
		t.Error("fully trashed conversation should count as trashed")
	}

	if trashed, _ := svc.Client(profile("outsider")).IsTrashed(ctx, conv); trashed {
		t.Error("participant without receipts should not see the conversation as trashed")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := profile("alice"), profile("bob")
	res := sendTestMessage(t, svc, alice, bob)
	bobBox := svc.Client(bob)
	receipt := res.ReceiptFor("bob", store.MailboxInbox)

	if _, err := bobBox.MoveToTrash(ctx, receipt); err != nil {
		t.Fatalf("MoveToTrash: %v", err)
	}
	result, err := bobBox.Delete(ctx, receipt)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if result.ChangedCount() != 1 {
		t.Errorf("expected 1 deleted, got %d", result.ChangedCount())
	}

	for name, list := range map[string]func(context.Context, store.ListOptions) (*store.ReceiptList, error){
		"inbox": bobBox.Inbox,
		"trash": bobBox.Trash,
	} {
		got, err := list(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got.Total != 0 {
			t.Errorf("deleted receipt should not appear in %s", name)
		}
	}

	// Deleted is final: later transitions do not match it.
	for _, op := range []func(context.Context, ...any) (*BulkResult, error){bobBox.Untrash, bobBox.Read, bobBox.Delete} {
		r, err := op(ctx, receipt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.MatchedCount() != 0 {
			t.Errorf("deleted receipt should not be matched by %s", r.Operation)
		}
	}

	if msgs, _ := bobBox.Messages(ctx, res.Conversation); len(msgs) != 0 {
		t.Errorf("bob should no longer see the message, got %d", len(msgs))
	}
	if msgs, _ := svc.Client(alice).Messages(ctx, res.Conversation); len(msgs) != 1 {
		t.Errorf("alice should still see the message, got %d", len(msgs))
	}
}

func TestBulkInputs(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob, carol := profile("alice"), profile("bob"), profile("carol")
	m1 := sendTestMessage(t, svc, alice, bob)
	m2 := sendTestMessage(t, svc, carol, bob)
	note, err := svc.Notify(ctx, &NotificationDraft{Subject: "ping", Body: "pong"}, Recipients(bob))
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	bobBox := svc.Client(bob)

	result, err := bobBox.Read(ctx,
		m1.ReceiptFor("bob", store.MailboxInbox),
		[]*store.Conversation{m2.Conversation},
		note.Notification,
		"not a target",
		MessageTarget{ID: "unknown"},
		42,
	)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	want := []struct {
		target  string
		changed int64
		skipped bool
	}{
		{"receipt:" + m1.ReceiptFor("bob", store.MailboxInbox).ID, 1, false},
		{"conversation:" + m2.Conversation.ID, 1, false},
		{"notification:" + note.Notification.ID, 1, false},
		{"string", 0, true},
		{"message:unknown", 0, false},
		{"int", 0, true},
	}
	if len(result.Results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(result.Results))
	}
	for i, w := range want {
		got := result.Results[i]
		if got.Target != w.target || got.Changed != w.changed || got.Skipped != w.skipped {
			t.Errorf("result %d: got %+v, want %+v", i, got, w)
		}
	}
	if result.SkippedCount() != 2 || result.HasFailures() {
		t.Errorf("expected 2 skipped and no failures, got %d/%d", result.SkippedCount(), result.FailureCount())
	}

	t.Run("receipt lists and delivery results", func(t *testing.T) {
		inbox, err := bobBox.Inbox(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("Inbox: %v", err)
		}
		r, err := bobBox.Unread(ctx, inbox, m1)
		if err != nil {
			t.Fatalf("Unread: %v", err)
		}
		if r.ChangedCount() != 2 {
			t.Errorf("expected 2 receipts unread, got %d", r.ChangedCount())
		}
	})
}

type failingStore struct {
	*memory.Store
	mu    sync.Mutex
	fail  error
	calls int
}

func (s *failingStore) MarkRead(ctx context.Context, receiverID string, ids []string, read bool) (int64, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls == 1 && s.fail != nil
	s.mu.Unlock()
	if fail {
		return 0, s.fail
	}
	return s.Store.MarkRead(ctx, receiverID, ids, read)
}

func TestBulkPartialFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")
	fs := &failingStore{Store: memory.New(), fail: boom}
	svc := setupTestService(t, WithStore(fs))
	alice, bob := profile("alice"), profile("bob")
	m1 := sendTestMessage(t, svc, alice, bob)
	m2 := sendTestMessage(t, svc, alice, bob)

	result, err := svc.Client(bob).Read(ctx, m1.Message, m2.Message)
	if !errors.Is(err, boom) {
		t.Fatalf("expected store failure, got %v", err)
	}
	var bulkErr *BulkOperationError
	if !errors.As(err, &bulkErr) {
		t.Fatalf("expected *BulkOperationError, got %T", err)
	}
	if result.FailureCount() != 1 {
		t.Errorf("expected 1 failure, got %d", result.FailureCount())
	}
	if result.Results[1].Changed != 1 {
		t.Error("the second input should still be processed")
	}
}

func TestPurgeTrash(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	svc := setupTestService(t, withClock(clock), WithTrashRetention(7*24*time.Hour))
	alice, bob := profile("alice"), profile("bob")
	old := sendTestMessage(t, svc, alice, bob)
	recent := sendTestMessage(t, svc, alice, bob)
	bobBox := svc.Client(bob)

	if _, err := bobBox.MoveToTrash(ctx, old.Conversation); err != nil {
		t.Fatalf("MoveToTrash: %v", err)
	}
	advance(6 * 24 * time.Hour)
	if _, err := bobBox.MoveToTrash(ctx, recent.Conversation); err != nil {
		t.Fatalf("MoveToTrash: %v", err)
	}
	advance(2 * 24 * time.Hour)

	result, err := svc.PurgeTrash(ctx)
	if err != nil {
		t.Fatalf("PurgeTrash: %v", err)
	}
	if result.DeletedCount != 1 {
		t.Errorf("expected 1 purged receipt, got %d", result.DeletedCount)
	}
	if want := clock().Add(-7 * 24 * time.Hour); !result.Cutoff.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, result.Cutoff)
	}

	trash, _ := bobBox.Trash(ctx, store.ListOptions{})
	if trash.Total != 1 || trash.Receipts[0].DeliverableID != recent.Message.ID {
		t.Errorf("only the recent receipt should remain in trash, got %d", trash.Total)
	}

	again, err := svc.PurgeTrash(ctx)
	if err != nil || again.DeletedCount != 0 {
		t.Errorf("second purge should delete nothing, got %v, %v", again, err)
	}
}

func TestReceiptsUpdatedEvent(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := profile("alice"), profile("bob")
	sent := sendTestMessage(t, svc, alice, bob)
	self := sendTestMessage(t, svc, alice, alice)

	got := make(chan ReceiptsUpdatedEvent, 1)
	err := svc.Events().ReceiptsUpdated.Subscribe(ctx, func(_ context.Context, _ event.Event[ReceiptsUpdatedEvent], data ReceiptsUpdatedEvent) error {
		select {
		case got <- data:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Alice's sentbox receipt for sent starts read, so that input changes nothing.
	// The self-addressed message resolves to a read sentbox and an unread inbox receipt.
	if _, err := svc.Client(alice).Read(ctx, sent.Message, self.Message); err != nil {
		t.Fatalf("Read: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Operation != OpRead || ev.ReceiverID != "alice" || ev.Changed != 1 {
			t.Errorf("unexpected event %+v", ev)
		}
		want := []string{
			self.ReceiptFor("alice", store.MailboxSentbox).ID,
			self.ReceiptFor("alice", store.MailboxInbox).ID,
		}
		if !sameIDs(ev.ReceiptIDs, want) {
			t.Errorf("expected receipt IDs %v, got %v", want, ev.ReceiptIDs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ReceiptsUpdated")
	}
}
