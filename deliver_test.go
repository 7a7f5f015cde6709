package mailboxer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/mailboxer/store"
)

func TestSendMessageFanOut(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob, carol := profile("alice"), profile("bob"), profile("carol")

	res := sendTestMessage(t, svc, alice, bob, carol, bob)

	if !res.ConversationCreated || res.Conversation == nil {
		t.Fatal("expected a new conversation")
	}
	if res.Conversation.Subject != "Greetings" {
		t.Errorf("expected conversation subject Greetings, got %q", res.Conversation.Subject)
	}
	if res.Message == nil || res.Notification != nil {
		t.Fatal("expected a message deliverable")
	}
	if res.Message.SenderID != "alice" {
		t.Errorf("expected sender alice, got %q", res.Message.SenderID)
	}
	if len(res.Receipts) != 3 {
		t.Fatalf("expected 3 receipts (sentbox + 2 inbox), got %d", len(res.Receipts))
	}

	sent := res.ReceiptFor("alice", store.MailboxSentbox)
	if sent == nil || !sent.IsRead {
		t.Errorf("sender receipt should be in sentbox and read: %+v", sent)
	}
	for _, id := range []string{"bob", "carol"} {
		r := res.ReceiptFor(id, store.MailboxInbox)
		if r == nil {
			t.Fatalf("missing inbox receipt for %s", id)
		}
		if r.IsRead || r.IsTrashed() || r.IsDeleted() {
			t.Errorf("%s receipt should be active and unread: %+v", id, r)
		}
	}

	inbox, err := svc.Client(bob).Inbox(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if inbox.Total != 1 || len(inbox.Receipts) != 1 {
		t.Fatalf("expected one inbox receipt for bob, got %d", inbox.Total)
	}
	if inbox.Receipts[0].DeliverableID != res.Message.ID {
		t.Error("bob's inbox receipt points at the wrong message")
	}

	sentbox, err := svc.Client(alice).Sentbox(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("Sentbox: %v", err)
	}
	if sentbox.Total != 1 {
		t.Errorf("expected one sentbox receipt for alice, got %d", sentbox.Total)
	}
	if got, _ := svc.Client(alice).Inbox(ctx, store.ListOptions{}); got.Total != 0 {
		t.Errorf("sender should have no inbox receipt, got %d", got.Total)
	}
}

func TestSendMessageToSelf(t *testing.T) {
	svc := setupTestService(t)
	alice := profile("alice")

	res := sendTestMessage(t, svc, alice, alice)
	if len(res.Receipts) != 2 {
		t.Fatalf("expected sentbox and inbox receipts, got %d", len(res.Receipts))
	}
	if res.ReceiptFor("alice", store.MailboxSentbox) == nil || res.ReceiptFor("alice", store.MailboxInbox) == nil {
		t.Error("self-addressed message should land in both sentbox and inbox")
	}
}

func TestDeliverValidation(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, WithMaxRecipients(2), WithMaxSubjectLength(20))
	alice := profile("alice")
	mb := svc.Client(alice)

	tests := []struct {
		name       string
		recipients []Participant
		subject    string
		body       string
		want       error
	}{
		{"no recipients", nil, "hi", "body", ErrEmptyRecipients},
		{"nil recipient", []Participant{nil}, "hi", "body", ErrInvalidRecipient},
		{"invalid recipient id", Recipients(&Profile{UserID: "a b"}), "hi", "body", ErrInvalidRecipient},
		{"too many recipients", Recipients(profile("b"), profile("c"), profile("d")), "hi", "body", ErrTooManyRecipients},
		{"empty subject", Recipients(profile("b")), "  ", "body", ErrEmptySubject},
		{"long subject", Recipients(profile("b")), strings.Repeat("x", 21), "body", ErrSubjectTooLong},
		{"control chars in subject", Recipients(profile("b")), "bad\nsubject", "body", ErrInvalidContent},
		{"empty body", Recipients(profile("b")), "hi", "", ErrEmptyBody},
		{"null byte in body", Recipients(profile("b")), "hi", "a\x00b", ErrInvalidContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mb.SendMessage(ctx, tt.recipients, tt.body, tt.subject)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected a validation error, got %v", err)
			}
			if IsRetryableError(err) {
				t.Error("validation errors must not be retryable")
			}
		})
	}

	t.Run("duplicates count once", func(t *testing.T) {
		b := profile("b")
		if _, err := mb.SendMessage(ctx, Recipients(b, b, b), "body", "hi"); err != nil {
			t.Fatalf("expected duplicates to collapse under the limit, got %v", err)
		}
	})

	t.Run("message without sender", func(t *testing.T) {
		_, err := svc.Deliver(ctx, &MessageDraft{Subject: "hi", Body: "body"}, Recipients(profile("b")))
		if !errors.Is(err, ErrMissingSender) {
			t.Fatalf("expected ErrMissingSender, got %v", err)
		}
	})

	t.Run("reply to unknown conversation", func(t *testing.T) {
		_, err := svc.Deliver(ctx, &MessageDraft{
			Sender:       alice,
			Conversation: &store.Conversation{ID: "missing"},
			Subject:      "hi",
			Body:         "body",
		}, Recipients(profile("b")))
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("nothing stored on failure", func(t *testing.T) {
		sent, err := mb.Sentbox(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("Sentbox: %v", err)
		}
		if sent.Total != 1 {
			t.Errorf("expected only the successful delivery in sentbox, got %d", sent.Total)
		}
	})
}

func TestNotify(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := profile("alice"), profile("bob")

	t.Run("system notification", func(t *testing.T) {
		res, err := svc.Notify(ctx, &NotificationDraft{
			Subject: "Maintenance",
			Body:    "Down at midnight",
			Object:  &store.ObjectRef{Type: "system", ID: "maint-1"},
		}, Recipients(alice, bob))
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if res.Notification == nil || res.Message != nil || res.Conversation != nil {
			t.Fatal("expected a notification without a conversation")
		}
		if res.Notification.SenderID != "" {
			t.Errorf("system notification should have no sender, got %q", res.Notification.SenderID)
		}
		if len(res.Receipts) != 2 {
			t.Fatalf("expected 2 receipts, got %d", len(res.Receipts))
		}
		for _, r := range res.Receipts {
			if r.MailboxType != store.MailboxNotification || r.IsRead {
				t.Errorf("unexpected receipt %+v", r)
			}
		}

		list, err := svc.Client(bob).Notifications(ctx, store.ListOptions{})
		if err != nil {
			t.Fatalf("Notifications: %v", err)
		}
		if list.Total != 1 {
			t.Errorf("expected one notification for bob, got %d", list.Total)
		}
	})

	t.Run("notify self", func(t *testing.T) {
		res, err := svc.Client(alice).Notify(ctx, "Reminder", "Call bob", nil)
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if len(res.Receipts) != 1 || res.Receipts[0].ReceiverID != "alice" {
			t.Fatalf("expected one receipt for alice, got %+v", res.Receipts)
		}
	})

	t.Run("object needs type and id", func(t *testing.T) {
		_, err := svc.Notify(ctx, &NotificationDraft{
			Subject: "x",
			Body:    "y",
			Object:  &store.ObjectRef{Type: "order"},
		}, Recipients(alice))
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("nil draft", func(t *testing.T) {
		if _, err := svc.Notify(ctx, nil, Recipients(alice)); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

type hookPlugin struct {
	mu       sync.Mutex
	veto     error
	before   int
	after    []*store.Delivery
	inited   bool
	closed   bool
	afterErr error
}

func (p *hookPlugin) Name() string { return "hook" }

func (p *hookPlugin) Init(context.Context) error {
	p.inited = true
	return nil
}

func (p *hookPlugin) Close(context.Context) error {
	p.closed = true
	return nil
}

func (p *hookPlugin) BeforeDeliver(_ context.Context, _ Outgoing, _ []Participant) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before++
	return p.veto
}

func (p *hookPlugin) AfterDeliver(_ context.Context, d *store.Delivery) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.after = append(p.after, d)
	return p.afterErr
}

func TestDeliveryHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("veto stops delivery", func(t *testing.T) {
		veto := errors.New("spam")
		p := &hookPlugin{veto: veto}
		svc := setupTestService(t, WithPlugin(p))
		if !p.inited {
			t.Fatal("plugin should be initialized on connect")
		}

		_, err := svc.Client(profile("alice")).SendMessage(ctx, Recipients(profile("bob")), "body", "hi")
		if !errors.Is(err, veto) {
			t.Fatalf("expected veto error, got %v", err)
		}
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Op != "BeforeDeliver" {
			t.Errorf("expected PluginError from BeforeDeliver, got %v", err)
		}
		if len(p.after) != 0 {
			t.Error("AfterDeliver must not run for a vetoed delivery")
		}
		inbox, _ := svc.Client(profile("bob")).Inbox(ctx, store.ListOptions{})
		if inbox.Total != 0 {
			t.Error("vetoed delivery must not create receipts")
		}
	})

	t.Run("after hook failure does not fail delivery", func(t *testing.T) {
		p := &hookPlugin{afterErr: errors.New("audit down")}
		svc := setupTestService(t, WithPlugin(p))

		res, err := svc.Client(profile("alice")).SendMessage(ctx, Recipients(profile("bob")), "body", "hi")
		if err != nil {
			t.Fatalf("expected delivery to succeed, got %v", err)
		}
		if p.before != 1 || len(p.after) != 1 {
			t.Fatalf("expected hooks to run once, got before=%d after=%d", p.before, len(p.after))
		}
		if p.after[0].Message.ID != res.Message.ID {
			t.Error("AfterDeliver received the wrong delivery")
		}
	})
}

func TestDeliveryEvents(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	got := make(chan MessageDeliveredEvent, 1)
	err := svc.Events().MessageDelivered.Subscribe(ctx, func(_ context.Context, _ event.Event[MessageDeliveredEvent], data MessageDeliveredEvent) error {
		select {
		case got <- data:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	res := sendTestMessage(t, svc, profile("alice"), profile("bob"))

	select {
	case ev := <-got:
		if ev.MessageID != res.Message.ID || ev.SenderID != "alice" || !ev.ConversationCreated {
			t.Errorf("unexpected event %+v", ev)
		}
		if len(ev.RecipientIDs) != 1 || ev.RecipientIDs[0] != "bob" {
			t.Errorf("unexpected recipients %v", ev.RecipientIDs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for MessageDelivered")
	}
}
