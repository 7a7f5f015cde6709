package mailboxer

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/event/v3/transport/channel"
	"github.com/rbaliyan/mailboxer/store"
	"github.com/rbaliyan/mailboxer/store/memory"
)

func setupTestService(t *testing.T, opts ...Option) *service {
	t.Helper()
	opts = append([]Option{
		WithStore(memory.New()),
		WithEventTransport(channel.New()),
	}, opts...)
	svc, err := newService(opts...)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func profile(id string) *Profile {
	return &Profile{UserID: id, Name: id, Email: id + "@example.com"}
}

// sendTestMessage starts a conversation from sender to recipients.
func sendTestMessage(t *testing.T, svc *service, sender *Profile, recipients ...*Profile) *DeliveryResult {
	t.Helper()
	rcpts := make([]Participant, len(recipients))
	for i, r := range recipients {
		rcpts[i] = r
	}
	res, err := svc.Client(sender).SendMessage(context.Background(), rcpts, "hello there", "Greetings")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	return res
}

func TestNewService(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		svc, err := NewService()
		if !errors.Is(err, ErrStoreRequired) {
			t.Fatalf("expected ErrStoreRequired, got %v", err)
		}
		if svc != nil {
			t.Error("expected nil service on error")
		}
	})

	t.Run("with memory store", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if svc.IsConnected() {
			t.Error("service should not be connected before Connect")
		}
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("connect and close", func(t *testing.T) {
		svc, err := NewService(WithStore(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
		if svc.Events() == nil {
			t.Error("expected events after connect")
		}
		if err := svc.Close(ctx); err != nil {
			t.Errorf("close failed: %v", err)
		}
		if svc.IsConnected() {
			t.Error("service should be disconnected after close")
		}
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second close should be a no-op, got %v", err)
		}
	})

	t.Run("operations require connection", func(t *testing.T) {
		svc, _ := NewService(WithStore(memory.New()))
		mb := svc.Client(profile("alice"))

		if _, err := mb.Inbox(ctx, store.ListOptions{}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if _, err := mb.SendMessage(ctx, Recipients(profile("bob")), "body", "subject"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		if _, err := svc.PurgeTrash(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("invalid participants are rejected", func(t *testing.T) {
		svc := setupTestService(t)
		for _, p := range []Participant{nil, &Profile{}, &Profile{UserID: "user:with:colons"}} {
			mb := svc.Client(p)
			if _, err := mb.Inbox(ctx, store.ListOptions{}); !errors.Is(err, ErrInvalidParticipant) {
				t.Errorf("participant %v: expected ErrInvalidParticipant, got %v", p, err)
			}
		}
	})
}

func TestServiceConversationQueries(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice, bob := profile("alice"), profile("bob")

	first := sendTestMessage(t, svc, alice, bob)
	convID := first.Conversation.ID

	second, err := svc.Client(bob).Reply(ctx, first.Conversation, Recipients(alice), "hi back")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	t.Run("conversation", func(t *testing.T) {
		conv, err := svc.Conversation(ctx, convID)
		if err != nil {
			t.Fatalf("Conversation: %v", err)
		}
		if conv.Subject != "Greetings" {
			t.Errorf("expected subject Greetings, got %q", conv.Subject)
		}
		if _, err := svc.Conversation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("messages oldest first", func(t *testing.T) {
		msgs, err := svc.Messages(ctx, convID)
		if err != nil {
			t.Fatalf("Messages: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].ID != first.Message.ID || msgs[1].ID != second.Message.ID {
			t.Errorf("unexpected order: %s, %s", msgs[0].ID, msgs[1].ID)
		}
	})

	t.Run("last message", func(t *testing.T) {
		last, err := svc.LastMessage(ctx, convID)
		if err != nil {
			t.Fatalf("LastMessage: %v", err)
		}
		if last.ID != second.Message.ID {
			t.Errorf("expected last message %s, got %s", second.Message.ID, last.ID)
		}
		if _, err := svc.LastMessage(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown conversation, got %v", err)
		}
	})
}
