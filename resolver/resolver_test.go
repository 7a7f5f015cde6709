package resolver

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/mailboxer"
	"github.com/rbaliyan/mailboxer/store"
	"github.com/redis/go-redis/v9"
)

func TestStaticLookup(t *testing.T) {
	alice := &mailboxer.Profile{UserID: "alice", Name: "Alice", Email: "alice@example.com"}
	dir := FromProfiles(alice, nil)

	got, err := dir.Lookup(context.Background(), []string{"alice", "ghost"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(got))
	}
	if got[0] != alice {
		t.Errorf("expected stored profile for alice, got %v", got[0])
	}
	if got[1].ID() != "ghost" || got[1].EmailAddress() != "" {
		t.Errorf("expected bare profile for ghost, got %v", got[1])
	}
}

func TestStaticCopiesInput(t *testing.T) {
	src := map[string]*mailboxer.Profile{"a": {UserID: "a", Name: "A"}}
	dir := NewStatic(src)
	delete(src, "a")

	got, _ := dir.Lookup(context.Background(), []string{"a"})
	if got[0].DisplayName() != "A" {
		t.Errorf("expected copied profile, got %q", got[0].DisplayName())
	}
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedis(client, WithKeyPrefix("test:p"))
}

func TestRedisLookup(t *testing.T) {
	ctx := context.Background()
	mr, dir := setupRedis(t)

	mr.HSet("test:p:alice", FieldName, "Alice", FieldEmail, "alice@example.com")
	mr.HSet("test:p:bob", FieldEmail, "bob@example.com", FieldWantsEmail, "false")
	mr.HSet("test:p:carol", FieldEmail, "carol@example.com", FieldWantsEmail, "messages")

	got, err := dir.Lookup(ctx, []string{"alice", "bob", "carol", "dave"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	msg := &store.Message{}
	note := &store.Notification{}

	t.Run("full profile", func(t *testing.T) {
		if got[0].DisplayName() != "Alice" || got[0].EmailAddress() != "alice@example.com" {
			t.Errorf("unexpected alice: %v", got[0])
		}
		if !got[0].WantsEmail(msg) || !got[0].WantsEmail(note) {
			t.Error("alice should want all email")
		}
	})

	t.Run("opted out", func(t *testing.T) {
		if got[1].WantsEmail(msg) || got[1].WantsEmail(note) {
			t.Error("bob should not want email")
		}
	})

	t.Run("messages only", func(t *testing.T) {
		if !got[2].WantsEmail(msg) || got[2].WantsEmail(note) {
			t.Error("carol should want only message email")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		if got[3].ID() != "dave" || got[3].EmailAddress() != "" {
			t.Errorf("expected bare profile for dave, got %v", got[3])
		}
	})
}

func TestRedisSave(t *testing.T) {
	ctx := context.Background()
	mr, dir := setupRedis(t)

	err := dir.Save(ctx, &mailboxer.Profile{
		UserID:      "erin",
		Name:        "Erin",
		Email:       "erin@example.com",
		EmailPolicy: mailboxer.OnlyMessages,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if v := mr.HGet("test:p:erin", FieldWantsEmail); v != "messages" {
		t.Errorf("expected wants_email=messages, got %q", v)
	}

	got, err := dir.Lookup(ctx, []string{"erin"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got[0].DisplayName() != "Erin" || got[0].WantsEmail(&store.Notification{}) {
		t.Errorf("unexpected round trip: %v", got[0])
	}
}
