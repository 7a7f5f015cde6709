package mongo

import (
	"testing"

	"github.com/rbaliyan/mailboxer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestBuildFilter(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if got := buildFilter(nil); len(got) != 0 {
			t.Errorf("expected empty filter, got %v", got)
		}
	})

	t.Run("single", func(t *testing.T) {
		got := buildFilter([]store.Filter{store.ReceiverIs("bob")})
		if got["receiver_id"] != "bob" {
			t.Errorf("unexpected filter %v", got)
		}
	})

	t.Run("mailbox type is stored as string", func(t *testing.T) {
		got := buildFilter([]store.Filter{store.MailboxIs(store.MailboxInbox)})
		if got["mailbox_type"] != "inbox" {
			t.Errorf("unexpected filter %v", got)
		}
	})

	t.Run("null checks", func(t *testing.T) {
		got := buildFilter([]store.Filter{store.NotTrashed(), store.Trashed()})
		and, ok := got["$and"].(bson.A)
		if !ok || len(and) != 2 {
			t.Fatalf("expected $and of 2, got %v", got)
		}
		if v, ok := and[0].(bson.M)["trashed_at"]; !ok || v != nil {
			t.Errorf("expected trashed_at null, got %v", and[0])
		}
	})

	t.Run("id set becomes object ids", func(t *testing.T) {
		valid := bson.NewObjectID()
		got := buildFilter([]store.Filter{store.IDIn(valid.Hex(), "not-hex")})
		in, ok := got["_id"].(bson.M)["$in"].([]bson.ObjectID)
		if !ok {
			t.Fatalf("expected object id set, got %v", got)
		}
		if len(in) != 1 || in[0] != valid {
			t.Errorf("expected only the valid id, got %v", in)
		}
	})
}

func TestSortKey(t *testing.T) {
	if sortKey("") != "created_at" || sortKey("id") != "_id" || sortKey("TrashedAt") != "trashed_at" {
		t.Error("unexpected sort keys")
	}
}

func TestObjectIDs(t *testing.T) {
	id := bson.NewObjectID()
	got := objectIDs([]string{"", "zz", id.Hex()})
	if len(got) != 1 || got[0] != id {
		t.Errorf("unexpected ids %v", got)
	}
}
