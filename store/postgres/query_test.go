package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/mailboxer/store"
)

func TestBuildWhereClause(t *testing.T) {
	t.Run("no filters", func(t *testing.T) {
		where, args := buildWhereClause(nil)
		if where != "1=1" || len(args) != 0 {
			t.Errorf("got %q %v", where, args)
		}
	})

	t.Run("inbox filters", func(t *testing.T) {
		where, args := buildWhereClause([]store.Filter{
			store.ReceiverIs("bob"),
			store.MailboxIs(store.MailboxInbox),
			store.NotTrashed(),
			store.NotDeleted(),
		})
		want := "receiver_id = $1 AND mailbox_type = $2 AND trashed_at IS NULL AND deleted_at IS NULL"
		if where != want {
			t.Errorf("where = %q, want %q", where, want)
		}
		if len(args) != 2 || args[0] != "bob" || args[1] != "inbox" {
			t.Errorf("unexpected args %v", args)
		}
	})

	t.Run("id set and time range", func(t *testing.T) {
		cutoff := time.Now()
		after, _ := store.ReceiptFilter("CreatedAt").GreaterThan(cutoff)
		where, args := buildWhereClause([]store.Filter{store.IDIn("a", "b"), after, store.Trashed()})
		if !strings.Contains(where, "id = ANY($1)") || !strings.Contains(where, "created_at > $2") {
			t.Errorf("unexpected where %q", where)
		}
		if !strings.Contains(where, "trashed_at IS NOT NULL") {
			t.Errorf("expected trashed condition in %q", where)
		}
		if len(args) != 2 {
			t.Errorf("expected 2 args, got %d", len(args))
		}
	})
}

func TestMapSortField(t *testing.T) {
	tests := map[string]string{
		"":           "created_at",
		"CreatedAt":  "created_at",
		"trashed_at": "trashed_at",
		"subject":    "created_at",
	}
	for in, want := range tests {
		if got := mapSortField(in); got != want {
			t.Errorf("mapSortField(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTableNames(t *testing.T) {
	o := newOptions(WithTablePrefix("mb_"))
	if o.receipts() != "mb_receipts" || o.conversations() != "mb_conversations" {
		t.Errorf("unexpected table names %s %s", o.receipts(), o.conversations())
	}
	if newOptions().messages() != "mailboxer_messages" {
		t.Error("unexpected default prefix")
	}
}
