// Package mailboxer provides per-participant mailboxes for threaded
// conversations and one-off notifications.
//
// Every message or notification is stored once and fanned out into one
// receipt per recipient, plus a sentbox receipt for a message's sender.
// Each participant changes only their own receipts: read or unread,
// trashed or active, or deleted for good. Storage is pluggable
// (store/memory, store/postgres, store/mongo).
//
// # Basic Usage
//
//	svc, err := mailboxer.NewService(
//	    mailboxer.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	alice := &mailboxer.Profile{UserID: "alice", Email: "alice@example.com"}
//	bob := &mailboxer.Profile{UserID: "bob"}
//
//	res, err := svc.Client(alice).SendMessage(ctx, mailboxer.Recipients(bob), "Hi Bob", "Lunch")
//
//	mb := svc.Client(bob)
//	inbox, _ := mb.Inbox(ctx, store.ListOptions{})
//	mb.Read(ctx, inbox)
//	mb.ReplyToConversation(ctx, res.Conversation, "Sure")
//
// # Bulk Operations
//
// Read, Unread, MoveToTrash, Untrash and Delete take any mix of Target
// values, receipts, messages, notifications, conversations and receipt
// lists. Inputs that are not the caller's, or do not exist, are silent
// no-ops; unsupported inputs are reported as skipped.
//
// # Email
//
// Pass WithMailer (see transport/smtp) to send an email copy to every
// recipient whose WantsEmail returns true. Email failures are logged,
// counted and published as EmailFailed events; they never fail a delivery.
//
// Participant IDs read back from storage (reply recipients) are resolved
// through WithDirectory; the resolver package provides static and Redis
// backed directories.
//
// # Events
//
// Each service has its own event bus (github.com/rbaliyan/event/v3).
// Pass WithRedisClient or WithEventTransport to route events:
//
//	svc.Events().MessageDelivered.Subscribe(ctx, handler)
//
// Available events:
//   - MessageDelivered - a message and its receipts were stored
//   - NotificationDelivered - a notification and its receipts were stored
//   - ReceiptsUpdated - a participant's receipts changed state
//   - EmailFailed - an email side effect failed after retries
package mailboxer
