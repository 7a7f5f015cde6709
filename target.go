package mailboxer

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailboxer/store"
)

// Target is anything whose receipts a participant can change in bulk.
// ResolveOwnReceipts returns the IDs of the owner's non-deleted receipts
// behind the target; it never returns another participant's receipts.
type Target interface {
	ResolveOwnReceipts(ctx context.Context, r store.ReceiptReader, ownerID string) ([]string, error)
	String() string
}

// ReceiptTarget addresses a single receipt.
type ReceiptTarget struct{ ID string }

// MessageTarget addresses every receipt the owner holds for a message
// (inbox and, for the sender, sentbox).
type MessageTarget struct{ ID string }

// NotificationTarget addresses the owner's receipt for a notification.
type NotificationTarget struct{ ID string }

// ConversationTarget addresses every receipt the owner holds in a conversation.
type ConversationTarget struct{ ID string }

func (t ReceiptTarget) ResolveOwnReceipts(ctx context.Context, r store.ReceiptReader, ownerID string) ([]string, error) {
	return resolveOwn(ctx, r, ownerID, store.IDIn(t.ID))
}

func (t MessageTarget) ResolveOwnReceipts(ctx context.Context, r store.ReceiptReader, ownerID string) ([]string, error) {
	return resolveOwn(ctx, r, ownerID, store.DeliverableIs(t.ID))
}

func (t NotificationTarget) ResolveOwnReceipts(ctx context.Context, r store.ReceiptReader, ownerID string) ([]string, error) {
	return resolveOwn(ctx, r, ownerID, store.DeliverableIs(t.ID))
}

func (t ConversationTarget) ResolveOwnReceipts(ctx context.Context, r store.ReceiptReader, ownerID string) ([]string, error) {
	return resolveOwn(ctx, r, ownerID, store.ConversationIs(t.ID))
}

func (t ReceiptTarget) String() string      { return "receipt:" + t.ID }
func (t MessageTarget) String() string      { return "message:" + t.ID }
func (t NotificationTarget) String() string { return "notification:" + t.ID }
func (t ConversationTarget) String() string { return "conversation:" + t.ID }

// resolvePageSize bounds each lookup page while resolving a target.
const resolvePageSize = 100

func resolveOwn(ctx context.Context, r store.ReceiptReader, ownerID string, f store.Filter) ([]string, error) {
	filters := []store.Filter{store.ReceiverIs(ownerID), store.NotDeleted(), f}
	opts := store.ListOptions{Limit: resolvePageSize, SortBy: "created_at", SortOrder: store.SortAsc}
	var ids []string
	for {
		page, err := r.FindReceipts(ctx, filters, opts)
		if err != nil {
			return nil, err
		}
		ids = append(ids, page.IDs()...)
		if !page.HasMore || page.NextCursor == "" {
			return ids, nil
		}
		opts.StartAfter = page.NextCursor
	}
}

// resolvedTarget is one flattened bulk input: a Target, or the reason it is unusable.
type resolvedTarget struct {
	target Target
	label  string
}

// flattenTargets expands bulk inputs into Targets, keeping input order.
// Unsupported values are kept as entries without a target so they can be
// reported as skipped.
func flattenTargets(inputs []any) []resolvedTarget {
	var out []resolvedTarget
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case Target:
			out = append(out, resolvedTarget{target: t, label: t.String()})
		case *store.Receipt:
			if t == nil {
				out = append(out, resolvedTarget{label: "<nil receipt>"})
				return
			}
			walk(ReceiptTarget{ID: t.ID})
		case *store.Message:
			if t == nil {
				out = append(out, resolvedTarget{label: "<nil message>"})
				return
			}
			walk(MessageTarget{ID: t.ID})
		case *store.Notification:
			if t == nil {
				out = append(out, resolvedTarget{label: "<nil notification>"})
				return
			}
			walk(NotificationTarget{ID: t.ID})
		case *store.Conversation:
			if t == nil {
				out = append(out, resolvedTarget{label: "<nil conversation>"})
				return
			}
			walk(ConversationTarget{ID: t.ID})
		case *store.ReceiptList:
			if t == nil {
				return
			}
			for _, r := range t.Receipts {
				walk(r)
			}
		case *DeliveryResult:
			if t == nil {
				return
			}
			for _, r := range t.Receipts {
				walk(r)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		case []Target:
			for _, e := range t {
				walk(e)
			}
		case []*store.Receipt:
			for _, e := range t {
				walk(e)
			}
		case []*store.Message:
			for _, e := range t {
				walk(e)
			}
		case []*store.Notification:
			for _, e := range t {
				walk(e)
			}
		case []*store.Conversation:
			for _, e := range t {
				walk(e)
			}
		default:
			out = append(out, resolvedTarget{label: fmt.Sprintf("%T", v)})
		}
	}
	for _, in := range inputs {
		walk(in)
	}
	return out
}
