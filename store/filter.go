package store

import (
	"fmt"
)

// SortOrder represents the sort direction.
type SortOrder int

const (
	// SortAsc sorts in ascending order.
	SortAsc SortOrder = 1
	// SortDesc sorts in descending order.
	SortDesc SortOrder = -1
)

// ListOptions configures receipt listing.
type ListOptions struct {
	Limit      int
	Offset     int
	SortBy     string
	SortOrder  SortOrder
	StartAfter string // cursor-based pagination (receipt ID)
}

// Filter represents a query filter with a field key, comparison operator, and value.
type Filter struct {
	key      string
	value    any
	operator string
}

// Key returns the storage field key.
func (f Filter) Key() string { return f.key }

// Value returns the filter value.
func (f Filter) Value() any { return f.value }

// Operator returns the comparison operator (eq, ne, gt, gte, lt, lte, in, nin, exists).
func (f Filter) Operator() string { return f.operator }

// FilterBuilder builds filters for a specific receipt field.
// Use ReceiptFilter() to create one, then chain a comparison method:
//
//	filter, err := store.ReceiptFilter("CreatedAt").GreaterThan(cutoff)
type FilterBuilder struct {
	key string
	err error
}

// validOperators is the set of supported filter operators.
var validOperators = map[string]bool{
	"eq":     true,
	"ne":     true,
	"gt":     true,
	"gte":    true,
	"lt":     true,
	"lte":    true,
	"in":     true,
	"nin":    true,
	"exists": true,
}

// NewFilter creates a filter with the given key, operator, and value.
// Returns ErrFilterInvalid if the key or operator is invalid.
func NewFilter(key, operator string, value any) (Filter, error) {
	storageKey, ok := ReceiptFieldKey(key)
	if !ok {
		return Filter{}, fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, key)
	}
	if !validOperators[operator] {
		return Filter{}, fmt.Errorf("%w: unsupported operator: %s", ErrFilterInvalid, operator)
	}
	return Filter{key: storageKey, value: value, operator: operator}, nil
}

// FilterError represents an error in filter building.
type FilterError struct {
	Key string
	Err error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Key, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

func (b *FilterBuilder) build(op string, v any) (Filter, error) {
	if b.err != nil {
		return Filter{}, &FilterError{Key: b.key, Err: b.err}
	}
	return Filter{key: b.key, value: v, operator: op}, nil
}

func (b *FilterBuilder) Equal(v any) (Filter, error)            { return b.build("eq", v) }
func (b *FilterBuilder) NotEqual(v any) (Filter, error)         { return b.build("ne", v) }
func (b *FilterBuilder) GreaterThan(v any) (Filter, error)      { return b.build("gt", v) }
func (b *FilterBuilder) GreaterThanEqual(v any) (Filter, error) { return b.build("gte", v) }
func (b *FilterBuilder) LessThan(v any) (Filter, error)         { return b.build("lt", v) }
func (b *FilterBuilder) LessThanEqual(v any) (Filter, error)    { return b.build("lte", v) }
func (b *FilterBuilder) In(v ...any) (Filter, error)            { return b.build("in", v) }
func (b *FilterBuilder) NotIn(v ...any) (Filter, error)         { return b.build("nin", v) }

// Exists matches when the (nullable) field is set (true) or unset (false).
func (b *FilterBuilder) Exists(v bool) (Filter, error) { return b.build("exists", v) }

// ReceiptFilter returns a filter builder for receipt fields.
func ReceiptFilter(field string) *FilterBuilder {
	key, ok := ReceiptFieldKey(field)
	if !ok {
		return &FilterBuilder{key: field, err: fmt.Errorf("%w: unsupported field: %s", ErrFilterInvalid, field)}
	}
	return &FilterBuilder{key: key}
}

// ReceiptFieldKey maps field names to storage keys.
func ReceiptFieldKey(field string) (string, bool) {
	switch field {
	case "ID", "id":
		return "id", true
	case "DeliverableID", "deliverable_id":
		return "deliverable_id", true
	case "DeliverableKind", "deliverable_kind":
		return "deliverable_kind", true
	case "ConversationID", "conversation_id":
		return "conversation_id", true
	case "ReceiverID", "receiver_id":
		return "receiver_id", true
	case "MailboxType", "mailbox_type":
		return "mailbox_type", true
	case "IsRead", "is_read":
		return "is_read", true
	case "TrashedAt", "trashed_at":
		return "trashed_at", true
	case "DeletedAt", "deleted_at":
		return "deleted_at", true
	case "CreatedAt", "created_at":
		return "created_at", true
	case "UpdatedAt", "updated_at":
		return "updated_at", true
	default:
		return "", false
	}
}

// ReceiptOrderingKey returns the storage key for sorting.
// Only timestamps and the ID are sortable.
func ReceiptOrderingKey(field string) (string, bool) {
	key, ok := ReceiptFieldKey(field)
	if !ok {
		return "", false
	}
	switch key {
	case "created_at", "updated_at", "trashed_at", "id":
		return key, true
	}
	return "", false
}

// Convenience filter functions

// ReceiverIs returns a filter for receipts owned by a specific participant.
func ReceiverIs(receiverID string) Filter {
	f, _ := ReceiptFilter("ReceiverID").Equal(receiverID)
	return f
}

// MailboxIs returns a filter for receipts in a specific mailbox.
func MailboxIs(t MailboxType) Filter {
	f, _ := ReceiptFilter("MailboxType").Equal(string(t))
	return f
}

// ConversationIs returns a filter for receipts of messages in a conversation.
func ConversationIs(conversationID string) Filter {
	f, _ := ReceiptFilter("ConversationID").Equal(conversationID)
	return f
}

// DeliverableIs returns a filter for receipts of a specific message or notification.
func DeliverableIs(deliverableID string) Filter {
	f, _ := ReceiptFilter("DeliverableID").Equal(deliverableID)
	return f
}

// IDIn returns a filter for receipts with any of the given IDs.
func IDIn(ids ...string) Filter {
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	f, _ := ReceiptFilter("ID").In(vals...)
	return f
}

// NotTrashed excludes trashed receipts.
func NotTrashed() Filter {
	f, _ := ReceiptFilter("TrashedAt").Exists(false)
	return f
}

// Trashed keeps only trashed receipts.
func Trashed() Filter {
	f, _ := ReceiptFilter("TrashedAt").Exists(true)
	return f
}

// NotDeleted excludes soft-deleted receipts.
func NotDeleted() Filter {
	f, _ := ReceiptFilter("DeletedAt").Exists(false)
	return f
}

// IsReadFilter returns a filter for read/unread receipts.
func IsReadFilter(isRead bool) Filter {
	f, _ := ReceiptFilter("IsRead").Equal(isRead)
	return f
}
