package memory

import (
	"sort"
	"strings"
	"time"

	"github.com/rbaliyan/mailboxer/store"
)

func matchesFilters(r *store.Receipt, filters []store.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(r, f) {
			return false
		}
	}
	return true
}

func matchesFilter(r *store.Receipt, f store.Filter) bool {
	key := f.Key()
	value := f.Value()
	op := f.Operator()

	// Nullable timestamps only support existence and ordering.
	switch key {
	case "trashed_at":
		return matchesTimePtr(r.TrashedAt, op, value)
	case "deleted_at":
		return matchesTimePtr(r.DeletedAt, op, value)
	}

	var fieldValue any
	switch key {
	case "id":
		fieldValue = r.ID
	case "deliverable_id":
		fieldValue = r.DeliverableID
	case "deliverable_kind":
		fieldValue = string(r.DeliverableKind)
	case "conversation_id":
		fieldValue = r.ConversationID
	case "receiver_id":
		fieldValue = r.ReceiverID
	case "mailbox_type":
		fieldValue = string(r.MailboxType)
	case "is_read":
		fieldValue = r.IsRead
	case "created_at":
		fieldValue = r.CreatedAt
	case "updated_at":
		fieldValue = r.UpdatedAt
	default:
		return false
	}

	switch op {
	case "eq":
		return equalValues(fieldValue, value)
	case "ne":
		return !equalValues(fieldValue, value)
	case "lt":
		return compareValues(fieldValue, value) < 0
	case "lte":
		return compareValues(fieldValue, value) <= 0
	case "gt":
		return compareValues(fieldValue, value) > 0
	case "gte":
		return compareValues(fieldValue, value) >= 0
	case "exists":
		exists, _ := value.(bool)
		isEmpty := fieldValue == ""
		return exists != isEmpty
	case "in":
		return valueInSet(fieldValue, value)
	case "nin":
		return !valueInSet(fieldValue, value)
	default:
		return false
	}
}

func matchesTimePtr(t *time.Time, op string, value any) bool {
	if op == "exists" {
		exists, _ := value.(bool)
		return exists == (t != nil)
	}
	if t == nil {
		return false
	}
	switch op {
	case "lt":
		return compareValues(*t, value) < 0
	case "lte":
		return compareValues(*t, value) <= 0
	case "gt":
		return compareValues(*t, value) > 0
	case "gte":
		return compareValues(*t, value) >= 0
	}
	return false
}

// equalValues compares typed string values (MailboxType, DeliverableKind)
// against their plain string form.
func equalValues(fieldValue, value any) bool {
	switch v := value.(type) {
	case store.MailboxType:
		value = string(v)
	case store.DeliverableKind:
		value = string(v)
	case time.Time:
		if ft, ok := fieldValue.(time.Time); ok {
			return ft.Equal(v)
		}
	}
	return fieldValue == value
}

// valueInSet checks if a scalar value is in a set (slice) of values.
func valueInSet(fieldValue any, set any) bool {
	switch s := set.(type) {
	case []string:
		for _, v := range s {
			if equalValues(fieldValue, v) {
				return true
			}
		}
	case []any:
		for _, v := range s {
			if equalValues(fieldValue, v) {
				return true
			}
		}
	}
	return false
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return 0
}

// sortReceipts orders rows by the requested timestamp, falling back to
// insertion order for ties so pagination is stable.
func sortReceipts(rows []*receiptRow, sortBy string, order store.SortOrder) {
	key, ok := store.ReceiptOrderingKey(sortBy)
	if !ok {
		key = "created_at"
	}
	if order == 0 {
		order = store.SortDesc
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		c := 0
		switch key {
		case "created_at":
			c = a.receipt.CreatedAt.Compare(b.receipt.CreatedAt)
		case "updated_at":
			c = a.receipt.UpdatedAt.Compare(b.receipt.UpdatedAt)
		case "trashed_at":
			c = compareTimePtr(a.receipt.TrashedAt, b.receipt.TrashedAt)
		case "id":
			c = strings.Compare(a.receipt.ID, b.receipt.ID)
		}
		if c == 0 {
			c = cmpInt64(a.seq, b.seq)
		}
		if order == store.SortAsc {
			return c < 0
		}
		return c > 0
	})
}

func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
