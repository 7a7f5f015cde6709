package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/rbaliyan/mailboxer/store"
)

func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row conversationRow
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, conversationColumns, s.opts.conversations())
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, mapError("get conversation", err)
	}
	return row.toStore(), nil
}

func (s *Store) ConversationMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rows []messageRow
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE conversation_id = $1 ORDER BY created_at ASC, seq ASC`,
		messageColumns, s.opts.messages())
	if err := s.db.SelectContext(ctx, &rows, q, conversationID); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	out := make([]*store.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toStore()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) LastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row messageRow
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE conversation_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`,
		messageColumns, s.opts.messages())
	if err := s.db.GetContext(ctx, &row, q, conversationID); err != nil {
		return nil, mapError("last message", err)
	}
	return row.toStore()
}

func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row messageRow
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, s.opts.messages())
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, mapError("get message", err)
	}
	return row.toStore()
}

func (s *Store) GetNotification(ctx context.Context, id string) (*store.Notification, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row notificationRow
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, notificationColumns, s.opts.notifications())
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, mapError("get notification", err)
	}
	return row.toStore(), nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row receiptRow
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, receiptColumns, s.opts.receipts())
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, mapError("get receipt", err)
	}
	return row.toStore(), nil
}

func (s *Store) FindReceipts(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.ReceiptList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}

	where, args := buildWhereClause(filters)
	table := s.opts.receipts()

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, table, where)
	var total int64
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("count receipts: %w", err)
	}

	sortOrder := "DESC"
	comp := "<"
	if opts.SortOrder == store.SortAsc {
		sortOrder = "ASC"
		comp = ">"
	}
	sortField := mapSortField(opts.SortBy)

	// Keyset pagination on (sort field, seq) when a cursor is given.
	if opts.StartAfter != "" {
		where += fmt.Sprintf(` AND (%s, seq) %s (SELECT %s, seq FROM %s WHERE id = $%d)`,
			sortField, comp, sortField, table, len(args)+1)
		args = append(args, opts.StartAfter)
		opts.Offset = 0
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY %s %s, seq %s
		LIMIT $%d OFFSET $%d
	`, receiptColumns, table, where, sortField, sortOrder, sortOrder, len(args)+1, len(args)+2)
	args = append(args, opts.Limit+1, opts.Offset)

	var rows []receiptRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	hasMore := len(rows) > opts.Limit
	if hasMore {
		rows = rows[:opts.Limit]
	}

	list := &store.ReceiptList{
		Receipts: make([]*store.Receipt, 0, len(rows)),
		Total:    total,
		HasMore:  hasMore,
	}
	for _, r := range rows {
		list.Receipts = append(list.Receipts, r.toStore())
	}
	if hasMore && len(list.Receipts) > 0 {
		list.NextCursor = list.Receipts[len(list.Receipts)-1].ID
	}
	return list, nil
}

func (s *Store) CountReceipts(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where, args := buildWhereClause(filters)
	var count int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.receipts(), where)
	if err := s.db.GetContext(ctx, &count, q, args...); err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	return count, nil
}

func buildWhereClause(filters []store.Filter) (string, []any) {
	var conditions []string
	var args []any
	argIdx := 1

	for _, f := range filters {
		cond, arg := filterToCondition(f, &argIdx)
		if cond != "" {
			conditions = append(conditions, cond)
			if arg != nil {
				args = append(args, arg)
			}
		}
	}

	if len(conditions) == 0 {
		return "1=1", nil
	}
	return strings.Join(conditions, " AND "), args
}

// nullableColumns are stored as NULL when unset.
var nullableColumns = map[string]bool{
	"trashed_at":      true,
	"deleted_at":      true,
	"conversation_id": true,
}

func filterToCondition(f store.Filter, argIdx *int) (string, any) {
	key, ok := store.ReceiptFieldKey(f.Key())
	if !ok {
		return "", nil
	}
	op := f.Operator()
	val := normalizeValue(f.Value())

	binary := func(sqlOp string) (string, any) {
		cond := fmt.Sprintf("%s %s $%d", key, sqlOp, *argIdx)
		*argIdx++
		return cond, val
	}

	switch op {
	case "eq":
		return binary("=")
	case "ne":
		return binary("!=")
	case "gt":
		return binary(">")
	case "gte":
		return binary(">=")
	case "lt":
		return binary("<")
	case "lte":
		return binary("<=")
	case "in":
		cond := fmt.Sprintf("%s = ANY($%d)", key, *argIdx)
		*argIdx++
		return cond, pq.Array(toStrings(val))
	case "nin":
		cond := fmt.Sprintf("NOT (%s = ANY($%d))", key, *argIdx)
		*argIdx++
		return cond, pq.Array(toStrings(val))
	case "exists":
		if nullableColumns[key] {
			if val == true {
				return fmt.Sprintf("%s IS NOT NULL", key), nil
			}
			return fmt.Sprintf("%s IS NULL", key), nil
		}
		if val == true {
			return fmt.Sprintf("(%s IS NOT NULL AND %s != '')", key, key), nil
		}
		return fmt.Sprintf("(%s IS NULL OR %s = '')", key, key), nil
	default:
		return "", nil
	}
}

// normalizeValue unwraps named string types the driver cannot encode.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case store.MailboxType:
		return string(t)
	case store.DeliverableKind:
		return string(t)
	}
	return v
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(normalizeValue(item)))
		}
		return out
	}
	return nil
}

func mapSortField(field string) string {
	if key, ok := store.ReceiptOrderingKey(field); ok {
		return key
	}
	return "created_at"
}
