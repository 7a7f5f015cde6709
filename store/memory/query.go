package memory

import (
	"context"
	"slices"

	"github.com/rbaliyan/mailboxer/store"
)

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return row.conv.Clone(), nil
}

// ConversationMessages returns the messages of a conversation, oldest first.
func (s *Store) ConversationMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.conversations[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]*store.Message, 0, len(row.messageIDs))
	for _, id := range row.messageIDs {
		out = append(out, s.messages[id].msg.Clone())
	}
	return out, nil
}

// LastMessage returns the most recent message of a conversation.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.conversations[conversationID]
	if !ok || len(row.messageIDs) == 0 {
		return nil, store.ErrNotFound
	}
	return s.messages[row.messageIDs[len(row.messageIDs)-1]].msg.Clone(), nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return row.msg.Clone(), nil
}

// GetNotification retrieves a notification by ID.
func (s *Store) GetNotification(ctx context.Context, id string) (*store.Notification, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return n.Clone(), nil
}

// GetReceipt retrieves a receipt by ID.
func (s *Store) GetReceipt(ctx context.Context, id string) (*store.Receipt, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.receipts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return row.receipt.Clone(), nil
}

// FindReceipts retrieves receipts matching the filters.
func (s *Store) FindReceipts(ctx context.Context, filters []store.Filter, opts store.ListOptions) (*store.ReceiptList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	all := s.snapshot(filters)
	s.mu.RUnlock()

	sortReceipts(all, opts.SortBy, opts.SortOrder)
	total := int64(len(all))

	// Apply cursor-based pagination using StartAfter
	start := opts.Offset
	if opts.StartAfter != "" {
		idx := slices.IndexFunc(all, func(r *receiptRow) bool { return r.receipt.ID == opts.StartAfter })
		if idx < 0 {
			// Cursor not found. Return empty results since the page
			// boundary is unknown. Callers should re-query without a cursor.
			return &store.ReceiptList{Total: total}, nil
		}
		start = idx + 1
	}
	if start > len(all) {
		start = len(all)
	}

	end := len(all)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	list := &store.ReceiptList{
		Receipts: make([]*store.Receipt, 0, end-start),
		Total:    total,
		HasMore:  end < len(all),
	}
	for _, row := range all[start:end] {
		list.Receipts = append(list.Receipts, row.receipt)
	}
	if list.HasMore && len(list.Receipts) > 0 {
		list.NextCursor = list.Receipts[len(list.Receipts)-1].ID
	}
	return list, nil
}

// CountReceipts returns the count of receipts matching the filters.
func (s *Store) CountReceipts(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matching(filters))), nil
}

// snapshot copies the matching rows so they can be sorted and paged
// after mu is released. It must be called with mu held.
func (s *Store) snapshot(filters []store.Filter) []*receiptRow {
	rows := s.matching(filters)
	out := make([]*receiptRow, len(rows))
	for i, row := range rows {
		out[i] = &receiptRow{receipt: row.receipt.Clone(), seq: row.seq}
	}
	return out
}

// matching must be called with mu held.
func (s *Store) matching(filters []store.Filter) []*receiptRow {
	var out []*receiptRow
	for _, row := range s.receipts {
		if matchesFilters(row.receipt, filters) {
			out = append(out, row)
		}
	}
	return out
}
