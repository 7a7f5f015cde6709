package mailboxer

import (
	"context"
	"time"

	"github.com/hashicorp/go-set/v2"
	"github.com/rbaliyan/mailboxer/store"
	"go.opentelemetry.io/otel/attribute"
)

// Inbox lists active inbox receipts, newest first by default.
func (m *userMailbox) Inbox(ctx context.Context, opts store.ListOptions) (*store.ReceiptList, error) {
	return m.list(ctx, string(store.MailboxInbox), opts, store.MailboxIs(store.MailboxInbox), store.NotTrashed())
}

// Sentbox lists active sentbox receipts.
func (m *userMailbox) Sentbox(ctx context.Context, opts store.ListOptions) (*store.ReceiptList, error) {
	return m.list(ctx, string(store.MailboxSentbox), opts, store.MailboxIs(store.MailboxSentbox), store.NotTrashed())
}

// Notifications lists active notification receipts.
func (m *userMailbox) Notifications(ctx context.Context, opts store.ListOptions) (*store.ReceiptList, error) {
	return m.list(ctx, string(store.MailboxNotification), opts, store.MailboxIs(store.MailboxNotification), store.NotTrashed())
}

// Trash lists trashed receipts of every mailbox type.
func (m *userMailbox) Trash(ctx context.Context, opts store.ListOptions) (*store.ReceiptList, error) {
	return m.list(ctx, "trash", opts, store.Trashed())
}

func (m *userMailbox) list(ctx context.Context, name string, opts store.ListOptions, filters ...store.Filter) (list *store.ReceiptList, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	s := m.service

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "mailboxer.list",
		attribute.String("mailbox", name),
		attribute.String("user_id", m.userID),
	)
	defer func() {
		endSpan(err)
		s.otel.recordQuery(ctx, time.Since(start), name, err)
	}()

	opts, err = s.normalizeListOptions(opts)
	if err != nil {
		return nil, err
	}

	all := append([]store.Filter{store.ReceiverIs(m.userID), store.NotDeleted()}, filters...)
	list, err = s.store.FindReceipts(ctx, all, opts)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return list, nil
}

// normalizeListOptions applies the page size defaults and caps.
func (s *service) normalizeListOptions(opts store.ListOptions) (store.ListOptions, error) {
	if opts.Limit <= 0 {
		opts.Limit = s.opts.defaultQueryLimit
	}
	if opts.Limit > s.opts.maxQueryLimit {
		opts.Limit = s.opts.maxQueryLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}
	if _, ok := store.ReceiptOrderingKey(opts.SortBy); !ok {
		return opts, invalid("sort_by", store.ErrFilterInvalid, "cannot sort by %q", opts.SortBy)
	}
	if opts.SortOrder == 0 {
		opts.SortOrder = store.SortDesc
	}
	return opts, nil
}

// collectReceipts pages through every receipt matching filters, oldest first.
func (s *service) collectReceipts(ctx context.Context, filters []store.Filter) ([]*store.Receipt, error) {
	opts := store.ListOptions{
		Limit:     s.opts.maxQueryLimit,
		SortBy:    "created_at",
		SortOrder: store.SortAsc,
	}
	var out []*store.Receipt
	for {
		page, err := s.store.FindReceipts(ctx, filters, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Receipts...)
		if !page.HasMore || page.NextCursor == "" {
			return out, nil
		}
		opts.StartAfter = page.NextCursor
	}
}

// ReceiptsFor returns the participant's non-deleted receipts in a conversation.
func (m *userMailbox) ReceiptsFor(ctx context.Context, conversation *store.Conversation) ([]*store.Receipt, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if conversation == nil || conversation.ID == "" {
		return nil, invalid("conversation", ErrInvalidID, "conversation is required")
	}
	receipts, err := m.service.collectReceipts(ctx, []store.Filter{
		store.ReceiverIs(m.userID),
		store.ConversationIs(conversation.ID),
		store.NotDeleted(),
	})
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return receipts, nil
}

// IsTrashed is true when the participant holds receipts in the conversation
// and every one of them is trashed. No receipts means not trashed.
func (m *userMailbox) IsTrashed(ctx context.Context, conversation *store.Conversation) (bool, error) {
	receipts, err := m.ReceiptsFor(ctx, conversation)
	if err != nil {
		return false, err
	}
	if len(receipts) == 0 {
		return false, nil
	}
	for _, r := range receipts {
		if !r.IsTrashed() {
			return false, nil
		}
	}
	return true, nil
}

// Messages returns the conversation messages the participant holds a
// non-deleted receipt for, oldest first.
func (m *userMailbox) Messages(ctx context.Context, conversation *store.Conversation) ([]*store.Message, error) {
	receipts, err := m.ReceiptsFor(ctx, conversation)
	if err != nil {
		return nil, err
	}
	held := set.New[string](len(receipts))
	for _, r := range receipts {
		held.Insert(r.DeliverableID)
	}

	all, err := m.service.store.ConversationMessages(ctx, conversation.ID)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	out := make([]*store.Message, 0, held.Size())
	for _, msg := range all {
		if held.Contains(msg.ID) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// LastMessage returns the newest message of the conversation.
func (m *userMailbox) LastMessage(ctx context.Context, conversation *store.Conversation) (*store.Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if conversation == nil || conversation.ID == "" {
		return nil, invalid("conversation", ErrInvalidID, "conversation is required")
	}
	return m.service.LastMessage(ctx, conversation.ID)
}
