package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rbaliyan/mailboxer/store"
)

// Column lists must match the db tags of the row structs below.
const (
	conversationColumns = `id, subject, created_at, updated_at`
	messageColumns      = `id, conversation_id, sender_id, subject, body, recipient_ids, attachment, created_at`
	notificationColumns = `id, sender_id, subject, body, object_type, object_id, recipient_ids, created_at`
	receiptColumns      = `id, deliverable_id, deliverable_kind, conversation_id, receiver_id, mailbox_type,
       is_read, trashed_at, deleted_at, created_at, updated_at`
)

type conversationRow struct {
	ID        string    `db:"id"`
	Subject   string    `db:"subject"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r conversationRow) toStore() *store.Conversation {
	return &store.Conversation{ID: r.ID, Subject: r.Subject, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

type messageRow struct {
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	SenderID       string         `db:"sender_id"`
	Subject        string         `db:"subject"`
	Body           string         `db:"body"`
	RecipientIDs   pq.StringArray `db:"recipient_ids"`
	Attachment     []byte         `db:"attachment"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (r messageRow) toStore() (*store.Message, error) {
	m := &store.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Subject:        r.Subject,
		Body:           r.Body,
		RecipientIDs:   []string(r.RecipientIDs),
		CreatedAt:      r.CreatedAt,
	}
	if len(r.Attachment) > 0 {
		var a attachmentJSON
		if err := json.Unmarshal(r.Attachment, &a); err != nil {
			return nil, fmt.Errorf("unmarshal attachment: %w", err)
		}
		m.Attachment = a.toStore()
	}
	return m, nil
}

type notificationRow struct {
	ID           string         `db:"id"`
	SenderID     string         `db:"sender_id"`
	Subject      string         `db:"subject"`
	Body         string         `db:"body"`
	ObjectType   sql.NullString `db:"object_type"`
	ObjectID     sql.NullString `db:"object_id"`
	RecipientIDs pq.StringArray `db:"recipient_ids"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r notificationRow) toStore() *store.Notification {
	n := &store.Notification{
		ID:           r.ID,
		SenderID:     r.SenderID,
		Subject:      r.Subject,
		Body:         r.Body,
		RecipientIDs: []string(r.RecipientIDs),
		CreatedAt:    r.CreatedAt,
	}
	if r.ObjectType.Valid {
		n.Object = &store.ObjectRef{Type: r.ObjectType.String, ID: r.ObjectID.String}
	}
	return n
}

type receiptRow struct {
	ID              string         `db:"id"`
	DeliverableID   string         `db:"deliverable_id"`
	DeliverableKind string         `db:"deliverable_kind"`
	ConversationID  sql.NullString `db:"conversation_id"`
	ReceiverID      string         `db:"receiver_id"`
	MailboxType     string         `db:"mailbox_type"`
	IsRead          bool           `db:"is_read"`
	TrashedAt       *time.Time     `db:"trashed_at"`
	DeletedAt       *time.Time     `db:"deleted_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r receiptRow) toStore() *store.Receipt {
	return &store.Receipt{
		ID:              r.ID,
		DeliverableID:   r.DeliverableID,
		DeliverableKind: store.DeliverableKind(r.DeliverableKind),
		ConversationID:  r.ConversationID.String,
		ReceiverID:      r.ReceiverID,
		MailboxType:     store.MailboxType(r.MailboxType),
		IsRead:          r.IsRead,
		TrashedAt:       r.TrashedAt,
		DeletedAt:       r.DeletedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type attachmentJSON struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash"`
	URI         string `json:"uri"`
}

func (a attachmentJSON) toStore() *store.Attachment {
	return &store.Attachment{Filename: a.Filename, ContentType: a.ContentType, Size: a.Size, Hash: a.Hash, URI: a.URI}
}

func marshalAttachment(a *store.Attachment) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(attachmentJSON{
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        a.Size,
		Hash:        a.Hash,
		URI:         a.URI,
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
