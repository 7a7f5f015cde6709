package mongo

import (
	"time"

	"github.com/rbaliyan/mailboxer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type conversationDoc struct {
	ID        bson.ObjectID `bson:"_id"`
	Subject   string        `bson:"subject"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

func (d *conversationDoc) toStore() *store.Conversation {
	return &store.Conversation{ID: d.ID.Hex(), Subject: d.Subject, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

type attachmentDoc struct {
	Filename    string `bson:"filename"`
	ContentType string `bson:"content_type"`
	Size        int64  `bson:"size"`
	Hash        string `bson:"hash"`
	URI         string `bson:"uri"`
}

type messageDoc struct {
	ID             bson.ObjectID  `bson:"_id"`
	ConversationID string         `bson:"conversation_id"`
	SenderID       string         `bson:"sender_id"`
	Subject        string         `bson:"subject"`
	Body           string         `bson:"body"`
	RecipientIDs   []string       `bson:"recipient_ids"`
	Attachment     *attachmentDoc `bson:"attachment,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
}

func (d *messageDoc) toStore() *store.Message {
	m := &store.Message{
		ID:             d.ID.Hex(),
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Subject:        d.Subject,
		Body:           d.Body,
		RecipientIDs:   d.RecipientIDs,
		CreatedAt:      d.CreatedAt,
	}
	if a := d.Attachment; a != nil {
		m.Attachment = &store.Attachment{Filename: a.Filename, ContentType: a.ContentType, Size: a.Size, Hash: a.Hash, URI: a.URI}
	}
	return m
}

type objectDoc struct {
	Type string `bson:"type"`
	ID   string `bson:"id"`
}

type notificationDoc struct {
	ID           bson.ObjectID `bson:"_id"`
	SenderID     string        `bson:"sender_id"`
	Subject      string        `bson:"subject"`
	Body         string        `bson:"body"`
	Object       *objectDoc    `bson:"object,omitempty"`
	RecipientIDs []string      `bson:"recipient_ids"`
	CreatedAt    time.Time     `bson:"created_at"`
}

func (d *notificationDoc) toStore() *store.Notification {
	n := &store.Notification{
		ID:           d.ID.Hex(),
		SenderID:     d.SenderID,
		Subject:      d.Subject,
		Body:         d.Body,
		RecipientIDs: d.RecipientIDs,
		CreatedAt:    d.CreatedAt,
	}
	if d.Object != nil {
		n.Object = &store.ObjectRef{Type: d.Object.Type, ID: d.Object.ID}
	}
	return n
}

// receiptDoc stores conversation_id as null for notification receipts.
type receiptDoc struct {
	ID              bson.ObjectID `bson:"_id"`
	DeliverableID   string        `bson:"deliverable_id"`
	DeliverableKind string        `bson:"deliverable_kind"`
	ConversationID  *string       `bson:"conversation_id"`
	ReceiverID      string        `bson:"receiver_id"`
	MailboxType     string        `bson:"mailbox_type"`
	IsRead          bool          `bson:"is_read"`
	TrashedAt       *time.Time    `bson:"trashed_at"`
	DeletedAt       *time.Time    `bson:"deleted_at"`
	CreatedAt       time.Time     `bson:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at"`
}

func (d *receiptDoc) toStore() *store.Receipt {
	r := &store.Receipt{
		ID:              d.ID.Hex(),
		DeliverableID:   d.DeliverableID,
		DeliverableKind: store.DeliverableKind(d.DeliverableKind),
		ReceiverID:      d.ReceiverID,
		MailboxType:     store.MailboxType(d.MailboxType),
		IsRead:          d.IsRead,
		TrashedAt:       d.TrashedAt,
		DeletedAt:       d.DeletedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.ConversationID != nil {
		r.ConversationID = *d.ConversationID
	}
	return r
}

// objectIDs parses hex IDs, dropping any that are not valid ObjectIDs.
// An unparseable ID cannot match a stored document.
func objectIDs(ids []string) []bson.ObjectID {
	out := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := bson.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		out = append(out, oid)
	}
	return out
}
