package store

import (
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-set/v2"
)

// MailboxType identifies which mailbox a receipt belongs to.
type MailboxType string

// Mailbox types.
const (
	MailboxInbox        MailboxType = "inbox"
	MailboxSentbox      MailboxType = "sentbox"
	MailboxNotification MailboxType = "notification"
)

// Valid reports whether t is a known mailbox type.
func (t MailboxType) Valid() bool {
	switch t {
	case MailboxInbox, MailboxSentbox, MailboxNotification:
		return true
	}
	return false
}

// DeliverableKind distinguishes messages from notifications.
type DeliverableKind string

// Deliverable kinds.
const (
	KindMessage      DeliverableKind = "message"
	KindNotification DeliverableKind = "notification"
)

// Deliverable is the common view of a Message or a Notification.
type Deliverable interface {
	GetID() string
	GetKind() DeliverableKind
	GetSenderID() string
	GetSubject() string
	GetBody() string
	GetRecipientIDs() []string
	GetCreatedAt() time.Time
}

// Conversation is a thread of messages sharing a subject.
type Conversation struct {
	ID        string
	Subject   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	return &cp
}

// Message is a deliverable that belongs to a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Subject        string
	Body           string
	RecipientIDs   []string
	Attachment     *Attachment
	CreatedAt      time.Time
}

func (m *Message) GetID() string             { return m.ID }
func (m *Message) GetKind() DeliverableKind  { return KindMessage }
func (m *Message) GetSenderID() string       { return m.SenderID }
func (m *Message) GetSubject() string        { return m.Subject }
func (m *Message) GetBody() string           { return m.Body }
func (m *Message) GetRecipientIDs() []string { return slices.Clone(m.RecipientIDs) }
func (m *Message) GetCreatedAt() time.Time   { return m.CreatedAt }

// Participants returns the sender followed by the recipients, without duplicates.
// This is the set of receipt holders of the message.
func (m *Message) Participants() []string {
	out := make([]string, 0, len(m.RecipientIDs)+1)
	seen := set.New[string](len(m.RecipientIDs) + 1)
	for _, id := range append([]string{m.SenderID}, m.RecipientIDs...) {
		if id != "" && seen.Insert(id) {
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	cp.RecipientIDs = slices.Clone(m.RecipientIDs)
	if m.Attachment != nil {
		a := *m.Attachment
		cp.Attachment = &a
	}
	return &cp
}

// ObjectRef points at an application object a notification is about.
type ObjectRef struct {
	Type string
	ID   string
}

func (o ObjectRef) String() string {
	return fmt.Sprintf("%s:%s", o.Type, o.ID)
}

// Notification is a standalone deliverable. SenderID is empty for
// system notifications.
type Notification struct {
	ID           string
	SenderID     string
	Subject      string
	Body         string
	Object       *ObjectRef
	RecipientIDs []string
	CreatedAt    time.Time
}

func (n *Notification) GetID() string             { return n.ID }
func (n *Notification) GetKind() DeliverableKind  { return KindNotification }
func (n *Notification) GetSenderID() string       { return n.SenderID }
func (n *Notification) GetSubject() string        { return n.Subject }
func (n *Notification) GetBody() string           { return n.Body }
func (n *Notification) GetRecipientIDs() []string { return slices.Clone(n.RecipientIDs) }
func (n *Notification) GetCreatedAt() time.Time   { return n.CreatedAt }

// Clone returns a deep copy of the notification.
func (n *Notification) Clone() *Notification {
	cp := *n
	cp.RecipientIDs = slices.Clone(n.RecipientIDs)
	if n.Object != nil {
		o := *n.Object
		cp.Object = &o
	}
	return &cp
}

// Attachment describes a file stored in an AttachmentFileStore.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	// Hash is the hex-encoded BLAKE2b-256 digest of the content.
	Hash string
	URI  string
}

// Validate checks the structural consistency of d.
// Content rules (lengths, encodings) are enforced by the service.
func (d DeliveryData) Validate() error {
	if (d.Message == nil) == (d.Notification == nil) {
		return fmt.Errorf("%w: exactly one of message or notification is required", ErrInvalidDelivery)
	}
	if len(d.Receipts) == 0 {
		return ErrEmptyRecipients
	}
	if d.Notification != nil && d.ConversationID != "" {
		return fmt.Errorf("%w: notifications do not belong to conversations", ErrInvalidDelivery)
	}
	if d.Message != nil && d.ConversationID == "" && d.NewConversationSubject == "" {
		return fmt.Errorf("%w: new conversation requires a subject", ErrInvalidDelivery)
	}
	type key struct {
		receiver string
		box      MailboxType
	}
	seen := make(map[key]struct{}, len(d.Receipts))
	for _, r := range d.Receipts {
		if r.ReceiverID == "" {
			return fmt.Errorf("%w: empty receiver", ErrInvalidDelivery)
		}
		if !r.MailboxType.Valid() {
			return fmt.Errorf("%w: mailbox type %q", ErrInvalidDelivery, r.MailboxType)
		}
		k := key{r.ReceiverID, r.MailboxType}
		if _, ok := seen[k]; ok {
			return fmt.Errorf("%w: receipt for %s in %s", ErrDuplicateEntry, r.ReceiverID, r.MailboxType)
		}
		seen[k] = struct{}{}
	}
	return nil
}
