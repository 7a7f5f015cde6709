package mailboxer

import (
	"io"

	"github.com/rbaliyan/mailboxer/store"
)

// Outgoing is something that can be delivered: *MessageDraft or *NotificationDraft.
type Outgoing interface {
	Kind() store.DeliverableKind
	outgoing()
}

// MessageDraft is a message about to be delivered.
type MessageDraft struct {
	// Sender is required and receives the sentbox receipt.
	Sender Participant
	// Conversation to append to. Nil starts a new conversation titled Subject.
	Conversation *store.Conversation
	Subject      string
	Body         string
	// Attachment is optional and requires an attachment store.
	Attachment *AttachmentUpload
}

// Kind returns store.KindMessage.
func (*MessageDraft) Kind() store.DeliverableKind { return store.KindMessage }
func (*MessageDraft) outgoing()                   {}

// NotificationDraft is a notification about to be delivered.
type NotificationDraft struct {
	// Sender is optional; nil means a system notification.
	Sender  Participant
	Subject string
	Body    string
	// Object optionally points at the application object the notification is about.
	Object *store.ObjectRef
}

// Kind returns store.KindNotification.
func (*NotificationDraft) Kind() store.DeliverableKind { return store.KindNotification }
func (*NotificationDraft) outgoing()                   {}

// AttachmentUpload is a file sent along with a message.
type AttachmentUpload struct {
	Filename    string
	ContentType string
	Content     io.Reader
}

// messageOptions configures SendMessage and the reply family.
type messageOptions struct {
	subject    *string
	untrash    bool
	attachment *AttachmentUpload
}

func newMessageOptions(opts ...MessageOption) *messageOptions {
	o := &messageOptions{untrash: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MessageOption configures SendMessage and replies.
type MessageOption func(*messageOptions)

// ReplyOption is kept as a readable name for options passed to replies.
type ReplyOption = MessageOption

// WithSubject overrides the "RE: " subject of a reply.
func WithSubject(subject string) MessageOption {
	return func(o *messageOptions) {
		o.subject = &subject
	}
}

// WithUntrash controls whether ReplyToConversation restores a trashed
// conversation before replying. Default is true.
func WithUntrash(untrash bool) MessageOption {
	return func(o *messageOptions) {
		o.untrash = untrash
	}
}

// WithAttachment attaches a file to the message.
func WithAttachment(filename, contentType string, content io.Reader) MessageOption {
	return func(o *messageOptions) {
		o.attachment = &AttachmentUpload{Filename: filename, ContentType: contentType, Content: content}
	}
}
