package mailboxer

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/mailboxer/store"
)

// Sentinel errors for the mailboxer package.
// Use errors.Is() to check for these errors.
//
// Errors that have a store-level counterpart wrap it, so
// errors.Is(err, mailboxer.ErrNotFound) also matches store.ErrNotFound.
var (
	// ErrNotFound is returned when a conversation, message or receipt cannot be found.
	ErrNotFound = fmt.Errorf("mailboxer: %w", store.ErrNotFound)

	// ErrValidation is the root of every *ValidationError.
	ErrValidation = errors.New("mailboxer: validation failed")

	// ErrEmptyRecipients is returned when a delivery or reply has nobody to go to.
	ErrEmptyRecipients = fmt.Errorf("mailboxer: %w", store.ErrEmptyRecipients)

	// ErrEmptySubject is returned when a subject is blank.
	ErrEmptySubject = errors.New("mailboxer: empty subject")

	// ErrEmptyBody is returned when a body is blank.
	ErrEmptyBody = errors.New("mailboxer: empty body")

	// ErrMissingSender is returned when a message has no sender.
	ErrMissingSender = errors.New("mailboxer: missing sender")

	// ErrSubjectTooLong is returned when subject exceeds maximum length.
	ErrSubjectTooLong = errors.New("mailboxer: subject too long")

	// ErrBodyTooLarge is returned when body exceeds maximum size.
	ErrBodyTooLarge = errors.New("mailboxer: body too large")

	// ErrInvalidContent is returned when content contains invalid UTF-8 or control characters.
	ErrInvalidContent = errors.New("mailboxer: invalid content")

	// ErrTooManyRecipients is returned when recipient count exceeds the limit.
	ErrTooManyRecipients = errors.New("mailboxer: too many recipients")

	// ErrInvalidRecipient is returned when a recipient is nil or has an invalid ID.
	ErrInvalidRecipient = errors.New("mailboxer: invalid recipient")

	// ErrAttachmentTooLarge is returned when an attachment exceeds the size limit.
	ErrAttachmentTooLarge = errors.New("mailboxer: attachment too large")

	// ErrInvalidAttachment is returned when attachment data is invalid.
	ErrInvalidAttachment = errors.New("mailboxer: invalid attachment")

	// ErrAttachmentStoreNotConfigured is returned when an attachment is sent
	// or loaded without an attachment store.
	ErrAttachmentStoreNotConfigured = errors.New("mailboxer: attachment store not configured")

	// ErrEmptyConversation is returned when a conversation has no messages.
	ErrEmptyConversation = errors.New("mailboxer: conversation has no messages")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("mailboxer: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = fmt.Errorf("mailboxer: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = fmt.Errorf("mailboxer: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = fmt.Errorf("mailboxer: %w", store.ErrInvalidID)

	// ErrInvalidParticipant is returned when a mailbox is opened for a nil
	// participant or one with an invalid ID.
	ErrInvalidParticipant = errors.New("mailboxer: invalid participant")

	// ErrDuplicateEntry is returned when a receipt would be delivered twice.
	ErrDuplicateEntry = fmt.Errorf("mailboxer: %w", store.ErrDuplicateEntry)
)

// ValidationError provides details about a validation failure.
// It matches both ErrValidation and the specific sentinel in Err.
type ValidationError struct {
	Field   string // The field that failed validation
	Message string // Human-readable error message
	Err     error  // Specific sentinel, e.g. ErrEmptyRecipients
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mailboxer: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

func invalid(field string, err error, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Err: err}
}

// IsValidationError checks if the error is a validation error and returns details.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// EmptyConversationError is returned when the last message of a conversation
// is requested but the conversation holds none.
type EmptyConversationError struct {
	ConversationID string
}

func (e *EmptyConversationError) Error() string {
	return fmt.Sprintf("mailboxer: conversation %s has no messages", e.ConversationID)
}

func (e *EmptyConversationError) Unwrap() error {
	return ErrEmptyConversation
}

// EventPublishError is returned when event publishing fails but the operation succeeded.
// It is only surfaced when WithEventErrorsFatal(true) is set.
type EventPublishError struct {
	Event string // The event name (e.g., "MessageDelivered")
	ID    string // The deliverable or receiver ID the event was for
	Err   error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("mailboxer: event %s publish failed for %s: %v", e.Event, e.ID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

// EmailError describes a failed email side effect for one recipient.
// Email failures never fail a delivery; they are reported in DeliveryResult.Emails,
// the EmailFailed event, logs and metrics.
type EmailError struct {
	DeliverableID string
	RecipientID   string
	Err           error
}

func (e *EmailError) Error() string {
	return fmt.Sprintf("mailboxer: email to %s for %s failed: %v", e.RecipientID, e.DeliverableID, e.Err)
}

func (e *EmailError) Unwrap() error {
	return e.Err
}

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
// Handles both mailboxer-level and store-level errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	permanentErrors := []error{
		ErrValidation,
		ErrNotFound,
		ErrEmptyConversation,
		ErrInvalidID,
		ErrInvalidParticipant,
		ErrDuplicateEntry,
		ErrAttachmentStoreNotConfigured,
		store.ErrNotFound,
		store.ErrInvalidID,
		store.ErrDuplicateEntry,
		store.ErrEmptyRecipients,
		store.ErrInvalidDelivery,
		store.ErrFilterInvalid,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	var pe *PluginError
	if errors.As(err, &pe) {
		return false
	}

	// Connection and transaction failures, and anything unknown, may be transient.
	return true
}

// isNotFound reports whether a store error means "no such row for this query".
// Malformed IDs are treated the same way: they cannot match anything.
func isNotFound(err error) bool {
	return store.IsNotFound(err) || store.IsInvalidID(err)
}

// wrapStoreError maps store-level errors onto the package sentinels.
func wrapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case store.IsNotConnected(err):
		return ErrNotConnected
	case store.IsDuplicateEntry(err):
		return fmt.Errorf("%w: %v", ErrDuplicateEntry, err)
	case errors.Is(err, store.ErrEmptyRecipients):
		return invalid("recipients", ErrEmptyRecipients, "at least one recipient is required")
	}
	return err
}
