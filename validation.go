package mailboxer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageLimits holds all content validation limits.
type MessageLimits struct {
	MaxSubjectLength  int
	MaxBodySize       int
	MaxRecipientCount int
	MaxAttachmentSize int64
}

// MaxUserIDLength is the maximum length of a participant ID.
const MaxUserIDLength = 256

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength:  DefaultMaxSubjectLength,
		MaxBodySize:       DefaultMaxBodySize,
		MaxRecipientCount: DefaultMaxRecipientCount,
		MaxAttachmentSize: DefaultMaxAttachmentSize,
	}
}

// ValidateSubject validates a subject against the limits.
func (l MessageLimits) ValidateSubject(subject string) error {
	if strings.TrimSpace(subject) == "" {
		return invalid("subject", ErrEmptySubject, "subject is required")
	}
	if len(subject) > l.MaxSubjectLength {
		return invalid("subject", ErrSubjectTooLong, "length %d exceeds max %d", len(subject), l.MaxSubjectLength)
	}
	return validateText("subject", subject, false)
}

// ValidateBody validates a body against the limits.
func (l MessageLimits) ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return invalid("body", ErrEmptyBody, "body is required")
	}
	if len(body) > l.MaxBodySize {
		return invalid("body", ErrBodyTooLarge, "size %d exceeds max %d bytes", len(body), l.MaxBodySize)
	}
	return validateText("body", body, true)
}

// ValidateRecipientCount checks the number of distinct recipients.
func (l MessageLimits) ValidateRecipientCount(n int) error {
	if n == 0 {
		return invalid("recipients", ErrEmptyRecipients, "at least one recipient is required")
	}
	if n > l.MaxRecipientCount {
		return invalid("recipients", ErrTooManyRecipients, "%d recipients exceeds max %d", n, l.MaxRecipientCount)
	}
	return nil
}

// ValidateAttachmentSize checks a known attachment size.
func (l MessageLimits) ValidateAttachmentSize(size int64) error {
	if size > l.MaxAttachmentSize {
		return invalid("attachment", ErrAttachmentTooLarge, "size %d exceeds max %d bytes", size, l.MaxAttachmentSize)
	}
	return nil
}

// validateText rejects invalid UTF-8, null bytes and control characters.
// Bodies may contain tabs and line breaks; subjects may contain tabs only.
func validateText(field, s string, multiline bool) error {
	if !utf8.ValidString(s) {
		return invalid(field, ErrInvalidContent, "contains invalid UTF-8")
	}
	for _, r := range s {
		if r == 0 {
			return invalid(field, ErrInvalidContent, "contains null byte")
		}
		if !unicode.IsControl(r) || r == '\t' {
			continue
		}
		if multiline && (r == '\n' || r == '\r') {
			continue
		}
		return invalid(field, ErrInvalidContent, "contains control character U+%04X", r)
	}
	return nil
}

// isValidUserID checks if a participant ID is valid.
// Valid IDs are non-empty, bounded, and free of characters that would
// break cache keys or Redis key patterns.
func isValidUserID(userID string) bool {
	if userID == "" || len(userID) > MaxUserIDLength {
		return false
	}
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c < 32 || c == 127 {
			return false
		}
	}
	return true
}
