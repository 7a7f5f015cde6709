package mailboxer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/rbaliyan/mailboxer/store"
	"golang.org/x/crypto/blake2b"
)

// DefaultContentType is used when an attachment has no content type
// and none can be derived from its extension.
const DefaultContentType = "application/octet-stream"

// meteredReader hashes and counts what passes through and fails once
// more than max bytes were read.
type meteredReader struct {
	r    io.Reader
	h    hash.Hash
	n    int64
	max  int64
	over bool
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.n += int64(n)
		m.h.Write(p[:n])
		if m.n > m.max {
			m.over = true
			return n, ErrAttachmentTooLarge
		}
	}
	return n, err
}

// uploadAttachment streams an attachment to the attachment store,
// recording its size and BLAKE2b-256 digest.
func (s *service) uploadAttachment(ctx context.Context, a *AttachmentUpload) (*store.Attachment, error) {
	if s.attachments == nil {
		return nil, ErrAttachmentStoreNotConfigured
	}
	if a.Content == nil {
		return nil, invalid("attachment", ErrInvalidAttachment, "attachment has no content")
	}
	filename := strings.TrimSpace(a.Filename)
	if filename == "" {
		return nil, invalid("attachment", ErrInvalidAttachment, "attachment needs a filename")
	}
	if err := validateText("attachment", filename, false); err != nil {
		return nil, err
	}

	contentType := a.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		return nil, invalid("attachment", ErrInvalidAttachment, "invalid content type %q", contentType)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("init hash: %w", err)
	}
	body := &meteredReader{r: a.Content, h: h, max: s.opts.limits.MaxAttachmentSize}

	uri, err := s.attachments.Upload(ctx, filename, contentType, body)
	if err != nil {
		if body.over || errors.Is(err, ErrAttachmentTooLarge) {
			return nil, s.opts.limits.ValidateAttachmentSize(body.n)
		}
		return nil, fmt.Errorf("upload attachment: %w", err)
	}
	if body.over {
		// Some stores swallow reader errors; never keep an oversized file.
		s.discardAttachment(ctx, &store.Attachment{URI: uri})
		return nil, s.opts.limits.ValidateAttachmentSize(body.n)
	}

	return &store.Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        body.n,
		Hash:        hex.EncodeToString(h.Sum(nil)),
		URI:         uri,
	}, nil
}

// discardAttachment removes an uploaded file whose delivery did not happen.
func (s *service) discardAttachment(ctx context.Context, a *store.Attachment) {
	if err := s.attachments.Delete(context.WithoutCancel(ctx), a.URI); err != nil {
		s.logger.Warn("failed to delete orphaned attachment", "uri", a.URI, "error", err)
	}
}

// LoadAttachment opens the attachment of a message. Only participants holding
// a non-deleted receipt for the message may read it; everybody else gets ErrNotFound.
func (m *userMailbox) LoadAttachment(ctx context.Context, messageID string) (io.ReadCloser, *store.Attachment, error) {
	if err := m.checkAccess(); err != nil {
		return nil, nil, err
	}
	s := m.service
	if s.attachments == nil {
		return nil, nil, ErrAttachmentStoreNotConfigured
	}

	n, err := s.store.CountReceipts(ctx, []store.Filter{
		store.ReceiverIs(m.userID),
		store.DeliverableIs(messageID),
		store.NotDeleted(),
	})
	if err != nil {
		return nil, nil, wrapStoreError(err)
	}
	if n == 0 {
		return nil, nil, ErrNotFound
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, wrapStoreError(err)
	}
	if msg.Attachment == nil {
		return nil, nil, ErrNotFound
	}

	rc, err := s.attachments.Load(ctx, msg.Attachment.URI)
	if err != nil {
		return nil, nil, wrapStoreError(err)
	}
	att := *msg.Attachment
	return rc, &att, nil
}
