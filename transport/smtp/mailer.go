// Package smtp delivers mailboxer email side effects over SMTP.
//
// Each deliverable is rendered as a plain text RFC 5322 message and
// submitted to the configured server. STARTTLS is used when offered.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rbaliyan/mailboxer"
	"github.com/rbaliyan/mailboxer/retry"
	"github.com/rbaliyan/mailboxer/store"
)

// Headers added to every rendered email.
const (
	HeaderKind          = "X-Mailboxer-Kind"
	HeaderDeliverableID = "X-Mailboxer-ID"
	HeaderConversation  = "X-Mailboxer-Conversation"
)

// ErrNoFromAddress is returned when the mailer has no sender address.
var ErrNoFromAddress = errors.New("smtp: from address is required")

// Mailer implements mailboxer.Mailer.
type Mailer struct {
	opts *options
	auth sasl.Client
	send func(addr string, a sasl.Client, from string, to []string, r io.Reader) error
	now  func() time.Time
}

var _ mailboxer.Mailer = (*Mailer)(nil)

// New creates an SMTP mailer.
func New(opts ...Option) (*Mailer, error) {
	o := newOptions(opts...)
	if o.from.Address == "" {
		return nil, ErrNoFromAddress
	}

	m := &Mailer{
		opts: o,
		send: gosmtp.SendMail,
		now:  time.Now,
	}
	if o.implicitTLS {
		m.send = gosmtp.SendMailTLS
	}
	if o.username != "" {
		m.auth = sasl.NewPlainClient("", o.username, o.password)
	}
	return m, nil
}

// SendEmail renders d and submits it to the participant's address.
// Rejections with a permanent SMTP code are marked not retryable.
func (m *Mailer) SendEmail(ctx context.Context, to mailboxer.Participant, d store.Deliverable) error {
	addr := to.EmailAddress()
	if addr == "" {
		return retry.MarkNotRetryable(fmt.Errorf("smtp: participant %s has no email address", to.ID()))
	}

	var buf bytes.Buffer
	if err := m.Render(&buf, to, d); err != nil {
		return retry.MarkNotRetryable(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.send(m.opts.addr, m.auth, m.opts.from.Address, []string{addr}, &buf)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return classify(fmt.Errorf("smtp: send %s to %s: %w", d.GetID(), addr, err))
		}
	}

	m.opts.logger.Debug("email sent", "deliverable_id", d.GetID(), "to", addr)
	return nil
}

// Render writes d as a plain text email addressed to the participant.
func (m *Mailer) Render(w io.Writer, to mailboxer.Participant, d store.Deliverable) error {
	var h mail.Header
	h.SetDate(m.now())
	h.SetAddressList("From", []*mail.Address{{Name: m.opts.from.Name, Address: m.opts.from.Address}})
	h.SetAddressList("To", []*mail.Address{{Name: to.DisplayName(), Address: to.EmailAddress()}})
	h.SetSubject(d.GetSubject())
	h.SetMessageID(fmt.Sprintf("%s.%s@%s", d.GetID(), to.ID(), m.opts.hostname))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set(HeaderKind, string(d.GetKind()))
	h.Set(HeaderDeliverableID, d.GetID())
	if msg, ok := d.(*store.Message); ok && msg.ConversationID != "" {
		h.Set(HeaderConversation, msg.ConversationID)
	}

	body, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("smtp: render header: %w", err)
	}
	if _, err := io.WriteString(body, d.GetBody()); err != nil {
		_ = body.Close()
		return fmt.Errorf("smtp: render body: %w", err)
	}
	if err := body.Close(); err != nil {
		return fmt.Errorf("smtp: render body: %w", err)
	}
	return nil
}

func classify(err error) error {
	var se *gosmtp.SMTPError
	if errors.As(err, &se) && se.Code >= 500 {
		return retry.MarkNotRetryable(err)
	}
	return err
}
