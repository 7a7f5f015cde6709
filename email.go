package mailboxer

import (
	"context"
	"sync"
	"time"

	"github.com/rbaliyan/mailboxer/retry"
	"github.com/rbaliyan/mailboxer/store"
)

// Mailer delivers the email copy of a message or notification.
// Implementations must be safe for concurrent use; see transport/smtp.
type Mailer interface {
	SendEmail(ctx context.Context, to Participant, d store.Deliverable) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, to Participant, d store.Deliverable) error

// SendEmail calls f.
func (f MailerFunc) SendEmail(ctx context.Context, to Participant, d store.Deliverable) error {
	return f(ctx, to, d)
}

// EmailStatus is the outcome of an email side effect.
type EmailStatus string

const (
	EmailQueued EmailStatus = "queued"
	EmailSent   EmailStatus = "sent"
	EmailFailed EmailStatus = "failed"
)

// EmailResult reports the email side effect for one recipient.
type EmailResult struct {
	RecipientID string
	Status      EmailStatus
	Err         error
}

// emailRecipients keeps recipients that want an email copy of d and have an address.
func emailRecipients(d store.Deliverable, recipients []Participant) []Participant {
	out := make([]Participant, 0, len(recipients))
	for _, p := range recipients {
		if p.EmailAddress() == "" || !p.WantsEmail(d) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// dispatchEmails sends the email side effects of a delivery. Failures are
// reported, never returned.
func (s *service) dispatchEmails(ctx context.Context, d store.Deliverable, recipients []Participant) []EmailResult {
	if s.mailer == nil {
		return nil
	}
	targets := emailRecipients(d, recipients)
	if len(targets) == 0 {
		return nil
	}

	results := make([]EmailResult, len(targets))

	if s.opts.syncEmail {
		var wg sync.WaitGroup
		for i, p := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = EmailResult{RecipientID: p.ID(), Status: EmailSent}
				if err := s.sendEmail(ctx, p, d); err != nil {
					results[i].Status = EmailFailed
					results[i].Err = err
				}
			}()
		}
		wg.Wait()
		return results
	}

	// The caller's context ends with the request; emails outlive it.
	bg := context.WithoutCancel(ctx)
	for i, p := range targets {
		results[i] = EmailResult{RecipientID: p.ID(), Status: EmailQueued}
		s.emailWG.Add(1)
		go func() {
			defer s.emailWG.Done()
			_ = s.sendEmail(bg, p, d)
		}()
	}
	return results
}

// sendEmail sends one email with retries, bounded by the email semaphore.
func (s *service) sendEmail(ctx context.Context, to Participant, d store.Deliverable) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.emailTimeout)
	defer cancel()

	if err := s.emailSem.Acquire(ctx, 1); err != nil {
		return s.emailFailed(ctx, to, d, err)
	}
	defer s.emailSem.Release(1)

	err := retry.Do(ctx, s.opts.emailRetry, func(ctx context.Context) error {
		return s.mailer.SendEmail(ctx, to, d)
	})
	if err != nil {
		return s.emailFailed(ctx, to, d, err)
	}

	s.otel.recordEmail(ctx, string(d.GetKind()), nil)
	s.logger.Debug("email sent", "deliverable_id", d.GetID(), "recipient_id", to.ID())
	return nil
}

func (s *service) emailFailed(ctx context.Context, to Participant, d store.Deliverable, err error) error {
	s.otel.recordEmail(ctx, string(d.GetKind()), err)
	s.logger.Warn("email failed",
		"deliverable_id", d.GetID(),
		"recipient_id", to.ID(),
		"error", err,
	)
	if s.events != nil {
		_ = publish(context.WithoutCancel(ctx), s, s.events.EmailFailed, "EmailFailed", d.GetID(), EmailFailedEvent{
			DeliverableID: d.GetID(),
			Kind:          string(d.GetKind()),
			RecipientID:   to.ID(),
			Error:         err.Error(),
			FailedAt:      time.Now().UTC(),
		})
	}
	return &EmailError{DeliverableID: d.GetID(), RecipientID: to.ID(), Err: err}
}
