package mailboxer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/mailboxer/retry"
	"github.com/rbaliyan/mailboxer/store"
	"github.com/rbaliyan/mailboxer/store/memory"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent map[string][]string // recipient ID -> deliverable IDs
	fail map[string]error
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{sent: make(map[string][]string), fail: make(map[string]error)}
}

func (m *recordingMailer) SendEmail(_ context.Context, to Participant, d store.Deliverable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[to.ID()]; err != nil {
		return err
	}
	m.sent[to.ID()] = append(m.sent[to.ID()], d.GetID())
	return nil
}

func (m *recordingMailer) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent[id])
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestSyncEmail(t *testing.T) {
	ctx := context.Background()
	mailer := newRecordingMailer()
	mailer.fail["carol"] = retry.MarkNotRetryable(errors.New("mailbox full"))
	svc := setupTestService(t, WithMailer(mailer), WithSyncEmail(true), WithEmailRetry(fastRetry()))

	alice, bob, carol := profile("alice"), profile("bob"), profile("carol")
	dave := &Profile{UserID: "dave", Email: "dave@example.com", EmailPolicy: NeverEmail}
	erin := &Profile{UserID: "erin"}

	res, err := svc.Client(alice).SendMessage(ctx, Recipients(bob, carol, dave, erin), "body", "subject")
	if err != nil {
		t.Fatalf("email failures must not fail the delivery, got %v", err)
	}
	if len(res.Receipts) != 5 {
		t.Errorf("every recipient gets a receipt, got %d", len(res.Receipts))
	}

	status := make(map[string]EmailResult)
	for _, e := range res.Emails {
		status[e.RecipientID] = e
	}
	if len(status) != 2 {
		t.Fatalf("expected emails for bob and carol only, got %+v", res.Emails)
	}
	if status["bob"].Status != EmailSent {
		t.Errorf("expected bob's email sent, got %+v", status["bob"])
	}
	if status["carol"].Status != EmailFailed {
		t.Errorf("expected carol's email failed, got %+v", status["carol"])
	}
	var emailErr *EmailError
	if !errors.As(status["carol"].Err, &emailErr) || emailErr.RecipientID != "carol" {
		t.Errorf("expected *EmailError for carol, got %v", status["carol"].Err)
	}
	if mailer.count("alice") != 0 {
		t.Error("the sender must not get an email copy")
	}
}

func TestEmailPolicies(t *testing.T) {
	ctx := context.Background()
	mailer := newRecordingMailer()
	svc := setupTestService(t, WithMailer(mailer), WithSyncEmail(true))
	bob := &Profile{UserID: "bob", Email: "bob@example.com", EmailPolicy: OnlyMessages}

	if _, err := svc.Notify(ctx, &NotificationDraft{Subject: "s", Body: "b"}, Recipients(bob)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if mailer.count("bob") != 0 {
		t.Error("OnlyMessages should skip notification emails")
	}

	sendTestMessage(t, svc, profile("alice"), bob)
	if mailer.count("bob") != 1 {
		t.Errorf("OnlyMessages should email messages, got %d", mailer.count("bob"))
	}
}

func TestAsyncEmail(t *testing.T) {
	ctx := context.Background()
	mailer := newRecordingMailer()
	svc, err := newService(WithStore(memory.New()), WithMailer(mailer))
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	res := sendTestMessage(t, svc, profile("alice"), profile("bob"))
	if len(res.Emails) != 1 || res.Emails[0].Status != EmailQueued {
		t.Fatalf("expected one queued email, got %+v", res.Emails)
	}

	// Close waits for in-flight emails.
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mailer.count("bob") != 1 {
		t.Errorf("expected bob's email after close, got %d", mailer.count("bob"))
	}
}

func TestEmailRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	mailer := MailerFunc(func(context.Context, Participant, store.Deliverable) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("temporary failure")
		}
		return nil
	})
	svc := setupTestService(t, WithMailer(mailer), WithSyncEmail(true), WithEmailRetry(fastRetry()))

	res := sendTestMessage(t, svc, profile("alice"), profile("bob"))
	if res.Emails[0].Status != EmailSent {
		t.Fatalf("expected retry to succeed, got %+v", res.Emails[0])
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}
