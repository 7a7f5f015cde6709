package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rbaliyan/mailboxer"
	"github.com/rbaliyan/mailboxer/retry"
	"github.com/rbaliyan/mailboxer/store"
)

type received struct {
	from string
	to   []string
	data []byte
}

type testBackend struct {
	mu       sync.Mutex
	messages []received
	username string
	password string
	reject   string
}

func (b *testBackend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &testSession{backend: b}, nil
}

func (b *testBackend) received() []received {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]received(nil), b.messages...)
}

type testSession struct {
	backend *testBackend
	authed  bool
	from    string
	to      []string
}

func (s *testSession) AuthMechanisms() []string {
	if s.backend.username == "" {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *testSession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("unsupported mechanism")
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.backend.username || password != s.backend.password {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *testSession) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.backend.username != "" && !s.authed {
		return gosmtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *testSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if to == s.backend.reject {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, received{from: s.from, to: s.to, data: data})
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *testSession) Logout() error { return nil }

func startServer(t *testing.T, b *testBackend) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := gosmtp.NewServer(b)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return l.Addr().String()
}

func testMessage() *store.Message {
	return &store.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		SenderID:       "alice",
		Subject:        "Lunch",
		Body:           "Tacos at noon?",
	}
}

func TestNewRequiresFrom(t *testing.T) {
	if _, err := New(); !errors.Is(err, ErrNoFromAddress) {
		t.Fatalf("expected ErrNoFromAddress, got %v", err)
	}
}

func TestRender(t *testing.T) {
	m, err := New(WithFrom("noreply@example.com", "Example"), WithHostname("example.com"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	var buf bytes.Buffer
	to := &mailboxer.Profile{UserID: "bob", Name: "Bob", Email: "bob@example.com"}
	if err := m.Render(&buf, to, testMessage()); err != nil {
		t.Fatalf("Render: %v", err)
	}

	r, err := mail.CreateReader(&buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if subject, _ := r.Header.Subject(); subject != "Lunch" {
		t.Errorf("expected subject Lunch, got %q", subject)
	}
	if got := r.Header.Get(HeaderConversation); got != "conv-1" {
		t.Errorf("expected conversation header conv-1, got %q", got)
	}
	if got := r.Header.Get(HeaderKind); got != string(store.KindMessage) {
		t.Errorf("expected kind header, got %q", got)
	}
	id, err := r.Header.MessageID()
	if err != nil || id != "msg-1.bob@example.com" {
		t.Errorf("unexpected message id %q (%v)", id, err)
	}

	p, err := r.NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	body, _ := io.ReadAll(p.Body)
	if strings.TrimSpace(string(body)) != "Tacos at noon?" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestSendEmail(t *testing.T) {
	ctx := context.Background()
	to := &mailboxer.Profile{UserID: "bob", Name: "Bob", Email: "bob@example.com"}

	t.Run("plain", func(t *testing.T) {
		b := &testBackend{}
		addr := startServer(t, b)
		m, err := New(WithAddr(addr), WithFrom("noreply@example.com", ""))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := m.SendEmail(ctx, to, testMessage()); err != nil {
			t.Fatalf("SendEmail: %v", err)
		}
		msgs := b.received()
		if len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(msgs))
		}
		if msgs[0].from != "noreply@example.com" {
			t.Errorf("unexpected envelope from %q", msgs[0].from)
		}
		if len(msgs[0].to) != 1 || msgs[0].to[0] != "bob@example.com" {
			t.Errorf("unexpected envelope to %v", msgs[0].to)
		}
		if !bytes.Contains(msgs[0].data, []byte("Tacos at noon?")) {
			t.Error("body missing from submitted data")
		}
	})

	t.Run("with auth", func(t *testing.T) {
		b := &testBackend{username: "mailer", password: "secret"}
		addr := startServer(t, b)
		m, _ := New(WithAddr(addr), WithFrom("noreply@example.com", ""), WithPlainAuth("mailer", "secret"))
		if err := m.SendEmail(ctx, to, testMessage()); err != nil {
			t.Fatalf("SendEmail: %v", err)
		}
		if len(b.received()) != 1 {
			t.Fatal("expected message after authentication")
		}
	})

	t.Run("permanent rejection is not retryable", func(t *testing.T) {
		b := &testBackend{reject: "bob@example.com"}
		addr := startServer(t, b)
		m, _ := New(WithAddr(addr), WithFrom("noreply@example.com", ""))
		err := m.SendEmail(ctx, to, testMessage())
		if err == nil {
			t.Fatal("expected rejection error")
		}
		if retry.DefaultIsRetryable(err) {
			t.Errorf("expected permanent error, got retryable %v", err)
		}
	})

	t.Run("missing address", func(t *testing.T) {
		m, _ := New(WithFrom("noreply@example.com", ""))
		err := m.SendEmail(ctx, &mailboxer.Profile{UserID: "ghost"}, testMessage())
		if err == nil || retry.DefaultIsRetryable(err) {
			t.Fatalf("expected permanent error, got %v", err)
		}
	})

	t.Run("context canceled", func(t *testing.T) {
		m, _ := New(WithFrom("noreply@example.com", ""))
		block := make(chan struct{})
		defer close(block)
		m.send = func(string, sasl.Client, string, []string, io.Reader) error {
			<-block
			return nil
		}
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := m.SendEmail(ctx, to, testMessage()); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
