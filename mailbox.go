package mailboxer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/mailboxer/store"
	attachmentotel "github.com/rbaliyan/mailboxer/store/attachment/otel"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Service is the entry point: it owns the store, the event bus and the
// email dispatcher, and hands out per-participant Mailbox values.
type Service interface {
	// Connect establishes connections to storage backends and the event bus.
	Connect(ctx context.Context) error
	// Close waits for in-flight emails (bounded by the shutdown timeout)
	// and releases plugins, the event bus and the store.
	Close(ctx context.Context) error
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
	// Events returns per-service event instances. Nil before Connect.
	Events() *ServiceEvents

	// Client returns the mailbox of p. The value holds no state besides p,
	// so it is cheap to create per request.
	Client(p Participant) Mailbox

	// Deliver stores a message or notification with one receipt per
	// recipient, plus a sentbox receipt for a message's sender, atomically.
	// Emails are a side effect and never fail the delivery.
	Deliver(ctx context.Context, out Outgoing, recipients []Participant) (*DeliveryResult, error)
	// Notify delivers a notification. A nil draft Sender sends a system notification.
	Notify(ctx context.Context, n *NotificationDraft, recipients []Participant) (*DeliveryResult, error)

	// Conversation returns a conversation by ID.
	Conversation(ctx context.Context, id string) (*store.Conversation, error)
	// Messages returns every message of a conversation, oldest first.
	Messages(ctx context.Context, conversationID string) ([]*store.Message, error)
	// LastMessage returns the newest message of a conversation.
	// Returns *EmptyConversationError when the conversation has none.
	LastMessage(ctx context.Context, conversationID string) (*store.Message, error)

	// PurgeTrash deletes receipts that stayed in trash longer than the retention.
	PurgeTrash(ctx context.Context) (*PurgeResult, error)
}

// Mailbox is the per-participant view: sending, replying, listing and
// changing the state of the participant's own receipts.
type Mailbox interface {
	// Participant returns the owner of the mailbox.
	Participant() Participant

	// SendMessage starts a new conversation with a first message.
	SendMessage(ctx context.Context, recipients []Participant, body, subject string, opts ...MessageOption) (*DeliveryResult, error)
	// Reply appends a message to conversation. The sender is removed from
	// recipients; the default subject is "RE: " + conversation subject.
	Reply(ctx context.Context, conversation *store.Conversation, recipients []Participant, body string, opts ...MessageOption) (*DeliveryResult, error)
	// ReplyToSender replies to the sender of the receipt's message.
	ReplyToSender(ctx context.Context, receipt *store.Receipt, body string, opts ...MessageOption) (*DeliveryResult, error)
	// ReplyToAll replies to the sender and every recipient of the receipt's message.
	ReplyToAll(ctx context.Context, receipt *store.Receipt, body string, opts ...MessageOption) (*DeliveryResult, error)
	// ReplyToConversation replies to everyone on the last message of the
	// conversation, untrashing it first unless WithUntrash(false) is given.
	ReplyToConversation(ctx context.Context, conversation *store.Conversation, body string, opts ...MessageOption) (*DeliveryResult, error)
	// Notify sends a notification to the participant itself.
	Notify(ctx context.Context, subject, body string, object *store.ObjectRef) (*DeliveryResult, error)

	// Inbox lists active inbox receipts.
	Inbox(ctx context.Context, opts store.ListOptions) (*store.ReceiptList, error)
	// Sentbox lists active sentbox receipts.
	Sentbox(ctx context.Context, opts store.ListOptions) (*store.ReceiptList, error)
	// Notifications lists active notification receipts.
	Notifications(ctx context.Context, opts store.ListOptions) (*store.ReceiptList, error)
	// Trash lists trashed receipts of every mailbox type.
	Trash(ctx context.Context, opts store.ListOptions) (*store.ReceiptList, error)

	// ReceiptsFor returns the participant's receipts in a conversation.
	ReceiptsFor(ctx context.Context, conversation *store.Conversation) ([]*store.Receipt, error)
	// IsTrashed reports whether the participant holds receipts in the
	// conversation and all of them are trashed.
	IsTrashed(ctx context.Context, conversation *store.Conversation) (bool, error)
	// Messages returns the conversation messages the participant holds a receipt for.
	Messages(ctx context.Context, conversation *store.Conversation) ([]*store.Message, error)
	// LastMessage returns the newest message of the conversation.
	LastMessage(ctx context.Context, conversation *store.Conversation) (*store.Message, error)

	// Read, Unread, Trash, Untrash and Delete accept Target values,
	// receipts, messages, notifications, conversations, receipt lists and
	// slices of them. Only the participant's own receipts are changed.
	Read(ctx context.Context, targets ...any) (*BulkResult, error)
	Unread(ctx context.Context, targets ...any) (*BulkResult, error)
	MoveToTrash(ctx context.Context, targets ...any) (*BulkResult, error)
	Untrash(ctx context.Context, targets ...any) (*BulkResult, error)
	Delete(ctx context.Context, targets ...any) (*BulkResult, error)

	// Stats returns receipt counts per mailbox.
	Stats(ctx context.Context) (*store.MailboxStats, error)
	// LoadAttachment opens the attachment of a message the participant holds a receipt for.
	LoadAttachment(ctx context.Context, messageID string) (io.ReadCloser, *store.Attachment, error)
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store       store.Store
	attachments store.AttachmentFileStore
	mailer      Mailer
	directory   Directory
	logger      *slog.Logger
	opts        *options
	state       int32
	plugins     *pluginRegistry
	otel        *otelInstrumentation

	emailSem *semaphore.Weighted
	emailWG  sync.WaitGroup

	statsCache *expirable.LRU[string, *store.MailboxStats]
	statsGroup singleflight.Group

	eventBus *event.Bus
	events   *ServiceEvents
}

// NewService creates a new service. Call Connect() before use.
func NewService(opts ...Option) (Service, error) {
	s, err := newService(opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newService(opts ...Option) (*service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	plugins := newPluginRegistry(o.logger)
	for _, p := range o.plugins {
		plugins.register(p)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	attachments := o.attachments
	if attachments != nil && (o.tracingEnabled || o.metricsEnabled) {
		attachments, err = attachmentotel.New(attachments,
			attachmentotel.WithTracing(o.tracingEnabled),
			attachmentotel.WithMetrics(o.metricsEnabled),
			attachmentotel.WithServiceName(o.serviceName),
			attachmentotel.WithTracerProvider(o.tracerProvider),
			attachmentotel.WithMeterProvider(o.meterProvider),
		)
		if err != nil {
			return nil, fmt.Errorf("init attachment otel: %w", err)
		}
	}

	s := &service{
		store:       o.store,
		attachments: attachments,
		mailer:      o.mailer,
		directory:   o.directory,
		logger:      o.logger,
		opts:        o,
		plugins:     plugins,
		otel:        otelInstr,
		emailSem:    semaphore.NewWeighted(int64(o.maxConcurrentEmails)),
	}
	if o.statsCacheSize > 0 {
		s.statsCache = expirable.NewLRU[string, *store.MailboxStats](o.statsCacheSize, nil, o.statsTTL)
	}
	return s, nil
}

// Events returns per-service event instances for subscribing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

func (s *service) checkConnected() error {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		_ = s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.plugins.initAll(ctx); err != nil {
		_ = s.eventBus.Close(ctx)
		_ = s.store.Close(ctx)
		return fmt.Errorf("init plugins: %w", err)
	}

	success = true
	s.logger.Info("mailboxer service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates this service's bus and binds its events to it.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "mailboxer"
	}
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		_ = bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	// Other instances sharing the transport invalidate our cached stats.
	if s.statsCache != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.subscribeStatsInvalidation(ctx); err != nil {
			_ = bus.Close(ctx)
			return fmt.Errorf("subscribe stats invalidation: %w", err)
		}
	}

	return nil
}

// Close closes connections to storage backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// No new deliveries start once the state is disconnected.
	s.logger.Info("waiting for in-flight emails to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		s.emailWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("all in-flight emails completed")
	case <-shutdownCtx.Done():
		s.logger.Warn("timeout waiting for in-flight emails, proceeding with shutdown",
			"error", shutdownCtx.Err())
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", shutdownCtx.Err()))
	}

	if err := s.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns the mailbox of p.
func (s *service) Client(p Participant) Mailbox {
	m := &userMailbox{service: s, participant: p}
	if p != nil {
		m.userID = p.ID()
		m.validUserID = isValidUserID(m.userID)
	}
	return m
}

// Conversation returns a conversation by ID.
func (s *service) Conversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return conv, nil
}

// Messages returns every message of a conversation, oldest first.
func (s *service) Messages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	msgs, err := s.store.ConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return msgs, nil
}

// LastMessage returns the newest message of a conversation.
func (s *service) LastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	msg, err := s.store.LastMessage(ctx, conversationID)
	if err == nil {
		return msg, nil
	}
	if !isNotFound(err) {
		return nil, wrapStoreError(err)
	}
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, wrapStoreError(err)
	}
	// A conversation always starts with a message, so this is an integrity problem.
	s.logger.Error("conversation has no messages", "conversation_id", conversationID)
	return nil, &EmptyConversationError{ConversationID: conversationID}
}

// userMailbox implements Mailbox for a single participant.
type userMailbox struct {
	service     *service
	participant Participant
	userID      string
	validUserID bool
}

func (m *userMailbox) Participant() Participant {
	return m.participant
}

// checkAccess verifies the service is connected and the participant is usable.
func (m *userMailbox) checkAccess() error {
	if err := m.service.checkConnected(); err != nil {
		return err
	}
	if m.participant == nil || !m.validUserID {
		return ErrInvalidParticipant
	}
	return nil
}

func (s *service) now() time.Time {
	return s.opts.now().UTC()
}
