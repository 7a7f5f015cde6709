package mailboxer

import (
	"context"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/mailboxer/store"
)

// Stats returns receipt counts per mailbox for this participant.
// Results are cached for the configured TTL and dropped whenever the
// participant's receipts change.
func (m *userMailbox) Stats(ctx context.Context) (*store.MailboxStats, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return m.service.stats(ctx, m.userID)
}

func (s *service) stats(ctx context.Context, receiverID string) (*store.MailboxStats, error) {
	if s.statsCache == nil {
		st, err := s.store.MailboxStats(ctx, receiverID)
		if err != nil {
			return nil, wrapStoreError(err)
		}
		return st, nil
	}

	if st, ok := s.statsCache.Get(receiverID); ok {
		return st.Clone(), nil
	}

	// Concurrent misses for the same participant share one store query.
	v, err, _ := s.statsGroup.Do(receiverID, func() (any, error) {
		st, err := s.store.MailboxStats(ctx, receiverID)
		if err != nil {
			return nil, err
		}
		s.statsCache.Add(receiverID, st)
		return st, nil
	})
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return v.(*store.MailboxStats).Clone(), nil
}

func (s *service) invalidateStats(receiverIDs ...string) {
	if s.statsCache == nil {
		return
	}
	for _, id := range receiverIDs {
		s.statsCache.Remove(id)
	}
}

func (s *service) invalidateAllStats() {
	if s.statsCache != nil {
		s.statsCache.Purge()
	}
}

// subscribeStatsInvalidation keeps the cache coherent with changes made by
// other service instances sharing the event transport.
func (s *service) subscribeStatsInvalidation(ctx context.Context) error {
	if err := s.events.MessageDelivered.Subscribe(ctx, s.onMessageDelivered); err != nil {
		return err
	}
	if err := s.events.NotificationDelivered.Subscribe(ctx, s.onNotificationDelivered); err != nil {
		return err
	}
	return s.events.ReceiptsUpdated.Subscribe(ctx, s.onReceiptsUpdated)
}

func (s *service) onMessageDelivered(_ context.Context, _ event.Event[MessageDeliveredEvent], data MessageDeliveredEvent) error {
	s.invalidateStats(data.SenderID)
	s.invalidateStats(data.RecipientIDs...)
	return nil
}

func (s *service) onNotificationDelivered(_ context.Context, _ event.Event[NotificationDeliveredEvent], data NotificationDeliveredEvent) error {
	s.invalidateStats(data.RecipientIDs...)
	return nil
}

func (s *service) onReceiptsUpdated(_ context.Context, _ event.Event[ReceiptsUpdatedEvent], data ReceiptsUpdatedEvent) error {
	if data.ReceiverID == "" {
		s.invalidateAllStats()
		return nil
	}
	s.invalidateStats(data.ReceiverID)
	return nil
}
