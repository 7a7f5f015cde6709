package mailboxer

import (
	"context"
	"fmt"
	"time"
)

// PurgeResult contains the result of a trash purge.
type PurgeResult struct {
	// DeletedCount is the number of receipts soft-deleted.
	DeletedCount int64
	// Cutoff is the trash time before which receipts were deleted.
	Cutoff time.Time
}

// PurgeTrash soft-deletes receipts that have been in trash longer than the
// configured retention (default 30 days). The store applies it as a single
// conditional update, so receipts untrashed concurrently are left alone.
//
// The library does not schedule purges; call it periodically:
//
//	go func() {
//	    ticker := time.NewTicker(time.Hour)
//	    defer ticker.Stop()
//	    for range ticker.C {
//	        if _, err := svc.PurgeTrash(ctx); err != nil {
//	            logger.Error("trash purge failed", "error", err)
//	        }
//	    }
//	}()
func (s *service) PurgeTrash(ctx context.Context) (result *PurgeResult, err error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, endSpan := s.otel.startSpan(ctx, "mailboxer.purge_trash")
	defer func() { endSpan(err) }()

	now := s.now()
	cutoff := now.Add(-s.opts.trashRetention)

	n, err := s.store.DeleteExpiredTrash(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete expired trash: %w", wrapStoreError(err))
	}
	result = &PurgeResult{DeletedCount: n, Cutoff: cutoff}
	if n == 0 {
		return result, nil
	}

	s.otel.recordPurge(ctx, n)
	s.logger.Info("purged expired trash", "deleted", n, "cutoff", cutoff)

	// Affected participants are unknown here.
	s.invalidateAllStats()
	if err := publish(ctx, s, s.events.ReceiptsUpdated, "ReceiptsUpdated", "", ReceiptsUpdatedEvent{
		Operation: OpPurge,
		Changed:   n,
		UpdatedAt: now,
	}); err != nil {
		return result, err
	}
	return result, nil
}
