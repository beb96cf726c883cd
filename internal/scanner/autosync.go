package scanner

import (
	"context"
	"time"
)

// AutoSync periodically reconciles the provider's account list so newly
// created inboxes are tracked without waiting for the next full scan.
// Errors are logged and the loop keeps going; it returns when ctx is
// cancelled. Run it on its own goroutine.
func (s *Scanner) AutoSync(ctx context.Context) {
	interval := s.syncInterval
	if interval <= 0 {
		interval = 300 * time.Second
	}
	s.log.Info("auto-sync started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("auto-sync stopped")
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

// syncOnce runs one reconciliation pass under the fleet lock. A held
// lock means a scan is reconciling anyway, so the cycle is skipped.
func (s *Scanner) syncOnce(ctx context.Context) {
	lock := s.newLock()
	ok, err := lock.Acquire(ctx)
	if err != nil {
		s.log.Error("auto-sync lock failed", "error", err.Error())
		return
	}
	if !ok {
		s.log.Debug("auto-sync skipped, scan in progress")
		return
	}
	defer func() { _ = lock.Release(ctx) }()

	res, err := s.Reconcile(ctx)
	if err != nil {
		s.log.Error("auto-sync reconciliation failed", "error", err.Error())
		return
	}
	if res.NewlyCreated > 0 {
		s.log.Info("auto-sync created inboxes", "created", res.NewlyCreated)
	}
}
