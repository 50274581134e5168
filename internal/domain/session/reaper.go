package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/logging"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/monitoring"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

// Reaper evicts sessions idle past the TTL. It deletes through the same
// store path EndSession uses and competes for the same per-record locks as
// request handlers, with no special priority.
type Reaper struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewReaper creates a reaper for the given store.
func NewReaper(store *Store, ttl, interval time.Duration, logger *logging.Logger) *Reaper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reaper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// WithMetrics attaches a metrics collector.
func (r *Reaper) WithMetrics(m *monitoring.Metrics) *Reaper {
	r.metrics = m
	return r
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("session reaper started",
		zap.Duration("ttl", r.ttl),
		zap.Duration("interval", r.interval),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Sweep deletes every session whose last activity is older than the TTL and
// returns how many were removed. Records that vanish or wake up between the
// scan and the delete are simply skipped: DeleteIfIdle re-checks idleness
// under the record lock.
func (r *Reaper) Sweep(now time.Time) int {
	cutoff := now.Add(-r.ttl)

	var idle []id.SessionID
	r.store.Range(func(s *Session) bool {
		if s.LastActivity.Before(cutoff) {
			idle = append(idle, s.ID)
		}
		return true
	})

	reaped := 0
	for _, sid := range idle {
		if r.store.DeleteIfIdle(sid, cutoff) {
			reaped++
			if r.metrics != nil {
				r.metrics.IncSessionsReaped()
			}
			r.logger.Debug("reaped idle session", zap.String("session_id", sid.String()))
		}
	}

	if reaped > 0 {
		r.logger.Info("reaper sweep complete",
			zap.Int("reaped", reaped),
			zap.Int("remaining", r.store.Len()),
		)
		if r.metrics != nil {
			r.metrics.SetSessionsActive(r.store.Len())
		}
	}

	return reaped
}
