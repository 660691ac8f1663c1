package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/log"
	"github.com/alis2001/chat-service/internal/metrics"
	"github.com/alis2001/chat-service/internal/session"
)

const (
	DefaultIdleTimeout         = 30 * time.Minute
	DefaultMaintenanceInterval = 5 * time.Minute
)

// Disconnector tears a session down. It reports false when the session was
// already torn down by someone else.
type Disconnector interface {
	Disconnect(ctx context.Context, s *session.Session, reason DisconnectReason) bool
}

// ReapResult summarizes one maintenance cycle.
type ReapResult struct {
	Reaped      int
	TypingSwept int64
}

// Reaper periodically disconnects idle sessions and sweeps expired typing
// indicators.
type Reaper struct {
	registry    *session.Registry
	disconnect  Disconnector
	typing      *TypingTracker
	idleTimeout time.Duration
	interval    time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewReaper(registry *session.Registry, d Disconnector, typing *TypingTracker, idleTimeout, interval time.Duration, now func() time.Time) *Reaper {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Reaper{
		registry:    registry,
		disconnect:  d,
		typing:      typing,
		idleTimeout: idleTimeout,
		interval:    interval,
		now:         now,
		logger:      log.With(log.FieldComponent("reaper")),
	}
}

// RunOnce runs a single maintenance cycle.
func (r *Reaper) RunOnce(ctx context.Context) ReapResult {
	var res ReapResult
	cutoff := r.now().Add(-r.idleTimeout)
	for _, s := range r.registry.Snapshot() {
		if !s.LastActivity().Before(cutoff) {
			continue
		}
		if r.disconnect.Disconnect(ctx, s, ReasonIdle) {
			res.Reaped++
			metrics.SessionsReaped.Inc()
			r.logger.Info("reaped idle session",
				log.FieldSession(s.ID()),
				log.FieldUser(s.UserID()),
				zap.Time("lastActivity", s.LastActivity()))
		}
	}

	if r.typing != nil {
		n, err := r.typing.Sweep(ctx)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("cleanup_typing").Inc()
			r.logger.Warn("typing sweep failed", zap.Error(err))
		}
		res.TypingSwept = n
	}
	return res
}

// Run runs RunOnce every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("idle reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("idleTimeout", r.idleTimeout))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("idle reaper stopped")
			return nil
		case <-ticker.C:
			res := r.RunOnce(ctx)
			if res.Reaped > 0 || res.TypingSwept > 0 {
				r.logger.Debug("maintenance cycle done",
					zap.Int("reaped", res.Reaped),
					zap.Int64("typingSwept", res.TypingSwept))
			}
		}
	}
}
