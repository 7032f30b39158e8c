package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"farmer-auth/internal/audit"
	"farmer-auth/internal/models"
)

// Sweep removes every pending OTP whose expiry is before now and returns how
// many were removed. Cooldown entries are left alone. Verification detects
// expiry on its own, so sweeping only bounds memory.
func (c *AuthCore) Sweep(now time.Time) int {
	removed := 0
	for _, s := range c.stripes {
		var swept []string
		s.mu.Lock()
		for phone, rec := range s.otps {
			if rec.ExpiresAt.Before(now) {
				delete(s.otps, phone)
				swept = append(swept, phone)
			}
		}
		s.mu.Unlock()

		for _, phone := range swept {
			c.record(audit.NewEvent(models.EventOTPSwept, phone, now))
		}
		removed += len(swept)
	}
	return removed
}

// ExpirySweeper runs Sweep on a fixed interval.
type ExpirySweeper struct {
	core   *AuthCore
	logger *zap.Logger
}

func NewExpirySweeper(core *AuthCore, logger *zap.Logger) *ExpirySweeper {
	return &ExpirySweeper{core: core, logger: logger}
}

// Run sweeps every interval until ctx is cancelled. A non-positive interval
// disables it.
func (w *ExpirySweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		w.logger.Info("OTP sweeper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("OTP sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("OTP sweeper stopped")
			return
		case <-ticker.C:
			if n := w.core.Sweep(w.core.clock.Now()); n > 0 {
				w.logger.Info("Cleaned up expired OTP records", zap.Int("count", n))
			}
		}
	}
}
