package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ExpirySweeper periodically finalizes jobs that have waited longer than the
// configured TTL without any provider accepting. A swept job releases its
// awaited phone number so late replies from that provider are ignored.
type ExpirySweeper struct {
	orchestrator *Orchestrator
	interval     time.Duration
	ttl          time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewExpirySweeper(orchestrator *Orchestrator, interval time.Duration, ttl time.Duration, logger *zap.Logger) (*ExpirySweeper, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("job ttl must be positive, got %s", ttl)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExpirySweeper{
		orchestrator: orchestrator,
		interval:     interval,
		ttl:          ttl,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Start blocks until ctx is cancelled, sweeping once per interval.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	s.logger.Info("expiry sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("ttl", s.ttl),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single expiry pass.
func (s *ExpirySweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().UTC().Add(-s.ttl)
	expired := s.orchestrator.ExpireStale(ctx, cutoff)
	if len(expired) > 0 {
		s.logger.Info("swept stale jobs", zap.Int("expired", len(expired)))
	}
	return len(expired)
}
