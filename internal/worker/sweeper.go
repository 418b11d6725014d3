package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type HoldExpirer interface {
	SweepExpiredHolds(ctx context.Context) (int, error)
}

// HoldSweeper periodically expires lapsed holds on the server side. Lapsed
// holds never block acquisition anyway; sweeping keeps hold state and events
// current.
type HoldSweeper struct {
	expirer  HoldExpirer
	interval time.Duration
	logger   *zerolog.Logger
}

func NewHoldSweeper(expirer HoldExpirer, interval time.Duration, logger *zerolog.Logger) *HoldSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &HoldSweeper{expirer: expirer, interval: interval, logger: logger}
}

func (s *HoldSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("hold sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("hold sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns how many holds expired.
func (s *HoldSweeper) RunOnce(ctx context.Context) int {
	n, err := s.expirer.SweepExpiredHolds(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("hold sweep failed")
		return 0
	}
	if n > 0 {
		s.logger.Info().Int("expired", n).Msg("expired lapsed holds")
	}
	return n
}
