package auth

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically reclaims expired ledger entries.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(ledger *Ledger, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{ledger: ledger, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.ledger.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("ledger sweep failed")
		}
		return
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("ledger sweep completed")
	}
}
