package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically evicts sessions that have gone silent past the
// timeout. Room cleanup (including empty-room deletion) follows from the
// orchestrator's eviction path. The timeout is advisory: a client
// reconnecting under the same id after eviction is a fresh join.
type Sweeper struct {
	Orch     *Orchestrator
	Timeout  time.Duration
	Interval time.Duration
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	log.Info().Str("module", "app.sweeper").Dur("timeout", s.Timeout).Dur("interval", s.Interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.sweeper").Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.Timeout)
	for _, sess := range s.Orch.Registry.Snapshot() {
		if sess.LastSeen().Before(cutoff) {
			s.Orch.Evict(sess)
		}
	}
}
