package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// TrafficStats is a point-in-time snapshot of relay throughput counters.
type TrafficStats struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// TrafficSource is implemented by the UDP relay engine.
type TrafficSource interface {
	Stats() TrafficStats
}

// StatsMonitor logs a periodic one-line activity summary, mirroring what
// operators watch on a live box: sessions, rooms and relay throughput.
type StatsMonitor struct {
	Orch     *Orchestrator
	Source   TrafficSource
	Interval time.Duration
}

func (m *StatsMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	last := m.Source.Stats()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := m.Source.Stats()
			kbps := float64(cur.Bytes-last.Bytes) / 1024 / m.Interval.Seconds()
			log.Info().Str("module", "app.stats").
				Int("sessions", m.Orch.Registry.Count()).
				Int("rooms", m.Orch.Rooms.Count()).
				Uint64("packets", cur.Packets).
				Float64("kb_per_sec", kbps).
				Msg("activity")
			last = cur
		}
	}
}
