// Package relay implements the UDP forwarding engine: media datagrams are
// relayed byte-for-byte to the sender's room mates, with no payload
// inspection beyond the fixed header. Sequence and timestamp pass through
// untouched; receivers do their own jitter buffering and loss detection.
package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dmaksimov/huddle/internal/app"
	"github.com/dmaksimov/huddle/internal/config"
	"github.com/dmaksimov/huddle/internal/core"
	"github.com/dmaksimov/huddle/internal/header"
	"github.com/dmaksimov/huddle/internal/metrics"
)

type Engine struct {
	registry *core.Registry
	rooms    *core.RoomTable
	metrics  *metrics.Metrics

	port        int
	workers     int
	maxDatagram int
	readBuffer  int

	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func New(cfg *config.Config, reg *core.Registry, rooms *core.RoomTable, m *metrics.Metrics) *Engine {
	return &Engine{
		registry:    reg,
		rooms:       rooms,
		metrics:     m,
		port:        cfg.UDPPort,
		workers:     cfg.UDPWorkers,
		maxDatagram: cfg.MaxDatagram,
		readBuffer:  cfg.UDPReadBuffer,
	}
}

// Start binds the media port and launches the reader pool. All workers
// share one socket; the kernel distributes datagrams between them.
func (e *Engine) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", e.port))
	if err != nil {
		return fmt.Errorf("resolve media port: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen media port: %w", err)
	}
	e.conn = conn

	if err := conn.SetReadBuffer(e.readBuffer); err != nil {
		log.Warn().Err(err).Str("module", "relay").Int("bytes", e.readBuffer).Msg("set read buffer")
	}

	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.readLoop(ctx, i)
	}
	log.Info().Str("module", "relay").Str("addr", addr.String()).Int("workers", e.workers).Msg("relay started")
	return nil
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.wg.Wait()
	log.Info().Str("module", "relay").Uint64("packets", e.packets.Load()).Uint64("bytes", e.bytes.Load()).Msg("relay stopped")
}

// Stats implements app.TrafficSource.
func (e *Engine) Stats() app.TrafficStats {
	return app.TrafficStats{Packets: e.packets.Load(), Bytes: e.bytes.Load()}
}

func (e *Engine) readLoop(ctx context.Context, workerID int) {
	defer e.wg.Done()
	buf := make([]byte, e.maxDatagram)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Deadline so shutdown is noticed even on a quiet port.
		if err := e.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("set read deadline")
			return
		}
		n, src, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				log.Error().Err(err).Str("module", "relay").Int("worker", workerID).Msg("read")
				continue
			}
		}

		e.packets.Add(1)
		e.bytes.Add(uint64(n))
		e.metrics.DatagramsReceived.Inc()

		// route and the sends both finish before the buffer is reused,
		// so no copy is needed on the hot path.
		data := buf[:n]
		for _, addr := range e.route(data, src) {
			// Fire-and-forget: one unreachable peer must not delay the
			// others, and UDP has nobody to tell anyway.
			_, _ = e.conn.WriteToUDP(data, addr)
		}
	}
}

// route decides where one received datagram goes. Drops are silent: the
// media port is public and malformed or unauthenticated traffic is
// expected there. It takes only read-style locks and never blocks on
// I/O; the actual sends happen in the caller with no lock held.
func (e *Engine) route(data []byte, src *net.UDPAddr) []*net.UDPAddr {
	h, err := header.Decode(data)
	if err != nil {
		e.metrics.DatagramsDropped.WithLabelValues(metrics.DropMalformed).Inc()
		return nil
	}

	// Ping probes are echoed straight back, before any registry checks,
	// so clients can warm their NAT binding ahead of joining.
	if h.Kind == header.KindPing {
		e.metrics.PingEchoes.Inc()
		return []*net.UDPAddr{src}
	}

	sess, ok := e.registry.Lookup(h.SenderID)
	if !ok {
		// Media is only honored after a TCP join.
		e.metrics.DatagramsDropped.WithLabelValues(metrics.DropUnknownSender).Inc()
		return nil
	}

	// Lazy address binding: the datagram's source is the only way we
	// ever learn (or refresh) the client's public media endpoint.
	sess.SetUDPAddr(src)
	sess.Touch()

	roomName, ok := sess.Room()
	if !ok {
		e.metrics.DatagramsDropped.WithLabelValues(metrics.DropNoRoom).Inc()
		return nil
	}

	members := e.rooms.Members(roomName)
	targets := make([]*net.UDPAddr, 0, len(members))
	for _, m := range members {
		if m.ID == h.SenderID {
			continue
		}
		addr := m.UDPAddr()
		if addr == nil {
			// Their first outbound datagram hasn't arrived yet.
			continue
		}
		targets = append(targets, addr)
	}

	if len(targets) > 0 {
		e.metrics.DatagramsForwarded.Add(float64(len(targets)))
		e.metrics.BytesRelayed.Add(float64(len(data) * len(targets)))
	}
	return targets
}
