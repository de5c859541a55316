package tcpctl

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dmaksimov/huddle/internal/core"
)

const writeDeadline = 5 * time.Second

// tcpConn wraps one control connection with a bounded send queue so
// pushes from the orchestrator never block on a slow client's socket.
type tcpConn struct {
	nc   net.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newTCPConn(nc net.Conn, queue int) *tcpConn {
	return &tcpConn{nc: nc, send: make(chan []byte, queue)}
}

func (c *tcpConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *tcpConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.nc.Close()
	c.mu.Unlock()
}

func (c *tcpConn) writePump() {
	for data := range c.send {
		if err := c.nc.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			log.Error().Err(err).Str("module", "tcpctl").Msg("writePump set deadline")
			return
		}
		if _, err := c.nc.Write(data); err != nil {
			log.Error().Err(err).Str("module", "tcpctl").Msg("writePump write error")
			return
		}
	}
}
