// Package wsctl carries the same control protocol as tcpctl over
// WebSocket text frames, for browser clients that cannot open raw TCP.
// One message per frame; the handlers are shared via the orchestrator.
package wsctl

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dmaksimov/huddle/internal/app"
	"github.com/dmaksimov/huddle/internal/control"
	"github.com/dmaksimov/huddle/internal/core"
)

type Controller struct {
	Orch  *app.Orchestrator
	Queue int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(b []byte) error {
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

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Handle upgrades the request and runs the connection's pumps.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "wsctl").Msg("ws upgrade")
		return
	}

	conn := &wsConn{conn: ws, send: make(chan []byte, ctl.Queue)}
	state := app.NewConnState(conn)
	log.Info().Str("module", "wsctl").Str("token", state.Token).Str("remote", ws.RemoteAddr().String()).Msg("control connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, state, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "wsctl").Msg("writePump set deadline")
				return
			}
			// The stream framing newline is redundant inside a frame.
			data = bytes.TrimSuffix(data, []byte{'\n'})
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "wsctl").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, state *app.ConnState, c *wsConn) {
	defer func() {
		ctl.Orch.HandleDisconnect(state)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "wsctl").Str("token", state.Token).Msg("readPump closing")
			return
		}
		msg, err := control.Unmarshal(data)
		if err != nil {
			if b, encErr := control.Encode(control.ErrorMessage(control.CodeBadPayload, "unparseable message")); encErr == nil {
				_ = c.TrySend(b)
			}
			continue
		}
		ctl.Orch.HandleMessage(state, msg)
	}
}
