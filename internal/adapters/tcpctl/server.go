// Package tcpctl serves the control protocol over plain TCP:
// newline-delimited JSON messages, one connection per client, with
// asynchronous roster pushes multiplexed onto the same stream.
package tcpctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dmaksimov/huddle/internal/app"
	"github.com/dmaksimov/huddle/internal/config"
	"github.com/dmaksimov/huddle/internal/control"
)

type Server struct {
	Orch *app.Orchestrator

	port  int
	queue int

	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(cfg *config.Config, orch *app.Orchestrator) *Server {
	return &Server{Orch: orch, port: cfg.TCPPort, queue: cfg.SendQueue}
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen control port: %w", err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	log.Info().Str("module", "tcpctl").Str("addr", ln.Addr().String()).Msg("control server started")
	return nil
}

// Stop closes the listener; per-connection goroutines wind down when their
// reads fail or the context is canceled.
func (s *Server) Stop() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.wg.Wait()
	log.Info().Str("module", "tcpctl").Msg("control server stopped")
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
				log.Error().Err(err).Str("module", "tcpctl").Msg("accept")
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer s.wg.Done()

	conn := newTCPConn(nc, s.queue)
	state := app.NewConnState(conn)
	log.Info().Str("module", "tcpctl").Str("token", state.Token).Str("remote", nc.RemoteAddr().String()).Msg("control connection")

	go conn.writePump()

	// Unblock the read loop on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		// End of stream or transport error is an implicit leave.
		s.Orch.HandleDisconnect(state)
		conn.Close()
	}()

	dec := control.NewDecoder(nc)
	for {
		msg, err := dec.Next()
		if errors.Is(err, control.ErrMalformed) {
			// Protocol misuse, not a transport failure: tell the client
			// and keep the connection.
			if b, encErr := control.Encode(control.ErrorMessage(control.CodeBadPayload, "unparseable message")); encErr == nil {
				_ = conn.TrySend(b)
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Str("module", "tcpctl").Str("token", state.Token).Msg("control read")
			}
			return
		}
		s.Orch.HandleMessage(state, msg)
	}
}
