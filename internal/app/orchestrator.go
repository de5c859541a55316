package app

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dmaksimov/huddle/internal/control"
	"github.com/dmaksimov/huddle/internal/core"
	"github.com/dmaksimov/huddle/internal/domain"
	"github.com/dmaksimov/huddle/internal/metrics"
)

// Orchestrator owns the control-plane flows: join, leave, keepalive,
// disconnect and eviction. All membership mutations and the roster pushes
// they trigger are serialized under one mutex, so concurrent joins and
// leaves never interleave partially and every member sees roster updates
// in event order. The UDP relay path never takes this lock.
type Orchestrator struct {
	Registry *core.Registry
	Rooms    *core.RoomTable
	Policy   Policy
	Metrics  *metrics.Metrics

	mu sync.Mutex
}

// ConnState is the per-control-connection state an adapter threads through
// HandleMessage. Token identifies the transport connection in logs;
// ClientID stays zero until a join succeeds. It is only touched by the
// connection's own read loop.
type ConnState struct {
	Token    string
	Conn     core.ControlConn
	ClientID domain.ClientID
}

func NewConnState(conn core.ControlConn) *ConnState {
	return &ConnState{Token: uuid.NewString(), Conn: conn}
}

// HandleMessage dispatches one decoded control message. Protocol misuse
// is answered with an error message on the same connection; the
// connection itself is never dropped here.
func (o *Orchestrator) HandleMessage(c *ConnState, msg control.Message) {
	o.Metrics.ControlMessages.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case control.TypeJoin:
		o.handleJoin(c, msg)
	case control.TypeLeave:
		o.handleLeave(c)
	case control.TypePing:
		o.Registry.Touch(c.ClientID)
		o.send(c.Conn, control.Message{Type: control.TypePong})
	case control.TypePong:
		o.Registry.Touch(c.ClientID)
	default:
		// Forward-compatible extensions: log and ignore.
		log.Warn().Str("module", "app.orchestrator").Str("token", c.Token).Str("type", msg.Type).Msg("unknown control message")
	}
}

func (o *Orchestrator) handleJoin(c *ConnState, msg control.Message) {
	if msg.Room == "" {
		o.send(c.Conn, control.ErrorMessage(control.CodeBadPayload, "join requires a room"))
		return
	}
	roomName := domain.RoomName(domain.TrimRoomName(msg.Room))

	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.Registry.Lookup(c.ClientID)
	if !ok {
		id := msg.ClientID
		if id == 0 {
			id = o.allocateIDLocked()
		}
		var err error
		sess, err = o.Registry.Register(id, domain.TrimName(msg.Name), c.Conn)
		if errors.Is(err, core.ErrDuplicateID) {
			log.Warn().Str("module", "app.orchestrator").Str("token", c.Token).Uint32("client_id", uint32(id)).Msg("duplicate client id")
			o.send(c.Conn, control.ErrorMessage(control.CodeDuplicateID, "client id already connected"))
			return
		}
		c.ClientID = sess.ID
	}
	sess.Touch()

	room, others, err := o.Rooms.Join(roomName, sess)
	if errors.Is(err, core.ErrAlreadyInRoom) {
		o.send(c.Conn, control.ErrorMessage(control.CodeAlreadyInRoom, "leave the current room first"))
		return
	}

	o.send(c.Conn, control.Message{
		Type:     control.TypeJoined,
		ClientID: sess.ID,
		Room:     string(room.Name),
		RoomID:   room.ID,
		Members:  rosterOf(others),
	})
	o.broadcastRosterLocked(room, append(others, sess), sess)
	o.syncGaugesLocked()
}

func (o *Orchestrator) handleLeave(c *ConnState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.Registry.Lookup(c.ClientID)
	if !ok {
		o.send(c.Conn, control.ErrorMessage(control.CodeNotInRoom, "not joined"))
		return
	}
	sess.Touch()

	room, remaining, ok := o.Rooms.Leave(sess)
	o.send(c.Conn, control.Message{Type: control.TypeLeft})
	if ok {
		o.broadcastRosterLocked(room, remaining, nil)
	}
	// The session stays registered: the client may rejoin over the same
	// connection without a new handshake.
	o.syncGaugesLocked()
}

// HandleDisconnect is the implicit leave: the control connection is gone,
// so the session is detached from its room and deregistered. Safe to call
// more than once (eviction races with connection teardown).
func (o *Orchestrator) HandleDisconnect(c *ConnState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.Registry.Lookup(c.ClientID)
	if !ok {
		return
	}
	log.Info().Str("module", "app.orchestrator").Str("token", c.Token).Uint32("client_id", uint32(sess.ID)).Msg("control connection closed")
	o.dropLocked(sess)
}

// Evict removes a session that went silent past the liveness timeout.
func (o *Orchestrator) Evict(sess *core.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.Registry.Lookup(sess.ID); !ok {
		return
	}
	log.Info().Str("module", "app.orchestrator").Uint32("client_id", uint32(sess.ID)).Time("last_seen", sess.LastSeen()).Msg("evicting stale session")
	o.Metrics.Evictions.Inc()
	o.dropLocked(sess)
}

// dropLocked detaches the session from its room, deregisters it, closes
// its control connection and tells the remaining members.
func (o *Orchestrator) dropLocked(sess *core.Session) {
	room, remaining, inRoom := o.Rooms.Leave(sess)
	o.Registry.Remove(sess.ID)
	sess.Conn.Close()
	if inRoom && len(remaining) > 0 {
		o.broadcastRosterLocked(room, remaining, nil)
	}
	o.syncGaugesLocked()
}

// broadcastRosterLocked pushes the room's member set to every member
// except the one the triggering reply already went to. Sends are
// non-blocking; members whose queue overflows are handed to the policy.
func (o *Orchestrator) broadcastRosterLocked(room domain.Room, members []*core.Session, except *core.Session) {
	b, err := control.Encode(control.Message{
		Type:    control.TypeRoster,
		Room:    string(room.Name),
		RoomID:  room.ID,
		Members: rosterOf(members),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.orchestrator").Msg("roster encode")
		return
	}

	var slow []*core.Session
	for _, m := range members {
		if m == except {
			continue
		}
		if err := m.Conn.TrySend(b); err != nil {
			slow = append(slow, m)
			continue
		}
		o.Metrics.RosterPushes.Inc()
	}
	for _, m := range slow {
		log.Warn().Str("module", "app.orchestrator").Uint32("client_id", uint32(m.ID)).Msg("roster push backpressure")
		if o.Policy.OnBackPressure(m) == Disconnect {
			o.Metrics.SlowClientDisconnects.Inc()
			o.dropLocked(m)
		}
	}
}

// send delivers a direct reply. A connection that cannot even take a
// reply is beyond saving; closing it lets the read loop run disconnect
// cleanup.
func (o *Orchestrator) send(conn core.ControlConn, msg control.Message) {
	b, err := control.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orchestrator").Msg("reply encode")
		return
	}
	if err := conn.TrySend(b); err != nil {
		conn.Close()
	}
}

// allocateIDLocked picks an unused non-zero client id for clients that
// let the server assign one.
func (o *Orchestrator) allocateIDLocked() domain.ClientID {
	for {
		u := uuid.New()
		id := domain.ClientID(binary.BigEndian.Uint32(u[0:4]))
		if id == 0 {
			continue
		}
		if _, ok := o.Registry.Lookup(id); !ok {
			return id
		}
	}
}

func (o *Orchestrator) syncGaugesLocked() {
	o.Metrics.ActiveSessions.Set(float64(o.Registry.Count()))
	o.Metrics.ActiveRooms.Set(float64(o.Rooms.Count()))
}

func rosterOf(members []*core.Session) []control.Member {
	out := make([]control.Member, 0, len(members))
	for _, m := range members {
		out = append(out, control.Member{ID: m.ID, Name: m.Name})
	}
	return out
}
