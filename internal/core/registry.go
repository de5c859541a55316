package core

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dmaksimov/huddle/internal/domain"
)

var ErrDuplicateID = errors.New("client id already registered")

// Session is the server-side state for one connected client: its control
// connection, its learned UDP endpoint and its room membership. Sessions
// are owned by the Registry; rooms hold non-owning references.
type Session struct {
	ID   domain.ClientID
	Name string
	Conn ControlConn

	mu       sync.RWMutex
	udpAddr  *net.UDPAddr
	room     domain.RoomName
	lastSeen time.Time
}

// Touch refreshes the liveness timestamp. Called on every control message
// and every media datagram bearing this session's id.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// SetUDPAddr records the source address of the client's latest media
// datagram. Last writer wins, so a client rebinding behind its NAT is
// picked up on its next packet. This is the only way addresses are
// learned; the server never dials out.
func (s *Session) SetUDPAddr(addr *net.UDPAddr) {
	s.mu.Lock()
	s.udpAddr = addr
	s.mu.Unlock()
}

// UDPAddr returns the last observed media endpoint, or nil if no datagram
// from this client has arrived yet.
func (s *Session) UDPAddr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.udpAddr
}

// Room returns the current room, ok=false when not in one.
func (s *Session) Room() (domain.RoomName, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room, s.room != ""
}

func (s *Session) setRoom(name domain.RoomName) {
	s.mu.Lock()
	s.room = name
	s.mu.Unlock()
}

// Registry maps client ids to live sessions. It is the sole owner of
// Session records.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ClientID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.ClientID]*Session)}
}

// Register creates the session for id. A live session under the same id
// is a protocol violation by the second client, not grounds to evict the
// first one.
func (r *Registry) Register(id domain.ClientID, name string, conn ControlConn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, ErrDuplicateID
	}
	s := &Session{ID: id, Name: name, Conn: conn, lastSeen: time.Now()}
	r.sessions[id] = s
	log.Info().Str("module", "core.registry").Uint32("client_id", uint32(id)).Str("name", name).Msg("session registered")
	return s, nil
}

func (r *Registry) Lookup(id domain.ClientID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Touch is a no-op for unknown ids: a race with concurrent eviction is
// tolerated, the client will notice its connection is gone.
func (r *Registry) Touch(id domain.ClientID) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.Touch()
	}
}

func (r *Registry) SetUDPAddr(id domain.ClientID, addr *net.UDPAddr) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.SetUDPAddr(addr)
	}
}

// Remove deletes and returns the session. The caller is responsible for
// detaching it from its room first (the orchestrator always does both
// under one mutation lock).
func (r *Registry) Remove(id domain.ClientID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "core.registry").Uint32("client_id", uint32(id)).Msg("session removed")
	return s, true
}

// Snapshot returns all live sessions, for the liveness sweeper.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
