package core

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dmaksimov/huddle/internal/domain"
)

var ErrAlreadyInRoom = errors.New("already in another room")

type roomEntry struct {
	room    domain.Room
	members []*Session // join order; relay fan-out follows it
}

// RoomTable maps room names to member sets. Rooms are created implicitly
// on first join and deleted when their last member leaves. Membership is a
// relation, not ownership: sessions stay owned by the Registry.
type RoomTable struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomName]*roomEntry
	nextID domain.RoomID
}

func NewRoomTable() *RoomTable {
	return &RoomTable{rooms: make(map[domain.RoomName]*roomEntry), nextID: 1}
}

// Join adds sess to the named room, creating the room if absent, and
// returns the room meta plus the other members in join order. Joining the
// room the session is already in is idempotent; joining a different room
// without leaving first fails with ErrAlreadyInRoom.
func (rt *RoomTable) Join(name domain.RoomName, sess *Session) (domain.Room, []*Session, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if cur, ok := sess.Room(); ok && cur != name {
		return domain.Room{}, nil, ErrAlreadyInRoom
	}

	entry, ok := rt.rooms[name]
	if !ok {
		entry = &roomEntry{room: domain.Room{ID: rt.nextID, Name: name}}
		rt.nextID++
		rt.rooms[name] = entry
		log.Info().Str("module", "core.rooms").Str("room", string(name)).Uint32("room_id", uint32(entry.room.ID)).Msg("room created")
	}

	others := make([]*Session, 0, len(entry.members))
	already := false
	for _, m := range entry.members {
		if m == sess {
			already = true
			continue
		}
		others = append(others, m)
	}
	if !already {
		entry.members = append(entry.members, sess)
		sess.setRoom(name)
		log.Info().Str("module", "core.rooms").Str("room", string(name)).Uint32("client_id", uint32(sess.ID)).Msg("member joined")
	}
	return entry.room, others, nil
}

// Leave removes sess from its current room, deleting the room if it is
// now empty. Returns the room and the remaining members so the caller can
// push a roster update. No-op when the session is not in a room.
func (rt *RoomTable) Leave(sess *Session) (domain.Room, []*Session, bool) {
	name, ok := sess.Room()
	if !ok {
		return domain.Room{}, nil, false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	entry, ok := rt.rooms[name]
	if !ok {
		sess.setRoom("")
		return domain.Room{}, nil, false
	}

	kept := entry.members[:0]
	for _, m := range entry.members {
		if m != sess {
			kept = append(kept, m)
		}
	}
	entry.members = kept
	sess.setRoom("")
	log.Info().Str("module", "core.rooms").Str("room", string(name)).Uint32("client_id", uint32(sess.ID)).Msg("member left")

	if len(entry.members) == 0 {
		delete(rt.rooms, name)
		log.Info().Str("module", "core.rooms").Str("room", string(name)).Msg("room deleted")
		return entry.room, nil, true
	}
	remaining := make([]*Session, len(entry.members))
	copy(remaining, entry.members)
	return entry.room, remaining, true
}

// Members returns a snapshot of the room's member list in join order.
// Empty for an unknown room. The relay fan-out path calls this under a
// read lock only; it must never block on sends afterwards while holding
// anything.
func (rt *RoomTable) Members(name domain.RoomName) []*Session {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	entry, ok := rt.rooms[name]
	if !ok {
		return nil
	}
	out := make([]*Session, len(entry.members))
	copy(out, entry.members)
	return out
}

// RoomInfo is a read-only view for the admin API.
type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

func (rt *RoomTable) List() []RoomInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]RoomInfo, 0, len(rt.rooms))
	for _, e := range rt.rooms {
		out = append(out, RoomInfo{ID: e.room.ID, Name: e.room.Name, MemberCount: len(e.members)})
	}
	return out
}

func (rt *RoomTable) Count() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.rooms)
}
