package core

import (
	"errors"
	"testing"

	"github.com/dmaksimov/huddle/internal/domain"
)

func newSession(t *testing.T, reg *Registry, id domain.ClientID) *Session {
	t.Helper()
	s, err := reg.Register(id, "", &nopConn{})
	if err != nil {
		t.Fatalf("Register(%d): %v", id, err)
	}
	return s
}

func memberIDs(members []*Session) []domain.ClientID {
	out := make([]domain.ClientID, 0, len(members))
	for _, m := range members {
		out = append(out, m.ID)
	}
	return out
}

func TestJoinReturnsOthersInJoinOrder(t *testing.T) {
	reg := NewRegistry()
	rt := NewRoomTable()
	a := newSession(t, reg, 1)
	b := newSession(t, reg, 2)
	c := newSession(t, reg, 3)

	room, others, err := rt.Join("r1", a)
	if err != nil {
		t.Fatalf("Join(a): %v", err)
	}
	if len(others) != 0 {
		t.Errorf("first joiner sees roster %v, want empty", memberIDs(others))
	}
	if room.Name != "r1" || room.ID == 0 {
		t.Errorf("room = %+v", room)
	}

	if _, others, err = rt.Join("r1", b); err != nil {
		t.Fatalf("Join(b): %v", err)
	}
	if ids := memberIDs(others); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("b's roster = %v, want [1]", ids)
	}

	if _, others, err = rt.Join("r1", c); err != nil {
		t.Fatalf("Join(c): %v", err)
	}
	if ids := memberIDs(others); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("c's roster = %v, want [1 2]", ids)
	}
}

func TestJoinDifferentRoomRejected(t *testing.T) {
	reg := NewRegistry()
	rt := NewRoomTable()
	a := newSession(t, reg, 1)

	if _, _, err := rt.Join("r1", a); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, _, err := rt.Join("r2", a); !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("Join(other room) = %v, want ErrAlreadyInRoom", err)
	}
	// Rejoining the same room is idempotent.
	if _, _, err := rt.Join("r1", a); err != nil {
		t.Errorf("rejoin same room: %v", err)
	}
	if len(rt.Members("r1")) != 1 {
		t.Errorf("member duplicated on idempotent rejoin")
	}
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	reg := NewRegistry()
	rt := NewRoomTable()
	a := newSession(t, reg, 1)
	b := newSession(t, reg, 2)
	rt.Join("r1", a)
	rt.Join("r1", b)

	room, remaining, ok := rt.Leave(a)
	if !ok || room.Name != "r1" {
		t.Fatalf("Leave(a) = %+v, %v", room, ok)
	}
	if ids := memberIDs(remaining); len(ids) != 1 || ids[0] != 2 {
		t.Errorf("remaining = %v, want [2]", ids)
	}
	if _, inRoom := a.Room(); inRoom {
		t.Error("a still reports room membership after leave")
	}

	_, remaining, ok = rt.Leave(b)
	if !ok || len(remaining) != 0 {
		t.Fatalf("Leave(b) remaining = %v", memberIDs(remaining))
	}
	if rt.Count() != 0 {
		t.Errorf("room count = %d after last member left, want 0", rt.Count())
	}
	if rt.Members("r1") != nil {
		t.Error("Members returned entries for a deleted room")
	}

	// Leaving while not in a room is a no-op.
	if _, _, ok := rt.Leave(a); ok {
		t.Error("Leave reported ok for a session not in a room")
	}
}

func TestRoomInvariantAfterChurn(t *testing.T) {
	reg := NewRegistry()
	rt := NewRoomTable()
	sessions := make([]*Session, 6)
	for i := range sessions {
		sessions[i] = newSession(t, reg, domain.ClientID(i+1))
	}

	rooms := []domain.RoomName{"r1", "r2", "r1", "r2", "r3", "r1"}
	for i, s := range sessions {
		if _, _, err := rt.Join(rooms[i], s); err != nil {
			t.Fatalf("Join #%d: %v", i, err)
		}
	}
	rt.Leave(sessions[0])
	rt.Leave(sessions[4]) // empties r3
	rt.Join("r3", sessions[0])

	// Every session's room matches exactly the room that lists it, and no
	// listed room is empty.
	for _, info := range rt.List() {
		if info.MemberCount == 0 {
			t.Errorf("room %q exists with zero members", info.Name)
		}
		for _, m := range rt.Members(info.Name) {
			got, ok := m.Room()
			if !ok || got != info.Name {
				t.Errorf("member %d of %q reports room %q, %v", m.ID, info.Name, got, ok)
			}
		}
	}
	for _, s := range sessions {
		if name, ok := s.Room(); ok {
			found := false
			for _, m := range rt.Members(name) {
				if m == s {
					found = true
				}
			}
			if !found {
				t.Errorf("session %d claims room %q but is not a member", s.ID, name)
			}
		}
	}
}

func TestRoomIDsAreStablePerRoomName(t *testing.T) {
	reg := NewRegistry()
	rt := NewRoomTable()
	a := newSession(t, reg, 1)
	b := newSession(t, reg, 2)

	r1, _, _ := rt.Join("r1", a)
	r2, _, _ := rt.Join("r1", b)
	if r1.ID != r2.ID {
		t.Errorf("same room name produced ids %d and %d", r1.ID, r2.ID)
	}

	rt.Leave(a)
	rt.Leave(b)
	r3, _, _ := rt.Join("r1", a)
	if r3.ID == r1.ID {
		t.Errorf("recreated room reused id %d", r3.ID)
	}
}
