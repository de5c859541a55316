package relay

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmaksimov/huddle/internal/config"
	"github.com/dmaksimov/huddle/internal/core"
	"github.com/dmaksimov/huddle/internal/domain"
	"github.com/dmaksimov/huddle/internal/header"
	"github.com/dmaksimov/huddle/internal/metrics"
)

type nopConn struct{}

func (nopConn) TrySend(b []byte) error { return nil }
func (nopConn) Close()                 {}

type fixture struct {
	engine *Engine
	reg    *core.Registry
	rooms  *core.RoomTable
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{UDPPort: 0, UDPWorkers: 1, MaxDatagram: 65536, UDPReadBuffer: 1 << 20}
	reg := core.NewRegistry()
	rooms := core.NewRoomTable()
	return &fixture{
		engine: New(cfg, reg, rooms, metrics.New(prometheus.NewRegistry())),
		reg:    reg,
		rooms:  rooms,
	}
}

func (f *fixture) member(t *testing.T, id domain.ClientID, room domain.RoomName, addr *net.UDPAddr) *core.Session {
	t.Helper()
	sess, err := f.reg.Register(id, "", nopConn{})
	if err != nil {
		t.Fatalf("Register(%d): %v", id, err)
	}
	if _, _, err := f.rooms.Join(room, sess); err != nil {
		t.Fatalf("Join(%d): %v", id, err)
	}
	if addr != nil {
		sess.SetUDPAddr(addr)
	}
	return sess
}

func addrOf(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func datagram(t *testing.T, h header.Header, payload []byte) []byte {
	t.Helper()
	b, err := header.Pack(h, payload)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return b
}

func TestFanOutExcludesSender(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "r1", addrOf(4001))
	f.member(t, 2, "r1", addrOf(4002))
	f.member(t, 3, "r1", addrOf(4003))

	data := datagram(t, header.Header{RoomID: 1, SenderID: 1, Sequence: 1, Timestamp: 1000, Kind: header.KindAudio}, []byte{1, 2, 3, 4})
	before := append([]byte(nil), data...)

	targets := f.engine.route(data, addrOf(4001))
	if len(targets) != 2 {
		t.Fatalf("forwarded to %d members, want 2", len(targets))
	}
	ports := map[int]bool{}
	for _, a := range targets {
		ports[a.Port] = true
	}
	if ports[4001] {
		t.Error("datagram forwarded back to its sender")
	}
	if !ports[4002] || !ports[4003] {
		t.Errorf("targets = %v, want members 2 and 3", targets)
	}
	if !bytes.Equal(data, before) {
		t.Error("datagram was modified on the forwarding path")
	}
}

func TestUnknownSenderDropped(t *testing.T) {
	f := newFixture(t)
	f.member(t, 2, "r1", addrOf(4002))

	data := datagram(t, header.Header{SenderID: 99, Kind: header.KindAudio}, []byte{1})
	if targets := f.engine.route(data, addrOf(5000)); len(targets) != 0 {
		t.Fatalf("unauthenticated media forwarded to %v", targets)
	}
}

func TestMalformedDropped(t *testing.T) {
	f := newFixture(t)
	f.member(t, 1, "r1", addrOf(4001))
	f.member(t, 2, "r1", addrOf(4002))

	// Truncated header.
	if targets := f.engine.route([]byte{0x01, 0x02}, addrOf(4001)); targets != nil {
		t.Errorf("truncated datagram forwarded to %v", targets)
	}
	// Declared length does not match the actual payload.
	h := header.Header{SenderID: 1, PayloadLen: 9}
	bad := append(h.Marshal(), 1, 2, 3)
	if targets := f.engine.route(bad, addrOf(4001)); targets != nil {
		t.Errorf("length-mismatched datagram forwarded to %v", targets)
	}
}

func TestSenderNotInRoomDropped(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Register(1, "", nopConn{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	data := datagram(t, header.Header{SenderID: 1, Kind: header.KindAudio}, []byte{1})
	if targets := f.engine.route(data, addrOf(4001)); len(targets) != 0 {
		t.Fatalf("roomless sender's media forwarded to %v", targets)
	}
}

func TestLazyAddressBinding(t *testing.T) {
	f := newFixture(t)
	a := f.member(t, 1, "r1", nil)
	b := f.member(t, 2, "r1", nil)

	// A speaks first: nobody has an address yet, nothing is forwarded,
	// but A's endpoint is learned from the datagram source.
	srcA := addrOf(4001)
	data := datagram(t, header.Header{SenderID: 1, Sequence: 1, Timestamp: 1000, Kind: header.KindAudio}, []byte{1, 2, 3, 4})
	if targets := f.engine.route(data, srcA); len(targets) != 0 {
		t.Fatalf("forwarded to members with no known address: %v", targets)
	}
	if got := a.UDPAddr(); got != srcA {
		t.Fatalf("A's learned address = %v, want %v", got, srcA)
	}

	// B's first datagram establishes B's address.
	srcB := addrOf(4002)
	f.engine.route(datagram(t, header.Header{SenderID: 2, Sequence: 1, Kind: header.KindAudio}, nil), srcB)
	if got := b.UDPAddr(); got != srcB {
		t.Fatalf("B's learned address = %v, want %v", got, srcB)
	}

	// Now A's next datagram reaches B's observed endpoint.
	next := datagram(t, header.Header{SenderID: 1, Sequence: 2, Timestamp: 2000, Kind: header.KindAudio}, []byte{1, 2, 3, 4})
	targets := f.engine.route(next, srcA)
	if len(targets) != 1 || targets[0] != srcB {
		t.Fatalf("targets = %v, want [%v]", targets, srcB)
	}
}

func TestNATRebindUpdatesAddress(t *testing.T) {
	f := newFixture(t)
	a := f.member(t, 1, "r1", addrOf(4001))

	rebound := addrOf(4099)
	f.engine.route(datagram(t, header.Header{SenderID: 1, Kind: header.KindAudio}, nil), rebound)
	if got := a.UDPAddr(); got != rebound {
		t.Fatalf("address after rebind = %v, want %v", got, rebound)
	}
}

func TestPingEchoedToSource(t *testing.T) {
	f := newFixture(t)
	src := addrOf(6000)
	// Not registered: pings are answered before any registry check.
	data := datagram(t, header.Header{SenderID: 77, Kind: header.KindPing}, []byte{0xCA, 0xFE})
	targets := f.engine.route(data, src)
	if len(targets) != 1 || targets[0] != src {
		t.Fatalf("ping targets = %v, want echo to %v", targets, src)
	}
}

func TestMediaTouchesSession(t *testing.T) {
	f := newFixture(t)
	a := f.member(t, 1, "r1", nil)
	before := a.LastSeen()
	time.Sleep(2 * time.Millisecond)

	f.engine.route(datagram(t, header.Header{SenderID: 1, Kind: header.KindAudio}, nil), addrOf(4001))
	if !a.LastSeen().After(before) {
		t.Error("media datagram did not refresh liveness")
	}
}
