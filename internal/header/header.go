// Package header encodes and decodes the fixed-size header prepended to
// every media datagram. The layout is big-endian:
//
//	[RoomID:4][SenderID:4][Sequence:4][Timestamp:4][Kind:1][PayloadLen:2]
//
// PayloadLen must equal the number of payload bytes following the header;
// a datagram that fails this check is dropped by the relay, never forwarded.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dmaksimov/huddle/internal/domain"
)

// Size is the fixed header length in bytes.
const Size = 19

// MaxPayload is the largest payload the 16-bit length field can describe.
const MaxPayload = math.MaxUint16

// Kind is a routing/priority hint for the payload. The relay never looks
// past the header, so kinds only steer forwarding, not decoding.
type Kind uint8

const (
	KindAudio    Kind = 0x00
	KindVideo    Kind = 0x01
	KindKeyframe Kind = 0x02

	// KindPing datagrams are echoed straight back to the source and are
	// never forwarded. Clients use the echo for RTT probing and to keep
	// their NAT binding warm before any peer media flows.
	KindPing Kind = 0xFE
)

var (
	ErrTruncated       = errors.New("header truncated")
	ErrLengthMismatch  = errors.New("payload length mismatch")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Header is the decoded form of the media datagram header.
type Header struct {
	RoomID     domain.RoomID
	SenderID   domain.ClientID
	Sequence   uint32
	Timestamp  uint32
	Kind       Kind
	PayloadLen uint16
}

// Marshal serializes the header into a fresh Size-byte buffer.
func (h Header) Marshal() []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.RoomID))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.SenderID))
	binary.BigEndian.PutUint32(buf[8:12], h.Sequence)
	binary.BigEndian.PutUint32(buf[12:16], h.Timestamp)
	buf[16] = byte(h.Kind)
	binary.BigEndian.PutUint16(buf[17:19], h.PayloadLen)
	return buf
}

// Pack builds a complete datagram from h and payload, overriding
// h.PayloadLen with the actual payload length.
func Pack(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	h.PayloadLen = uint16(len(payload))
	return append(h.Marshal(), payload...), nil
}

// Decode parses the header at the start of buf and validates that the
// declared payload length matches the bytes that follow it. It has no side
// effects and never retains buf.
func Decode(buf []byte) (Header, error) {
	if len(buf) < Size {
		return Header{}, fmt.Errorf("%w: %d of %d bytes", ErrTruncated, len(buf), Size)
	}
	h := Header{
		RoomID:     domain.RoomID(binary.BigEndian.Uint32(buf[0:4])),
		SenderID:   domain.ClientID(binary.BigEndian.Uint32(buf[4:8])),
		Sequence:   binary.BigEndian.Uint32(buf[8:12]),
		Timestamp:  binary.BigEndian.Uint32(buf[12:16]),
		Kind:       Kind(buf[16]),
		PayloadLen: binary.BigEndian.Uint16(buf[17:19]),
	}
	if int(h.PayloadLen) != len(buf)-Size {
		return Header{}, fmt.Errorf("%w: declared %d, got %d", ErrLengthMismatch, h.PayloadLen, len(buf)-Size)
	}
	return h, nil
}

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindKeyframe:
		return "keyframe"
	case KindPing:
		return "ping"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(k))
	}
}
