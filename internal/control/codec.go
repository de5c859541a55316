// Package control defines the JSON control protocol spoken over the TCP
// (and WebSocket) control channel: join/leave/roster/ping plus error
// reporting. Messages are newline-delimited JSON when framed over a byte
// stream; WebSocket text frames carry one message per frame.
package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dmaksimov/huddle/internal/domain"
)

// ErrMalformed marks a message that failed to parse. Transports treat it
// as recoverable: reply with a protocol error and keep reading.
var ErrMalformed = errors.New("malformed control message")

// Message types. An unrecognized type decodes fine and is ignored by
// handlers, so newer clients can extend the protocol without breaking us.
const (
	TypeJoin   = "join"
	TypeJoined = "joined"
	TypeLeave  = "leave"
	TypeLeft   = "left"
	TypePing   = "ping"
	TypePong   = "pong"
	TypeRoster = "roster"
	TypeError  = "error"
)

// Error codes carried in TypeError messages.
const (
	CodeDuplicateID   = "duplicate_id"
	CodeAlreadyInRoom = "already_in_room"
	CodeBadPayload    = "bad_payload"
	CodeNotInRoom     = "not_in_room"
)

// Member is one roster entry.
type Member struct {
	ID   domain.ClientID `json:"id"`
	Name string          `json:"name,omitempty"`
}

// Message is the envelope for every control-plane exchange. Only the
// fields relevant to a given Type are populated; the rest are omitted.
type Message struct {
	Type     string          `json:"type"`
	ClientID domain.ClientID `json:"client_id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Room     string          `json:"room,omitempty"`
	RoomID   domain.RoomID   `json:"room_id,omitempty"`
	Members  []Member        `json:"members,omitempty"`
	Code     string          `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Marshal serializes one message without framing (for transports that
// delimit messages themselves, like WebSocket text frames).
func Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal parses one unframed message.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// MaxLineLen caps a single framed message. Anything longer is a protocol
// violation and terminates the decoder.
const MaxLineLen = 16 * 1024

// Decoder reads newline-delimited messages from a byte stream, tolerating
// partial reads (a message split across TCP segments is reassembled).
type Decoder struct {
	sc *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), MaxLineLen)
	return &Decoder{sc: sc}
}

// Next returns the next message, or io.EOF when the stream ends cleanly.
func (d *Decoder) Next() (Message, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		return Unmarshal(line)
	}
	if err := d.sc.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

// Encode frames one message for a byte stream: JSON followed by '\n'.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// ErrorMessage builds a protocol-error reply.
func ErrorMessage(code, msg string) Message {
	return Message{Type: TypeError, Code: code, Error: msg}
}
