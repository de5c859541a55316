package domain

type (
	RoomName string
	RoomID   uint32
)

const MaxRoomNameLen = 36

// Room pairs the two identities of a room: the name clients join by on the
// control plane and the compact integer id carried in media headers.
type Room struct {
	ID   RoomID
	Name RoomName
}

// TrimRoomName bounds a client-supplied room name.
func TrimRoomName(raw string) string {
	if len(raw) > MaxRoomNameLen {
		return raw[:MaxRoomNameLen]
	}
	return raw
}
