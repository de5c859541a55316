// Package domain contains entity types without logic, just meta-data.
package domain

// ClientID identifies one connected client. The same id is carried in the
// sender field of every media datagram the client emits, which is how the
// relay maps datagrams back to sessions.
type ClientID uint32

const MaxNameLen = 36

// TrimName bounds a client-supplied display name.
func TrimName(raw string) string {
	if len(raw) > MaxNameLen {
		return raw[:MaxNameLen]
	}
	return raw
}
