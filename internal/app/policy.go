package app

import "github.com/dmaksimov/huddle/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	Disconnect
)

// Policy decides what a member's full control send queue costs it.
type Policy interface {
	OnBackPressure(member *core.Session) BackpressureAction
}

// SimplePolicy disconnects slow clients: an unread roster backlog means
// the client is not consuming its control stream, and letting the queue
// grow would eventually stall pushes to everyone else.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*core.Session) BackpressureAction {
	return Disconnect
}
