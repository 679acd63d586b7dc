package lifecycle

import (
	"context"
	"net"
)

// State is a listener lifecycle position. Transitions only move forward:
// NotStarted → Running → Stopping → Stopped.
type State int32

const (
	NotStarted State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Listener is a network endpoint the Manager drives. Listen binds without
// accepting, Serve blocks accepting until Shutdown, and Shutdown stops
// accepting, waits for in-flight work and force-closes what is left when
// ctx ends.
type Listener interface {
	Listen() (net.Addr, error)
	Serve() error
	Shutdown(ctx context.Context) error
	State() State
}
