// Package poller pkg/poller/state.go

package poller

import "errors"

// State is the poller loop's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopRequested
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	default:
		return "stopped"
	}
}

var ErrAlreadyRunning = errors.New("poller is already running")
