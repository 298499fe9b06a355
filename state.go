package avloop

import (
	"fmt"
)

type State int32

const (
	StateIdle = State(iota)
	StatePlaying
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown_state_%d", int32(s))
	}
}
