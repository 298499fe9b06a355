package avloop

import (
	"errors"

	"github.com/xaionaro-go/avloop/types"
)

var (
	ErrAlreadyStarted = errors.New("the pipeline was already started")
	ErrNotPlaying     = errors.New("the pipeline is not playing")
)

type ErrIO = types.ErrIO
type ErrProtocol = types.ErrProtocol

// ErrComponent is a fatal error of one of the pipeline components.
type ErrComponent struct {
	Component string
	Err       error
}

func (e ErrComponent) Error() string {
	return e.Component + ": " + e.Err.Error()
}

func (e ErrComponent) Unwrap() error {
	return e.Err
}
