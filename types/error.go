// error.go defines the error kinds shared by the pipeline components.

package types

import (
	"fmt"
)

// ErrIO is returned when a component cannot open or keep reading/writing
// its byte stream. It is fatal for the whole pipeline.
type ErrIO struct {
	Component string
	Err       error
}

func (e ErrIO) Error() string {
	return fmt.Sprintf("I/O error in %s: %v", e.Component, e.Err)
}

func (e ErrIO) Unwrap() error {
	return e.Err
}

// ErrProtocol is returned when a component cannot interpret the data
// (demuxing, parsing or muxing failed). It is fatal for the whole pipeline.
type ErrProtocol struct {
	Component string
	Err       error
}

func (e ErrProtocol) Error() string {
	return fmt.Sprintf("protocol error in %s: %v", e.Component, e.Err)
}

func (e ErrProtocol) Unwrap() error {
	return e.Err
}

type ErrNotImplemented struct {
	Err error
}

func (e ErrNotImplemented) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("not implemented: %v", e.Err)
	}
	return "not implemented"
}

func (e ErrNotImplemented) Unwrap() error {
	return e.Err
}
