package merge

import (
	"errors"
	"fmt"
)

var (
	ErrSealed = errors.New("the merge stage is sealed, no more inputs are accepted")
	ErrClosed = errors.New("the merge stage is closed")
)

type ErrSlotBusy struct {
	Slot SlotID
}

func (e ErrSlotBusy) Error() string {
	return fmt.Sprintf("slot %d is still occupied by another input", e.Slot)
}

type ErrEndOfStreamAlreadySent struct {
	Input string
}

func (e ErrEndOfStreamAlreadySent) Error() string {
	return fmt.Sprintf("%s: end-of-stream was already sent", e.Input)
}
