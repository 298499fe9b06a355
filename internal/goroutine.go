package internal

import (
	"github.com/phuslu/goid"
)

// GoroutineID is the identity of a goroutine, used to verify which
// goroutine performs an operation.
type GoroutineID int64

// CurrentGoroutineID returns the ID of the calling goroutine.
func CurrentGoroutineID() GoroutineID {
	return GoroutineID(goid.Goid())
}
