// closer.go defines the interfaces of objects with a lifetime.

package types

import (
	"context"
)

// Closer is anything that holds resources until it is closed. Close must be
// safe to call more than once.
type Closer interface {
	Close(context.Context) error
}

// ErrorHandler receives errors which cannot be returned to a caller, e.g.
// errors that happened on a streaming goroutine.
type ErrorHandler interface {
	HandleError(ctx context.Context, err error) error
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(ctx context.Context, err error) error

func (fn ErrorHandlerFunc) HandleError(ctx context.Context, err error) error {
	return fn(ctx, err)
}
