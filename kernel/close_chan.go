package kernel

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avloop/logger"
)

type closeChan struct {
	closeOnce sync.Once
	c         chan struct{}
}

func newCloseChan() *closeChan {
	return &closeChan{
		c: make(chan struct{}),
	}
}

func (c *closeChan) CloseChan() <-chan struct{} {
	return c.c
}

// Close returns true only for the call which actually closed the channel.
func (c *closeChan) Close(ctx context.Context) bool {
	closed := false
	c.closeOnce.Do(func() {
		logger.Tracef(ctx, "closing")
		close(c.c)
		closed = true
	})
	return closed
}

func (c *closeChan) IsClosed() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}
