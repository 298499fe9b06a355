package branchpool

import (
	"context"

	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

// notifier calls the user callbacks on its own goroutine in the order the
// events were enqueued, so a callback may call back into the Pool.
type notifier struct {
	locker   xsync.Mutex
	queue    []func(context.Context)
	closed   bool
	signalCh chan struct{}
	doneCh   chan struct{}
}

func newNotifier(ctx context.Context) *notifier {
	n := &notifier{
		signalCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
	observability.Go(ctx, n.loop)
	return n
}

func (n *notifier) enqueue(
	ctx context.Context,
	fn func(context.Context),
) {
	n.locker.Do(ctx, func() {
		if n.closed {
			logger.Warnf(ctx, "an event after the notifier was closed, ignoring")
			return
		}
		n.queue = append(n.queue, fn)
	})
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.signalCh <- struct{}{}:
	default:
	}
}

func (n *notifier) loop(ctx context.Context) {
	defer close(n.doneCh)
	for {
		var (
			queue  []func(context.Context)
			closed bool
		)
		n.locker.Do(ctx, func() {
			queue, n.queue = n.queue, nil
			closed = n.closed
		})
		if len(queue) == 0 {
			if closed {
				return
			}
			<-n.signalCh
			continue
		}
		for _, fn := range queue {
			fn(ctx)
		}
	}
}

// Close waits until every enqueued event is delivered. It must not be
// called from a callback.
func (n *notifier) Close(ctx context.Context) error {
	n.locker.Do(ctx, func() {
		n.closed = true
	})
	n.signal()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-n.doneCh:
		return nil
	}
}
