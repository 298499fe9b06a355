package branchpool

import (
	"context"
	"sync"

	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

// detacher runs teardown tasks on its own goroutines, so that a branch is
// never torn down by the goroutine which reported its end.
type detacher struct {
	locker    xsync.Mutex
	tasks     []func(context.Context)
	closed    bool
	signalCh  chan struct{}
	closeCh   chan struct{}
	waitGroup sync.WaitGroup
	closeOnce sync.Once
}

func newDetacher(
	ctx context.Context,
	workers uint,
) *detacher {
	d := &detacher{
		signalCh: make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
	for range workers {
		d.waitGroup.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer d.waitGroup.Done()
			d.work(ctx)
		})
	}
	return d
}

// enqueue never blocks, it is called with the pool lock held.
func (d *detacher) enqueue(
	ctx context.Context,
	task func(context.Context),
) {
	d.locker.Do(ctx, func() {
		if d.closed {
			logger.Errorf(ctx, "a detach task after the detacher was closed, ignoring")
			return
		}
		d.tasks = append(d.tasks, task)
	})
	d.signal()
}

func (d *detacher) signal() {
	select {
	case d.signalCh <- struct{}{}:
	default:
	}
}

func (d *detacher) work(ctx context.Context) {
	for {
		var (
			task   func(context.Context)
			more   bool
			closed bool
		)
		d.locker.Do(ctx, func() {
			closed = d.closed
			if len(d.tasks) == 0 {
				return
			}
			task, d.tasks = d.tasks[0], d.tasks[1:]
			more = len(d.tasks) > 0
		})
		if task == nil {
			if closed {
				return
			}
			select {
			case <-d.signalCh:
			case <-d.closeCh:
			}
			continue
		}
		if more {
			// wake up a sibling for the rest
			d.signal()
		}
		task(ctx)
	}
}

// Close waits for the enqueued tasks and stops the workers. No task may be
// enqueued after Close.
func (d *detacher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.locker.Do(ctx, func() {
			d.closed = true
		})
		close(d.closeCh)
	})
	doneCh := make(chan struct{})
	observability.Go(ctx, func(context.Context) {
		d.waitGroup.Wait()
		close(doneCh)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
		logger.Debugf(ctx, "all the detach workers finished")
		return nil
	}
}
