package merge

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/xsync"
)

// Concat is the merge stage. The zero value is not usable, use New.
type Concat[P any] struct {
	Config  Config
	Retimer Retimer[P]

	locker      xsync.Mutex
	inputs      []*Input[P]
	sealed      bool
	changedCh   chan struct{}
	nextInputID InputID

	closeOnce sync.Once
	closeCh   chan struct{}

	activeSlot atomic.Int64
	forwarded  atomic.Uint64
	dropped    atomic.Uint64
	splices    atomic.Uint64
}

type Stats struct {
	Inputs    int
	Forwarded uint64
	Dropped   uint64
	Splices   uint64
}

func New[P any](
	cfg Config,
	retimer Retimer[P],
) (*Concat[P], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c := &Concat[P]{
		Config:    cfg,
		Retimer:   retimer,
		changedCh: make(chan struct{}),
		closeCh:   make(chan struct{}),
	}
	c.activeSlot.Store(-1)
	return c, nil
}

func (c *Concat[P]) String() string {
	return xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &c.locker, func() string {
		var result []string
		for _, in := range c.inputs {
			s := in.String()
			if in.IsDrained() {
				s += "(drained)"
			}
			result = append(result, s)
		}
		return fmt.Sprintf("Concat(%s)", strings.Join(result, ", "))
	})
}

// notifyLocked wakes up everybody waiting for a change of the input set.
func (c *Concat[P]) notifyLocked() {
	close(c.changedCh)
	c.changedCh = make(chan struct{})
}

// AddInput appends a new input to the consumption order. The input becomes
// active once every input linked before it is drained.
func (c *Concat[P]) AddInput(
	ctx context.Context,
	slot SlotID,
	opts ...InputOption[P],
) (_ret *Input[P], _err error) {
	logger.Debugf(ctx, "AddInput(ctx, %d)", slot)
	defer func() { logger.Debugf(ctx, "/AddInput(ctx, %d): %v %v", slot, _ret, _err) }()
	return xsync.DoA3R2(ctx, &c.locker, c.addInputLocked, ctx, slot, InputOptions[P](opts).Config())
}

func (c *Concat[P]) addInputLocked(
	_ context.Context,
	slot SlotID,
	cfg InputConfig[P],
) (*Input[P], error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if c.sealed {
		return nil, ErrSealed
	}
	for _, in := range c.inputs {
		if in.Slot == slot {
			return nil, ErrSlotBusy{Slot: slot}
		}
	}
	c.nextInputID++
	in := &Input[P]{
		ID:        c.nextInputID,
		Slot:      slot,
		Config:    cfg,
		concat:    c,
		queue:     make(chan item[P], c.Config.InputQueueSize),
		drainedCh: make(chan struct{}),
	}
	c.inputs = append(c.inputs, in)
	c.notifyLocked()
	return in, nil
}

// RemoveInput waits until the input is drained and unlinks it. If the
// stage is closed the input is unlinked without waiting.
func (c *Concat[P]) RemoveInput(
	ctx context.Context,
	in *Input[P],
) (_err error) {
	logger.Debugf(ctx, "RemoveInput(ctx, %s)", in)
	defer func() { logger.Debugf(ctx, "/RemoveInput(ctx, %s): %v", in, _err) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.CloseChan():
		in.releaseQueued()
	case <-in.Drained():
	}
	c.locker.Do(ctx, func() {
		idx := slices.Index(c.inputs, in)
		if idx < 0 {
			return
		}
		c.inputs = slices.Delete(c.inputs, idx, idx+1)
		c.notifyLocked()
	})
	return nil
}

// Seal makes the stage refuse new inputs. Once all the remaining inputs are
// drained the output is closed.
func (c *Concat[P]) Seal(ctx context.Context) {
	logger.Debugf(ctx, "Seal")
	c.locker.Do(ctx, func() {
		if c.sealed {
			return
		}
		c.sealed = true
		c.notifyLocked()
	})
}

func (c *Concat[P]) IsSealed(ctx context.Context) bool {
	return xsync.DoR1(ctx, &c.locker, func() bool {
		return c.sealed
	})
}

// Close aborts the stage: blocked producers and Serve return.
func (c *Concat[P]) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	return nil
}

func (c *Concat[P]) CloseChan() <-chan struct{} {
	return c.closeCh
}

func (c *Concat[P]) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// ReadyInputs returns the amount of linked inputs which are not drained yet.
func (c *Concat[P]) ReadyInputs(ctx context.Context) int {
	return xsync.DoR1(ctx, &c.locker, func() int {
		count := 0
		for _, in := range c.inputs {
			if !in.IsDrained() {
				count++
			}
		}
		return count
	})
}

// ActiveSlot returns the slot of the input being consumed, or -1.
func (c *Concat[P]) ActiveSlot() SlotID {
	return SlotID(c.activeSlot.Load())
}

func (c *Concat[P]) Stats(ctx context.Context) Stats {
	return Stats{
		Inputs:    xsync.DoR1(ctx, &c.locker, func() int { return len(c.inputs) }),
		Forwarded: c.forwarded.Load(),
		Dropped:   c.dropped.Load(),
		Splices:   c.splices.Load(),
	}
}

// Serve consumes the inputs one by one and writes the packets to out.
// It closes out when it returns. A nil error means the stage was sealed and
// every input was drained (terminal end-of-stream).
func (c *Concat[P]) Serve(
	ctx context.Context,
	out chan<- P,
) (_err error) {
	logger.Debugf(ctx, "Serve")
	defer func() { logger.Debugf(ctx, "/Serve: %v", _err) }()
	defer close(out)
	defer c.activeSlot.Store(-1)

	for {
		in, err := c.waitNextInput(ctx)
		if err != nil {
			return err
		}
		if in == nil {
			logger.Debugf(ctx, "sealed and drained, end-of-stream")
			return nil
		}

		logger.Debugf(ctx, "switching to %s", in)
		c.activeSlot.Store(int64(in.Slot))
		c.splices.Add(1)
		if c.Retimer != nil {
			c.Retimer.BeginSegment(ctx, in.Slot)
		}
		if err := c.forward(ctx, in, out); err != nil {
			return err
		}

		c.locker.Do(ctx, func() {
			in.isDrained.Store(true)
			close(in.drainedCh)
			c.notifyLocked()
		})
		logger.Debugf(ctx, "%s is drained", in)
		if fn := in.Config.OnDrained; fn != nil {
			fn(ctx)
		}
	}
}

func (c *Concat[P]) waitNextInput(
	ctx context.Context,
) (*Input[P], error) {
	for {
		var (
			next      *Input[P]
			sealed    bool
			changedCh chan struct{}
		)
		c.locker.Do(ctx, func() {
			for _, in := range c.inputs {
				if !in.IsDrained() {
					next = in
					break
				}
			}
			sealed = c.sealed
			changedCh = c.changedCh
		})
		switch {
		case next != nil:
			return next, nil
		case sealed:
			return nil, nil
		}

		logger.Tracef(ctx, "no inputs to consume, waiting")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.CloseChan():
			return nil, ErrClosed
		case <-changedCh:
		}
	}
}

func (c *Concat[P]) forward(
	ctx context.Context,
	in *Input[P],
	out chan<- P,
) error {
	for {
		var it item[P]
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.CloseChan():
			return ErrClosed
		case it = <-in.queue:
		}
		if it.EndOfStream {
			return nil
		}

		pkt := it.Packet
		if c.Retimer != nil {
			var ok bool
			pkt, ok = c.Retimer.Retime(ctx, pkt)
			if !ok {
				c.dropped.Add(1)
				continue
			}
		}

		select {
		case <-ctx.Done():
			in.releasePacket(pkt)
			return ctx.Err()
		case <-c.CloseChan():
			in.releasePacket(pkt)
			return ErrClosed
		case out <- pkt:
			c.forwarded.Add(1)
		}
	}
}
