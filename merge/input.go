package merge

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xaionaro-go/avloop/logger"
)

type SlotID int

type InputID uint64

// InputConfig is the optional behaviour of a single input.
type InputConfig[P any] struct {
	// OnDrained is called from the goroutine running Serve, right after the
	// input is drained and before the next input is looked up. An input
	// added from OnDrained is therefore seen by the very next lookup.
	OnDrained func(ctx context.Context)

	// ReleasePacket is called for the packets the stage dequeued but could
	// not forward (the stage was closed, or the context was cancelled).
	ReleasePacket func(pkt P)
}

type InputOption[P any] interface {
	apply(*InputConfig[P])
}

type InputOptions[P any] []InputOption[P]

func (s InputOptions[P]) Config() InputConfig[P] {
	var cfg InputConfig[P]
	for _, opt := range s {
		opt.apply(&cfg)
	}
	return cfg
}

type InputOptionOnDrained[P any] func(ctx context.Context)

func (opt InputOptionOnDrained[P]) apply(cfg *InputConfig[P]) {
	cfg.OnDrained = opt
}

type InputOptionReleasePacket[P any] func(pkt P)

func (opt InputOptionReleasePacket[P]) apply(cfg *InputConfig[P]) {
	cfg.ReleasePacket = opt
}

type item[P any] struct {
	Packet      P
	EndOfStream bool
}

// Input is a single input of Concat. It is fed by exactly one producer.
type Input[P any] struct {
	ID     InputID
	Slot   SlotID
	Config InputConfig[P]

	concat    *Concat[P]
	queue     chan item[P]
	eosSent   atomic.Bool
	isDrained atomic.Bool
	drainedCh chan struct{}
	received  atomic.Uint64
}

func (in *Input[P]) String() string {
	return fmt.Sprintf("MergeInput(#%d, slot:%d)", in.ID, in.Slot)
}

// SendPacket enqueues a packet; it blocks while the queue of the input is
// full (which is the normal state for an input which is not active yet).
func (in *Input[P]) SendPacket(
	ctx context.Context,
	pkt P,
) error {
	if in.eosSent.Load() {
		return ErrEndOfStreamAlreadySent{Input: in.String()}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-in.concat.CloseChan():
		return ErrClosed
	case in.queue <- item[P]{Packet: pkt}:
		in.received.Add(1)
		return nil
	}
}

// SendEndOfStream marks the end of the input. Calling it more than once is
// a no-op.
func (in *Input[P]) SendEndOfStream(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "SendEndOfStream(%s)", in)
	defer func() { logger.Debugf(ctx, "/SendEndOfStream(%s): %v", in, _err) }()
	if !in.eosSent.CompareAndSwap(false, true) {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-in.concat.CloseChan():
		return ErrClosed
	case in.queue <- item[P]{EndOfStream: true}:
		return nil
	}
}

// Drained is closed once the merge stage consumed the end-of-stream of the
// input, i.e. all of its packets were forwarded.
func (in *Input[P]) Drained() <-chan struct{} {
	return in.drainedCh
}

func (in *Input[P]) IsDrained() bool {
	return in.isDrained.Load()
}

func (in *Input[P]) releasePacket(pkt P) {
	if fn := in.Config.ReleasePacket; fn != nil {
		fn(pkt)
	}
}

// releaseQueued releases the packets left in the queue of an input which
// will never be consumed.
func (in *Input[P]) releaseQueued() {
	for {
		select {
		case it := <-in.queue:
			if !it.EndOfStream {
				in.releasePacket(it.Packet)
			}
		default:
			return
		}
	}
}

// PacketsReceived returns the amount of packets the producer has enqueued.
func (in *Input[P]) PacketsReceived() uint64 {
	return in.received.Load()
}
