package branchpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/xaionaro-go/avloop/internal"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/merge"
)

type BranchIndex uint64

// Branch is a Reader and a Demuxer feeding one merge input. It is owned
// by the Pool.
type Branch[P any] struct {
	Index   BranchIndex
	Slot    merge.SlotID
	Reader  Reader
	Demuxer Demuxer[P]
	Input   *merge.Input[P]

	state            atomic.Int32
	readCtx          context.Context
	readCancelFn     context.CancelFunc
	doneCh           chan struct{}
	streamingGoID    atomic.Int64
	endGoID          atomic.Int64
	detachGoID       atomic.Int64
	endReported      atomic.Bool
	packetsDelivered atomic.Uint64
}

// BranchInfo is a snapshot of a branch for diagnostics.
type BranchInfo struct {
	Index            BranchIndex
	Slot             merge.SlotID
	State            BranchState
	PacketsDelivered uint64

	StreamingGoroutine internal.GoroutineID
	EndGoroutine       internal.GoroutineID
	DetachGoroutine    internal.GoroutineID
}

func (b *Branch[P]) String() string {
	return fmt.Sprintf("Branch(#%d, slot:%d)", b.Index, b.Slot)
}

func (b *Branch[P]) State() BranchState {
	return BranchState(b.state.Load())
}

func (b *Branch[P]) Info() BranchInfo {
	return BranchInfo{
		Index:              b.Index,
		Slot:               b.Slot,
		State:              b.State(),
		PacketsDelivered:   b.packetsDelivered.Load(),
		StreamingGoroutine: internal.GoroutineID(b.streamingGoID.Load()),
		EndGoroutine:       internal.GoroutineID(b.endGoID.Load()),
		DetachGoroutine:    internal.GoroutineID(b.detachGoID.Load()),
	}
}

func (b *Branch[P]) compareAndSwapState(
	ctx context.Context,
	oldState, newState BranchState,
) bool {
	if !b.state.CompareAndSwap(int32(oldState), int32(newState)) {
		return false
	}
	logger.Debugf(ctx, "%s: state %s -> %s", b, oldState, newState)
	return true
}

func (b *Branch[P]) setState(
	ctx context.Context,
	newState BranchState,
) {
	oldState := BranchState(b.state.Swap(int32(newState)))
	logger.Debugf(ctx, "%s: state %s -> %s", b, oldState, newState)
}

// stopReading makes the streaming goroutine end the pass at the next packet.
func (b *Branch[P]) stopReading() {
	b.readCancelFn()
}

// stream is the body of the streaming goroutine of the branch. Packets are
// sent with the read context, so a stop request unblocks a waiting send.
// The end is reported before the end-of-stream is sent with ctx, so both are
// only skipped on abort.
func (b *Branch[P]) stream(
	ctx context.Context,
	onEnd func(context.Context, BranchIndex),
	onError func(context.Context, error),
) {
	b.streamingGoID.Store(int64(internal.CurrentGoroutineID()))
	defer close(b.doneCh)
	logger.Debugf(ctx, "%s: streaming", b)
	defer func() { logger.Debugf(ctx, "/%s: streaming", b) }()

	for {
		pkt, err := b.Demuxer.ReadPacket(b.readCtx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debugf(ctx, "%s: reached the end of the file", b)
			case b.readCtx.Err() != nil:
				logger.Debugf(ctx, "%s: reading was stopped: %v", b, err)
			default:
				onError(ctx, ErrBranch{Index: b.Index, Err: fmt.Errorf("unable to read a packet: %w", err)})
				return
			}
			break
		}

		if err := b.Input.SendPacket(b.readCtx, pkt); err != nil {
			b.Demuxer.ReleasePacket(pkt)
			if b.readCtx.Err() != nil && ctx.Err() == nil {
				logger.Debugf(ctx, "%s: reading was stopped while sending: %v", b, err)
				break
			}
			logger.Debugf(ctx, "%s: unable to send a packet: %v", b, err)
			return
		}
		b.packetsDelivered.Add(1)
	}

	if ctx.Err() != nil {
		return
	}
	if !b.compareAndSwapState(ctx, BranchStateLinked, BranchStateDraining) {
		logger.Debugf(ctx, "%s: is already %s", b, b.State())
	}
	b.endGoID.Store(int64(internal.CurrentGoroutineID()))
	// the replacement must exist before the merge stage sees the end
	onEnd(ctx, b.Index)
	if err := b.Input.SendEndOfStream(ctx); err != nil {
		logger.Debugf(ctx, "%s: unable to send the end-of-stream: %v", b, err)
	}
}
