package branchpool

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avloop/internal"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/merge"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

// OnBranchEnd is called once a branch stopped reading, right before it
// sends its end-of-stream to the merge stage. It never tears the branch down
// on the calling goroutine, but it prepares the replacement: by the time
// the end-of-stream is sent the replacement is either linked or pending.
// Unknown indices and repeated notifications are ignored.
func (p *Pool[P]) OnBranchEnd(
	ctx context.Context,
	index BranchIndex,
) {
	logger.Debugf(ctx, "OnBranchEnd(ctx, %d)", index)
	defer func() { logger.Debugf(ctx, "/OnBranchEnd(ctx, %d)", index) }()

	needReplacement := xsync.DoR1(ctx, &p.locker, func() bool {
		b := p.branches[index]
		if b == nil {
			logger.Debugf(ctx, "branch #%d is unknown (already destroyed?)", index)
			return false
		}
		if b.State() != BranchStateDraining || !b.endReported.CompareAndSwap(false, true) {
			logger.Debugf(ctx, "%s: unexpected or repeated end notification (state: %s), ignoring", b, b.State())
			return false
		}
		p.ended.Add(1)
		if p.stopping {
			logger.Debugf(ctx, "stopping, %s will be removed on close", b)
			return false
		}
		return p.recycleLocked(ctx, b)
	})
	if !needReplacement {
		return
	}
	defer p.replacing.Done()
	if err := p.replace(ctx); err != nil {
		p.handleError(ctx, err)
	}
}

// recycleLocked schedules the teardown of the finished branch. It returns
// true if a replacement must be created.
func (p *Pool[P]) recycleLocked(
	ctx context.Context,
	old *Branch[P],
) bool {
	if !old.compareAndSwapState(ctx, BranchStateDraining, BranchStateDetaching) {
		logger.Debugf(ctx, "%s is already %s", old, old.State())
		return false
	}
	p.enqueueDetachLocked(ctx, old)
	p.recycled.Add(1)
	p.replacing.Add(1)
	return true
}

// replace opens the sources of a replacement branch without holding the
// pool lock and links them, or parks them as pending if all slots are taken.
func (p *Pool[P]) replace(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "replace")
	defer func() { logger.Debugf(ctx, "/replace: %v", _err) }()

	reader, demuxer, err := p.openSources(ctx)
	if err != nil {
		if p.IsStopping(ctx) {
			logger.Debugf(ctx, "stopping, ignoring: %v", err)
			p.dropped.Add(1)
			return nil
		}
		return fmt.Errorf("unable to create a replacement branch: %w", err)
	}

	var (
		dropped bool
		linkErr error
	)
	p.locker.Do(ctx, func() {
		if p.stopping {
			dropped = true
			return
		}
		if _, ok := p.peekFreeSlotLocked(); !ok {
			p.pending = append(p.pending, pendingReplacement[P]{Reader: reader, Demuxer: demuxer})
			logger.Debugf(ctx, "no free slot, pending replacements: %d", len(p.pending))
			return
		}
		_, linkErr = p.linkBranchLocked(ctx, reader, demuxer)
	})
	switch {
	case dropped:
		logger.Debugf(ctx, "stopping, dropping the replacement")
		p.closeSources(ctx, reader, demuxer)
		p.dropped.Add(1)
		return nil
	case linkErr != nil:
		p.closeSources(ctx, reader, demuxer)
		return fmt.Errorf("unable to link a replacement branch: %w", linkErr)
	}
	return nil
}

// linkPendingLocked links the oldest pending replacement if there is a
// free slot. It returns the sources it could not link.
func (p *Pool[P]) linkPendingLocked(
	ctx context.Context,
) (*pendingReplacement[P], error) {
	if p.stopping || len(p.pending) == 0 {
		return nil, nil
	}
	if _, ok := p.peekFreeSlotLocked(); !ok {
		return nil, nil
	}
	r := p.pending[0]
	p.pending = p.pending[1:]
	logger.Debugf(ctx, "a slot is free, linking a pending replacement")
	if _, err := p.linkBranchLocked(ctx, r.Reader, r.Demuxer); err != nil {
		return &r, fmt.Errorf("unable to link a pending replacement branch: %w", err)
	}
	return nil, nil
}

func (p *Pool[P]) peekFreeSlotLocked() (merge.SlotID, bool) {
	for i := range len(p.slots) {
		slot := (p.slotCursor + i) % len(p.slots)
		if p.slots[slot] == nil {
			return merge.SlotID(slot), true
		}
	}
	return -1, false
}

// linkBranchLocked binds the sources to a new merge input in the next free
// slot (round-robin) and starts streaming.
func (p *Pool[P]) linkBranchLocked(
	ctx context.Context,
	reader Reader,
	demuxer Demuxer[P],
) (*Branch[P], error) {
	if p.stopping {
		return nil, ErrStopping
	}
	slot, ok := p.peekFreeSlotLocked()
	if !ok {
		return nil, ErrNoFreeSlot{}
	}

	b := &Branch[P]{
		Slot:    slot,
		Reader:  reader,
		Demuxer: demuxer,
		doneCh:  make(chan struct{}),
	}
	input, err := p.Merge.AddInput(
		ctx, slot,
		merge.InputOptionOnDrained[P](func(ctx context.Context) {
			p.onBranchDrained(ctx, b)
		}),
		merge.InputOptionReleasePacket[P](demuxer.ReleasePacket),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to add a merge input: %w", err)
	}
	p.slotCursor = (int(slot) + 1) % len(p.slots)
	p.lastIndex++

	b.Index = p.lastIndex
	b.Input = input
	b.readCtx, b.readCancelFn = context.WithCancel(p.ctx)
	b.setState(ctx, BranchStateLinked)
	p.slots[slot] = b
	p.branches[b.Index] = b
	p.created.Add(1)

	observability.Go(p.ctx, func(ctx context.Context) {
		b.stream(ctx, p.OnBranchEnd, p.handleError)
	})
	p.notifyLocked(ctx, p.Config.OnBranchLinked, b)
	return b, nil
}

// onBranchDrained is called by the merge stage right after the last packet
// of the branch was forwarded and before it looks for the next input. The
// slot of the branch is freed and a pending replacement takes it, so the
// merge stage finds it on its next lookup.
func (p *Pool[P]) onBranchDrained(
	ctx context.Context,
	b *Branch[P],
) {
	logger.Debugf(ctx, "onBranchDrained(ctx, %s)", b)
	defer func() { logger.Debugf(ctx, "/onBranchDrained(ctx, %s)", b) }()

	if err := p.Merge.RemoveInput(ctx, b.Input); err != nil {
		logger.Errorf(ctx, "unable to remove the merge input of %s: %v", b, err)
	}

	var (
		unlinked *pendingReplacement[P]
		err      error
	)
	p.locker.Do(ctx, func() {
		p.unlinkLocked(ctx, b)
		unlinked, err = p.linkPendingLocked(ctx)
		if p.stopping {
			return
		}
		if p.Merge.ReadyInputs(ctx) == 0 {
			p.starvations.Add(1)
			logger.Warnf(ctx, "%s is drained and the merge stage has no ready input", b)
		}
	})
	if unlinked != nil {
		p.closeSources(ctx, unlinked.Reader, unlinked.Demuxer)
	}
	if err != nil {
		p.handleError(ctx, err)
	}
}

// unlinkLocked frees the slot of the branch if it still holds it.
func (p *Pool[P]) unlinkLocked(
	ctx context.Context,
	b *Branch[P],
) {
	if p.slots[b.Slot] != b {
		return
	}
	p.slots[b.Slot] = nil
	logger.Debugf(ctx, "slot %d is free", b.Slot)
	p.notifyLocked(ctx, p.Config.OnBranchUnlinked, b)
}

func (p *Pool[P]) notifyLocked(
	ctx context.Context,
	callback func(context.Context, BranchInfo),
	b *Branch[P],
) {
	if callback == nil || p.notifier == nil {
		return
	}
	info := b.Info()
	p.notifier.enqueue(ctx, func(ctx context.Context) {
		callback(ctx, info)
	})
}

func (p *Pool[P]) enqueueDetachLocked(
	ctx context.Context,
	b *Branch[P],
) {
	logger.Debugf(ctx, "scheduling the detach of %s", b)
	p.detacher.enqueue(ctx, func(ctx context.Context) {
		p.detach(ctx, b)
	})
}

// detach unlinks the branch from the merge stage once it is drained, stops
// and closes its elements and removes it from the pool.
func (p *Pool[P]) detach(
	ctx context.Context,
	b *Branch[P],
) {
	logger.Debugf(ctx, "detach(ctx, %s)", b)
	defer func() { logger.Debugf(ctx, "/detach(ctx, %s)", b) }()

	goroutineID := internal.CurrentGoroutineID()
	b.detachGoID.Store(int64(goroutineID))
	internal.Assert(
		ctx,
		goroutineID != internal.GoroutineID(b.streamingGoID.Load()),
		b.String(), "is being detached on its own streaming goroutine",
	)

	if err := p.Merge.RemoveInput(ctx, b.Input); err != nil {
		logger.Errorf(ctx, "unable to remove the merge input of %s: %v", b, err)
	}
	b.stopReading()
	<-b.doneCh
	p.closeSources(ctx, b.Reader, b.Demuxer)

	var (
		unlinked *pendingReplacement[P]
		err      error
	)
	p.locker.Do(ctx, func() {
		p.unlinkLocked(ctx, b)
		delete(p.branches, b.Index)
		b.setState(ctx, BranchStateDestroyed)
		p.destroyed.Add(1)
		p.notifyLocked(ctx, p.Config.OnBranchDestroyed, b)
		unlinked, err = p.linkPendingLocked(ctx)
	})
	if unlinked != nil {
		p.closeSources(ctx, unlinked.Reader, unlinked.Demuxer)
	}
	if err != nil {
		p.handleError(ctx, err)
	}
}
