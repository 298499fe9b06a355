package branchpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avloop/merge"
	"github.com/xaionaro-go/avloop/types"
	"pgregory.net/rapid"
)

// requireContiguousPasses checks that the passes never interleave and each
// of them starts from the beginning of the file. If allowCuts is false every
// pass must also be complete. It returns the amount of passes seen.
//
// Readers are opened concurrently, so their IDs do not follow the link order.
func requireContiguousPasses(
	t require.TestingT,
	pkts []fakePacket,
	packetsPerPass int,
	allowCuts bool,
) int {
	seen := map[int]bool{}
	for idx, pkt := range pkts {
		if idx == 0 {
			seen[pkt.ReaderID] = true
			continue
		}
		prev := pkts[idx-1]
		if pkt.ReaderID == prev.ReaderID {
			require.Equal(t, prev.Seq+1, pkt.Seq, "packet #%d", idx)
			continue
		}
		if !allowCuts {
			require.Equal(t, packetsPerPass-1, prev.Seq, "pass of reader %d is cut at packet #%d", prev.ReaderID, idx)
		}
		require.Equal(t, 0, pkt.Seq, "pass of reader %d does not start from the beginning", pkt.ReaderID)
		require.False(t, seen[pkt.ReaderID], "pass of reader %d is interleaved", pkt.ReaderID)
		seen[pkt.ReaderID] = true
	}
	return len(seen)
}

// requireEventsConsistent checks the slot occupancy, the index order and
// the goroutines which reported and performed the teardown.
func requireEventsConsistent(t require.TestingT, events []event) {
	occupied := map[int]BranchIndex{}
	unlinked := map[BranchIndex]bool{}
	destroyed := map[BranchIndex]bool{}
	var lastIndex BranchIndex
	for _, ev := range events {
		slot := int(ev.Info.Slot)
		switch ev.Kind {
		case eventLinked:
			require.Equal(t, lastIndex+1, ev.Info.Index, "indexes must be strictly increasing and never reused")
			lastIndex = ev.Info.Index
			_, busy := occupied[slot]
			require.False(t, busy, "slot %d is linked twice", slot)
			occupied[slot] = ev.Info.Index
		case eventUnlinked:
			require.Equal(t, ev.Info.Index, occupied[slot])
			delete(occupied, slot)
			unlinked[ev.Info.Index] = true
		case eventDestroyed:
			require.True(t, unlinked[ev.Info.Index], "branch #%d is destroyed while holding a slot", ev.Info.Index)
			require.False(t, destroyed[ev.Info.Index], "branch #%d is destroyed twice", ev.Info.Index)
			destroyed[ev.Info.Index] = true
			require.Equal(t, BranchStateDestroyed, ev.Info.State)
			require.NotZero(t, ev.Info.DetachGoroutine)
			require.NotEqual(t, ev.Info.StreamingGoroutine, ev.Info.DetachGoroutine)
			if ev.Info.EndGoroutine != 0 {
				require.NotEqual(t, ev.Info.EndGoroutine, ev.Info.DetachGoroutine)
			}
		}
	}
	require.Empty(t, occupied)
	require.Len(t, destroyed, int(lastIndex))
}

// countReplacements returns the amount of branches linked after Initialize.
func countReplacements(events []event, branchCount uint) uint64 {
	var result uint64
	for _, ev := range events {
		if ev.Kind == eventLinked && ev.Info.Index > BranchIndex(branchCount) {
			result++
		}
	}
	return result
}

func TestPoolRecyclesBranches(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	const packetsPerPass = 3
	h := newHarness(ctx, t, &fakeFactory{PacketsPerPass: packetsPerPass})
	require.NoError(t, h.Pool.Initialize(ctx, "file.mp4"))

	pkts := h.Consume(10 * packetsPerPass)
	pkts = append(pkts, h.Stop()...)
	require.GreaterOrEqual(t, requireContiguousPasses(t, pkts, packetsPerPass, true), 10)

	stats := h.Pool.Stats(ctx)
	require.Equal(t, uint64(DefaultBranchCount)+stats.Recycled-stats.Dropped, stats.Created)
	require.Equal(t, stats.Created, stats.Destroyed)
	require.Zero(t, stats.Starvations)
	require.Zero(t, stats.Live)
	require.Zero(t, stats.Pending)
	require.Empty(t, h.Pool.Branches(ctx))
	require.Empty(t, h.Errors())
	require.True(t, h.Factory.allClosed())
	requireEventsConsistent(t, h.Events())
}

func TestPoolReplacementLinkedBeforeOldIsDestroyed(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	h := newHarness(ctx, t, &fakeFactory{PacketsPerPass: 2})
	require.NoError(t, h.Pool.Initialize(ctx, "file.mp4"))
	h.Consume(6)
	h.Stop()

	linked3, destroyed1 := -1, -1
	for idx, ev := range h.Events() {
		switch {
		case ev.Kind == eventLinked && ev.Info.Index == 3:
			linked3 = idx
		case ev.Kind == eventDestroyed && ev.Info.Index == 1:
			destroyed1 = idx
		}
	}
	require.NotEqual(t, -1, linked3)
	require.NotEqual(t, -1, destroyed1)
	require.Less(t, linked3, destroyed1)
}

func TestPoolPendingReplacement(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	const packetsPerPass = 2
	h := newHarness(ctx, t, &fakeFactory{PacketsPerPass: packetsPerPass},
		OptionBranchCount(2),
		OptionSlotCount(2),
	)
	require.NoError(t, h.Pool.Initialize(ctx, "file.mp4"))

	pkts := h.Consume(8 * packetsPerPass)
	pkts = append(pkts, h.Stop()...)
	requireContiguousPasses(t, pkts, packetsPerPass, true)

	stats := h.Pool.Stats(ctx)
	require.GreaterOrEqual(t, stats.Created, uint64(8))
	require.Equal(t, stats.Created, stats.Destroyed)
	require.Zero(t, stats.Starvations)
	require.Zero(t, stats.Pending)
	require.True(t, h.Factory.allClosed())
	require.Empty(t, h.Errors())
	requireEventsConsistent(t, h.Events())
}

func TestPoolDrainOnStop(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	const packetsPerPass = 5
	h := newHarness(ctx, t, &fakeFactory{PacketsPerPass: packetsPerPass},
		OptionDrainOnStop(true),
	)
	require.NoError(t, h.Pool.Initialize(ctx, "file.mp4"))

	// both branches are draining their only pass when the stop arrives
	pkts := h.Stop()
	require.Len(t, pkts, 2*packetsPerPass)
	requireContiguousPasses(t, pkts, packetsPerPass, false)

	stats := h.Pool.Stats(ctx)
	require.Equal(t, uint64(2), stats.Created)
	require.Equal(t, uint64(2), stats.Ended)
	require.Zero(t, stats.Recycled)
	require.Equal(t, uint64(2), stats.Destroyed)
	require.True(t, h.Factory.allClosed())
}

func TestPoolStopInterruptsReading(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	h := newHarness(ctx, t, &fakeFactory{PacketsPerPass: -1})
	require.NoError(t, h.Pool.Initialize(ctx, "file.mp4"))
	h.Consume(100)
	h.Stop()

	stats := h.Pool.Stats(ctx)
	require.Equal(t, uint64(2), stats.Created)
	require.Zero(t, stats.Recycled)
	require.Equal(t, uint64(2), stats.Destroyed)
	require.True(t, h.Factory.allClosed())
}

func TestPoolIgnoresUnexpectedEndNotifications(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	h := newHarness(ctx, t, &fakeFactory{PacketsPerPass: -1})
	require.NoError(t, h.Pool.Initialize(ctx, "file.mp4"))

	for range 3 {
		h.Pool.OnBranchEnd(ctx, 1)
	}
	h.Pool.OnBranchEnd(ctx, 42)

	stats := h.Pool.Stats(ctx)
	require.Zero(t, stats.Ended)
	require.Equal(t, uint64(2), stats.Created)
	branches := h.Pool.Branches(ctx)
	require.Len(t, branches, 2)
	require.Equal(t, BranchIndex(1), branches[0].Index)
	require.Equal(t, BranchStateLinked, branches[0].State)

	h.Stop()
}

func TestPoolInitializeFailure(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	t.Run("reader", func(t *testing.T) {
		h := newHarness(ctx, t, &fakeFactory{PacketsPerPass: 1, FailReaderNumber: 2})
		err := h.Pool.Initialize(ctx, "file.mp4")
		require.Error(t, err)
		require.ErrorAs(t, err, &types.ErrIO{})
		require.True(t, h.Factory.allClosed())
		require.Zero(t, h.Pool.Stats(ctx).Created)
		require.NoError(t, h.Pool.Close(ctx))
	})

	t.Run("demuxer", func(t *testing.T) {
		h := newHarness(ctx, t, &fakeFactory{PacketsPerPass: 1, FailDemuxer: true})
		err := h.Pool.Initialize(ctx, "file.mp4")
		require.ErrorAs(t, err, &types.ErrProtocol{})
		require.True(t, h.Factory.allClosed())
		require.NoError(t, h.Pool.Close(ctx))
	})
}

func TestPoolReadErrorIsReported(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	h := newHarness(ctx, t, &fakeFactory{ReadErr: types.ErrProtocol{Component: "demuxer"}})
	require.NoError(t, h.Pool.Initialize(ctx, "file.mp4"))

	require.Eventually(t, func() bool {
		return len(h.Errors()) == 2
	}, 5*time.Second, time.Millisecond)
	for _, err := range h.Errors() {
		require.ErrorAs(t, err, &ErrBranch{})
		require.ErrorAs(t, err, &types.ErrProtocol{})
	}
	require.Zero(t, h.Pool.Stats(ctx).Ended)

	require.NoError(t, h.Merge.Close(ctx))
	require.NoError(t, h.Pool.Close(ctx))
	require.True(t, h.Factory.allClosed())
}

func TestPoolConfigValidation(t *testing.T) {
	for _, opts := range [][]Option{
		{OptionBranchCount(1)},
		{OptionBranchCount(6)},
		{OptionBranchCount(3), OptionSlotCount(2)},
		{OptionDetachWorkers(0)},
	} {
		_, err := New[fakePacket](&fakeFactory{}, nil, nil, opts...)
		require.Error(t, err)
	}
}

func TestPoolRecyclingProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		branchCount := rapid.UintRange(MinBranchCount, MaxBranchCount).Draw(rt, "branchCount")
		slotCount := rapid.UintRange(branchCount, branchCount+2).Draw(rt, "slotCount")
		workers := rapid.UintRange(1, 3).Draw(rt, "workers")
		packetsPerPass := rapid.IntRange(1, 4).Draw(rt, "packetsPerPass")
		consume := rapid.IntRange(0, 40).Draw(rt, "consume")
		drainOnStop := rapid.Bool().Draw(rt, "drainOnStop")

		ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelFn()

		h := newHarness(ctx, rt, &fakeFactory{PacketsPerPass: packetsPerPass},
			OptionBranchCount(branchCount),
			OptionSlotCount(slotCount),
			OptionDetachWorkers(workers),
			OptionDrainOnStop(drainOnStop),
		)
		require.NoError(rt, h.Pool.Initialize(ctx, "file.mp4"))
		pkts := h.Consume(consume)
		pkts = append(pkts, h.Stop()...)
		requireContiguousPasses(rt, pkts, packetsPerPass, !drainOnStop)

		stats := h.Pool.Stats(ctx)
		events := h.Events()

		// no starvation: every time an input was drained while the pool
		// was not stopping, another input was ready
		require.Zero(rt, stats.Starvations)

		// exactly one replacement per end-of-stream while not stopping,
		// except for the ones dropped by the stop
		require.LessOrEqual(rt, stats.Recycled, stats.Ended)
		require.Equal(rt, uint64(branchCount)+stats.Recycled-stats.Dropped, stats.Created)
		require.Equal(rt, stats.Recycled-stats.Dropped, countReplacements(events, branchCount))

		require.Equal(rt, stats.Created, stats.Destroyed)
		require.Zero(rt, stats.Live)
		require.Zero(rt, stats.Pending)
		require.Empty(rt, h.Errors())
		require.True(rt, h.Factory.allClosed())
		requireEventsConsistent(rt, events)
	})
}

func TestPoolNeverStarvesWithoutSpareSlot(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	// one packet per pass fills the merge queues with back-to-back ends
	h := newHarness(ctx, t, &fakeFactory{PacketsPerPass: 1},
		OptionBranchCount(2),
		OptionSlotCount(2),
		OptionDetachWorkers(1),
	)
	require.NoError(t, h.Pool.Initialize(ctx, "file.mp4"))

	pkts := h.Consume(200)
	pkts = append(pkts, h.Stop()...)
	requireContiguousPasses(t, pkts, 1, false)

	stats := h.Pool.Stats(ctx)
	require.Zero(t, stats.Starvations)
	require.Equal(t, uint64(2)+stats.Recycled-stats.Dropped, stats.Created)
	require.Empty(t, h.Errors())
	require.True(t, h.Factory.allClosed())
	requireEventsConsistent(t, h.Events())
}

func TestPoolCallbacksMayCallThePool(t *testing.T) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelFn()

	mergeStage, err := merge.New[fakePacket](merge.Config{InputQueueSize: 4}, nil)
	require.NoError(t, err)

	var (
		pool  *Pool[fakePacket]
		calls atomic.Uint64
	)
	callback := func(ctx context.Context, info BranchInfo) {
		assert.GreaterOrEqual(t, pool.Stats(ctx).Created, uint64(info.Index))
		assert.NotNil(t, pool.Branches(ctx))
		pool.IsStopping(ctx)
		calls.Add(1)
	}
	factory := &fakeFactory{PacketsPerPass: 2}
	pool, err = New[fakePacket](factory, mergeStage, nil,
		OptionOnBranchLinked(callback),
		OptionOnBranchUnlinked(callback),
		OptionOnBranchDestroyed(callback),
	)
	require.NoError(t, err)

	out := make(chan fakePacket)
	serveCh := make(chan error, 1)
	go func() {
		serveCh <- mergeStage.Serve(ctx, out)
	}()

	requireReturns(t, "Initialize", func() {
		assert.NoError(t, pool.Initialize(ctx, "file.mp4"))
	})
	for range 10 {
		select {
		case <-out:
		case <-time.After(5 * time.Second):
			require.FailNow(t, "the merge output stalled")
		}
	}
	requireReturns(t, "Shutdown", func() {
		assert.NoError(t, pool.Shutdown(ctx))
	})
	for range out {
	}
	require.NoError(t, <-serveCh)
	requireReturns(t, "Close", func() {
		assert.NoError(t, pool.Close(ctx))
	})

	stats := pool.Stats(ctx)
	require.Equal(t, stats.Created, stats.Destroyed)
	require.Equal(t, 3*stats.Created, calls.Load())
	require.True(t, factory.allClosed())
}

func requireReturns(t *testing.T, name string, fn func()) {
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		fn()
	}()
	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "deadlock", "%s did not return", name)
	}
}
