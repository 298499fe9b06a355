package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/avloop/avconv"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/merge"
	"github.com/xaionaro-go/avloop/packet"
	"github.com/xaionaro-go/xsync"
)

// SpliceRetimer shifts the timestamps of every pass of the file, so that it
// starts where the previous pass ended.
//
// The first pass keeps its timestamps. A single offset is used for all the
// streams of a pass, to keep them in sync; if a stream would get a DTS from
// its past anyway, the offset is increased for the rest of the pass.
type SpliceRetimer struct {
	locker     xsync.Mutex
	segments   uint64
	needOffset bool
	offset     time.Duration
	segmentEnd time.Duration
	lastDTS    map[int]int64
	stats      SpliceRetimerStats
}

var _ merge.Retimer[packet.Output] = (*SpliceRetimer)(nil)

type SpliceRetimerStats struct {
	Segments    uint64
	Packets     uint64
	Untimed     uint64
	Adjustments uint64
	Offset      time.Duration
}

func NewSpliceRetimer() *SpliceRetimer {
	return &SpliceRetimer{
		lastDTS: map[int]int64{},
	}
}

func (r *SpliceRetimer) String() string {
	return "SpliceRetimer"
}

func (r *SpliceRetimer) BeginSegment(
	ctx context.Context,
	slot merge.SlotID,
) {
	r.locker.Do(ctx, func() {
		r.segments++
		r.stats.Segments = r.segments
		r.needOffset = r.segments > 1
		logger.Debugf(ctx, "segment #%d (slot %d) begins at %v", r.segments, slot, r.segmentEnd)
	})
}

func (r *SpliceRetimer) Retime(
	ctx context.Context,
	pkt packet.Output,
) (packet.Output, bool) {
	if pkt.Packet == nil || pkt.StreamInfo == nil {
		logger.Errorf(ctx, "a packet without a stream; dropping")
		pkt.Release()
		return pkt, false
	}
	return xsync.DoA2R2(ctx, &r.locker, r.retimeLocked, ctx, pkt)
}

func (r *SpliceRetimer) retimeLocked(
	ctx context.Context,
	pkt packet.Output,
) (packet.Output, bool) {
	r.stats.Packets++
	c := pkt.Commons()
	ts, ok := c.FirstTimestamp()
	if !ok {
		r.stats.Untimed++
		return pkt, true
	}
	timeBase := c.GetTimeBase()
	tsDuration := avconv.Duration(ts, timeBase)

	if r.needOffset {
		r.offset = r.segmentEnd - tsDuration
		r.needOffset = false
		logger.Debugf(ctx, "new offset: %v", r.offset)
	}

	// compared in ticks: the rounded offset may land on the last DTS
	streamIndex := c.GetStreamIndex()
	offsetTicks := avconv.FromDuration(r.offset, timeBase)
	if last, ok := r.lastDTS[streamIndex]; ok && ts+offsetTicks <= last {
		needTicks := last - ts + 1
		logger.Warnf(ctx, "stream #%d: DTS %d is not after %d, increasing the offset by %d ticks", streamIndex, ts+offsetTicks, last, needTicks-offsetTicks)
		offsetTicks = needTicks
		r.offset = avconv.Duration(offsetTicks, timeBase)
		r.stats.Adjustments++
	}
	r.stats.Offset = r.offset

	if offsetTicks != 0 {
		avconv.ShiftTimestamps(pkt.Packet, offsetTicks)
	}

	if ts, ok := c.FirstTimestamp(); ok {
		r.lastDTS[streamIndex] = ts
	}
	if end, ok := c.EndAsDuration(); ok && end > r.segmentEnd {
		r.segmentEnd = end
	}
	return pkt, true
}

func (r *SpliceRetimer) Stats(ctx context.Context) SpliceRetimerStats {
	return xsync.DoR1(ctx, &r.locker, func() SpliceRetimerStats {
		return r.stats
	})
}

func (s SpliceRetimerStats) String() string {
	return fmt.Sprintf(
		"segments:%d packets:%d untimed:%d adjustments:%d offset:%v",
		s.Segments, s.Packets, s.Untimed, s.Adjustments, s.Offset,
	)
}
