// duration.go converts between libav timestamps and time.Duration.

// Package avconv converts libav values into Go values and back.
package avconv

import (
	"math"
	"time"

	"github.com/asticode/go-astiav"
)

// NoPTSValue is AV_NOPTS_VALUE: the timestamp is not set.
const NoPTSValue = math.MinInt64

// NoDuration is what Duration returns for NoPTSValue.
const NoDuration = time.Duration(math.MinInt64)

func Duration(t int64, timeBase astiav.Rational) time.Duration {
	if t == NoPTSValue {
		return NoDuration
	}
	return time.Duration(math.Round(
		float64(t) * float64(time.Second) * float64(timeBase.Num()) / float64(timeBase.Den()),
	))
}

// FromDuration is the inverse of Duration; the result is rounded to the
// nearest tick of timeBase.
func FromDuration(d time.Duration, timeBase astiav.Rational) int64 {
	if d == NoDuration {
		return NoPTSValue
	}
	return int64(math.Round(
		float64(d) * float64(timeBase.Den()) / (float64(time.Second) * float64(timeBase.Num())),
	))
}

// ShiftTimestamps adds offset (in ticks) to every timestamp of the packet
// which is set.
func ShiftTimestamps(pkt *astiav.Packet, offset int64) {
	if dts := pkt.Dts(); dts != NoPTSValue {
		pkt.SetDts(dts + offset)
	}
	if pts := pkt.Pts(); pts != NoPTSValue {
		pkt.SetPts(pts + offset)
	}
}
