// Package packet wraps demuxed libav packets together with the stream and
// the demuxer they came from.
package packet

import (
	"context"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avloop/avconv"
)

// Source is whoever produced the packet. Packets keep their Source
// reachable, so its format context (and the streams) outlive the packets.
type Source interface {
	String() string
	WithOutputFormatContext(context.Context, func(*astiav.FormatContext))
}

type StreamInfo struct {
	*astiav.Stream
	Source
}

type Commons struct {
	*astiav.Packet
	*StreamInfo
}

func (pkt *Commons) GetMediaType() astiav.MediaType {
	if pkt.StreamInfo == nil || pkt.Stream == nil {
		return astiav.MediaTypeUnknown
	}
	codecParams := pkt.Stream.CodecParameters()
	if codecParams == nil {
		return astiav.MediaTypeUnknown
	}
	return codecParams.MediaType()
}

func (pkt *Commons) GetStreamIndex() int {
	return pkt.Packet.StreamIndex()
}

func (pkt *Commons) GetStream() *astiav.Stream {
	if pkt.StreamInfo == nil {
		return nil
	}
	return pkt.Stream
}

func (pkt *Commons) GetSource() Source {
	if pkt.StreamInfo == nil {
		return nil
	}
	return pkt.Source
}

func (pkt *Commons) GetTimeBase() astiav.Rational {
	return pkt.Stream.TimeBase()
}

func (pkt *Commons) PtsAsDuration() time.Duration {
	return avconv.Duration(pkt.Pts(), pkt.GetTimeBase())
}

func (pkt *Commons) DtsAsDuration() time.Duration {
	return avconv.Duration(pkt.Dts(), pkt.GetTimeBase())
}

// FirstTimestamp returns DTS, or PTS if DTS is not set. The second value is
// false if neither is set.
func (pkt *Commons) FirstTimestamp() (int64, bool) {
	switch {
	case pkt.Dts() != avconv.NoPTSValue:
		return pkt.Dts(), true
	case pkt.Pts() != avconv.NoPTSValue:
		return pkt.Pts(), true
	default:
		return avconv.NoPTSValue, false
	}
}

// EndAsDuration returns the moment the packet ends at in the decoding
// order: FirstTimestamp plus the duration.
func (pkt *Commons) EndAsDuration() (time.Duration, bool) {
	ts, ok := pkt.FirstTimestamp()
	if !ok {
		return 0, false
	}
	dur := pkt.Packet.Duration()
	if dur < 0 {
		dur = 0
	}
	return avconv.Duration(ts+dur, pkt.GetTimeBase()), true
}

type Input = Commons

func BuildInput(
	pkt *astiav.Packet,
	stream *astiav.Stream,
	source Source,
) Input {
	return Input{
		Packet:     pkt,
		StreamInfo: &StreamInfo{Stream: stream, Source: source},
	}
}

// Output is a packet travelling downstream. It is passed by value; the
// astiav.Packet inside is owned by whoever holds the Output.
type Output Commons

func BuildOutput(
	pkt *astiav.Packet,
	stream *astiav.Stream,
	source Source,
) Output {
	return Output{
		Packet:     pkt,
		StreamInfo: &StreamInfo{Stream: stream, Source: source},
	}
}

func (o *Output) Commons() *Commons {
	return (*Commons)(o)
}

func (o *Output) Input() Input {
	return Input(*o)
}

// Release returns the packet to the Pool. The Output must not be used after.
func (o *Output) Release() {
	if o.Packet == nil {
		return
	}
	Pool.Put(o.Packet)
	o.Packet = nil
}
