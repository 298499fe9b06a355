package kernel

import (
	"context"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/packet"
)

type dummySource struct {
	FormatContext *astiav.FormatContext
}

var _ packet.Source = (*dummySource)(nil)

func (d *dummySource) WithOutputFormatContext(
	ctx context.Context,
	callback func(*astiav.FormatContext),
) {
	callback(d.FormatContext)
}

func (d *dummySource) String() string {
	return "dummySource"
}

func testContext() context.Context {
	l := logrus.Default().WithLevel(logger.LevelDebug)
	return logger.CtxWithLogger(context.Background(), l)
}

// newDummySource returns a source with a 640x480 H.264 stream #0 and a
// stereo AAC stream #1, both with the 1/1000 time base.
func newDummySource(t *testing.T) *dummySource {
	fmtCtx, err := astiav.AllocOutputFormatContext(nil, "null", "")
	require.NoError(t, err)
	require.NotNil(t, fmtCtx)

	video := fmtCtx.NewStream(nil)
	video.SetIndex(0)
	video.SetTimeBase(astiav.NewRational(1, 1000))
	video.CodecParameters().SetMediaType(astiav.MediaTypeVideo)
	video.CodecParameters().SetCodecID(astiav.CodecIDH264)
	video.CodecParameters().SetWidth(640)
	video.CodecParameters().SetHeight(480)

	audio := fmtCtx.NewStream(nil)
	audio.SetIndex(1)
	audio.SetTimeBase(astiav.NewRational(1, 1000))
	audio.CodecParameters().SetMediaType(astiav.MediaTypeAudio)
	audio.CodecParameters().SetCodecID(astiav.CodecIDAac)
	audio.CodecParameters().SetSampleRate(48000)
	audio.CodecParameters().SetChannelLayout(astiav.ChannelLayoutStereo)

	return &dummySource{FormatContext: fmtCtx}
}

func (d *dummySource) packet(
	t *testing.T,
	streamIndex int,
	dts, pts, dur int64,
	isKey bool,
) packet.Output {
	pkt := packet.Pool.Get()
	require.NoError(t, pkt.FromData([]byte{0, 0, 0, 1, 0x65}))
	pkt.SetStreamIndex(streamIndex)
	pkt.SetDts(dts)
	pkt.SetPts(pts)
	pkt.SetDuration(dur)
	if isKey {
		pkt.SetFlags(pkt.Flags().Add(astiav.PacketFlagKey))
	}
	return packet.BuildOutput(pkt, d.FormatContext.Streams()[streamIndex], d)
}
