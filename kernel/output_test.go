package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avloop/packet"
	"github.com/xaionaro-go/avloop/types"
	"github.com/xaionaro-go/secret"
)

func TestOutputStartsOnVideoKeyFrame(t *testing.T) {
	ctx := testContext()
	src := newDummySource(t)

	out, err := NewOutput(ctx, "null", secret.New(""), OutputConfig{FormatName: "null"})
	require.NoError(t, err)
	require.Equal(t, "null", out.FormatName())

	require.NoError(t, out.SendPacket(ctx, src.packet(t, 1, 0, 0, 20, true)))
	require.NoError(t, out.SendPacket(ctx, src.packet(t, 0, 0, 0, 40, false)))
	require.False(t, out.IsStarted(ctx))
	require.Len(t, out.OutputStreams, 2)

	require.NoError(t, out.SendPacket(ctx, src.packet(t, 0, 40, 40, 40, true)))
	require.True(t, out.IsStarted(ctx))
	require.NoError(t, out.SendPacket(ctx, src.packet(t, 1, 40, 40, 20, true)))
	require.NoError(t, out.SendPacket(ctx, src.packet(t, 0, 80, 80, 40, false)))

	// a DTS from the past
	require.NoError(t, out.SendPacket(ctx, src.packet(t, 0, 80, 80, 40, false)))

	stats := out.GetStats()
	require.Equal(t, uint64(2), stats.PacketsWrote.Video)
	require.Equal(t, uint64(1), stats.PacketsWrote.Audio)
	require.Equal(t, uint64(2), stats.PacketsDropped.Video)
	require.Equal(t, uint64(1), stats.PacketsDropped.Audio)
	require.Equal(t, uint64(3*5), stats.BytesCountWrote)

	require.NoError(t, out.Close(ctx))
	require.NoError(t, out.Close(ctx))
	require.ErrorAs(t, out.SendPacket(ctx, src.packet(t, 0, 120, 120, 40, true)), &types.ErrIO{})
}

func TestOutputEmptyURL(t *testing.T) {
	_, err := NewOutput(testContext(), "", secret.New(""), OutputConfig{})
	require.ErrorAs(t, err, &types.ErrIO{})
}

func TestOutputURLWithStreamKey(t *testing.T) {
	for _, tc := range []struct {
		URL       string
		StreamKey string
		Expected  string
	}{
		{URL: "/tmp/out.mp4", Expected: "/tmp/out.mp4"},
		{URL: "rtmp://example.org/live", StreamKey: "abc", Expected: "rtmp://example.org:1935/live/abc"},
		{URL: "rtmp://example.org:1936/live/", StreamKey: "abc", Expected: "rtmp://example.org:1936/live/abc"},
		{URL: "rtmps://example.org/app", Expected: "rtmps://example.org:443/app"},
		{URL: "srt://example.org:9000", Expected: "srt://example.org:9000"},
	} {
		t.Run(tc.URL, func(t *testing.T) {
			result, err := outputURLWithStreamKey(tc.URL, secret.New(tc.StreamKey))
			require.NoError(t, err)
			require.Equal(t, tc.Expected, result)
		})
	}
}

func TestFinisherWritesAndFlushes(t *testing.T) {
	ctx := testContext()
	src := newDummySource(t)

	out, err := NewOutput(ctx, "null", secret.New(""), OutputConfig{FormatName: "null"})
	require.NoError(t, err)
	f := NewFinisher(nil, out)

	in := make(chan packet.Output, 3)
	in <- src.packet(t, 0, 0, 0, 40, true)
	in <- src.packet(t, 0, 40, 40, 40, false)
	in <- src.packet(t, 1, 0, 0, 20, true)
	close(in)

	require.NoError(t, f.Serve(ctx, in))
	require.NoError(t, f.Close(ctx))
	require.Equal(t, uint64(3), f.GetStats().PacketsWrote.Total())
}
