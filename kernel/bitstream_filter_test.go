package kernel

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avloop/kernel/bitstreamfilter"
	"github.com/xaionaro-go/avloop/packet"
)

func TestBitstreamFilterPassthrough(t *testing.T) {
	ctx := testContext()
	src := newDummySource(t)

	bsf := NewBitstreamFilter(ctx, bitstreamfilter.ParamsGetterStatic{
		astiav.MediaTypeVideo: {{Name: bitstreamfilter.NameNull}},
	})
	defer bsf.Close(ctx)

	var got []packet.Output
	for i := range int64(3) {
		pkts, err := bsf.Filter(ctx, src.packet(t, 0, i*40, i*40, 40, i == 0))
		require.NoError(t, err)
		got = append(got, pkts...)
	}
	pkts, err := bsf.Filter(ctx, src.packet(t, 1, 0, 0, 20, true))
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	got = append(got, pkts...)

	flushed, err := bsf.Flush(ctx)
	require.NoError(t, err)
	got = append(got, flushed...)

	require.Len(t, got, 4)
	for idx, pkt := range got[:3] {
		require.Equal(t, int64(idx)*40, pkt.Dts())
		require.Equal(t, 0, pkt.Packet.StreamIndex())
		require.Equal(t, src, pkt.Source)
	}
	for _, pkt := range got {
		pkt.Release()
	}

	require.Len(t, bsf.FilterChains, 2)
	require.Len(t, bsf.FilterChains[0].Filters, 1)
	require.Empty(t, bsf.FilterChains[1].Filters)
}

func TestBitstreamFilterClosed(t *testing.T) {
	ctx := testContext()
	src := newDummySource(t)

	bsf := NewBitstreamFilter(ctx, bitstreamfilter.ParamsGetterStatic{})
	require.NoError(t, bsf.Close(ctx))
	_, err := bsf.Filter(ctx, src.packet(t, 0, 0, 0, 40, true))
	require.Error(t, err)
}
