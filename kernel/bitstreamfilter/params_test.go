package bitstreamfilter

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

func TestParseChain(t *testing.T) {
	params, err := ParseChain("h264_mp4toannexb, null?")
	require.NoError(t, err)
	require.Equal(t, []Params{
		{Name: NameH264MP4toAnnexB},
		{Name: NameNull, SkipOnFailure: true},
	}, params)

	params, err = ParseChain("")
	require.NoError(t, err)
	require.Empty(t, params)

	_, err = ParseChain("no_such_filter")
	require.Error(t, err)
}

func TestForOutputFormat(t *testing.T) {
	require.Equal(t, ParamsGetterToInBandHeaders{}, ForOutputFormat("mpegts"))
	require.Equal(t, ParamsGetterToOOBHeaders{}, ForOutputFormat("mp4"))
	require.Nil(t, ForOutputFormat("null"))
}

func TestParamsMP4ToMP2(t *testing.T) {
	require.Equal(t, []Params{{Name: NameHEVCMP4toAnnexB}}, ParamsMP4ToMP2(astiav.CodecIDHevc))
	require.Equal(t, []Params{}, ParamsMP4ToMP2(astiav.CodecIDAac))
	require.Equal(t, []Params{{Name: NameAACADTSToASC}}, ParamsMP2ToMP4(astiav.CodecIDAac))
}
