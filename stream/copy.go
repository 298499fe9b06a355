// Package stream configures the output streams of a muxer.
package stream

import (
	"fmt"

	"github.com/asticode/go-astiav"
)

// CopyParameters configures dst to carry the packets of src without
// re-encoding. The codec tag is reset, so that the muxer picks the tag
// of its own container.
func CopyParameters(
	dst, src *astiav.Stream,
) error {
	if err := src.CodecParameters().Copy(dst.CodecParameters()); err != nil {
		return fmt.Errorf("unable to copy the codec parameters of stream #%d: %w", src.Index(), err)
	}
	dst.CodecParameters().SetCodecTag(0)
	CopyNonCodecParameters(dst, src)
	return nil
}

func CopyNonCodecParameters(
	dst, src *astiav.Stream,
) {
	dst.SetAvgFrameRate(src.AvgFrameRate())
	dst.SetRFrameRate(src.RFrameRate())
	dst.SetSampleAspectRatio(src.SampleAspectRatio())
	dst.SetTimeBase(src.TimeBase())
}
