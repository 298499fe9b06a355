package avconv

import (
	"github.com/asticode/go-astiav"
)

// FindStreamByIndex returns the stream of the format context with the given
// index, or nil.
func FindStreamByIndex(
	fmtCtx *astiav.FormatContext,
	streamIndex int,
) *astiav.Stream {
	streams := fmtCtx.Streams()
	if streamIndex >= 0 && streamIndex < len(streams) && streams[streamIndex].Index() == streamIndex {
		return streams[streamIndex]
	}
	for _, stream := range streams {
		if stream.Index() == streamIndex {
			return stream
		}
	}
	return nil
}
