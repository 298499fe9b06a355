package bitstreamfilter

import (
	"context"

	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/packet"
)

// ParamsGetterToOOBHeaders converts streams for containers which keep the
// codec headers in the extradata (MP4, Matroska, FLV).
type ParamsGetterToOOBHeaders struct{}

var _ GetChainParamser = ParamsGetterToOOBHeaders{}

func (ParamsGetterToOOBHeaders) GetChainParams(
	ctx context.Context,
	input packet.Input,
) []Params {
	stream := input.GetStream()
	if stream == nil {
		logger.Errorf(ctx, "no stream associated with the input packet")
		return nil
	}
	codecID := stream.CodecParameters().CodecID()
	params := ParamsMP2ToMP4(codecID)
	logger.Debugf(ctx, "stream #%d: codec: %s: filters: %#+v", stream.Index(), codecID, params)
	return params
}

func (ParamsGetterToOOBHeaders) String() string {
	return "ToOOBHeaders"
}
