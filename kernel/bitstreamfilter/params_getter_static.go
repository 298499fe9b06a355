package bitstreamfilter

import (
	"context"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avloop/packet"
)

// ParamsGetterStatic uses the same chain for every stream of a media type.
type ParamsGetterStatic map[astiav.MediaType][]Params

var _ GetChainParamser = ParamsGetterStatic{}

func (g ParamsGetterStatic) GetChainParams(
	_ context.Context,
	input packet.Input,
) []Params {
	params, ok := g[input.GetMediaType()]
	if !ok {
		return []Params{}
	}
	return params
}

func (g ParamsGetterStatic) String() string {
	return fmt.Sprintf("Static(video:%v, audio:%v)", g[astiav.MediaTypeVideo], g[astiav.MediaTypeAudio])
}
