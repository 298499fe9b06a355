package bitstreamfilter

import (
	"github.com/asticode/go-astiav"
)

func ParamsMP4ToMP2(codecID astiav.CodecID) []Params {
	switch name := NameMP4ToAnnexB(codecID); name {
	case NameNull:
		return []Params{}
	default:
		return []Params{{Name: name}}
	}
}

func ParamsMP2ToMP4(codecID astiav.CodecID) []Params {
	switch codecID {
	case astiav.CodecIDH264, astiav.CodecIDHevc:
		return []Params{
			{Name: NameExtractExtradata},
		}
	case astiav.CodecIDAac:
		return []Params{{Name: NameAACADTSToASC}}
	}
	return []Params{}
}
