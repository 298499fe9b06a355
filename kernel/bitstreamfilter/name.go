// Package bitstreamfilter describes chains of libav bitstream filters, which
// convert the packets of a stream between the formats the containers expect
// (e.g. length-prefixed H.264 in MP4 versus Annex B in MPEG-TS).
package bitstreamfilter

import (
	"github.com/asticode/go-astiav"
)

type Name string

const (
	NameAACADTSToASC     = Name("aac_adtstoasc")
	NameDumpExtra        = Name("dump_extra")
	NameExtractExtradata = Name("extract_extradata")
	NameH264MP4toAnnexB  = Name("h264_mp4toannexb")
	NameHEVCMP4toAnnexB  = Name("hevc_mp4toannexb")
	NameNull             = Name("null")
	NameRemoveExtra      = Name("remove_extra")
	NameSetTS            = Name("setts")
)

func NameMP4ToAnnexB(codecID astiav.CodecID) Name {
	switch codecID {
	case astiav.CodecIDH264:
		return NameH264MP4toAnnexB
	case astiav.CodecIDHevc:
		return NameHEVCMP4toAnnexB
	}
	return NameNull
}

// Exists reports if libav knows a bitstream filter with this name.
func (n Name) Exists() bool {
	return astiav.FindBitStreamFilterByName(string(n)) != nil
}
