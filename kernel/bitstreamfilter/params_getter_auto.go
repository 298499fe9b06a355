package bitstreamfilter

// ForOutputFormat picks the conversion the output container needs. It
// returns nil if the packets can be written as is.
func ForOutputFormat(formatName string) GetChainParamser {
	switch formatName {
	case "mpegts", "h264", "hevc", "rtp_mpegts":
		return ParamsGetterToInBandHeaders{}
	case "mp4", "mov", "matroska", "flv":
		return ParamsGetterToOOBHeaders{}
	default:
		return nil
	}
}
