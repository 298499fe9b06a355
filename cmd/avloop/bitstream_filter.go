package main

import (
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avloop/kernel/bitstreamfilter"
	"github.com/xaionaro-go/avloop/preset/loopremux"
)

const (
	bsfAuto = "auto"
	bsfNone = "none"
)

// configureBitstreamFilter applies the --bsf-* flags. "auto" is honored
// only if it is used for both media types, otherwise it means no filters.
func configureBitstreamFilter(
	cfg *loopremux.Config,
	video, audio string,
) error {
	switch {
	case video == bsfAuto && audio == bsfAuto:
		return nil
	case video == bsfNone && audio == bsfNone:
		cfg.DisableBitstreamFilter = true
		return nil
	}

	getter := bitstreamfilter.ParamsGetterStatic{}
	for mediaType, chain := range map[astiav.MediaType]string{
		astiav.MediaTypeVideo: video,
		astiav.MediaTypeAudio: audio,
	} {
		if chain == bsfAuto || chain == bsfNone {
			continue
		}
		params, err := bitstreamfilter.ParseChain(chain)
		if err != nil {
			return fmt.Errorf("invalid %s bitstream filters '%s': %w", mediaType, chain, err)
		}
		getter[mediaType] = params
	}
	cfg.BitstreamFilter = getter
	return nil
}
