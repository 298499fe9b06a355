package loopremux

import (
	"fmt"

	"github.com/xaionaro-go/avloop"
	"github.com/xaionaro-go/avloop/kernel"
	"github.com/xaionaro-go/avloop/kernel/bitstreamfilter"
)

type Config struct {
	Loop    avloop.Config
	Reader  kernel.ReaderConfig
	Demuxer kernel.DemuxerConfig
	Output  kernel.OutputConfig

	// BitstreamFilter chooses the filters of the streams; nil means picking
	// them by the output format.
	BitstreamFilter bitstreamfilter.GetChainParamser

	// DisableBitstreamFilter writes the packets as they are demuxed.
	DisableBitstreamFilter bool
}

func DefaultConfig() Config {
	return Config{
		Loop: avloop.DefaultConfig(),
	}
}

func (cfg Config) Validate() error {
	if err := cfg.Loop.Validate(); err != nil {
		return fmt.Errorf("invalid loop config: %w", err)
	}
	if cfg.DisableBitstreamFilter && cfg.BitstreamFilter != nil {
		return fmt.Errorf("a bitstream filter is set, while bitstream filtering is disabled")
	}
	return nil
}
