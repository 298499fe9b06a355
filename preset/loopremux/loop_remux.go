// Package loopremux assembles a loop which remuxes a media file into
// another container, over and over, with libav.
package loopremux

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avloop"
	"github.com/xaionaro-go/avloop/kernel"
	"github.com/xaionaro-go/avloop/kernel/bitstreamfilter"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/packet"
	"github.com/xaionaro-go/secret"
)

type LoopRemux struct {
	*avloop.Pipeline[packet.Output]
	Retimer  *kernel.SpliceRetimer
	Finisher *kernel.Finisher
}

func New(
	ctx context.Context,
	outputURL string,
	streamKey secret.String,
	cfg Config,
) (_ret *LoopRemux, _err error) {
	logger.Debugf(ctx, "New(ctx, '%s', streamKey, %#+v)", outputURL, cfg)
	defer func() { logger.Debugf(ctx, "/New(ctx, '%s', streamKey, %#+v): %v", outputURL, cfg, _err) }()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	output, err := kernel.NewOutput(ctx, outputURL, streamKey, cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("unable to open the output: %w", err)
	}

	var bsf *kernel.BitstreamFilter
	if !cfg.DisableBitstreamFilter {
		paramsGetter := cfg.BitstreamFilter
		if paramsGetter == nil {
			paramsGetter = bitstreamfilter.ForOutputFormat(output.FormatName())
		}
		if paramsGetter != nil {
			logger.Debugf(ctx, "bitstream filters: %s", paramsGetter)
			bsf = kernel.NewBitstreamFilter(ctx, paramsGetter)
		}
	}

	finisher := kernel.NewFinisher(bsf, output)
	retimer := kernel.NewSpliceRetimer()
	pipeline, err := avloop.New[packet.Output](
		kernel.NewSourceFactory(cfg.Reader, cfg.Demuxer),
		retimer,
		finisher,
		cfg.Loop,
	)
	if err != nil {
		if closeErr := finisher.Close(ctx); closeErr != nil {
			logger.Errorf(ctx, "unable to close the output: %v", closeErr)
		}
		return nil, err
	}

	return &LoopRemux{
		Pipeline: pipeline,
		Retimer:  retimer,
		Finisher: finisher,
	}, nil
}

func (l *LoopRemux) String() string {
	return fmt.Sprintf("LoopRemux(%s)", l.Finisher)
}
