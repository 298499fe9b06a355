package kernel

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avloop/branchpool"
	"github.com/xaionaro-go/avloop/packet"
)

// SourceFactory opens libav readers and demuxers for the branches.
type SourceFactory struct {
	ReaderConfig  ReaderConfig
	DemuxerConfig DemuxerConfig
}

var _ branchpool.SourceFactory[packet.Output] = (*SourceFactory)(nil)

func NewSourceFactory(
	readerCfg ReaderConfig,
	demuxerCfg DemuxerConfig,
) *SourceFactory {
	return &SourceFactory{
		ReaderConfig:  readerCfg,
		DemuxerConfig: demuxerCfg,
	}
}

func (f *SourceFactory) OpenReader(
	ctx context.Context,
	uri string,
) (branchpool.Reader, error) {
	r, err := OpenReader(ctx, uri, f.ReaderConfig)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (f *SourceFactory) OpenDemuxer(
	ctx context.Context,
	reader branchpool.Reader,
) (branchpool.Demuxer[packet.Output], error) {
	r, ok := reader.(*Reader)
	if !ok {
		return nil, fmt.Errorf("expected a %T, but received a %T", (*Reader)(nil), reader)
	}
	d, err := OpenDemuxer(ctx, r, f.DemuxerConfig)
	if err != nil {
		return nil, err
	}
	return d, nil
}
