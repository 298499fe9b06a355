package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avloop/kernel/bitstreamfilter"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/packet"
	"github.com/xaionaro-go/xsync"
)

type InternalBitstreamFilterInstance struct {
	*astiav.BitStreamFilter
	*astiav.BitStreamFilterContext
	Params bitstreamfilter.Params
}

type bitstreamFilterChain struct {
	Filters []*InternalBitstreamFilterInstance

	// StreamInfo is of the latest packet, the packets produced on flush
	// are attributed to it.
	StreamInfo *packet.StreamInfo
}

// BitstreamFilter runs the packets of each stream through a chain of libav
// bitstream filters. The chain of a stream is built on its first packet.
type BitstreamFilter struct {
	*closeChan
	xsync.Mutex
	GetChainParamser bitstreamfilter.GetChainParamser
	FilterChains     map[int]*bitstreamFilterChain
}

func NewBitstreamFilter(
	ctx context.Context,
	paramsGetter bitstreamfilter.GetChainParamser,
) *BitstreamFilter {
	return &BitstreamFilter{
		closeChan:        newCloseChan(),
		GetChainParamser: paramsGetter,
		FilterChains:     make(map[int]*bitstreamFilterChain),
	}
}

func (bsf *BitstreamFilter) getFilterChain(
	ctx context.Context,
	input packet.Input,
) (*bitstreamFilterChain, error) {
	if r, ok := bsf.FilterChains[input.GetStreamIndex()]; ok {
		return r, nil
	}

	paramss := bsf.GetChainParamser.GetChainParams(ctx, input)
	if paramss == nil {
		return nil, nil
	}

	chain := &bitstreamFilterChain{}
	for _, params := range paramss {
		_bsf := astiav.FindBitStreamFilterByName(string(params.Name))
		if _bsf == nil {
			return nil, fmt.Errorf("unable to find a bitstream filter '%s'", string(params.Name))
		}

		bsfCtx, err := astiav.AllocBitStreamFilterContext(_bsf)
		if err != nil {
			return nil, fmt.Errorf("unable to allocate a BitStreamFilter context: %w", err)
		}
		setFinalizerFree(ctx, bsfCtx)

		if err := input.Stream.CodecParameters().Copy(bsfCtx.InputCodecParameters()); err != nil {
			return nil, fmt.Errorf("unable to copy codec parameters: %w", err)
		}

		bsfCtx.SetInputTimeBase(input.Stream.TimeBase())

		if err := bsfCtx.Initialize(); err != nil {
			return nil, fmt.Errorf("unable to initialize the bitstream filter: %w", err)
		}

		chain.Filters = append(chain.Filters, &InternalBitstreamFilterInstance{
			BitStreamFilter:        _bsf,
			BitStreamFilterContext: bsfCtx,
			Params:                 params,
		})
	}
	logger.Debugf(ctx, "stream #%d: %d bitstream filters", input.GetStreamIndex(), len(chain.Filters))
	bsf.FilterChains[input.GetStreamIndex()] = chain
	return chain, nil
}

// Filter consumes the packet and returns the packets the filters produced
// (possibly none).
func (bsf *BitstreamFilter) Filter(
	ctx context.Context,
	input packet.Output,
) (_ret []packet.Output, _err error) {
	logger.Tracef(ctx, "Filter")
	defer func() { logger.Tracef(ctx, "/Filter: %d %v", len(_ret), _err) }()
	return xsync.DoA2R2(ctx, &bsf.Mutex, bsf.filter, ctx, input)
}

func (bsf *BitstreamFilter) filter(
	ctx context.Context,
	input packet.Output,
) ([]packet.Output, error) {
	if bsf.IsClosed() {
		input.Release()
		return nil, fmt.Errorf("the bitstream filter is closed")
	}
	chain, err := bsf.getFilterChain(ctx, input.Input())
	if err != nil {
		input.Release()
		return nil, fmt.Errorf("unable to get a filter for stream #%d: %w", input.Packet.StreamIndex(), err)
	}
	if chain == nil || len(chain.Filters) == 0 {
		return []packet.Output{input}, nil
	}
	chain.StreamInfo = input.StreamInfo

	pkts, err := runBitstreamFilterChain(ctx, chain.Filters, []*astiav.Packet{input.Packet}, false)
	if err != nil {
		return nil, err
	}
	return buildOutputs(pkts, input.StreamInfo), nil
}

// Flush drains the filters at the end of the stream.
func (bsf *BitstreamFilter) Flush(
	ctx context.Context,
) (_ret []packet.Output, _err error) {
	logger.Debugf(ctx, "Flush")
	defer func() { logger.Debugf(ctx, "/Flush: %d %v", len(_ret), _err) }()
	return xsync.DoR2(ctx, &bsf.Mutex, func() ([]packet.Output, error) {
		var (
			result []packet.Output
			errs   []error
		)
		for streamIndex, chain := range bsf.FilterChains {
			if len(chain.Filters) == 0 || chain.StreamInfo == nil {
				continue
			}
			pkts, err := runBitstreamFilterChain(ctx, chain.Filters, nil, true)
			if err != nil {
				errs = append(errs, fmt.Errorf("unable to flush the filters of stream #%d: %w", streamIndex, err))
				continue
			}
			result = append(result, buildOutputs(pkts, chain.StreamInfo)...)
		}
		return result, errors.Join(errs...)
	})
}

func buildOutputs(
	pkts []*astiav.Packet,
	streamInfo *packet.StreamInfo,
) []packet.Output {
	result := make([]packet.Output, 0, len(pkts))
	for _, pkt := range pkts {
		result = append(result, packet.BuildOutput(pkt, streamInfo.Stream, streamInfo.Source))
	}
	return result
}

// runBitstreamFilterChain takes the ownership of pkts. If flush is true
// every filter is also sent the end of the stream.
func runBitstreamFilterChain(
	ctx context.Context,
	filterChain []*InternalBitstreamFilterInstance,
	pkts []*astiav.Packet,
	flush bool,
) (_ []*astiav.Packet, _err error) {
	defer func() {
		if _err != nil {
			for _, pkt := range pkts {
				packet.Pool.Put(pkt)
			}
		}
	}()
	for _, filter := range filterChain {
		for idx, pkt := range pkts {
			logger.Tracef(ctx, "sending a packet to %s", filter.Name())
			err := filter.SendPacket(pkt)
			packet.Pool.Put(pkt)
			pkts[idx] = nil
			if err != nil {
				if filter.Params.SkipOnFailure {
					logger.Debugf(ctx, "received failure %v (on sending), skipping", err)
					continue
				}
				return nil, fmt.Errorf("unable to send the packet to the filter: %w", err)
			}
		}
		if flush {
			if err := filter.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
				return nil, fmt.Errorf("unable to send the end of the stream to the filter: %w", err)
			}
		}
		pkts = pkts[:0]

		for {
			pkt := packet.Pool.Get()
			logger.Tracef(ctx, "receiving a packet from %s", filter.Name())
			err := filter.ReceivePacket(pkt)
			if err != nil {
				isEOF := errors.Is(err, astiav.ErrEof)
				isEAgain := errors.Is(err, astiav.ErrEagain)
				logger.Tracef(ctx, "bsf.ReceivePacket(): %v (isEOF:%t, isEAgain:%t)", err, isEOF, isEAgain)
				packet.Pool.Put(pkt)
				if isEOF || isEAgain {
					break
				}
				if filter.Params.SkipOnFailure {
					logger.Debugf(ctx, "received failure %v (on receiving), skipping", err)
					break
				}
				return nil, fmt.Errorf("unable receive the packet from the filter: %w", err)
			}

			logger.Tracef(ctx, "received a packet from %s", filter.Name())
			pkts = append(pkts, pkt)
		}
	}
	return pkts, nil
}

func (bsf *BitstreamFilter) String() string {
	return fmt.Sprintf("BitstreamFilter(%s)", bsf.GetChainParamser)
}

func (bsf *BitstreamFilter) Close(ctx context.Context) error {
	bsf.closeChan.Close(ctx)
	return nil
}
