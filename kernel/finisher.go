package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xaionaro-go/avloop"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/packet"
	"github.com/xaionaro-go/avloop/types"
)

// Finisher is the tail of the pipeline: the merged packets go through the
// optional bitstream filter into the Output.
type Finisher struct {
	BitstreamFilter *BitstreamFilter
	Output          *Output

	closeOnce sync.Once
	closeErr  error
}

var _ avloop.Finisher[packet.Output] = (*Finisher)(nil)

func NewFinisher(
	bsf *BitstreamFilter,
	output *Output,
) *Finisher {
	return &Finisher{
		BitstreamFilter: bsf,
		Output:          output,
	}
}

func (f *Finisher) String() string {
	if f.BitstreamFilter == nil {
		return fmt.Sprintf("Finisher(%s)", f.Output)
	}
	return fmt.Sprintf("Finisher(%s -> %s)", f.BitstreamFilter, f.Output)
}

// Serve writes the packets until the channel is closed. The bitstream
// filter is flushed at the end.
func (f *Finisher) Serve(
	ctx context.Context,
	in <-chan packet.Output,
) (_err error) {
	logger.Debugf(ctx, "Serve")
	defer func() { logger.Debugf(ctx, "/Serve: %v", _err) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-in:
			if !ok {
				return f.flush(ctx)
			}
			if err := f.process(ctx, pkt); err != nil {
				return err
			}
		}
	}
}

func (f *Finisher) process(
	ctx context.Context,
	pkt packet.Output,
) error {
	if f.BitstreamFilter == nil {
		return f.Output.SendPacket(ctx, pkt)
	}
	pkts, err := f.BitstreamFilter.Filter(ctx, pkt)
	if err != nil {
		return types.ErrProtocol{Component: "bitstream filter", Err: err}
	}
	return f.write(ctx, pkts)
}

func (f *Finisher) flush(ctx context.Context) error {
	if f.BitstreamFilter == nil {
		return nil
	}
	pkts, err := f.BitstreamFilter.Flush(ctx)
	if err != nil {
		return types.ErrProtocol{Component: "bitstream filter", Err: err}
	}
	return f.write(ctx, pkts)
}

func (f *Finisher) write(
	ctx context.Context,
	pkts []packet.Output,
) error {
	for idx, pkt := range pkts {
		if err := f.Output.SendPacket(ctx, pkt); err != nil {
			for _, pkt := range pkts[idx+1:] {
				pkt.Release()
			}
			return err
		}
	}
	return nil
}

// Close finalizes the output. Calling it again returns the result of the
// first call.
func (f *Finisher) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	f.closeOnce.Do(func() {
		var errs []error
		if f.BitstreamFilter != nil {
			if err := f.BitstreamFilter.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("unable to close the bitstream filter: %w", err))
			}
		}
		if err := f.Output.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the output: %w", err))
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}

func (f *Finisher) GetStats() *types.ProcessingStatistics {
	return f.Output.GetStats()
}
