package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/davecgh/go-spew/spew"
	"github.com/xaionaro-go/avloop/avconv"
	"github.com/xaionaro-go/avloop/branchpool"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/packet"
	"github.com/xaionaro-go/avloop/types"
)

type DemuxerConfig struct {
	// FormatName forces the input format; empty means probing.
	FormatName    string
	CustomOptions types.DictionaryItems
}

// Demuxer splits the data of a Reader into packets.
//
// The format context is freed by the finalizer, not by Close: the packets
// read from the Demuxer refer to its streams, and they keep the Demuxer
// reachable until they are released.
type Demuxer struct {
	*closeChan
	*astiav.FormatContext

	Reader *Reader

	packetsRead atomic.Uint64
	bytesRead   atomic.Uint64
}

var (
	_ branchpool.Demuxer[packet.Output] = (*Demuxer)(nil)
	_ packet.Source                     = (*Demuxer)(nil)
)

type streamSummary struct {
	Index      int
	MediaType  string
	CodecID    string
	TimeBase   string
	Width      int
	Height     int
	SampleRate int
}

func OpenDemuxer(
	ctx context.Context,
	reader *Reader,
	cfg DemuxerConfig,
) (_ret *Demuxer, _err error) {
	logger.Debugf(ctx, "OpenDemuxer(ctx, %s, %#+v)", reader, cfg)
	defer func() { logger.Debugf(ctx, "/OpenDemuxer(ctx, %s, %#+v): %v", reader, cfg, _err) }()

	var inputFormat *astiav.InputFormat
	if cfg.FormatName != "" {
		inputFormat = astiav.FindInputFormat(cfg.FormatName)
		if inputFormat == nil {
			return nil, types.ErrProtocol{
				Component: "demuxer",
				Err:       fmt.Errorf("unable to find input format by name '%s'", cfg.FormatName),
			}
		}
		logger.Debugf(ctx, "using format '%s'", inputFormat.Name())
	}

	fmtCtx := astiav.AllocFormatContext()
	if fmtCtx == nil {
		return nil, fmt.Errorf("unable to allocate a format context")
	}
	fmtCtx.SetPb(reader.IOContext)

	if err := fmtCtx.OpenInput(reader.URL, inputFormat, newDictionary(ctx, cfg.CustomOptions)); err != nil {
		fmtCtx.Free()
		return nil, types.ErrProtocol{
			Component: "demuxer",
			Err:       fmt.Errorf("unable to open input '%s': %w", reader.URL, err),
		}
	}

	d := &Demuxer{
		closeChan:     newCloseChan(),
		FormatContext: fmtCtx,
		Reader:        reader,
	}
	setFinalizer(ctx, d, func(d *Demuxer) {
		d.FormatContext.CloseInput()
		d.FormatContext.Free()
	})

	if err := fmtCtx.FindStreamInfo(nil); err != nil {
		return nil, types.ErrProtocol{
			Component: "demuxer",
			Err:       fmt.Errorf("unable to get stream info: %w", err),
		}
	}
	if fmtCtx.NbStreams() == 0 {
		return nil, types.ErrProtocol{
			Component: "demuxer",
			Err:       fmt.Errorf("'%s' has no streams", reader.URL),
		}
	}

	if logger.FromCtx(ctx).Level() >= logger.LevelDebug {
		var summary []streamSummary
		for _, stream := range fmtCtx.Streams() {
			codecParams := stream.CodecParameters()
			summary = append(summary, streamSummary{
				Index:      stream.Index(),
				MediaType:  codecParams.MediaType().String(),
				CodecID:    codecParams.CodecID().String(),
				TimeBase:   stream.TimeBase().String(),
				Width:      codecParams.Width(),
				Height:     codecParams.Height(),
				SampleRate: codecParams.SampleRate(),
			})
		}
		logger.Debugf(ctx, "input streams of %s: %s", reader, spew.Sdump(summary))
	}

	return d, nil
}

// ReadPacket returns the next packet of the file, or io.EOF once the file
// is read to the end.
func (d *Demuxer) ReadPacket(
	ctx context.Context,
) (packet.Output, error) {
	select {
	case <-ctx.Done():
		return packet.Output{}, ctx.Err()
	case <-d.CloseChan():
		return packet.Output{}, io.EOF
	default:
	}

	pkt := packet.Pool.Get()
	err := d.FormatContext.ReadFrame(pkt)
	switch {
	case err == nil:
	case errors.Is(err, astiav.ErrEof):
		packet.Pool.Put(pkt)
		return packet.Output{}, io.EOF
	case errors.Is(err, astiav.ErrEio):
		packet.Pool.Put(pkt)
		return packet.Output{}, types.ErrIO{
			Component: "demuxer",
			Err:       fmt.Errorf("unable to read a frame: %w", err),
		}
	default:
		packet.Pool.Put(pkt)
		return packet.Output{}, types.ErrProtocol{
			Component: "demuxer",
			Err:       fmt.Errorf("unable to read a frame: %w", err),
		}
	}

	logger.Tracef(
		ctx,
		"received a packet (stream:%d, pos:%d, pts:%d, dts:%d, dur:%d), dataLen:%d",
		pkt.StreamIndex(),
		pkt.Pos(), pkt.Pts(), pkt.Dts(), pkt.Duration(),
		pkt.Size(),
	)
	d.packetsRead.Add(1)
	d.bytesRead.Add(uint64(pkt.Size()))

	stream := avconv.FindStreamByIndex(d.FormatContext, pkt.StreamIndex())
	if stream == nil {
		packet.Pool.Put(pkt)
		return packet.Output{}, types.ErrProtocol{
			Component: "demuxer",
			Err:       fmt.Errorf("a packet of an unknown stream #%d", pkt.StreamIndex()),
		}
	}
	return packet.BuildOutput(pkt, stream, d), nil
}

func (d *Demuxer) ReleasePacket(pkt packet.Output) {
	pkt.Release()
}

// Close makes ReadPacket return io.EOF. The Reader is not closed.
func (d *Demuxer) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	logger.Debugf(ctx, "Close[%s]", d)
	d.closeChan.Close(ctx)
	return nil
}

func (d *Demuxer) WithOutputFormatContext(
	ctx context.Context,
	callback func(*astiav.FormatContext),
) {
	logger.Tracef(ctx, "WithOutputFormatContext")
	defer func() { logger.Tracef(ctx, "/WithOutputFormatContext") }()
	callback(d.FormatContext)
}

func (d *Demuxer) PacketsRead() uint64 {
	return d.packetsRead.Load()
}

func (d *Demuxer) BytesRead() uint64 {
	return d.bytesRead.Load()
}

func (d *Demuxer) String() string {
	return fmt.Sprintf("Demuxer(%s)", d.Reader)
}
