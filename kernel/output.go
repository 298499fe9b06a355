package kernel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/davecgh/go-spew/spew"
	"github.com/xaionaro-go/avloop/avconv"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/packet"
	"github.com/xaionaro-go/avloop/stream"
	"github.com/xaionaro-go/avloop/types"
	"github.com/xaionaro-go/avloop/urltools"
	"github.com/xaionaro-go/secret"
	"github.com/xaionaro-go/xsync"
)

type OutputConfig struct {
	// FormatName forces the muxer; empty means guessing by the URL
	// (streaming schemes included, e.g. "rtmp://" means FLV).
	FormatName string

	// CustomOptions are passed to the muxer and the protocol.
	CustomOptions types.DictionaryItems
}

type OutputStream struct {
	*astiav.Stream
	LastDTS int64
}

// Output muxes the packets into a file (or any other libav destination).
//
// The output streams are created from the streams of the source of the
// first packet. The header is written on the first key frame of the video
// (or on the first packet, if there is no video).
type Output struct {
	*closeChan
	*astiav.FormatContext

	URL           string
	StreamKey     secret.String
	Config        OutputConfig
	OutputStreams map[int]*OutputStream

	locker     xsync.Mutex
	ioContext  *astiav.IOContext
	dictionary *astiav.Dictionary
	hasVideo   bool
	started    bool

	closeOnce sync.Once
	closeErr  error

	bytesWrote     atomic.Uint64
	packetsWrote   packetCounters
	packetsDropped packetCounters
}

type packetCounters struct {
	Video atomic.Uint64
	Audio atomic.Uint64
	Other atomic.Uint64
}

func (c *packetCounters) Increment(mediaType astiav.MediaType) {
	switch mediaType {
	case astiav.MediaTypeVideo:
		c.Video.Add(1)
	case astiav.MediaTypeAudio:
		c.Audio.Add(1)
	default:
		c.Other.Add(1)
	}
}

func (c *packetCounters) Load() types.ProcessingPacketsStatistics {
	return types.ProcessingPacketsStatistics{
		Video: c.Video.Load(),
		Audio: c.Audio.Load(),
		Other: c.Other.Load(),
	}
}

func NewOutput(
	ctx context.Context,
	urlString string,
	streamKey secret.String,
	cfg OutputConfig,
) (_ret *Output, _err error) {
	logger.Debugf(ctx, "NewOutput(ctx, '%s', streamKey, %#+v)", urlString, cfg)
	defer func() { logger.Debugf(ctx, "/NewOutput(ctx, '%s', streamKey, %#+v): %v", urlString, cfg, _err) }()

	if urlString == "" {
		return nil, types.ErrIO{Component: "output", Err: fmt.Errorf("the provided URL is empty")}
	}

	formatName := cfg.FormatName
	if formatName == "" {
		formatName = urltools.FormatNameFromURL(urlString)
		logger.Debugf(ctx, "guessed the output format by the URL: '%s'", formatName)
	}

	fullURL, err := outputURLWithStreamKey(urlString, streamKey)
	if err != nil {
		return nil, types.ErrIO{Component: "output", Err: err}
	}

	formatContext, err := astiav.AllocOutputFormatContext(nil, formatName, fullURL)
	if err != nil {
		return nil, types.ErrProtocol{
			Component: "output",
			Err:       fmt.Errorf("allocating output format context failed using URL '%s': %w", urlString, err),
		}
	}
	if formatContext == nil {
		return nil, fmt.Errorf("unable to allocate the output format context")
	}
	setFinalizerFree(ctx, formatContext)

	o := &Output{
		closeChan:     newCloseChan(),
		FormatContext: formatContext,
		URL:           urlString,
		StreamKey:     streamKey,
		Config:        cfg,
		OutputStreams: map[int]*OutputStream{},
		dictionary:    newDictionary(ctx, cfg.CustomOptions),
	}
	logger.Debugf(ctx, "output format name: '%s'", formatContext.OutputFormat().Name())

	if formatContext.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		return o, nil
	}

	ioContext, err := astiav.OpenIOContext(
		fullURL,
		astiav.NewIOContextFlags(astiav.IOContextFlagWrite),
		nil,
		o.dictionary,
	)
	if err != nil {
		return nil, types.ErrIO{
			Component: "output",
			Err:       fmt.Errorf("unable to open IO context (URL: '%s'): %w", urlString, err),
		}
	}
	o.ioContext = ioContext
	formatContext.SetPb(ioContext)
	return o, nil
}

// outputURLWithStreamKey appends the stream key to the path (the RTMP way)
// and sets the default port of RTMP servers.
func outputURLWithStreamKey(
	urlString string,
	streamKey secret.String,
) (string, error) {
	if streamKey.Get() == "" && !strings.Contains(urlString, "://") {
		return urlString, nil
	}

	u, err := url.Parse(urlString)
	if err != nil {
		return "", fmt.Errorf("unable to parse URL '%s': %w", urlString, err)
	}

	if u.Port() == "" {
		switch u.Scheme {
		case "rtmp":
			u.Host += ":1935"
		case "rtmps":
			u.Host += ":443"
		}
	}

	if streamKey.Get() != "" {
		switch {
		case u.Path == "" || u.Path == "/":
			u.Path = "//"
		case !strings.HasSuffix(u.Path, "/"):
			u.Path += "/"
		}
		u.Path += streamKey.Get()
	}
	return u.String(), nil
}

func (o *Output) String() string {
	return fmt.Sprintf("Output(%s)", o.URL)
}

func (o *Output) FormatName() string {
	return o.FormatContext.OutputFormat().Name()
}

func (o *Output) initOutputStreams(
	ctx context.Context,
	source packet.Source,
) (_err error) {
	logger.Debugf(ctx, "initOutputStreams(ctx, %s)", source)
	defer func() { logger.Debugf(ctx, "/initOutputStreams(ctx, %s): %v", source, _err) }()

	source.WithOutputFormatContext(ctx, func(fmtCtx *astiav.FormatContext) {
		for _, inputStream := range fmtCtx.Streams() {
			outputStream := &OutputStream{
				Stream:  o.FormatContext.NewStream(nil),
				LastDTS: math.MinInt64,
			}
			if err := stream.CopyParameters(outputStream.Stream, inputStream); err != nil {
				_err = fmt.Errorf("unable to copy stream parameters: %w", err)
				return
			}
			outputStream.SetIndex(inputStream.Index())

			mediaType := outputStream.CodecParameters().MediaType()
			if mediaType == astiav.MediaTypeVideo {
				o.hasVideo = true
			}
			logger.Debugf(
				ctx,
				"new output stream: %d: %s: %s: %s: %s",
				outputStream.Index(),
				mediaType,
				outputStream.CodecParameters().CodecID(),
				outputStream.TimeBase(),
				spew.Sdump(outputStream.CodecParameters()),
			)
			o.OutputStreams[inputStream.Index()] = outputStream
		}
	})
	return
}

// SendPacket writes the packet. The packet is released in any case.
func (o *Output) SendPacket(
	ctx context.Context,
	pkt packet.Output,
) (_err error) {
	logger.Tracef(ctx, "SendPacket (pkt: %p)", pkt.Packet)
	defer func() { logger.Tracef(ctx, "/SendPacket (pkt: %p): %v", pkt.Packet, _err) }()
	defer pkt.Release()

	if pkt.Packet == nil {
		return fmt.Errorf("packet == nil")
	}
	if pkt.Flags().Has(astiav.PacketFlagDiscard) {
		logger.Tracef(ctx, "the packet has a discard flag; discarding")
		o.packetsDropped.Increment(pkt.Commons().GetMediaType())
		return nil
	}
	return xsync.DoA2R1(ctx, &o.locker, o.sendPacket, ctx, pkt)
}

func (o *Output) sendPacket(
	ctx context.Context,
	pkt packet.Output,
) error {
	if o.IsClosed() {
		return types.ErrIO{Component: "output", Err: fmt.Errorf("the output is closed")}
	}

	if len(o.OutputStreams) == 0 {
		if err := o.initOutputStreams(ctx, pkt.Source); err != nil {
			return types.ErrProtocol{Component: "output", Err: err}
		}
		assert(ctx, len(o.OutputStreams) != 0, "the source has no streams")
	}

	outputStream := o.OutputStreams[pkt.Packet.StreamIndex()]
	if outputStream == nil {
		logger.Warnf(ctx, "a packet of unknown stream #%d; dropping", pkt.Packet.StreamIndex())
		o.packetsDropped.Other.Add(1)
		return nil
	}
	mediaType := outputStream.CodecParameters().MediaType()

	if !o.started {
		if o.hasVideo && (mediaType != astiav.MediaTypeVideo || !pkt.Flags().Has(astiav.PacketFlagKey)) {
			logger.Tracef(ctx, "not a video key frame; skipping")
			o.packetsDropped.Increment(mediaType)
			return nil
		}
		logger.Debugf(ctx, "writing the header; streams: %d", len(o.OutputStreams))
		if err := o.FormatContext.WriteHeader(o.dictionary); err != nil {
			return types.ErrProtocol{Component: "output", Err: fmt.Errorf("unable to write the header: %w", err)}
		}
		o.started = true
	}

	return o.doWritePacket(ctx, pkt, outputStream)
}

func (o *Output) doWritePacket(
	ctx context.Context,
	input packet.Output,
	outputStream *OutputStream,
) error {
	pkt := input.Packet
	mediaType := outputStream.CodecParameters().MediaType()

	pkt.SetStreamIndex(outputStream.Index())
	pkt.RescaleTs(input.Stream.TimeBase(), outputStream.TimeBase())
	isNoDTS := pkt.Dts() == avconv.NoPTSValue
	isNoPTS := pkt.Pts() == avconv.NoPTSValue
	if !isNoDTS && !isNoPTS && pkt.Dts() > pkt.Pts() {
		logger.Errorf(ctx, "DTS (%d) is greater than PTS (%d), setting DTS = PTS", pkt.Dts(), pkt.Pts())
		pkt.SetDts(pkt.Pts())
	}
	if !isNoDTS && pkt.Dts() <= outputStream.LastDTS {
		logger.Errorf(ctx,
			"received a DTS from the stream's past, ignoring the packet from %s stream #%d: %d <= %d",
			mediaType,
			outputStream.Index(),
			pkt.Dts(),
			outputStream.LastDTS,
		)
		o.packetsDropped.Increment(mediaType)
		return nil
	}

	dataLen := pkt.Size()
	logger.Tracef(ctx,
		"writing packet with pos:%v (pts:%v(%v), dts:%v, dur:%v, dts_prev:%v; is_key:%v; source: %s) for %s stream %d (time_base: %v), size %d",
		pkt.Pos(), pkt.Pts(), avconv.Duration(pkt.Pts(), outputStream.TimeBase()), pkt.Dts(), pkt.Duration(), outputStream.LastDTS, pkt.Flags().Has(astiav.PacketFlagKey), input.Source,
		mediaType, pkt.StreamIndex(), outputStream.TimeBase(),
		dataLen,
	)

	pos, dts, pts, dur := pkt.Pos(), pkt.Dts(), pkt.Pts(), pkt.Duration()
	if err := o.FormatContext.WriteInterleavedFrame(pkt); err != nil {
		return types.ErrProtocol{
			Component: "output",
			Err: fmt.Errorf(
				"unable to write the packet with pos:%v (pts:%v, dts:%v, dur:%v, dts_prev:%v) for %s stream %d: %w",
				pos, pts, dts, dur, outputStream.LastDTS,
				mediaType, outputStream.Index(),
				err,
			),
		}
	}
	if !isNoDTS {
		outputStream.LastDTS = dts
	}
	o.bytesWrote.Add(uint64(dataLen))
	o.packetsWrote.Increment(mediaType)
	return nil
}

// Close writes the trailer (if the header was written) and closes the
// destination. Calling it again returns the result of the first call.
func (o *Output) Close(
	ctx context.Context,
) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	o.closeOnce.Do(func() {
		o.closeChan.Close(ctx)
		var result []error
		o.locker.Do(ctx, func() {
			if o.started {
				logger.Debugf(ctx, "writing the trailer")
				if err := o.FormatContext.WriteTrailer(); err != nil {
					result = append(result, types.ErrProtocol{
						Component: "output",
						Err:       fmt.Errorf("unable to write the trailer: %w", err),
					})
				}
			}
			if o.ioContext != nil {
				if err := o.ioContext.Close(); err != nil {
					result = append(result, types.ErrIO{
						Component: "output",
						Err:       fmt.Errorf("unable to close the IO context: %w", err),
					})
				}
			}
		})
		o.closeErr = errors.Join(result...)
	})
	return o.closeErr
}

// IsStarted reports if the header is written.
func (o *Output) IsStarted(ctx context.Context) bool {
	return xsync.DoR1(ctx, &o.locker, func() bool {
		return o.started
	})
}

func (o *Output) GetStats() *types.ProcessingStatistics {
	return &types.ProcessingStatistics{
		BytesCountWrote: o.bytesWrote.Load(),
		PacketsWrote:    o.packetsWrote.Load(),
		PacketsDropped:  o.packetsDropped.Load(),
	}
}
