package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avloop/branchpool"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/types"
)

type ReaderID uint64

type ReaderConfig struct {
	// CustomOptions are passed to the protocol (e.g. "timeout", "rw_timeout").
	CustomOptions types.DictionaryItems
}

// Reader is an opened byte stream of a media file. Any protocol known to
// libav may be used, plain file paths included.
type Reader struct {
	*closeChan

	ID        ReaderID
	URL       string
	IOContext *astiav.IOContext

	closeOnce sync.Once
	closeErr  error
}

var _ branchpool.Reader = (*Reader)(nil)

var nextReaderID atomic.Uint64

func OpenReader(
	ctx context.Context,
	url string,
	cfg ReaderConfig,
) (_ret *Reader, _err error) {
	logger.Debugf(ctx, "OpenReader(ctx, '%s', %#+v)", url, cfg)
	defer func() { logger.Debugf(ctx, "/OpenReader(ctx, '%s', %#+v): %v %v", url, cfg, _ret, _err) }()

	if url == "" {
		return nil, types.ErrIO{Component: "reader", Err: fmt.Errorf("the provided URL is empty")}
	}

	ioContext, err := astiav.OpenIOContext(
		url,
		astiav.NewIOContextFlags(astiav.IOContextFlagRead),
		nil,
		newDictionary(ctx, cfg.CustomOptions),
	)
	if err != nil {
		return nil, types.ErrIO{
			Component: "reader",
			Err:       fmt.Errorf("unable to open IO context (URL: '%s'): %w", url, err),
		}
	}

	return &Reader{
		closeChan: newCloseChan(),
		ID:        ReaderID(nextReaderID.Add(1)),
		URL:       url,
		IOContext: ioContext,
	}, nil
}

// Close closes the IO context. A Demuxer opened on the Reader must not read
// anymore.
func (r *Reader) Close(ctx context.Context) (_err error) {
	if r == nil {
		return nil
	}
	logger.Debugf(ctx, "Close[%s]", r)
	defer func() { logger.Debugf(ctx, "/Close[%s]: %v", r, _err) }()
	r.closeOnce.Do(func() {
		r.closeChan.Close(ctx)
		if err := r.IOContext.Close(); err != nil {
			r.closeErr = types.ErrIO{
				Component: "reader",
				Err:       fmt.Errorf("unable to close the IO context: %w", err),
			}
		}
	})
	return r.closeErr
}

func (r *Reader) String() string {
	return fmt.Sprintf("Reader(#%d: %s)", r.ID, r.URL)
}
