package branchpool

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avloop/merge"
	"github.com/xaionaro-go/avloop/types"
)

type fakePacket struct {
	ReaderID int
	Seq      int
}

type fakeReader struct {
	ID     int
	closed atomic.Bool
}

func (r *fakeReader) Close(context.Context) error {
	r.closed.Store(true)
	return nil
}

type fakeDemuxer struct {
	Reader         *fakeReader
	PacketsPerPass int // negative means endless
	ReadErr        error
	seq            int
	released       atomic.Uint64
	closed         atomic.Bool
}

func (d *fakeDemuxer) ReadPacket(ctx context.Context) (fakePacket, error) {
	if err := ctx.Err(); err != nil {
		return fakePacket{}, err
	}
	if d.ReadErr != nil {
		return fakePacket{}, d.ReadErr
	}
	if d.PacketsPerPass >= 0 && d.seq >= d.PacketsPerPass {
		return fakePacket{}, io.EOF
	}
	d.seq++
	return fakePacket{ReaderID: d.Reader.ID, Seq: d.seq - 1}, nil
}

func (d *fakeDemuxer) ReleasePacket(fakePacket) {
	d.released.Add(1)
}

func (d *fakeDemuxer) Close(context.Context) error {
	d.closed.Store(true)
	return nil
}

type fakeFactory struct {
	PacketsPerPass   int
	ReadErr          error
	FailReaderNumber int
	FailDemuxer      bool

	locker   sync.Mutex
	readers  []*fakeReader
	demuxers []*fakeDemuxer
}

func (f *fakeFactory) OpenReader(_ context.Context, uri string) (Reader, error) {
	f.locker.Lock()
	defer f.locker.Unlock()
	if f.FailReaderNumber > 0 && len(f.readers)+1 == f.FailReaderNumber {
		return nil, types.ErrIO{Component: "reader", Err: fmt.Errorf("unable to open '%s'", uri)}
	}
	r := &fakeReader{ID: len(f.readers) + 1}
	f.readers = append(f.readers, r)
	return r, nil
}

func (f *fakeFactory) OpenDemuxer(_ context.Context, reader Reader) (Demuxer[fakePacket], error) {
	f.locker.Lock()
	defer f.locker.Unlock()
	if f.FailDemuxer {
		return nil, types.ErrProtocol{Component: "demuxer", Err: fmt.Errorf("invalid data")}
	}
	d := &fakeDemuxer{
		Reader:         reader.(*fakeReader),
		PacketsPerPass: f.PacketsPerPass,
		ReadErr:        f.ReadErr,
	}
	f.demuxers = append(f.demuxers, d)
	return d, nil
}

func (f *fakeFactory) allClosed() bool {
	f.locker.Lock()
	defer f.locker.Unlock()
	for _, r := range f.readers {
		if !r.closed.Load() {
			return false
		}
	}
	for _, d := range f.demuxers {
		if !d.closed.Load() {
			return false
		}
	}
	return true
}

type eventKind int

const (
	eventLinked = eventKind(iota)
	eventUnlinked
	eventDestroyed
)

type event struct {
	Kind eventKind
	Info BranchInfo
}

type harness struct {
	t       require.TestingT
	ctx     context.Context
	Factory *fakeFactory
	Merge   *merge.Concat[fakePacket]
	Pool    *Pool[fakePacket]
	Out     chan fakePacket
	ServeCh chan error

	locker sync.Mutex
	events []event
	errors []error
}

func newHarness(
	ctx context.Context,
	t require.TestingT,
	factory *fakeFactory,
	opts ...Option,
) *harness {
	h := &harness{
		t:       t,
		ctx:     ctx,
		Factory: factory,
		Out:     make(chan fakePacket),
		ServeCh: make(chan error, 1),
	}
	var err error
	h.Merge, err = merge.New[fakePacket](merge.Config{InputQueueSize: 4}, nil)
	require.NoError(t, err)

	opts = append(opts,
		OptionOnBranchLinked(func(_ context.Context, info BranchInfo) {
			h.addEvent(eventLinked, info)
		}),
		OptionOnBranchUnlinked(func(_ context.Context, info BranchInfo) {
			h.addEvent(eventUnlinked, info)
		}),
		OptionOnBranchDestroyed(func(_ context.Context, info BranchInfo) {
			h.addEvent(eventDestroyed, info)
		}),
	)
	h.Pool, err = New[fakePacket](factory, h.Merge, types.ErrorHandlerFunc(func(_ context.Context, err error) error {
		h.locker.Lock()
		defer h.locker.Unlock()
		h.errors = append(h.errors, err)
		return nil
	}), opts...)
	require.NoError(t, err)

	go func() {
		h.ServeCh <- h.Merge.Serve(ctx, h.Out)
	}()
	return h
}

func (h *harness) addEvent(kind eventKind, info BranchInfo) {
	h.locker.Lock()
	defer h.locker.Unlock()
	h.events = append(h.events, event{Kind: kind, Info: info})
}

func (h *harness) Events() []event {
	h.locker.Lock()
	defer h.locker.Unlock()
	return append([]event{}, h.events...)
}

func (h *harness) Errors() []error {
	h.locker.Lock()
	defer h.locker.Unlock()
	return append([]error{}, h.errors...)
}

func (h *harness) Consume(count int) []fakePacket {
	var result []fakePacket
	timeout := time.After(10 * time.Second)
	for len(result) < count {
		select {
		case pkt, ok := <-h.Out:
			require.True(h.t, ok, "the merge output was closed after %d packets", len(result))
			result = append(result, pkt)
		case <-timeout:
			require.FailNow(h.t, "timeout", "received only %d packets", len(result))
		}
	}
	return result
}

// Stop shuts the pool down, drains the merge output and closes the pool.
func (h *harness) Stop() []fakePacket {
	require.NoError(h.t, h.Pool.Shutdown(h.ctx))
	var rest []fakePacket
	for pkt := range h.Out {
		rest = append(rest, pkt)
	}
	require.NoError(h.t, <-h.ServeCh)
	require.NoError(h.t, h.Pool.Close(h.ctx))
	return rest
}
