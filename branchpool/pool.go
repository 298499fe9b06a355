package branchpool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/merge"
	"github.com/xaionaro-go/avloop/types"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

// Pool owns the branches feeding a merge stage and replaces every branch
// which reached the end of the file with a fresh one.
type Pool[P any] struct {
	Config       Config
	Factory      SourceFactory[P]
	Merge        *merge.Concat[P]
	ErrorHandler types.ErrorHandler

	locker     xsync.Mutex
	ctx        context.Context
	uri        string
	slots      []*Branch[P]
	branches   map[BranchIndex]*Branch[P]
	lastIndex  BranchIndex
	slotCursor int
	pending    []pendingReplacement[P]
	stopping   bool
	closed     bool

	detacher  *detacher
	notifier  *notifier
	replacing sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	created     atomic.Uint64
	ended       atomic.Uint64
	recycled    atomic.Uint64
	dropped     atomic.Uint64
	destroyed   atomic.Uint64
	starvations atomic.Uint64
}

// pendingReplacement is an opened replacement waiting for a free slot.
type pendingReplacement[P any] struct {
	Reader  Reader
	Demuxer Demuxer[P]
}

type Stats struct {
	Created   uint64
	Ended     uint64
	Recycled  uint64
	Destroyed uint64

	// Dropped is the amount of replacements discarded because the pool
	// was stopping by the time they were ready.
	Dropped uint64

	// Starvations is the amount of times the merge stage was left without
	// a ready input while the pool was not stopping.
	Starvations uint64

	Pending uint
	Live    int
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"created:%d ended:%d recycled:%d dropped:%d destroyed:%d starvations:%d pending:%d live:%d",
		s.Created, s.Ended, s.Recycled, s.Dropped, s.Destroyed, s.Starvations, s.Pending, s.Live,
	)
}

func New[P any](
	factory SourceFactory[P],
	mergeStage *merge.Concat[P],
	errorHandler types.ErrorHandler,
	opts ...Option,
) (*Pool[P], error) {
	cfg := Options(opts).Config()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Pool[P]{
		Config:       cfg,
		Factory:      factory,
		Merge:        mergeStage,
		ErrorHandler: errorHandler,
		slots:        make([]*Branch[P], cfg.slotCount()),
		branches:     map[BranchIndex]*Branch[P]{},
	}, nil
}

func (p *Pool[P]) String() string {
	return fmt.Sprintf("BranchPool(%d/%d)", p.Config.BranchCount, p.Config.slotCount())
}

// Initialize creates BranchCount branches with indices 1..BranchCount,
// links them to the merge stage in index order and starts them.
//
// ctx bounds the lifetime of the streaming goroutines; cancelling it aborts
// them without an end-of-stream.
func (p *Pool[P]) Initialize(
	ctx context.Context,
	uri string,
) (_err error) {
	logger.Debugf(ctx, "Initialize(ctx, '%s')", uri)
	defer func() { logger.Debugf(ctx, "/Initialize(ctx, '%s'): %v", uri, _err) }()

	return xsync.DoA2R1(ctx, &p.locker, p.initializeLocked, ctx, uri)
}

func (p *Pool[P]) initializeLocked(
	ctx context.Context,
	uri string,
) (_err error) {
	if p.ctx != nil {
		return fmt.Errorf("already initialized")
	}
	if p.closed {
		return ErrClosed
	}
	p.ctx = ctx
	p.uri = uri
	p.detacher = newDetacher(xcontext.DetachDone(ctx), p.Config.DetachWorkers)
	p.notifier = newNotifier(xcontext.DetachDone(ctx))

	type opened struct {
		reader  Reader
		demuxer Demuxer[P]
	}
	var sources []opened
	defer func() {
		if _err == nil {
			return
		}
		for _, s := range sources {
			p.closeSources(ctx, s.reader, s.demuxer)
		}
	}()
	for range p.Config.BranchCount {
		reader, demuxer, err := p.openSources(ctx)
		if err != nil {
			return err
		}
		sources = append(sources, opened{reader: reader, demuxer: demuxer})
	}

	for len(sources) > 0 {
		s := sources[0]
		if _, err := p.linkBranchLocked(ctx, s.reader, s.demuxer); err != nil {
			return err
		}
		sources = sources[1:]
	}
	return nil
}

func (p *Pool[P]) openSources(
	ctx context.Context,
) (_ Reader, _ Demuxer[P], _err error) {
	reader, err := p.Factory.OpenReader(ctx, p.uri)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open a reader of '%s': %w", p.uri, err)
	}
	demuxer, err := p.Factory.OpenDemuxer(ctx, reader)
	if err != nil {
		p.closeSources(ctx, reader, nil)
		return nil, nil, fmt.Errorf("unable to open a demuxer of '%s': %w", p.uri, err)
	}
	return reader, demuxer, nil
}

func (p *Pool[P]) closeSources(
	ctx context.Context,
	reader Reader,
	demuxer Demuxer[P],
) error {
	var errs []error
	if demuxer != nil {
		if err := demuxer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the demuxer: %w", err))
		}
	}
	if reader != nil {
		if err := reader.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the reader: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		logger.Warnf(ctx, "%v", err)
	}
	return err
}

// Shutdown makes the pool stop replacing branches. The merge stage is
// sealed, and unless DrainOnStop is set every branch stops reading and
// sends its end-of-stream right away.
func (p *Pool[P]) Shutdown(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Shutdown")
	defer func() { logger.Debugf(ctx, "/Shutdown: %v", _err) }()

	var (
		branches []*Branch[P]
		pending  []pendingReplacement[P]
	)
	p.locker.Do(ctx, func() {
		if p.stopping {
			return
		}
		p.stopping = true
		pending, p.pending = p.pending, nil
		for _, b := range p.branches {
			branches = append(branches, b)
		}
	})
	if len(pending) > 0 {
		logger.Debugf(ctx, "dropping %d pending replacements", len(pending))
		for _, r := range pending {
			p.closeSources(ctx, r.Reader, r.Demuxer)
			p.dropped.Add(1)
		}
	}
	p.Merge.Seal(ctx)
	if p.Config.DrainOnStop {
		return nil
	}
	for _, b := range branches {
		b.stopReading()
	}
	return nil
}

func (p *Pool[P]) IsStopping(ctx context.Context) bool {
	return xsync.DoR1(ctx, &p.locker, func() bool {
		return p.stopping
	})
}

// Close detaches every remaining branch and waits until all of them are
// destroyed and every event is delivered. Calling Close before the merge
// stage drained its inputs blocks until it does, unless the merge stage is
// closed.
func (p *Pool[P]) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closeErr = p.close(ctx)
	})
	return p.closeErr
}

func (p *Pool[P]) close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()

	if err := p.Shutdown(ctx); err != nil {
		return fmt.Errorf("unable to shutdown: %w", err)
	}
	p.replacing.Wait()

	var (
		d *detacher
		n *notifier
	)
	p.locker.Do(ctx, func() {
		p.closed = true
		d = p.detacher
		n = p.notifier
		if d == nil {
			return
		}
		for _, b := range p.branches {
			if b.compareAndSwapState(ctx, BranchStateLinked, BranchStateDetaching) ||
				b.compareAndSwapState(ctx, BranchStateDraining, BranchStateDetaching) {
				p.enqueueDetachLocked(ctx, b)
			}
		}
	})
	if d == nil {
		return nil
	}
	if err := d.Close(ctx); err != nil {
		return fmt.Errorf("unable to wait for the detach workers: %w", err)
	}
	if err := n.Close(ctx); err != nil {
		return fmt.Errorf("unable to deliver the remaining events: %w", err)
	}
	return nil
}

func (p *Pool[P]) Stats(ctx context.Context) Stats {
	s := Stats{
		Created:     p.created.Load(),
		Ended:       p.ended.Load(),
		Recycled:    p.recycled.Load(),
		Destroyed:   p.destroyed.Load(),
		Dropped:     p.dropped.Load(),
		Starvations: p.starvations.Load(),
	}
	p.locker.Do(ctx, func() {
		s.Pending = uint(len(p.pending))
		s.Live = len(p.branches)
	})
	return s
}

// Branches returns a snapshot of the live branches ordered by index.
func (p *Pool[P]) Branches(ctx context.Context) []BranchInfo {
	result := xsync.DoR1(ctx, &p.locker, func() []BranchInfo {
		result := make([]BranchInfo, 0, len(p.branches))
		for _, b := range p.branches {
			result = append(result, b.Info())
		}
		return result
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result
}

func (p *Pool[P]) handleError(ctx context.Context, err error) {
	logger.Debugf(ctx, "handleError: %v", err)
	if p.ErrorHandler == nil {
		logger.Errorf(ctx, "%v", err)
		return
	}
	if err := p.ErrorHandler.HandleError(ctx, err); err != nil {
		logger.Errorf(ctx, "unable to handle an error: %v", err)
	}
}
