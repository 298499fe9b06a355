// Package avloop remuxes a single media file over and over into one
// continuous output, without gaps at the points where a pass ends and the
// next one begins.
//
// The file is read by rotating branches (see package branchpool) feeding a
// merge stage (see package merge); the merged packets are consumed by a
// Finisher, which writes the output.
package avloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/avloop/branchpool"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/merge"
	"github.com/xaionaro-go/avloop/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

// Finisher consumes the merged packets.
type Finisher[P any] interface {
	// Serve consumes packets until the channel is closed (nil is returned)
	// or until a fatal error.
	Serve(ctx context.Context, in <-chan P) error

	// Close finalizes the output. It must be safe to call more than once.
	types.Closer
}

type Pipeline[P any] struct {
	Config   Config
	Factory  branchpool.SourceFactory[P]
	Retimer  merge.Retimer[P]
	Finisher Finisher[P]

	// OnFatalError is called exactly once if the pipeline stops because of
	// an error. It is not called on the goroutine which hit the error.
	OnFatalError func(ctx context.Context, err error)

	// OnFinalized is called once the output is finalized after a stop request.
	OnFinalized func(ctx context.Context)

	locker           xsync.Mutex
	state            atomic.Int32
	merge            *merge.Concat[P]
	pool             *branchpool.Pool[P]
	cancelFn         context.CancelFunc
	finisherDoneCh   chan struct{}
	doneCh           chan struct{}
	doneOnce         sync.Once
	fatalErr         error
	startedAt        xatomic.Value[time.Time]
	fatalErrorsCount atomic.Uint64
}

func New[P any](
	factory branchpool.SourceFactory[P],
	retimer merge.Retimer[P],
	finisher Finisher[P],
	cfg Config,
) (*Pipeline[P], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline[P]{
		Config:         cfg,
		Factory:        factory,
		Retimer:        retimer,
		Finisher:       finisher,
		finisherDoneCh: make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

func (p *Pipeline[P]) String() string {
	return fmt.Sprintf("Pipeline(%s)", p.State())
}

func (p *Pipeline[P]) State() State {
	return State(p.state.Load())
}

func (p *Pipeline[P]) compareAndSwapState(
	ctx context.Context,
	oldState, newState State,
) bool {
	if !p.state.CompareAndSwap(int32(oldState), int32(newState)) {
		return false
	}
	logger.Debugf(ctx, "pipeline state: %s -> %s", oldState, newState)
	return true
}

// Begin starts looping the file at uri. It fails with ErrAlreadyStarted
// unless the pipeline is Idle. If the initial branches cannot be created the
// error is also reported through OnFatalError.
func (p *Pipeline[P]) Begin(
	ctx context.Context,
	uri string,
) (_err error) {
	logger.Debugf(ctx, "Begin(ctx, '%s')", uri)
	defer func() { logger.Debugf(ctx, "/Begin(ctx, '%s'): %v", uri, _err) }()

	return xsync.DoA2R1(ctx, &p.locker, p.beginLocked, ctx, uri)
}

func (p *Pipeline[P]) beginLocked(
	ctx context.Context,
	uri string,
) error {
	if !p.compareAndSwapState(ctx, StateIdle, StatePlaying) {
		return ErrAlreadyStarted
	}
	p.startedAt.Store(time.Now())

	ctx, cancelFn := context.WithCancel(ctx)
	p.cancelFn = cancelFn

	mergeStage, err := merge.New(p.Config.Merge, p.Retimer)
	if err != nil {
		p.fail(ctx, ErrComponent{Component: "merge", Err: err})
		return err
	}
	p.merge = mergeStage

	pool, err := branchpool.New(
		p.Factory,
		mergeStage,
		types.ErrorHandlerFunc(p.handleBranchError),
		p.Config.Pool...,
	)
	if err != nil {
		p.fail(ctx, ErrComponent{Component: "pool", Err: err})
		return err
	}
	p.pool = pool

	mergedCh := make(chan P)
	mergeErrCh := make(chan error, 1)
	observability.Go(ctx, func(ctx context.Context) {
		mergeErrCh <- mergeStage.Serve(ctx, mergedCh)
	})
	observability.Go(ctx, func(ctx context.Context) {
		p.serveFinisher(ctx, mergedCh, mergeErrCh)
	})

	if err := pool.Initialize(ctx, uri); err != nil {
		err = ErrComponent{Component: "pool", Err: err}
		p.fail(ctx, err)
		return err
	}
	return nil
}

func (p *Pipeline[P]) handleBranchError(
	ctx context.Context,
	err error,
) error {
	p.fail(ctx, ErrComponent{Component: "branch", Err: err})
	return nil
}

func (p *Pipeline[P]) serveFinisher(
	ctx context.Context,
	mergedCh <-chan P,
	mergeErrCh <-chan error,
) {
	defer close(p.finisherDoneCh)
	logger.Debugf(ctx, "serveFinisher")
	defer func() { logger.Debugf(ctx, "/serveFinisher") }()

	if err := p.Finisher.Serve(ctx, mergedCh); err != nil {
		p.fail(ctx, ErrComponent{Component: "finisher", Err: err})
		return
	}
	if err := <-mergeErrCh; err != nil {
		p.fail(ctx, ErrComponent{Component: "merge", Err: err})
		return
	}

	if p.State() == StatePlaying {
		p.fail(ctx, ErrComponent{Component: "finisher", Err: fmt.Errorf("finished without a stop request")})
		return
	}

	// the terminal end-of-stream reached the finisher, so every branch is
	// drained
	observability.Go(xcontext.DetachDone(ctx), func(ctx context.Context) {
		p.finalize(ctx)
	})
}

func (p *Pipeline[P]) finalize(ctx context.Context) {
	logger.Debugf(ctx, "finalize")
	defer func() { logger.Debugf(ctx, "/finalize") }()

	if err := p.pool.Close(ctx); err != nil {
		p.fail(ctx, ErrComponent{Component: "pool", Err: err})
		return
	}
	if err := p.Finisher.Close(ctx); err != nil {
		p.fail(ctx, ErrComponent{Component: "finisher", Err: err})
		return
	}
	if !p.compareAndSwapState(ctx, StateStopping, StateStopped) {
		logger.Debugf(ctx, "the pipeline is %s already", p.State())
		return
	}
	p.cancelFn()
	if fn := p.OnFinalized; fn != nil {
		fn(ctx)
	}
	p.markDone()
}

// fail moves the pipeline straight to Stopped. Only the first error is
// reported, the others are logged.
func (p *Pipeline[P]) fail(
	ctx context.Context,
	err error,
) {
	p.fatalErrorsCount.Add(1)
	for {
		state := p.State()
		if state == StateStopped {
			logger.Debugf(ctx, "an error after the pipeline has stopped: %v", err)
			return
		}
		if p.compareAndSwapState(ctx, state, StateStopped) {
			break
		}
	}
	logger.Errorf(ctx, "fatal error: %v", err)
	p.fatalErr = err

	observability.Go(xcontext.DetachDone(ctx), func(ctx context.Context) {
		if fn := p.OnFatalError; fn != nil {
			fn(ctx, err)
		}
		p.releaseAfterFailure(ctx)
		p.markDone()
	})
}

func (p *Pipeline[P]) releaseAfterFailure(ctx context.Context) {
	logger.Debugf(ctx, "releaseAfterFailure")
	defer func() { logger.Debugf(ctx, "/releaseAfterFailure") }()

	if p.cancelFn != nil {
		p.cancelFn()
	}

	var errs []error
	if p.merge != nil {
		if err := p.merge.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the merge stage: %w", err))
		}
	}
	if p.pool != nil {
		<-p.finisherDoneCh
		if err := p.pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("unable to close the pool: %w", err))
		}
	}
	if err := p.Finisher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unable to finalize the output: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warnf(ctx, "%v", err)
	}
}

func (p *Pipeline[P]) markDone() {
	p.doneOnce.Do(func() {
		close(p.doneCh)
	})
}

// RequestStop makes the current pass the last one. It is idempotent. An
// Idle pipeline goes straight to Stopped.
func (p *Pipeline[P]) RequestStop(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "RequestStop")
	defer func() { logger.Debugf(ctx, "/RequestStop: %v", _err) }()

	var pool *branchpool.Pool[P]
	p.locker.Do(ctx, func() {
		for {
			switch state := p.State(); state {
			case StateIdle:
				if !p.compareAndSwapState(ctx, StateIdle, StateStopped) {
					continue
				}
				p.markDone()
			case StatePlaying:
				if !p.compareAndSwapState(ctx, StatePlaying, StateStopping) {
					continue
				}
				pool = p.pool
			default:
				logger.Debugf(ctx, "the pipeline is %s already", state)
			}
			return
		}
	})
	if pool == nil {
		return nil
	}
	return pool.Shutdown(ctx)
}

// Wait blocks until the pipeline is Stopped and its resources are released.
// It returns the fatal error if there was one.
func (p *Pipeline[P]) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.doneCh:
		return p.fatalErr
	}
}

// Done is closed once the pipeline is Stopped and its resources are released.
func (p *Pipeline[P]) Done() <-chan struct{} {
	return p.doneCh
}

// Branches returns the live branches.
func (p *Pipeline[P]) Branches(ctx context.Context) ([]branchpool.BranchInfo, error) {
	pool := xsync.DoR1(ctx, &p.locker, func() *branchpool.Pool[P] {
		return p.pool
	})
	if pool == nil {
		return nil, ErrNotPlaying
	}
	return pool.Branches(ctx), nil
}

type Stats struct {
	State       State
	Uptime      time.Duration
	FatalErrors uint64
	Pool        branchpool.Stats
	Merge       merge.Stats
	Output      *types.ProcessingStatistics
}

func (p *Pipeline[P]) Stats(ctx context.Context) Stats {
	s := Stats{
		State:       p.State(),
		FatalErrors: p.fatalErrorsCount.Load(),
	}
	if startedAt := p.startedAt.Load(); !startedAt.IsZero() {
		s.Uptime = time.Since(startedAt)
	}
	p.locker.Do(ctx, func() {
		if p.pool != nil {
			s.Pool = p.pool.Stats(ctx)
		}
		if p.merge != nil {
			s.Merge = p.merge.Stats(ctx)
		}
	})
	if getter, ok := any(p.Finisher).(interface {
		GetStats() *types.ProcessingStatistics
	}); ok {
		s.Output = getter.GetStats()
	}
	return s
}
