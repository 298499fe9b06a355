package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avloop/branchpool"
	"github.com/xaionaro-go/avloop/kernel"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/preset/loopremux"
	"github.com/xaionaro-go/avloop/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/secret"
)

func main() {

	// parse the input

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s <file-from> <URL-to>\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	branches := pflag.Uint("branches", branchpool.DefaultBranchCount, fmt.Sprintf("amount of branches reading the file concurrently [%d..%d]", branchpool.MinBranchCount, branchpool.MaxBranchCount))
	slots := pflag.Uint("slots", 0, "amount of merge slots (0 means branches+1)")
	detachWorkers := pflag.Uint("detach-workers", branchpool.DefaultDetachWorkers, "amount of goroutines tearing down finished branches")
	drainOnStop := pflag.Bool("drain-on-stop", false, "on stop, finish the passes being read instead of stopping immediately")
	inputFormat := pflag.String("input-format", "", "force the input format")
	inputOptions := pflag.StringSlice("input-option", nil, "a demuxer option in form key=value")
	outputFormat := pflag.String("output-format", "", "force the output format (by default it is guessed by the URL)")
	outputOptions := pflag.StringSlice("output-option", nil, "a muxer option in form key=value")
	streamKey := pflag.String("output-stream-key", "", "a stream key appended to the output URL (RTMP-style); also taken from $AVLOOP_STREAM_KEY")
	bsfVideo := pflag.String("bsf-video", bsfAuto, "comma-separated bitstream filters for video ('auto', 'none' or a list; a '?' suffix makes a filter optional)")
	bsfAudio := pflag.String("bsf-audio", bsfAuto, "comma-separated bitstream filters for audio ('auto', 'none' or a list)")
	duration := pflag.Duration("duration", 0, "request a stop after this time (0 means looping until a signal)")
	statsInterval := pflag.Duration("stats-interval", 0, "print the statistics with this interval (0 disables)")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()
	if len(pflag.Args()) != 2 {
		pflag.Usage()
		os.Exit(1)
	}

	fromURL := pflag.Arg(0)
	toURL := pflag.Arg(1)
	if *streamKey == "" {
		*streamKey = os.Getenv("AVLOOP_STREAM_KEY")
	}

	// init the context

	ctx := withLogger(context.Background(), loggerLevel)
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) {
			logger.Error(ctx, http.ListenAndServe(*netPprofAddr, nil))
		})
	}

	// configure

	cfg := loopremux.DefaultConfig()
	cfg.Loop.Pool = branchpool.Options{
		branchpool.OptionBranchCount(*branches),
		branchpool.OptionSlotCount(*slots),
		branchpool.OptionDetachWorkers(*detachWorkers),
		branchpool.OptionDrainOnStop(*drainOnStop),
		branchpool.OptionOnBranchLinked(func(ctx context.Context, info branchpool.BranchInfo) {
			logger.Infof(ctx, "branch #%d is linked to slot %d", info.Index, info.Slot)
		}),
		branchpool.OptionOnBranchUnlinked(func(ctx context.Context, info branchpool.BranchInfo) {
			logger.Debugf(ctx, "branch #%d freed slot %d", info.Index, info.Slot)
		}),
		branchpool.OptionOnBranchDestroyed(func(ctx context.Context, info branchpool.BranchInfo) {
			logger.Infof(ctx, "branch #%d is destroyed after %d packets", info.Index, info.PacketsDelivered)
		}),
	}
	cfg.Demuxer = kernel.DemuxerConfig{
		FormatName:    *inputFormat,
		CustomOptions: types.ParseDictionaryItems(*inputOptions),
	}
	cfg.Output = kernel.OutputConfig{
		FormatName:    *outputFormat,
		CustomOptions: types.ParseDictionaryItems(*outputOptions),
	}
	if err := configureBitstreamFilter(&cfg, *bsfVideo, *bsfAudio); err != nil {
		logger.Fatalf(ctx, "%v", err)
	}

	// start

	logger.Debugf(ctx, "opening '%s' as the output...", toURL)
	loop, err := loopremux.New(ctx, toURL, secret.New(*streamKey), cfg)
	if err != nil {
		logger.Fatalf(ctx, "%v", err)
	}
	loop.OnFatalError = func(ctx context.Context, err error) {
		logger.Errorf(ctx, "the loop failed: %v", err)
	}
	loop.OnFinalized = func(ctx context.Context) {
		logger.Infof(ctx, "the output is finalized")
	}

	logger.Debugf(ctx, "looping '%s'...", fromURL)
	if err := loop.Begin(ctx, fromURL); err != nil {
		logger.Fatalf(ctx, "%v", err)
	}

	// observe

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	var durationCh <-chan time.Time
	if *duration > 0 {
		durationTimer := time.NewTimer(*duration)
		defer durationTimer.Stop()
		durationCh = durationTimer.C
	}

	var statsCh <-chan time.Time
	if *statsInterval > 0 {
		statsTicker := time.NewTicker(*statsInterval)
		defer statsTicker.Stop()
		statsCh = statsTicker.C
	}

	stopRequested := false
	requestStop := func(reason string) {
		if stopRequested {
			return
		}
		stopRequested = true
		logger.Infof(ctx, "stopping: %s", reason)
		if err := loop.RequestStop(ctx); err != nil {
			logger.Errorf(ctx, "unable to request a stop: %v", err)
		}
	}

	for {
		select {
		case <-loop.Done():
			printStats(ctx, loop)
			if err := loop.Wait(ctx); err != nil {
				logger.Errorf(ctx, "finished with an error: %v", err)
				belt.Flush(ctx)
				os.Exit(1)
			}
			logger.Infof(ctx, "finished")
			return
		case sig := <-signalCh:
			if stopRequested {
				logger.Errorf(ctx, "received %s again, exiting without finalizing the output", sig)
				belt.Flush(ctx)
				os.Exit(2)
			}
			requestStop(fmt.Sprintf("received %s", sig))
		case <-durationCh:
			requestStop(fmt.Sprintf("the duration limit (%v) is reached", *duration))
		case <-statsCh:
			printStats(ctx, loop)
		}
	}
}

func printStats(ctx context.Context, loop *loopremux.LoopRemux) {
	stats := loop.Stats(ctx)
	assert(ctx, stats.Output != nil)
	retimerStats := loop.Retimer.Stats(ctx)
	fmt.Fprintf(os.Stderr,
		"%s; uptime %v; branches: %s; passes: %s; %s\n",
		stats.State,
		stats.Uptime.Round(time.Second),
		stats.Pool,
		humanize.Comma(int64(retimerStats.Segments)),
		stats.Output,
	)
}
