package branchpool

import (
	"context"
	"fmt"
)

const (
	MinBranchCount       = 2
	MaxBranchCount       = 5
	DefaultBranchCount   = 2
	DefaultDetachWorkers = 2
)

type Config struct {
	// BranchCount is the amount of branches created by Initialize.
	BranchCount uint

	// SlotCount is the amount of merge slots. A slot above BranchCount
	// lets a replacement be linked before the finished branch is detached.
	// Zero means BranchCount+1.
	SlotCount uint

	// DetachWorkers is the amount of goroutines performing teardown.
	DetachWorkers uint

	// DrainOnStop makes every branch finish its current pass after a stop
	// request instead of stopping to read immediately.
	DrainOnStop bool

	// The callbacks are called on a dedicated goroutine in the order the
	// events happened. They may call the Pool, except for Close.
	OnBranchLinked    func(context.Context, BranchInfo)
	OnBranchUnlinked  func(context.Context, BranchInfo)
	OnBranchDestroyed func(context.Context, BranchInfo)
}

func DefaultConfig() Config {
	return Config{
		BranchCount:   DefaultBranchCount,
		DetachWorkers: DefaultDetachWorkers,
	}
}

func (cfg Config) slotCount() uint {
	if cfg.SlotCount == 0 {
		return cfg.BranchCount + 1
	}
	return cfg.SlotCount
}

func (cfg Config) Validate() error {
	if cfg.BranchCount < MinBranchCount || cfg.BranchCount > MaxBranchCount {
		return fmt.Errorf("BranchCount must be within [%d, %d], but is %d", MinBranchCount, MaxBranchCount, cfg.BranchCount)
	}
	if cfg.slotCount() < cfg.BranchCount {
		return fmt.Errorf("SlotCount (%d) must not be less than BranchCount (%d)", cfg.SlotCount, cfg.BranchCount)
	}
	if cfg.DetachWorkers == 0 {
		return fmt.Errorf("DetachWorkers must be positive")
	}
	return nil
}
