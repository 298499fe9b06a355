// option.go defines functional options for configuring a Pool.

package branchpool

import (
	"context"
)

type Option interface {
	apply(*Config)
}

type Options []Option

func (s Options) apply(cfg *Config) {
	for _, opt := range s {
		opt.apply(cfg)
	}
}

func (s Options) Config() Config {
	cfg := DefaultConfig()
	s.apply(&cfg)
	return cfg
}

type OptionBranchCount uint

func (opt OptionBranchCount) apply(cfg *Config) {
	cfg.BranchCount = uint(opt)
}

type OptionSlotCount uint

func (opt OptionSlotCount) apply(cfg *Config) {
	cfg.SlotCount = uint(opt)
}

type OptionDetachWorkers uint

func (opt OptionDetachWorkers) apply(cfg *Config) {
	cfg.DetachWorkers = uint(opt)
}

type OptionDrainOnStop bool

func (opt OptionDrainOnStop) apply(cfg *Config) {
	cfg.DrainOnStop = bool(opt)
}

type OptionOnBranchLinked func(context.Context, BranchInfo)

func (opt OptionOnBranchLinked) apply(cfg *Config) {
	cfg.OnBranchLinked = opt
}

// OptionOnBranchUnlinked is called once the slot of the branch is free again.
type OptionOnBranchUnlinked func(context.Context, BranchInfo)

func (opt OptionOnBranchUnlinked) apply(cfg *Config) {
	cfg.OnBranchUnlinked = opt
}

type OptionOnBranchDestroyed func(context.Context, BranchInfo)

func (opt OptionOnBranchDestroyed) apply(cfg *Config) {
	cfg.OnBranchDestroyed = opt
}
