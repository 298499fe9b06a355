package avloop

import (
	"fmt"

	"github.com/xaionaro-go/avloop/branchpool"
	"github.com/xaionaro-go/avloop/merge"
)

type Config struct {
	Merge merge.Config
	Pool  branchpool.Options
}

func DefaultConfig() Config {
	return Config{
		Merge: merge.DefaultConfig(),
	}
}

func (cfg Config) Validate() error {
	if err := cfg.Merge.Validate(); err != nil {
		return fmt.Errorf("invalid merge config: %w", err)
	}
	if err := cfg.Pool.Config().Validate(); err != nil {
		return fmt.Errorf("invalid pool config: %w", err)
	}
	return nil
}
