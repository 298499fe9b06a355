package merge

import (
	"fmt"
)

const (
	DefaultInputQueueSize = 64
)

type Config struct {
	// InputQueueSize is the amount of packets an input buffers before its
	// producer blocks.
	InputQueueSize uint
}

func DefaultConfig() Config {
	return Config{
		InputQueueSize: DefaultInputQueueSize,
	}
}

func (cfg Config) Validate() error {
	if cfg.InputQueueSize == 0 {
		return fmt.Errorf("InputQueueSize must be positive")
	}
	return nil
}
