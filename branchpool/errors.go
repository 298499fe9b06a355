package branchpool

import (
	"errors"
	"fmt"
)

var (
	ErrStopping = errors.New("the pool is stopping")
	ErrClosed   = errors.New("the pool is closed")
)

type ErrNoFreeSlot struct{}

func (ErrNoFreeSlot) Error() string {
	return "no free slot"
}

// ErrBranch is an error which happened to a specific branch.
type ErrBranch struct {
	Index BranchIndex
	Err   error
}

func (e ErrBranch) Error() string {
	return fmt.Sprintf("branch #%d: %v", e.Index, e.Err)
}

func (e ErrBranch) Unwrap() error {
	return e.Err
}
