package branchpool

import (
	"fmt"
)

type BranchState int32

const (
	BranchStateUndefined = BranchState(iota)
	BranchStateLinked
	BranchStateDraining
	BranchStateDetaching
	BranchStateDestroyed
)

func (s BranchState) String() string {
	switch s {
	case BranchStateUndefined:
		return "undefined"
	case BranchStateLinked:
		return "linked"
	case BranchStateDraining:
		return "draining"
	case BranchStateDetaching:
		return "detaching"
	case BranchStateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("unknown_state_%d", int32(s))
	}
}
