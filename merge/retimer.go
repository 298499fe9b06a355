package merge

import (
	"context"
)

// Retimer keeps the timestamps of the merged output continuous across
// splices.
type Retimer[P any] interface {
	// BeginSegment is called right before the first packet of an input is
	// forwarded.
	BeginSegment(ctx context.Context, slot SlotID)

	// Retime adjusts the packet before it is forwarded. If it returns false
	// the packet is dropped and the Retimer is responsible to release it.
	Retime(ctx context.Context, pkt P) (P, bool)
}
