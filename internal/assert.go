// Package internal contains helpers shared by the packages of this module
// which are not a part of its API.
package internal

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// Assert panics (through the logger, so the message gets flushed) if
// mustBeTrue is false. It is used for invariants whose violation is a
// programming error.
func Assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	if mustBeTrue {
		return
	}

	logger.Panic(ctx, append([]any{"assertion failed"}, extraArgs...)...)
}
