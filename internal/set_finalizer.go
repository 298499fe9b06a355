package internal

import (
	"context"
	"runtime"

	"github.com/xaionaro-go/avloop/logger"
)

func SetFinalizerFree[T interface{ Free() }](
	ctx context.Context,
	freer T,
) {
	runtime.SetFinalizer(freer, func(freer T) {
		logger.Tracef(ctx, "freeing %T", freer)
		freer.Free()
	})
}

func SetFinalizer[T any](
	ctx context.Context,
	obj T,
	callback func(in T),
) {
	runtime.SetFinalizer(obj, func(obj T) {
		logger.Tracef(ctx, "finalizing %T", obj)
		callback(obj)
	})
}
