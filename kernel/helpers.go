package kernel

import (
	"context"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avloop/internal"
	"github.com/xaionaro-go/avloop/logger"
	"github.com/xaionaro-go/avloop/types"
)

func setFinalizerFree[T interface{ Free() }](
	ctx context.Context,
	freer T,
) {
	internal.SetFinalizerFree(ctx, freer)
}

func setFinalizer[T any](
	ctx context.Context,
	obj T,
	callback func(T),
) {
	internal.SetFinalizer(ctx, obj, callback)
}

func assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	internal.Assert(ctx, mustBeTrue, extraArgs...)
}

// newDictionary returns nil if there are no options, which libav treats as
// an empty dictionary.
func newDictionary(
	ctx context.Context,
	opts types.DictionaryItems,
) *astiav.Dictionary {
	if len(opts) == 0 {
		return nil
	}
	dict := astiav.NewDictionary()
	setFinalizerFree(ctx, dict)
	for _, opt := range opts {
		logger.Debugf(ctx, "dictionary['%s'] = '%s'", opt.Key, opt.Value)
		dict.Set(opt.Key, opt.Value, 0)
	}
	return dict
}
