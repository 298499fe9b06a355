package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type object struct {
	Value int
}

func TestPool(t *testing.T) {
	var resets int
	p := NewPool(
		func() *object { return &object{Value: 1} },
		func(o *object) { resets++; o.Value = 0 },
		func(*object) {},
	)

	o := p.Get()
	require.Equal(t, 1, o.Value)
	require.Equal(t, uint64(1), p.Stats().Allocated)

	p.Put(o, nil)
	require.Equal(t, 1, resets)
	require.Zero(t, o.Value)
}
