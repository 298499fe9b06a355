// Package pool provides a typed sync.Pool for objects which own memory
// outside of the Go heap (and thus need an explicit free).
package pool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// ReuseMemory may be disabled to make use-after-release bugs easier to catch.
var ReuseMemory = true

type Pool[T any] struct {
	sync.Pool
	ResetFunc func(*T)

	allocated atomic.Uint64
	reused    atomic.Uint64
	gets      atomic.Uint64
}

type Stats struct {
	Allocated uint64
	Reused    uint64
}

func NewPool[T any](
	allocFunc func() *T,
	resetFunc func(*T),
	freeFunc func(*T),
) *Pool[T] {
	p := &Pool[T]{
		ResetFunc: resetFunc,
	}
	p.Pool.New = func() any {
		p.allocated.Add(1)
		v := allocFunc()
		runtime.SetFinalizer(v, freeFunc)
		return v
	}
	return p
}

func (p *Pool[T]) Get() *T {
	p.gets.Add(1)
	return p.Pool.Get().(*T)
}

// Put resets the items and makes them available to Get.
func (p *Pool[T]) Put(items ...*T) {
	if !ReuseMemory {
		return
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		p.ResetFunc(item)
		p.Pool.Put(item)
	}
}

func (p *Pool[T]) Stats() Stats {
	allocated := p.allocated.Load()
	gets := p.gets.Load()
	var reused uint64
	if gets > allocated {
		reused = gets - allocated
	}
	return Stats{
		Allocated: allocated,
		Reused:    reused,
	}
}
