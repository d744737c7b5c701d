// Package memory holds allocation helpers for hot write paths.
package memory

import "sync"

// Pool is a typed object pool.
type Pool[T any] struct {
	p *sync.Pool
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.p.Put(v)
}

// NewBufferPool pools byte slices with the given starting capacity.
func NewBufferPool(size int) *Pool[[]byte] {
	return NewPool(func() *[]byte {
		b := make([]byte, 0, size)
		return &b
	})
}
