package buffer

import (
	"sync"
)

// Pool hands out fixed-size message buffers. Each relay pump borrows
// one for the lifetime of its connection, so bursts of reconnecting
// inspector clients do not churn the allocator.
type Pool struct {
	p sync.Pool
}

func NewPool(size int) *Pool {
	return &Pool{p: sync.Pool{
		New: func() any {
			b := make([]byte, size)
			return &b
		},
	}}
}

func (p *Pool) Get() *[]byte {
	return p.p.Get().(*[]byte)
}

func (p *Pool) Put(b *[]byte) {
	p.p.Put(b)
}
