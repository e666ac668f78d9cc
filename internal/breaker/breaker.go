package breaker

import "sync/atomic"

// Breaker is a one-way flag: Closed at construction, Open forever once
// tripped. There is no reset; a fresh client starts Closed again.
//
// Fast-path readers (the enqueue hot path) tolerate a stale Closed read:
// the worst consequence is one wasted enqueue against a queue that is no
// longer drained.
type Breaker struct {
	open atomic.Bool
}

func New() *Breaker {
	return &Breaker{}
}

func (b *Breaker) Trip() {
	b.open.Store(true)
}

func (b *Breaker) Open() bool {
	return b.open.Load()
}
