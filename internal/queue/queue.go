package queue

import (
	"github.com/shiplog/shiplog-go/internal/breaker"
	"github.com/shiplog/shiplog-go/internal/event"
)

// Capacity is fixed by the collector protocol.
const Capacity = 1000

// Queue is a bounded FIFO with many producers and exactly one consumer.
// Enqueue never blocks: when the buffer is full the arriving event is
// rejected and the buffered events are left untouched.
type Queue struct {
	ch  chan event.Event
	brk *breaker.Breaker
}

func New(brk *breaker.Breaker) *Queue {
	return &Queue{
		ch:  make(chan event.Event, Capacity),
		brk: brk,
	}
}

func (q *Queue) Enqueue(ev event.Event) bool {
	if q.brk.Open() {
		return false
	}
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

func (q *Queue) Events() <-chan event.Event {
	return q.ch
}

func (q *Queue) Depth() int {
	return len(q.ch)
}
