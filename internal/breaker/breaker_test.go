package breaker

import (
	"sync"
	"testing"
)

func TestBreakerStartsClosed(t *testing.T) {
	t.Parallel()

	b := New()
	if b.Open() {
		t.Fatalf("fresh breaker should be closed")
	}
}

func TestTripIsIdempotentUnderConcurrency(t *testing.T) {
	t.Parallel()

	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Trip()
		}()
	}
	wg.Wait()

	if !b.Open() {
		t.Fatalf("breaker should be open after trip")
	}
	b.Trip()
	if !b.Open() {
		t.Fatalf("breaker must stay open forever")
	}
}
