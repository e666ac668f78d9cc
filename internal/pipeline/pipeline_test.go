package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shiplog/shiplog-go/internal/config"
	"github.com/shiplog/shiplog-go/internal/event"
	"github.com/shiplog/shiplog-go/internal/transport"
)

type scriptedTransport struct {
	mu       sync.Mutex
	requests int64
	// outcome returns a status code, or an error for a transport-level
	// failure, for the nth request (1-based).
	outcome func(n int64) (int, error)
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.requests++
	n := s.requests
	s.mu.Unlock()

	if req.Body != nil {
		io.Copy(io.Discard, req.Body)
		req.Body.Close()
	}
	status, err := s.outcome(n)
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(`{}`))),
		Header:     make(http.Header),
	}, nil
}

func (s *scriptedTransport) count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		APIKey:             "key",
		Host:               "https://collector.local",
		RequestTimeout:     2 * time.Second,
		MaxContentBytes:    4096,
		MaxPendingEntries:  100,
		MaxPendingAge:      time.Hour,
		PersistenceEnabled: true,
		CacheDir:           t.TempDir(),
		ProbeInterval:      time.Hour,
		LogLevel:           "info",
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, st *scriptedTransport) *Pipeline {
	t.Helper()
	p, err := New(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	p.sender.SetHTTPClient(&http.Client{Transport: st, Timeout: 2 * time.Second})
	return p
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func ev(content string) event.Event {
	return event.Event{Content: content, Level: event.LevelInfo, CreatedAt: time.Now()}
}

func TestWorkerDeliversQueuedEventsInOrder(t *testing.T) {
	t.Parallel()

	st := &scriptedTransport{outcome: func(int64) (int, error) { return http.StatusOK, nil }}
	p := newTestPipeline(t, testConfig(t), st)

	for _, c := range []string{"a", "b", "c"} {
		if !p.Enqueue(ev(c)) {
			t.Fatalf("enqueue %q failed", c)
		}
	}
	p.Start()
	defer p.Close()

	waitFor(t, 2*time.Second, func() bool { return p.Snapshot().EventsSent == 3 })
	if st.count() != 3 {
		t.Fatalf("requests = %d, want 3", st.count())
	}
}

func TestRateLimitMidQueueHaltsEverything(t *testing.T) {
	t.Parallel()

	st := &scriptedTransport{outcome: func(n int64) (int, error) {
		if n == 3 {
			return http.StatusTooManyRequests, nil
		}
		return http.StatusOK, nil
	}}
	p := newTestPipeline(t, testConfig(t), st)

	for _, c := range []string{"e1", "e2", "e3", "e4", "e5"} {
		if !p.Enqueue(ev(c)) {
			t.Fatalf("enqueue %q failed", c)
		}
	}
	p.Start()
	defer p.Close()

	waitFor(t, 2*time.Second, func() bool { return p.Breaker().Open() })

	// e1 and e2 delivered, e3 drew the rate limit, e4 and e5 never
	// attempted.
	if got := st.count(); got != 3 {
		t.Fatalf("requests = %d, want 3", got)
	}
	if sent := p.Snapshot().EventsSent; sent != 2 {
		t.Fatalf("events sent = %d, want 2", sent)
	}

	// Every later call is a no-op that produces no network traffic.
	if p.Enqueue(ev("late")) {
		t.Fatalf("enqueue must fail after the breaker opens")
	}
	if err := p.SendNow(context.Background(), ev("bypass")); !errors.Is(err, transport.ErrRateLimited) {
		t.Fatalf("bypass err = %v, want ErrRateLimited", err)
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := st.count(); got != 3 {
		t.Fatalf("requests after halt = %d, want still 3", got)
	}
}

func TestTransportFailurePersistsThenFlushDelivers(t *testing.T) {
	t.Parallel()

	var failing atomic.Bool
	failing.Store(true)
	st := &scriptedTransport{outcome: func(int64) (int, error) {
		if failing.Load() {
			return 0, errors.New("connection refused")
		}
		return http.StatusOK, nil
	}}
	p := newTestPipeline(t, testConfig(t), st)
	p.Start()
	defer p.Close()

	if !p.Enqueue(ev("offline")) {
		t.Fatalf("enqueue failed")
	}
	waitFor(t, 2*time.Second, func() bool { return p.Snapshot().EventsPersisted == 1 })

	pending, err := p.Store().LoadPending()
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if len(pending) != 1 || pending[0].RetryCount != 0 {
		t.Fatalf("pending = %+v, want one record with retry count 0", pending)
	}

	// A failing flush pass keeps the record and bumps its retry count.
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	pending, err = p.Store().LoadPending()
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Fatalf("pending = %+v, want retry count 1", pending)
	}

	// Connectivity returns; the next flush drains the buffer.
	failing.Store(false)
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	pending, err = p.Store().LoadPending()
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("buffer should be empty, has %d", len(pending))
	}
}

func TestServerRejectionIsDroppedNotPersisted(t *testing.T) {
	t.Parallel()

	st := &scriptedTransport{outcome: func(int64) (int, error) { return http.StatusBadRequest, nil }}
	p := newTestPipeline(t, testConfig(t), st)
	p.Start()
	defer p.Close()

	p.Enqueue(ev("rejected"))
	waitFor(t, 2*time.Second, func() bool { return st.count() == 1 })
	waitFor(t, 2*time.Second, func() bool { return p.Snapshot().EventsDropped == 1 })

	pending, err := p.Store().LoadPending()
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("rejected events must not be persisted, got %d", len(pending))
	}
}

func TestSendNowPersistsOnTransportFailure(t *testing.T) {
	t.Parallel()

	st := &scriptedTransport{outcome: func(int64) (int, error) {
		return 0, errors.New("no route to host")
	}}
	p := newTestPipeline(t, testConfig(t), st)
	p.Start()
	defer p.Close()

	err := p.SendNow(context.Background(), ev("confirm me"))
	var tr *transport.TransportError
	if !errors.As(err, &tr) {
		t.Fatalf("err = %v, want TransportError", err)
	}

	pending, loadErr := p.Store().LoadPending()
	if loadErr != nil {
		t.Fatalf("load pending: %v", loadErr)
	}
	if len(pending) != 1 {
		t.Fatalf("bypass transport failure should persist, got %d records", len(pending))
	}
}

func TestSendNowRateLimitTripsBreaker(t *testing.T) {
	t.Parallel()

	st := &scriptedTransport{outcome: func(int64) (int, error) {
		return http.StatusTooManyRequests, nil
	}}
	p := newTestPipeline(t, testConfig(t), st)
	p.Start()
	defer p.Close()

	if err := p.SendNow(context.Background(), ev("x")); !errors.Is(err, transport.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if !p.Breaker().Open() {
		t.Fatalf("breaker should be open")
	}
	if err := p.SendNow(context.Background(), ev("y")); !errors.Is(err, transport.ErrRateLimited) {
		t.Fatalf("fail-fast err = %v, want ErrRateLimited", err)
	}
	if st.count() != 1 {
		t.Fatalf("requests = %d, want 1 (no network after trip)", st.count())
	}
}

func TestStartupFlushDrainsPriorBacklog(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	// A prior "process run" leaves a record behind.
	failSt := &scriptedTransport{outcome: func(int64) (int, error) {
		return 0, errors.New("offline")
	}}
	prior := newTestPipeline(t, cfg, failSt)
	prior.Start()
	prior.Enqueue(ev("leftover"))
	waitFor(t, 2*time.Second, func() bool { return prior.Snapshot().EventsPersisted == 1 })
	prior.Close()

	okSt := &scriptedTransport{outcome: func(int64) (int, error) { return http.StatusOK, nil }}
	next := newTestPipeline(t, cfg, okSt)
	next.Start()
	defer next.Close()

	waitFor(t, 2*time.Second, func() bool { return okSt.count() == 1 })
	waitFor(t, 2*time.Second, func() bool {
		pending, err := next.Store().LoadPending()
		return err == nil && len(pending) == 0
	})
}

func TestCloseStopsWorkerWithoutDrainingQueue(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	st := &scriptedTransport{outcome: func(int64) (int, error) {
		<-block
		return http.StatusOK, nil
	}}
	p := newTestPipeline(t, testConfig(t), st)
	p.Start()

	p.Enqueue(ev("in flight"))
	waitFor(t, 2*time.Second, func() bool { return st.count() == 1 })

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Close()
	}()

	// The in-flight request is not cancelled; Close waits for the
	// worker to finish it and exit at the next iteration.
	close(block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not complete")
	}
	p.Close()
}
