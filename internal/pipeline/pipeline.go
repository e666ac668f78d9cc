package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/shiplog/shiplog-go/internal/breaker"
	"github.com/shiplog/shiplog-go/internal/buffer"
	"github.com/shiplog/shiplog-go/internal/config"
	"github.com/shiplog/shiplog-go/internal/event"
	"github.com/shiplog/shiplog-go/internal/flush"
	"github.com/shiplog/shiplog-go/internal/netwatch"
	"github.com/shiplog/shiplog-go/internal/queue"
	"github.com/shiplog/shiplog-go/internal/transport"
)

// Pipeline owns the shipping machinery: the bounded queue, the single
// transmitter worker, the circuit breaker, the persistence buffer, the
// flush orchestrator, and the connectivity watcher.
type Pipeline struct {
	cfg     *config.Config
	logger  *slog.Logger
	brk     *breaker.Breaker
	queue   *queue.Queue
	sender  *transport.Sender
	store   *buffer.Store
	flusher *flush.Orchestrator
	watcher *netwatch.Watcher

	cancel    context.CancelFunc
	bgWG      sync.WaitGroup
	closeOnce sync.Once

	eventsEnqueued  atomic.Int64
	eventsDropped   atomic.Int64
	eventsSent      atomic.Int64
	eventsPersisted atomic.Int64
}

type Snapshot struct {
	QueueDepth      int
	EventsEnqueued  int64
	EventsDropped   int64
	EventsSent      int64
	EventsPersisted int64
	BreakerOpen     bool
}

func New(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
		brk:    breaker.New(),
		sender: transport.NewSender(cfg.Host, cfg.APIKey, cfg.RequestTimeout),
	}
	p.queue = queue.New(p.brk)

	if cfg.PersistenceEnabled {
		dir, err := cfg.ResolveCacheDir()
		if err != nil {
			return nil, err
		}
		store, err := buffer.Open(dir, cfg.MaxPendingEntries, cfg.MaxPendingAge)
		if err != nil {
			return nil, err
		}
		p.store = store
		p.flusher = flush.New(logger, store, p.sender, p.brk)
	}

	return p, nil
}

// Start launches the transmitter worker and, when persistence is on,
// fires the startup flush and begins watching connectivity.
func (p *Pipeline) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.bgWG.Add(1)
	go func() {
		defer p.bgWG.Done()
		p.runWorker(ctx)
	}()

	if p.flusher != nil {
		p.flusher.Trigger()

		addr, err := probeAddr(p.cfg.Host)
		if err != nil {
			p.logger.Warn("connectivity watcher disabled", "error", err)
			return
		}
		p.watcher = netwatch.New(p.logger, p.brk, addr, p.cfg.ProbeInterval, p.flusher.Trigger)
		p.bgWG.Add(1)
		go func() {
			defer p.bgWG.Done()
			p.watcher.Run(ctx)
		}()
	}
}

// Enqueue hands an event to the queue. It never blocks and never
// returns an error; failures only feed the diagnostics counters.
func (p *Pipeline) Enqueue(ev event.Event) bool {
	if p.queue.Enqueue(ev) {
		p.eventsEnqueued.Add(1)
		return true
	}
	p.eventsDropped.Add(1)
	return false
}

// SendNow is the bypass path: synchronous delivery with the outcome
// returned to the caller. It shares the breaker and, when persistence
// is enabled, persists on transport failure like the queued path.
func (p *Pipeline) SendNow(ctx context.Context, ev event.Event) error {
	if p.brk.Open() {
		return transport.ErrRateLimited
	}

	err := p.sender.Send(ctx, ev)
	if err == nil {
		p.eventsSent.Add(1)
		return nil
	}
	if errors.Is(err, transport.ErrRateLimited) {
		p.brk.Trip()
		return err
	}
	var trErr *transport.TransportError
	if errors.As(err, &trErr) {
		p.persist(ev)
	}
	return err
}

func (p *Pipeline) runWorker(ctx context.Context) {
	for {
		// Stop draining immediately on breaker trip: buffered events
		// are abandoned along with everything else.
		if p.brk.Open() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue.Events():
			p.transmit(ev)
		}
	}
}

func (p *Pipeline) transmit(ev event.Event) {
	// Detached context: shutdown never cancels an in-flight request;
	// the per-request timeout is the only bound.
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
	defer cancel()

	err := p.sender.Send(ctx, ev)
	if err == nil {
		p.eventsSent.Add(1)
		return
	}

	var trErr *transport.TransportError
	var encErr *transport.EncodingError
	var rejErr *transport.ServerRejectionError
	switch {
	case errors.Is(err, transport.ErrRateLimited):
		p.brk.Trip()
		p.logger.Warn("collector rate limited, shipping halted")
	case errors.As(err, &trErr):
		p.persist(ev)
	case errors.As(err, &encErr):
		p.eventsDropped.Add(1)
		p.logger.Warn("event not serializable, dropped", "error", err)
	case errors.As(err, &rejErr):
		p.eventsDropped.Add(1)
		p.logger.Warn("collector rejected event, dropped", "status", rejErr.StatusCode)
	default:
		p.eventsDropped.Add(1)
		p.logger.Warn("send failed, dropped", "error", err)
	}
}

func (p *Pipeline) persist(ev event.Event) {
	if p.store == nil {
		p.eventsDropped.Add(1)
		return
	}
	if err := p.store.Save(buffer.Record{Event: ev}); err != nil {
		p.eventsDropped.Add(1)
		p.logger.Warn("persist failed, event lost", "error", err)
		return
	}
	p.eventsPersisted.Add(1)
}

func (p *Pipeline) Flush(ctx context.Context) error {
	if p.flusher == nil {
		return nil
	}
	return p.flusher.Flush(ctx)
}

func (p *Pipeline) Store() *buffer.Store {
	return p.store
}

func (p *Pipeline) Breaker() *breaker.Breaker {
	return p.brk
}

func (p *Pipeline) Watcher() *netwatch.Watcher {
	return p.watcher
}

func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		QueueDepth:      p.queue.Depth(),
		EventsEnqueued:  p.eventsEnqueued.Load(),
		EventsDropped:   p.eventsDropped.Load(),
		EventsSent:      p.eventsSent.Load(),
		EventsPersisted: p.eventsPersisted.Load(),
		BreakerOpen:     p.brk.Open(),
	}
}

// Close signals the worker and watcher to exit at their next loop
// iteration and waits for them. In-flight requests run to completion.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	p.bgWG.Wait()
}

func probeAddr(host string) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("parse host url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("host url %q has no authority", host)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
