package netwatch

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/shiplog/shiplog-go/internal/breaker"
)

// Probe reports whether the collector is currently reachable.
type Probe func(ctx context.Context) bool

// Watcher polls reachability and fires onReachable on every transition
// into the reachable state. Duplicate fires are harmless: the flush
// orchestrator's single-flight guard absorbs them. Once the breaker
// opens the watcher exits for good.
type Watcher struct {
	logger      *slog.Logger
	brk         *breaker.Breaker
	probe       Probe
	interval    time.Duration
	onReachable func()
}

func New(logger *slog.Logger, brk *breaker.Breaker, addr string, interval time.Duration, onReachable func()) *Watcher {
	return &Watcher{
		logger:      logger,
		brk:         brk,
		probe:       dialProbe(addr),
		interval:    interval,
		onReachable: onReachable,
	}
}

func (w *Watcher) SetProbe(p Probe) {
	if p != nil {
		w.probe = p
	}
}

func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Assume reachable at start; the startup flush already covers any
	// backlog, so only a later offline->online edge should trigger.
	reachable := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if w.brk.Open() {
			w.logger.Debug("connectivity watcher deactivated")
			return
		}

		now := w.probe(ctx)
		if now && !reachable {
			w.logger.Info("connectivity restored, triggering flush")
			go w.onReachable()
		}
		reachable = now
	}
}

func dialProbe(addr string) Probe {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	return func(ctx context.Context) bool {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}
