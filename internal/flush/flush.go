package flush

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/shiplog/shiplog-go/internal/breaker"
	"github.com/shiplog/shiplog-go/internal/buffer"
	"github.com/shiplog/shiplog-go/internal/event"
	"github.com/shiplog/shiplog-go/internal/transport"
)

type Store interface {
	Update(fn func(pending []buffer.Record) []buffer.Record) error
}

type Sender interface {
	Send(ctx context.Context, ev event.Event) error
}

// Orchestrator resends persisted records. Flush is single-flight:
// triggers arriving while a pass runs are absorbed into it. The whole
// pass runs inside the store's update lock, so live-path persists
// serialize against it instead of racing the rewrite.
type Orchestrator struct {
	logger *slog.Logger
	store  Store
	sender Sender
	brk    *breaker.Breaker
	group  singleflight.Group
}

func New(logger *slog.Logger, store Store, sender Sender, brk *breaker.Breaker) *Orchestrator {
	return &Orchestrator{
		logger: logger,
		store:  store,
		sender: sender,
		brk:    brk,
	}
}

// Trigger starts a flush without waiting for it.
func (o *Orchestrator) Trigger() {
	go func() {
		if err := o.Flush(context.Background()); err != nil {
			o.logger.Warn("flush failed", "error", err)
		}
	}()
}

func (o *Orchestrator) Flush(ctx context.Context) error {
	_, err, _ := o.group.Do("flush", func() (any, error) {
		return nil, o.flushOnce(ctx)
	})
	return err
}

func (o *Orchestrator) flushOnce(ctx context.Context) error {
	var sent, dropped, pushedBack int
	keptTotal := -1

	err := o.store.Update(func(pending []buffer.Record) []buffer.Record {
		kept := make([]buffer.Record, 0, len(pending))
		for i, rec := range pending {
			if o.brk.Open() {
				// Current and all not-yet-attempted records go back
				// unchanged.
				kept = append(kept, pending[i:]...)
				pushedBack = len(pending) - i
				break
			}

			err := o.sender.Send(ctx, rec.Event)

			var encErr *transport.EncodingError
			switch {
			case err == nil:
				sent++
			case errors.Is(err, transport.ErrRateLimited):
				o.brk.Trip()
				kept = append(kept, pending[i:]...)
				pushedBack = len(pending) - i
			case errors.As(err, &encErr):
				dropped++
			default:
				rec.RetryCount++
				kept = append(kept, rec)
			}

			if o.brk.Open() {
				break
			}
		}
		keptTotal = len(kept)
		return kept
	})
	if err != nil {
		return err
	}

	if keptTotal >= 0 {
		o.logger.Info("flush pass complete",
			"sent", sent, "dropped", dropped, "kept", keptTotal, "pushed_back", pushedBack)
	}
	return nil
}
