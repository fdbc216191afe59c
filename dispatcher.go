package entrysync

import (
	"context"
	"sync"
)

var _ EventHandler = (*Dispatcher)(nil)

// Dispatcher delivers every event to all registered handlers in
// registration order. Handlers filter by themselves.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []EventHandler
	log      Logger
}

func NewDispatcher(l Logger, hs ...EventHandler) *Dispatcher {
	return &Dispatcher{
		handlers: append([]EventHandler(nil), hs...),
		log:      coalesce[Logger](l, NopLogger{}),
	}
}

func (d *Dispatcher) Register(h EventHandler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// Handle passes ev to each handler. It stops at the first interruption and
// returns it; other handler errors are logged and delivery continues.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	d.mu.RLock()
	hs := d.handlers
	d.mu.RUnlock()

	for _, h := range hs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.Handle(ctx, ev); err != nil {
			if Classify(err) == KindInterrupted {
				return err
			}
			d.log.Warn("event handler failed", Fields{"kind": string(ev.Kind), "path": ev.Path.String(), "err": err})
		}
	}
	return nil
}
