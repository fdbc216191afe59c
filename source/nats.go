package source

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/unkn0wn-root/entrysync"
)

const drainPoll = 20 * time.Millisecond

// Subscription is a running event subscription. It knows which handlers
// are still running so shutdown can wait for them.
type Subscription struct {
	sub *nats.Subscription
	fl  inflight
}

// Subscribe handles every message published on subject with h. Messages of
// one subscription are delivered sequentially, so events for one subject
// are handled in publish order. Messages that do not decode are logged and
// dropped. Cancelling ctx interrupts the event in flight; the caller still
// owns the subscription and drains it.
func Subscribe(ctx context.Context, nc *nats.Conn, subject, queue string, h entrysync.EventHandler, log entrysync.Logger) (*Subscription, error) {
	if log == nil {
		log = entrysync.NopLogger{}
	}
	s := &Subscription{}
	cb := func(m *nats.Msg) {
		if !s.fl.enter() {
			log.Warn("event after drain dropped", entrysync.Fields{"subject": m.Subject})
			return
		}
		defer s.fl.leave()

		ev, err := DecodeEvent(m.Data)
		if err != nil {
			log.Warn("dropping event message", entrysync.Fields{"subject": m.Subject, "err": err})
			return
		}
		if err := h.Handle(ctx, ev); err != nil {
			log.Debug("event interrupted", entrysync.Fields{"subject": m.Subject, "path": ev.Path.String(), "err": err})
		}
	}

	var err error
	if queue != "" {
		s.sub, err = nc.QueueSubscribe(subject, queue, cb)
	} else {
		s.sub, err = nc.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Unsubscribe stops delivery at once without waiting for running handlers.
func (s *Subscription) Unsubscribe() error { return s.sub.Unsubscribe() }

// Drain stops delivery, lets messages already received be handled and
// returns once the last handler has returned. The NATS drain completes
// before the final callback does, so running handlers are waited for here.
// When ctx ends first, ctx.Err() is returned and handlers may still run.
func (s *Subscription) Drain(ctx context.Context) error {
	if err := s.sub.Drain(); err != nil {
		return err
	}
	t := time.NewTicker(drainPoll)
	defer t.Stop()
	for {
		if !s.sub.IsValid() && s.fl.closeIfIdle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// inflight counts running callbacks. Once closed, no callback may start.
type inflight struct {
	mu     sync.Mutex
	n      int
	closed bool
}

func (f *inflight) enter() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.n++
	return true
}

func (f *inflight) leave() {
	f.mu.Lock()
	f.n--
	f.mu.Unlock()
}

func (f *inflight) closeIfIdle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n > 0 {
		return false
	}
	f.closed = true
	return true
}

// Publish sends ev on subject.
func Publish(nc *nats.Conn, subject string, ev entrysync.Event) error {
	b, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	return nc.Publish(subject, b)
}
