// Package isolate runs units of work on their own goroutine and blocks the
// caller until they finish. The unit does not share the caller's goroutine,
// so nothing bound to it (locks held, transaction handles in scope) leaks in.
//
// usage:
//
//	pool := isolate.NewPool(4, 64)
//	defer pool.Close()
//
//	h, _ := entrysync.NewHandler("stored", entrysync.ArtifactStored, producer, entrysync.Options{
//	    ...
//	    Executor: pool, // or isolate.Spawn{}
//	})
package isolate

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var ErrClosed = errors.New("isolate: pool closed")

// PanicError is returned when the unit of work panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("isolate: panic: %v", e.Value) }

func run(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// Spawn starts a new goroutine per call.
type Spawn struct{}

func (Spawn) Do(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- run(ctx, fn) }()
	return <-done
}

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Pool is a fixed set of workers fed by a bounded queue. Do blocks until the
// work is accepted and then until it completes. Work must not call Do on the
// same pool; with every worker busy that deadlocks.
type Pool struct {
	q      chan task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func NewPool(workers, qlen int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if qlen < 0 {
		qlen = 0
	}

	p := &Pool{q: make(chan task, qlen)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for t := range p.q {
				t.done <- run(t.ctx, t.fn)
			}
		}()
	}
	return p
}

// Do submits fn and waits for its result. If ctx ends before a worker
// accepts the work, fn never runs and ctx.Err() is returned. Once accepted,
// Do waits for fn regardless of ctx; fn observes ctx itself.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.q <- t:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()
	return <-t.done
}

// Close stops accepting work and waits for queued work to drain.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.q)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
