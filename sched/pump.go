// Package sched implements the cooperative pump that module handler code runs on.
//
// A Pump executes posted callbacks strictly one at a time, in post order, on
// the goroutine that called Run. State touched only from pump callbacks (the
// pending-request table, module state) therefore needs no locks. Other
// goroutines hand work to the pump exclusively through Post.
//
//	reader goroutine ──Post(deliver resp)──┐
//	liveness goroutine ──Post(...)─────────┼──→ FIFO ──→ Run loop (one goroutine)
//	notifier (any goroutine) ──Post(emit)──┘
//
// Blocking I/O is never performed on the pump. It runs on its own goroutine via
// Await, which posts the continuation back when the operation finishes; that
// hand-off is the only suspension point pump code sees.
package sched

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mediator/errors"
)

// Pump is a single-goroutine FIFO run loop.
type Pump struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{} // Capacity 1, signalled when the queue or the active count changes
	active  int           // Queued callbacks plus outstanding holds
	running bool
	stopped bool
	err     error
	onStop  []func()

	logger *zap.Logger
}

// Option configures a Pump.
type Option func(*Pump)

// WithLogger sets the logger used for callback panics.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pump) {
		p.logger = logger
	}
}

// New creates a pump. It does not execute anything until Run is called.
func New(opts ...Option) *Pump {
	p := &Pump{
		wake:   make(chan struct{}, 1),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes entry on the calling goroutine and then pumps posted callbacks
// until entry and everything it transitively scheduled (callbacks and holds)
// have completed. It returns early with the error passed to Fail, the error
// returned by entry, a callback panic, or ctx.Err().
//
// Callbacks still queued when Run returns are discarded and later Posts fail
// with errors.ErrPumpStopped.
func (p *Pump) Run(ctx context.Context, entry func(*Pump) error) error {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("sched: pump already started")
	}
	p.running = true
	p.active++ // entry itself
	p.mu.Unlock()

	defer p.stop()

	p.execute(func() {
		if err := entry(p); err != nil {
			p.Fail(err)
		}
	})
	p.done()

	for {
		fn, err := p.next(ctx)
		if err != nil {
			return err
		}
		if fn == nil {
			return nil
		}
		p.execute(fn)
		p.done()
	}
}

// next blocks until a callback is available. It returns (nil, nil) when no
// work is queued or outstanding.
func (p *Pump) next(ctx context.Context) (func(), error) {
	for {
		p.mu.Lock()
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return nil, err
		}
		if len(p.queue) > 0 {
			fn := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return fn, nil
		}
		if p.active == 0 {
			p.mu.Unlock()
			return nil, nil
		}
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pump) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Pump callback panicked", zap.Any("panic", r), zap.Stack("stack"))
			p.Fail(fmt.Errorf("sched: callback panicked: %v", r))
		}
	}()
	fn()
}

func (p *Pump) done() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}

func (p *Pump) stop() {
	p.mu.Lock()
	p.stopped = true
	p.queue = nil
	hooks := p.onStop
	p.onStop = nil
	p.mu.Unlock()

	for _, fn := range hooks {
		p.execute(fn)
	}
}

// OnStop registers fn to run on the pump goroutine after the run loop has
// ended, in registration order. Owners of pump-confined state use it to settle
// work whose callbacks were discarded. If the pump has already stopped, fn
// runs immediately on the caller's goroutine.
func (p *Pump) OnStop(fn func()) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		fn()
		return
	}
	p.onStop = append(p.onStop, fn)
	p.mu.Unlock()
}

func (p *Pump) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Post enqueues fn for execution on the pump goroutine. It is safe to call
// from any goroutine, including from a pump callback.
func (p *Pump) Post(fn func()) error {
	if fn == nil {
		return fmt.Errorf("sched: nil callback")
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return errors.ErrPumpStopped
	}
	p.queue = append(p.queue, fn)
	p.active++
	p.mu.Unlock()

	p.signal()
	return nil
}

// PostWith enqueues fn(arg).
func PostWith[T any](p *Pump, fn func(T), arg T) error {
	return p.Post(func() { fn(arg) })
}

// PostWith2 enqueues fn(arg1, arg2).
func PostWith2[T1, T2 any](p *Pump, fn func(T1, T2), arg1 T1, arg2 T2) error {
	return p.Post(func() { fn(arg1, arg2) })
}

// Hold keeps Run from returning while an asynchronous operation that will
// post back is in flight. The returned release func is idempotent.
func (p *Pump) Hold() (release func()) {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.done()
			p.signal()
		})
	}
}

// Fail stops the pump with err. Only the first error is kept.
func (p *Pump) Fail(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	p.signal()
}

// Stopped reports whether Run has returned.
func (p *Pump) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
