package sched

import (
	"context"
	"fmt"
	"sync"
)

// Future is the result of an asynchronous operation. It is completed exactly
// once: the first Resolve or Reject wins and every later attempt reports false.
//
// Ordinary goroutines block on Wait. Pump callbacks must not block; they chain
// a continuation with Then, which runs on the pump.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	val       T
	err       error
	conts     []continuation[T]
}

type continuation[T any] struct {
	p       *Pump
	fn      func(T, error)
	release func()
	direct  bool // Run fn on the completing goroutine instead of posting it
}

// NewFuture returns an incomplete Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v)
	return f
}

// Failed returns a Future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Reject(err)
	return f
}

// Resolve completes the future with v. It reports whether this call completed it.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Reject completes the future with err. It reports whether this call completed it.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = fmt.Errorf("sched: future rejected with nil error")
	}
	var zero T
	return f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.val, f.err = v, err
	conts := f.conts
	f.conts = nil
	close(f.done)
	f.mu.Unlock()

	for _, c := range conts {
		c.post(v, err)
	}
	return true
}

// Done is closed once the future is complete.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Completed reports whether the future has been resolved or rejected.
func (f *Future[T]) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Result returns the outcome. It is only meaningful once Done is closed.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err
}

// Wait blocks until the future completes or ctx is done. It must not be called
// from a pump callback of the pump that completes the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then posts fn onto p once the future completes. The pump is held until fn
// has been posted, so Run does not return while the future is outstanding.
func (f *Future[T]) Then(p *Pump, fn func(T, error)) {
	c := continuation[T]{p: p, fn: fn, release: p.Hold()}

	f.mu.Lock()
	if !f.completed {
		f.conts = append(f.conts, c)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	c.post(v, err)
}

// OnDone calls fn with the outcome on whichever goroutine completes the
// future, or immediately if it is already complete. fn must not block.
func (f *Future[T]) OnDone(fn func(T, error)) {
	c := continuation[T]{fn: fn, release: func() {}, direct: true}

	f.mu.Lock()
	if !f.completed {
		f.conts = append(f.conts, c)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	c.post(v, err)
}

func (c continuation[T]) post(v T, err error) {
	defer c.release()
	if c.direct {
		c.fn(v, err)
		return
	}
	_ = c.p.Post(func() { c.fn(v, err) })
}

// Await runs the blocking op on its own goroutine and posts cont with its
// result onto p. This is how pump code waits for I/O without blocking the pump.
func Await[T any](p *Pump, op func() (T, error), cont func(T, error)) {
	f := NewFuture[T]()
	f.Then(p, cont)
	go func() {
		v, err := op()
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(v)
	}()
}

// Go runs op on its own goroutine and returns a Future for its result.
func Go[T any](op func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		v, err := op()
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(v)
	}()
	return f
}
