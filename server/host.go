// Package server hosts a module inside its own process and connects it to the
// parent host over the module link.
//
// Request processing pipeline:
//
//	ParentInfo handshake → start liveness checker → Ready
//	  → receive loop (Await ReceiveRequest on its own goroutine)
//	    → dispatch: Middleware Chain → handler future (fire-and-continue)
//	      → future.Then on the pump → write success / error response with the request ID
//	  → Shutdown or InitAbort: loop ends, pump keeps flushing until ctx is done
//
// All module code (handlers, their continuations, Post callbacks) runs on one
// pump, so module state needs no locks.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"mediator/errors"
	"mediator/message"
	"mediator/middleware"
	"mediator/sched"
	"mediator/transport"
)

// Host runs one module.
type Host struct {
	handlers    map[message.Opcode]middleware.HandlerFunc // Registered handlers
	middlewares []middleware.Middleware                   // Applied in order, outermost first
	chain       map[message.Opcode]middleware.HandlerFunc // Handlers wrapped in the chain, built by Serve

	pump    *sched.Pump
	conn    *transport.Responder // Set by Serve
	state   stateMachine
	serving atomic.Bool

	shutdownRequested atomic.Bool
	parentPID         atomic.Int64

	early []earlyEvent // Pump only, notifications issued before the handshake completed

	opts options
}

// NewHost creates a host with no handlers.
func NewHost(opts ...Option) *Host {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Host{
		handlers: make(map[message.Opcode]middleware.HandlerFunc),
		pump:     sched.New(sched.WithLogger(o.logger)),
		opts:     o,
	}
}

// Handle registers the handler for op, replacing any previous one.
func (h *Host) Handle(op message.Opcode, fn middleware.HandlerFunc) {
	h.handlers[op] = fn
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (h *Host) Use(mw middleware.Middleware) {
	h.middlewares = append(h.middlewares, mw)
}

// State returns the current lifecycle phase.
func (h *Host) State() State {
	return h.state.load()
}

// ShutdownRequested reports whether the parent has sent Shutdown. A Run
// handler polls it to learn when to return.
func (h *Host) ShutdownRequested() bool {
	return h.shutdownRequested.Load()
}

// ParentPID returns the PID received in the handshake, or 0 before it.
func (h *Host) ParentPID() int {
	return int(h.parentPID.Load())
}

// Pump returns the pump module code runs on, for use with sched.PostWith and
// sched.Await.
func (h *Host) Pump() *sched.Pump {
	return h.pump
}

// Post hands fn to the pump. It is safe to call from any goroutine.
func (h *Host) Post(fn func()) error {
	return h.pump.Post(fn)
}

// Serve runs the module on conn until the parent terminates it or a fatal
// error occurs. After Shutdown or InitAbort it keeps flushing responses and
// events until ctx is done, then returns nil. conn is closed on return.
func (h *Host) Serve(ctx context.Context, conn *transport.Responder) error {
	if !h.serving.CompareAndSwap(false, true) {
		return fmt.Errorf("server: Serve called twice")
	}
	h.conn = conn
	h.buildChain()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := h.pump.Run(ctx, func(p *sched.Pump) error {
		h.awaitHandshake(ctx)
		return nil
	})

	prev := h.state.terminate()
	conn.Close()

	if prev == StateShuttingDown && (err == nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)) {
		h.opts.logger.Info("Module host terminated")
		return nil
	}
	if err == nil {
		// The pump ran dry without a shutdown: the connection ended the loop.
		err = &errors.ConnectionClosedError{Reason: "module loop ended in state " + prev.String()}
	}
	h.opts.logger.Error("Module host failed", zap.Stringer("state", prev), zap.Error(err))
	return err
}

// ConnectAndRun dials the parent host at address and serves h on the connection.
func ConnectAndRun(ctx context.Context, address string, h *Host, opts ...transport.Option) error {
	conn, err := transport.Dial(ctx, address, opts...)
	if err != nil {
		return err
	}
	return h.Serve(ctx, conn)
}

func (h *Host) buildChain() {
	mws := append([]middleware.Middleware{middleware.Recover(h.opts.logger)}, h.middlewares...)
	chain := middleware.Chain(mws...)
	h.chain = make(map[message.Opcode]middleware.HandlerFunc, len(h.handlers))
	for op, fn := range h.handlers {
		h.chain[op] = chain(fn)
	}
}

// awaitHandshake waits for the ParentInfo request, which must be the first
// request on the connection.
func (h *Host) awaitHandshake(ctx context.Context) {
	sched.Await(h.pump,
		func() (*message.Request, error) {
			return h.conn.ReceiveRequest(h.opts.handshakeTimeout)
		},
		func(req *message.Request, err error) {
			if err != nil {
				h.pump.Fail(fmt.Errorf("%w: waiting for ParentInfo: %w", errors.ErrHandshake, err))
				return
			}
			if err := h.handshake(ctx, req); err != nil {
				h.conn.Close()
				h.pump.Fail(err)
				return
			}
			h.receiveNext(ctx)
		})
}

func (h *Host) handshake(ctx context.Context, req *message.Request) error {
	if req.Opcode != message.OpParentInfo {
		return errors.Handshakef("first request must be %s, got %s", message.OpParentInfo, req.Opcode)
	}

	var info message.ParentInfo
	if err := json.Unmarshal(req.Payload, &info); err != nil {
		return errors.Handshakef("decode ParentInfo: %v", err)
	}
	if info.PID <= 0 {
		return errors.Handshakef("invalid parent PID %d", info.PID)
	}

	// Observable as Ready by the time the parent reads the reply.
	h.parentPID.Store(int64(info.PID))
	if !h.state.advance(StateAwaitingHandshake, StateReady) {
		return errors.Handshakef("handshake in state %s", h.State())
	}
	if err := h.conn.SendResponseSuccess(req.ID, nil); err != nil {
		return err
	}
	h.opts.logger.Info("Handshake complete", zap.Int("parent_pid", info.PID))
	h.flushEarlyEvents()

	checker := &livenessChecker{
		pid:      info.PID,
		interval: h.opts.livenessInterval,
		clock:    h.opts.clock,
		probe:    h.opts.probe,
		exit:     h.opts.exit,
		logger:   h.opts.logger,
		metrics:  h.opts.metrics,
	}
	go checker.run(ctx)
	return nil
}

// receiveNext waits for the next request. Each request is dispatched without
// waiting for its handler, then the next receive starts.
func (h *Host) receiveNext(ctx context.Context) {
	sched.Await(h.pump,
		func() (*message.Request, error) {
			return h.conn.ReceiveRequest(0)
		},
		func(req *message.Request, err error) {
			if err != nil {
				h.receiveFailed(ctx, err)
				return
			}

			h.dispatch(ctx, req)

			if req.Opcode.Ends() {
				h.opts.logger.Info("Request loop ended", zap.Stringer("opcode", req.Opcode))
				h.enterShutdown(ctx)
				return
			}
			h.receiveNext(ctx)
		})
}

func (h *Host) receiveFailed(ctx context.Context, err error) {
	// A completed Run closes the connection locally; that ends the loop
	// like a shutdown does.
	if h.conn.Closed() {
		h.opts.logger.Info("Connection closed after Run completed")
		h.enterShutdown(ctx)
		return
	}
	h.pump.Fail(err)
}

// enterShutdown keeps the pump alive until ctx is done so pending handler
// responses and events can still be written. The parent terminates the
// process from outside.
func (h *Host) enterShutdown(ctx context.Context) {
	if !h.state.advance(StateReady, StateShuttingDown) {
		return
	}
	release := h.pump.Hold()
	go func() {
		<-ctx.Done()
		release()
	}()
}
