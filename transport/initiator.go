// Package transport implements both ends of the module link socket.
//
// The Initiator (host side) issues requests and correlates their responses.
// Each request gets a sequential ID; the receive loop routes every response to
// the future registered under that ID and every event to a callback.
//
//	caller-1 ──Call(id=1)──┐
//	caller-2 ──Call(id=2)──┼──→ pump: write frame, pending[id]=future ──→ single conn ──→ module
//	caller-3 ──Call(id=3)──┘
//
//	ReceiveLoop: ←── response(id=2) ──Post──→ pump: pending[2].Resolve → caller-2 wakes up
//
// The Responder (module side) receives requests and writes responses and
// events under one write lock.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mediator/errors"
	"mediator/message"
	"mediator/protocol"
	"mediator/sched"
)

// Initiator owns the host side of one module connection.
type Initiator struct {
	conn    net.Conn
	writer  *protocol.Writer
	pump    *sched.Pump
	pending *PendingTable // Pump only
	nextID  uint32        // Pump only, last assigned request ID

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	opts options
}

// NewInitiator wraps conn. All table bookkeeping runs on pump, which the
// caller must Run for the lifetime of the connection.
func NewInitiator(conn net.Conn, pump *sched.Pump, opts ...Option) *Initiator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := &Initiator{
		conn:    conn,
		writer:  protocol.NewWriter(deadlineWriter{conn: conn, timeout: o.sendTimeout}),
		pump:    pump,
		pending: NewPendingTable(),
		opts:    o,
	}

	// Deliveries still queued when the pump ends are discarded; whatever
	// they would have completed is failed here instead.
	pump.OnStop(func() {
		t.failPending(&errors.ConnectionClosedError{Reason: "pump stopped"})
	})
	return t
}

// SendRequest writes a request frame and returns the future of its response.
// It must be called from a callback of the Initiator's pump; use Call from any
// other goroutine.
func (t *Initiator) SendRequest(op message.Opcode, write protocol.PayloadWriter) *sched.Future[*message.Response] {
	f := sched.NewFuture[*message.Response]()
	t.send(op, write, f)
	return f
}

func (t *Initiator) send(op message.Opcode, write protocol.PayloadWriter, f *sched.Future[*message.Response]) {
	if t.closed.Load() {
		f.Reject(&errors.ConnectionClosedError{Reason: "send after close"})
		return
	}

	id := t.nextRequestID()

	// Step 1: Build the whole frame. A failing payload writer only fails this request.
	frame, err := protocol.EncodeFrame(protocol.KindRequest, protocol.RequestPayload(id, op, write))
	if err != nil {
		f.Reject(errors.Wrap(err, "Initiator", "SendRequest", "encode "+op.String()))
		return
	}

	// Step 2: Write it. A socket error is fatal for the connection.
	if err := t.writer.Write(frame); err != nil {
		t.Close("write failed: " + err.Error())
		f.Reject(&errors.ConnectionClosedError{Reason: "write failed: " + err.Error()})
		return
	}
	t.opts.metrics.FrameSent(protocol.KindRequest.String())

	// Step 3: Register. This happens after the write with no suspension point in
	// between: the response is delivered by a pump callback that is queued
	// behind the current one, so it cannot look up the table before this line
	// has run. Awaiting anything between Step 2 and Step 3, or calling send off
	// the pump, would let a fast reply arrive for an unknown ID.
	t.pending.Add(id, f)
	t.opts.metrics.SetPending(t.pending.Len())
}

func (t *Initiator) nextRequestID() uint32 {
	t.nextID++
	return t.nextID
}

// Post queues a request from any goroutine and returns the future of its
// response. Requests posted from one goroutine are written in call order.
func (t *Initiator) Post(op message.Opcode, write protocol.PayloadWriter) *sched.Future[*message.Response] {
	f := sched.NewFuture[*message.Response]()
	if err := t.pump.Post(func() { t.send(op, write, f) }); err != nil {
		f.Reject(errors.Wrap(err, "Initiator", "Post", "post "+op.String()))
	}
	return f
}

// Call sends a request from any goroutine and waits for its response. A ctx
// deadline is a caller-imposed timeout layered above the transport: it returns
// an errors.ErrTimeout error, and the request itself stays pending until its
// response arrives or the connection closes.
func (t *Initiator) Call(ctx context.Context, op message.Opcode, write protocol.PayloadWriter) (*message.Response, error) {
	resp, err := t.Post(op, write).Wait(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.ErrTimeout, "Initiator", "Call", "wait for "+op.String())
		}
		return nil, err
	}
	return resp, nil
}

// ReceiveLoop reads frames until the connection closes. Responses are matched
// against the pending table and events are handed to onEvent, both on the
// pump. It returns nil after a local Close and the fatal error otherwise; a
// fatal error closes the connection and fails every pending request.
func (t *Initiator) ReceiveLoop(onEvent func(*message.Event)) error {
	for {
		err := t.receiveOne(onEvent)
		if err == nil {
			continue
		}
		if t.closed.Load() {
			return nil
		}
		t.opts.logger.Warn("Module connection lost", zap.Error(err))
		t.Close(err.Error())
		return err
	}
}

func (t *Initiator) receiveOne(onEvent func(*message.Event)) error {
	kind, payload, err := protocol.ReadFrame(t.conn, t.opts.maxFrameSize)
	if err != nil {
		return err
	}
	t.opts.metrics.FrameReceived(kind.String())

	switch kind {
	case protocol.KindResponseSuccess, protocol.KindResponseError:
		resp, err := protocol.ParseResponse(kind, payload)
		if err != nil {
			return err
		}
		return t.pump.Post(func() { t.deliver(resp) })

	case protocol.KindEvent:
		evt, err := protocol.ParseEvent(payload)
		if err != nil {
			return err
		}
		if onEvent == nil {
			return nil
		}
		return t.pump.Post(func() { onEvent(evt) })

	default:
		return errors.Protocolf("unexpected %s frame on initiator side", kind)
	}
}

func (t *Initiator) deliver(resp *message.Response) {
	if !t.pending.Complete(resp) {
		// Should never happen, the peer answered a request we did not send
		// or answered twice.
		t.opts.logger.Error("Response with unexpected request ID", zap.Uint32("request_id", resp.ID))
		t.opts.metrics.UnknownResponse()
		return
	}
	t.opts.metrics.SetPending(t.pending.Len())
}

// Close shuts the socket down and fails every pending request with a
// ConnectionClosedError carrying reason. It is idempotent.
func (t *Initiator) Close(reason string) error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.conn.Close()

		if reason == "" {
			reason = "connection closed by host"
		}
		cerr := &errors.ConnectionClosedError{Reason: reason}
		// If the pump has already stopped its OnStop hook has settled the table.
		_ = t.pump.Post(func() { t.failPending(cerr) })
	})
	return t.closeErr
}

func (t *Initiator) failPending(err error) {
	if n := t.pending.FailAll(err); n > 0 {
		t.opts.logger.Debug("Failed pending requests", zap.Int("count", n), zap.Error(err))
	}
	t.opts.metrics.SetPending(0)
}

// Closed reports whether Close has been called.
func (t *Initiator) Closed() bool {
	return t.closed.Load()
}

// Pending returns the number of requests awaiting a response. Pump only.
func (t *Initiator) Pending() int {
	return t.pending.Len()
}

// deadlineWriter applies a write deadline before every frame write.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.conn.Write(p)
}
