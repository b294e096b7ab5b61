package transport

import (
	"context"
	stderrors "errors"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mediator/errors"
	"mediator/message"
	"mediator/protocol"
)

// Responder owns the module side of the link. One goroutine receives; responses
// and events may be sent from anywhere and share one frame writer lock.
type Responder struct {
	conn   net.Conn
	writer *protocol.Writer
	closed atomic.Bool

	opts options
}

// NewResponder wraps an established connection.
func NewResponder(conn net.Conn, opts ...Option) *Responder {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Responder{
		conn:   conn,
		writer: protocol.NewWriter(deadlineWriter{conn: conn, timeout: o.sendTimeout}),
		opts:   o,
	}
}

// Dial connects to the host. An address of the form "unix:/path" dials a unix
// socket, anything else is a TCP host:port.
func Dial(ctx context.Context, address string, opts ...Option) (*Responder, error) {
	network := "tcp"
	if path, ok := strings.CutPrefix(address, "unix:"); ok {
		network, address = "unix", path
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrap(err, "Responder", "Dial", "connect to "+address)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return NewResponder(conn, opts...), nil
}

// Accept takes the next connection from l.
func Accept(l net.Listener, opts ...Option) (*Responder, error) {
	conn, err := l.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "Responder", "Accept", "accept")
	}
	return NewResponder(conn, opts...), nil
}

// ReceiveRequest blocks until one request frame has arrived. A positive timeout
// bounds the wait; when it expires the connection is closed and an error
// wrapping errors.ErrTimeout is returned. Any other frame kind is a protocol
// error.
func (r *Responder) ReceiveRequest(timeout time.Duration) (*message.Request, error) {
	if r.closed.Load() {
		return nil, &errors.ConnectionClosedError{Reason: "receive after close"}
	}

	if timeout > 0 {
		_ = r.conn.SetReadDeadline(time.Now().Add(timeout))
		defer r.conn.SetReadDeadline(time.Time{})
	}

	kind, payload, err := protocol.ReadFrame(r.conn, r.opts.maxFrameSize)
	if err != nil {
		if timeout > 0 && stderrors.Is(err, os.ErrDeadlineExceeded) {
			r.Close()
			return nil, errors.Wrap(errors.ErrTimeout, "Responder", "ReceiveRequest", "wait "+timeout.String()+" for request")
		}
		if r.closed.Load() {
			return nil, &errors.ConnectionClosedError{Reason: "closed locally"}
		}
		return nil, err
	}
	r.opts.metrics.FrameReceived(kind.String())

	if kind != protocol.KindRequest {
		return nil, errors.Protocolf("unexpected %s frame on responder side", kind)
	}
	return protocol.ParseRequest(payload)
}

// SendResponseSuccess answers request id with a success payload.
func (r *Responder) SendResponseSuccess(id uint32, write protocol.PayloadWriter) error {
	return r.send(protocol.KindResponseSuccess, protocol.SuccessPayload(id, write))
}

// SendResponseError answers request id with an error message.
func (r *Responder) SendResponseError(id uint32, msg string) error {
	return r.send(protocol.KindResponseError, protocol.ErrorPayload(id, msg))
}

// SendEvent emits an unsolicited event.
func (r *Responder) SendEvent(code message.EventCode, write protocol.PayloadWriter) error {
	return r.send(protocol.KindEvent, protocol.EventPayload(code, write))
}

func (r *Responder) send(kind protocol.Kind, write protocol.PayloadWriter) error {
	if r.closed.Load() {
		return &errors.ConnectionClosedError{Reason: "send after close"}
	}
	if err := r.writer.WriteFrame(kind, write); err != nil {
		if r.closed.Load() {
			return &errors.ConnectionClosedError{Reason: "send after close"}
		}
		return err
	}
	r.opts.metrics.FrameSent(kind.String())
	return nil
}

// Close closes the connection. Only the first call has an effect.
func (r *Responder) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.opts.logger.Debug("Closing module connection")
	if err := r.conn.Close(); err != nil {
		r.opts.logger.Debug("Close failed", zap.Error(err))
		return err
	}
	return nil
}

// Closed reports whether Close has been called.
func (r *Responder) Closed() bool {
	return r.closed.Load()
}
