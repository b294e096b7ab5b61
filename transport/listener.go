package transport

import (
	"context"
	"net"

	"mediator/errors"
)

// Listener accepts the single connection an external module makes back to its
// host.
type Listener struct {
	l net.Listener
}

// Listen listens on a TCP address.
func Listen(address string) (*Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "Listener", "Listen", "listen on "+address)
	}
	return &Listener{l: l}, nil
}

// ListenOnFreePort listens on a kernel-chosen loopback port.
func ListenOnFreePort() (*Listener, error) {
	return Listen("127.0.0.1:0")
}

// Addr returns the listen address.
func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

// Port returns the listen port, or 0 for non-TCP listeners.
func (l *Listener) Port() int {
	if addr, ok := l.l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// WaitForConnect blocks until a peer connects or ctx is done. A ctx deadline
// is reported as errors.ErrTimeout.
func (l *Listener) WaitForConnect(ctx context.Context) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.l.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, errors.Wrap(r.err, "Listener", "WaitForConnect", "accept")
		}
		if tcp, ok := r.conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		return r.conn, nil
	case <-ctx.Done():
		// Unblocks the Accept goroutine.
		l.l.Close()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.ErrTimeout, "Listener", "WaitForConnect", "wait for module")
		}
		return nil, ctx.Err()
	}
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.l.Close()
}
