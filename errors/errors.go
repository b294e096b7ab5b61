// Package errors classifies the failures of the module link.
//
// Every failure falls in one of four classes, and the class decides how it
// propagates:
//
//	Protocol     unknown frame kind, bad handshake, unknown request ID   fatal
//	Transport    zero-byte read, socket reset, closed connection         fatal
//	Application  a module handler returned an error or panicked         recovered
//	Timeout      handshake wait exceeded, caller-imposed deadline        recovered
//
// Fatal errors tear down the connection (and, on the module side, the
// process). Recovered errors are reported to the caller and the link stays up.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Class is the propagation category of an error.
type Class int

const (
	// ClassTransport is the default for unclassified errors: an unknown failure on
	// the socket path must never be treated as recoverable.
	ClassTransport Class = iota
	ClassProtocol
	ClassApplication
	ClassTimeout
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassProtocol:
		return "protocol"
	case ClassApplication:
		return "application"
	case ClassTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Standard error variables
var (
	// Framing and handshake violations
	ErrProtocol       = errors.New("protocol violation")
	ErrHandshake      = errors.New("handshake violation")
	ErrUnknownRequest = errors.New("response for unknown request id")

	// Socket state
	ErrConnectionClosed = errors.New("connection closed")

	// Deadlines
	ErrTimeout = errors.New("timeout")

	// Scheduler
	ErrPumpStopped = errors.New("pump stopped")

	// Handler side
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	ErrRateLimited       = errors.New("rate limit exceeded")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// Host side view of a module process
	ErrModuleExited = errors.New("module process exited")
)

// ConnectionClosedError is delivered to every request still pending when a
// connection is torn down. It matches ErrConnectionClosed with errors.Is.
type ConnectionClosedError struct {
	Reason string
}

// Error implements the error interface
func (e *ConnectionClosedError) Error() string {
	if e.Reason == "" {
		return ErrConnectionClosed.Error()
	}
	return ErrConnectionClosed.Error() + ": " + e.Reason
}

// Is reports whether target is ErrConnectionClosed.
func (e *ConnectionClosedError) Is(target error) bool {
	return target == ErrConnectionClosed
}

// RemoteError is a failure reported by the peer in a ResponseError frame.
type RemoteError struct {
	RequestID uint32
	Message   string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return e.Message
}

// Protocolf returns an error wrapping ErrProtocol.
func Protocolf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// Handshakef returns an error wrapping ErrHandshake.
func Handshakef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrHandshake, fmt.Sprintf(format, args...))
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// Classify returns the propagation class of err.
func Classify(err error) Class {
	var remote *RemoteError
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrHandshake), errors.Is(err, ErrUnknownRequest):
		return ClassProtocol
	case errors.As(err, &remote),
		errors.Is(err, ErrUnsupportedOpcode),
		errors.Is(err, ErrRateLimited):
		return ClassApplication
	default:
		return ClassTransport
	}
}

// IsFatal reports whether err must tear down the connection.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch Classify(err) {
	case ClassProtocol, ClassTransport:
		return true
	}
	return false
}

// IsConnectionClosed reports whether err means the peer or the local side
// closed the connection.
func IsConnectionClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}
