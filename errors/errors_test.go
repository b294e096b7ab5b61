package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class Class
		fatal bool
	}{
		{"protocol", Protocolf("unknown frame kind 0x%02x", 0x10), ClassProtocol, true},
		{"handshake", Handshakef("opcode %d", 5), ClassProtocol, true},
		{"unknown request", fmt.Errorf("id 7: %w", ErrUnknownRequest), ClassProtocol, true},
		{"closed", &ConnectionClosedError{Reason: "peer gone"}, ClassTransport, true},
		{"io", errors.New("read tcp: connection reset by peer"), ClassTransport, true},
		{"timeout", fmt.Errorf("handshake: %w", ErrTimeout), ClassTimeout, false},
		{"deadline", context.DeadlineExceeded, ClassTimeout, false},
		{"remote", &RemoteError{RequestID: 3, Message: "boom"}, ClassApplication, false},
		{"rate limited", ErrRateLimited, ClassApplication, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestConnectionClosedError(t *testing.T) {
	err := error(&ConnectionClosedError{Reason: "Init failed."})
	assert.True(t, errors.Is(err, ErrConnectionClosed))
	assert.True(t, IsConnectionClosed(fmt.Errorf("call: %w", err)))
	assert.Equal(t, "connection closed: Init failed.", err.Error())
	assert.Equal(t, "connection closed", (&ConnectionClosedError{}).Error())
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "Initiator", "Close", "close socket"))

	err := Wrap(ErrTimeout, "Responder", "ReceiveRequest", "read frame")
	assert.Equal(t, "Responder.ReceiveRequest: read frame failed: timeout", err.Error())
	assert.ErrorIs(t, err, ErrTimeout)
}
