package transport

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediator/errors"
	"mediator/message"
	"mediator/protocol"
)

func newResponderPair(t *testing.T) (*Responder, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	r := NewResponder(local)
	t.Cleanup(func() {
		r.Close()
		remote.Close()
	})
	return r, remote
}

func TestResponderReceiveAndRespond(t *testing.T) {
	r, remote := newResponderPair(t)

	go func() {
		_ = protocol.WriteFrame(remote, protocol.KindRequest,
			protocol.RequestPayload(7, message.OpGetAllObjects, protocol.Bytes([]byte(`{"a":1}`))))
	}()

	req, err := r.ReceiveRequest(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), req.ID)
	assert.Equal(t, message.OpGetAllObjects, req.Opcode)
	assert.Equal(t, []byte(`{"a":1}`), req.Payload)

	type frame struct {
		kind    protocol.Kind
		payload []byte
	}
	frames := make(chan frame, 3)
	go func() {
		for i := 0; i < 3; i++ {
			kind, payload, err := protocol.ReadFrame(remote, 0)
			if err != nil {
				close(frames)
				return
			}
			frames <- frame{kind, payload}
		}
	}()

	require.NoError(t, r.SendResponseSuccess(7, protocol.Bytes([]byte("[]"))))
	require.NoError(t, r.SendResponseError(8, "no such object"))
	require.NoError(t, r.SendEvent(message.EventAlarmOrEvent, protocol.Bytes([]byte("{}"))))

	f := <-frames
	resp, err := protocol.ParseResponse(f.kind, f.payload)
	require.NoError(t, err)
	assert.True(t, resp.Success())
	assert.Equal(t, uint32(7), resp.ID)
	assert.Equal(t, []byte("[]"), resp.Payload)

	f = <-frames
	resp, err = protocol.ParseResponse(f.kind, f.payload)
	require.NoError(t, err)
	assert.False(t, resp.Success())
	assert.Equal(t, uint32(8), resp.ID)
	assert.Equal(t, "no such object", resp.Err)

	f = <-frames
	require.Equal(t, protocol.KindEvent, f.kind)
	evt, err := protocol.ParseEvent(f.payload)
	require.NoError(t, err)
	assert.Equal(t, message.EventAlarmOrEvent, evt.Code)
	assert.Equal(t, []byte("{}"), evt.Payload)
}

func TestResponderReceiveTimeout(t *testing.T) {
	r, _ := newResponderPair(t)

	start := time.Now()
	_, err := r.ReceiveRequest(50 * time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.NotErrorIs(t, err, errors.ErrProtocol)
	assert.Less(t, time.Since(start), 2*time.Second)

	// A receive timeout closes the connection.
	assert.True(t, r.Closed())
	err = r.SendEvent(message.EventConfigChanged, protocol.Empty)
	assert.ErrorIs(t, err, errors.ErrConnectionClosed)
}

func TestResponderRejectsNonRequestFrames(t *testing.T) {
	r, remote := newResponderPair(t)

	go func() {
		_ = protocol.WriteFrame(remote, protocol.KindEvent, protocol.EventPayload(message.EventConfigChanged, protocol.Empty))
	}()

	_, err := r.ReceiveRequest(time.Second)
	assert.ErrorIs(t, err, errors.ErrProtocol)
}

func TestResponderPeerClose(t *testing.T) {
	r, remote := newResponderPair(t)
	remote.Close()

	_, err := r.ReceiveRequest(0)
	assert.ErrorIs(t, err, errors.ErrConnectionClosed)
}

func TestResponderCloseIsIdempotent(t *testing.T) {
	r, _ := newResponderPair(t)

	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())

	_, err := r.ReceiveRequest(0)
	assert.ErrorIs(t, err, errors.ErrConnectionClosed)
	assert.ErrorIs(t, r.SendResponseSuccess(1, protocol.Empty), errors.ErrConnectionClosed)
}

func TestResponderCloseUnblocksReceive(t *testing.T) {
	r, _ := newResponderPair(t)

	done := make(chan error, 1)
	go func() {
		_, err := r.ReceiveRequest(0)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ReceiveRequest still blocked after Close")
	}
}

func TestDialAndWaitForConnect(t *testing.T) {
	l, err := ListenOnFreePort()
	require.NoError(t, err)
	defer l.Close()
	require.NotZero(t, l.Port())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dialed := make(chan *Responder, 1)
	go func() {
		r, err := Dial(ctx, l.Addr().String())
		if err != nil {
			close(dialed)
			return
		}
		dialed <- r
	}()

	conn, err := l.WaitForConnect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	r, ok := <-dialed
	require.True(t, ok, "dial failed")
	defer r.Close()

	require.NoError(t, protocol.WriteFrame(conn, protocol.KindRequest,
		protocol.RequestPayload(1, message.OpParentInfo, protocol.Bytes([]byte(`{"PID":1}`)))))

	req, err := r.ReceiveRequest(time.Second)
	require.NoError(t, err)
	assert.Equal(t, message.OpParentInfo, req.Opcode)
}

func TestDialUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "module.sock")
	ul, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ul.Close()

	accepted := make(chan *Responder, 1)
	go func() {
		r, err := Accept(ul)
		if err != nil {
			close(accepted)
			return
		}
		accepted <- r
	}()

	r, err := Dial(context.Background(), "unix:"+path)
	require.NoError(t, err)
	defer r.Close()

	peer, ok := <-accepted
	require.True(t, ok, "accept failed")
	defer peer.Close()

	go func() {
		_ = peer.SendResponseSuccess(3, protocol.Empty)
	}()
	kind, _, err := protocol.ReadFrame(r.conn, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindResponseSuccess, kind)
}

func TestWaitForConnectTimeout(t *testing.T) {
	l, err := ListenOnFreePort()
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = l.WaitForConnect(ctx)
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestDialRefused(t *testing.T) {
	l, err := ListenOnFreePort()
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = Dial(context.Background(), addr)
	assert.Error(t, err)
}
