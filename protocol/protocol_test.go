package protocol

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediator/errors"
	"mediator/message"
)

func TestEncodeDecode(t *testing.T) {
	kinds := []Kind{KindRequest, KindResponseSuccess, KindResponseError, KindEvent}
	payloads := [][]byte{
		{},
		[]byte("hello world"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, kind := range kinds {
		for _, payload := range payloads {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, kind, Bytes(payload)))
			assert.Equal(t, HeaderSize+len(payload), buf.Len())

			gotKind, gotPayload, err := ReadFrame(&buf, DefaultMaxFrameSize)
			require.NoError(t, err)
			assert.Equal(t, kind, gotKind)
			assert.Equal(t, payload, gotPayload)
		}
	}
}

func TestWireLayout(t *testing.T) {
	frame, err := EncodeFrame(KindRequest, RequestPayload(0x01020304, message.OpParentInfo, Bytes([]byte(`{"PID":4242}`))))
	require.NoError(t, err)

	want := []byte{0x42, 0x00, 0x00, 0x00, 0x11, 0x01, 0x02, 0x03, 0x04, 99}
	want = append(want, []byte(`{"PID":4242}`)...)
	assert.Equal(t, want, frame)
}

func TestDecodeUnknownKind(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x41, 0, 0, 0, 0})

	_, _, err := ReadFrame(buf, DefaultMaxFrameSize)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProtocol)
	assert.Contains(t, err.Error(), "unknown frame kind 0x41")
}

func TestDecodeTooLarge(t *testing.T) {
	buf := bytes.NewBuffer([]byte{byte(KindEvent), 0x00, 0x10, 0x00, 0x00})

	_, _, err := ReadFrame(buf, 1024)
	assert.ErrorIs(t, err, errors.ErrProtocol)
}

func TestDecodeTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty stream", nil},
		{"partial header", []byte{byte(KindEvent), 0x00, 0x00}},
		{"partial payload", []byte{byte(KindEvent), 0x00, 0x00, 0x00, 0x08, 1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, payload, err := ReadFrame(bytes.NewReader(tt.data), DefaultMaxFrameSize)
			assert.Nil(t, payload)
			assert.ErrorIs(t, err, errors.ErrConnectionClosed)
		})
	}
}

// A reader that hands out one byte at a time must still yield whole frames.
func TestDecodeSlowReader(t *testing.T) {
	frame, err := EncodeFrame(KindEvent, EventPayload(message.EventConfigChanged, Bytes([]byte("[]"))))
	require.NoError(t, err)

	kind, payload, err := ReadFrame(&oneByteReader{data: frame}, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, KindEvent, kind)

	evt, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, message.EventConfigChanged, evt.Code)
	assert.Equal(t, []byte("[]"), evt.Payload)
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, KindResponseSuccess, SuccessPayload(999, Bytes(largeBody))))

	kind, payload, err := ReadFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	resp, err := ParseResponse(kind, payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(999), resp.ID)
	assert.True(t, resp.Success())
	assert.Equal(t, largeBody, resp.Payload)
}

func TestPayloadWriterError(t *testing.T) {
	boom := io.ErrShortWrite
	_, err := EncodeFrame(KindEvent, func(io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)
}

// Concurrent writers through a Writer must never interleave bytes of
// different frames.
func TestWriterSerializesFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fw := NewWriter(client)
	const writers, perWriter = 8, 25

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			body := bytes.Repeat([]byte{byte(n)}, 512)
			for j := 0; j < perWriter; j++ {
				assert.NoError(t, fw.WriteFrame(KindEvent, Bytes(body)))
			}
		}(i)
	}

	for i := 0; i < writers*perWriter; i++ {
		kind, payload, err := ReadFrame(server, DefaultMaxFrameSize)
		require.NoError(t, err)
		require.Equal(t, KindEvent, kind)
		require.Len(t, payload, 512)
		for _, b := range payload {
			require.Equal(t, payload[0], b, "frame bytes interleaved")
		}
	}
	wg.Wait()
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}
