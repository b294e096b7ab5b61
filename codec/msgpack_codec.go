package codec

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec serializes with MessagePack. Field names come from the msgpack
// struct tags, which are shorter than the JSON ones.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(w io.Writer, v any) error {
	return msgpack.NewEncoder(w).Encode(v)
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
