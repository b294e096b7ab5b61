package codec

import (
	"encoding/json"
	"io"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, matches what existing hosts and modules emit.
// Cons: slower due to reflection + string parsing, larger payload (field names repeated).
type JSONCodec struct{}

func (c *JSONCodec) Encode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
