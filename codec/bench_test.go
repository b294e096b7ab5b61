package codec

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"mediator/message"
)

func benchValues(n int) []message.VariableValue {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	vals := make([]message.VariableValue, n)
	for i := range vals {
		vals[i] = message.VariableValue{
			Object:   message.ObjectRef{Module: "IO", LocalID: fmt.Sprintf("Pump_%03d", i)},
			Variable: "Value",
			Value:    "21.5",
			Time:     ts,
		}
	}
	return vals
}

// 不走网络，纯 codec：同一批 VariableValue 在三种编码下的编解码开销
func BenchmarkVariableValues(b *testing.B) {
	vals := benchValues(100)
	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeBinary, CodecTypeMsgpack} {
		b.Run(ct.String(), func(b *testing.B) {
			cdc := GetCodec(ct)
			var buf bytes.Buffer
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				buf.Reset()
				if err := cdc.Encode(&buf, vals); err != nil {
					b.Fatal(err)
				}
				var out []message.VariableValue
				if err := cdc.Decode(buf.Bytes(), &out); err != nil {
					b.Fatal(err)
				}
			}
			b.SetBytes(int64(buf.Len()))
		})
	}
}
