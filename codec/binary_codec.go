package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"mediator/message"
)

// BinaryCodec is a hand-written big-endian layout for the high-volume
// payloads: []message.VariableValue and []message.ObjectRef.
//
// VariableValue batch:
//
//	count   uint32
//	repeat: module  str16 | localID str16 | variable str16 | value str32 | time int64 (unix ns) | quality byte
//
// ObjectRef batch:
//
//	count   uint32
//	repeat: module  str16 | localID str16
//
// strN is a uintN length followed by that many bytes.
type BinaryCodec struct{}

var errShortBuffer = errors.New("BinaryCodec: payload truncated")

// ErrFieldTooLong is returned by BinaryCodec.Encode for a string that does not
// fit its length prefix: 65535 bytes for names, 4 GiB for values.
var ErrFieldTooLong = errors.New("BinaryCodec: field too long")

func (c *BinaryCodec) Encode(w io.Writer, v any) error {
	var buf []byte
	var err error
	switch vals := v.(type) {
	case []message.VariableValue:
		buf, err = appendVariableValues(buf, vals)
	case *[]message.VariableValue:
		buf, err = appendVariableValues(buf, *vals)
	case []message.ObjectRef:
		buf, err = appendObjectRefs(buf, vals)
	case *[]message.ObjectRef:
		buf, err = appendObjectRefs(buf, *vals)
	default:
		return fmt.Errorf("BinaryCodec: unsupported type %T", v)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func appendVariableValues(buf []byte, vals []message.VariableValue) ([]byte, error) {
	// Calculate the length of the batch so it is allocated once
	total := 4
	for i := range vals {
		vv := &vals[i]
		if err := checkStr16(i, "module", vv.Object.Module); err != nil {
			return nil, err
		}
		if err := checkStr16(i, "local id", vv.Object.LocalID); err != nil {
			return nil, err
		}
		if err := checkStr16(i, "variable", vv.Variable); err != nil {
			return nil, err
		}
		if uint64(len(vv.Value)) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: value of element %d is %d bytes", ErrFieldTooLong, i, len(vv.Value))
		}
		total += 2 + len(vv.Object.Module) + 2 + len(vv.Object.LocalID) + 2 + len(vv.Variable) + 4 + len(vv.Value) + 8 + 1
	}
	if cap(buf)-len(buf) < total {
		grown := make([]byte, len(buf), len(buf)+total)
		copy(grown, buf)
		buf = grown
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(vals)))
	for i := range vals {
		vv := &vals[i]
		buf = appendStr16(buf, vv.Object.Module)
		buf = appendStr16(buf, vv.Object.LocalID)
		buf = appendStr16(buf, vv.Variable)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(vv.Value)))
		buf = append(buf, vv.Value...)
		buf = binary.BigEndian.AppendUint64(buf, uint64(vv.Time.UnixNano()))
		buf = append(buf, byte(vv.Quality))
	}
	return buf, nil
}

func appendObjectRefs(buf []byte, refs []message.ObjectRef) ([]byte, error) {
	for i, ref := range refs {
		if err := checkStr16(i, "module", ref.Module); err != nil {
			return nil, err
		}
		if err := checkStr16(i, "local id", ref.LocalID); err != nil {
			return nil, err
		}
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(refs)))
	for _, ref := range refs {
		buf = appendStr16(buf, ref.Module)
		buf = appendStr16(buf, ref.LocalID)
	}
	return buf, nil
}

func checkStr16(i int, field, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: %s of element %d is %d bytes", ErrFieldTooLong, field, i, len(s))
	}
	return nil
}

// appendStr16 expects len(s) to have been checked with checkStr16.
func appendStr16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := reader{data: data}
	switch out := v.(type) {
	case *[]message.VariableValue:
		vals, err := r.variableValues()
		if err != nil {
			return err
		}
		*out = vals
	case *[]message.ObjectRef:
		refs, err := r.objectRefs()
		if err != nil {
			return err
		}
		*out = refs
	default:
		return fmt.Errorf("BinaryCodec: unsupported type %T", v)
	}
	if r.offset != len(data) {
		return fmt.Errorf("BinaryCodec: %d trailing bytes", len(data)-r.offset)
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

type reader struct {
	data   []byte
	offset int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.offset < n {
		return nil, errShortBuffer
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) str16() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	return string(b), err
}

func (r *reader) str32() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(len(r.data)-r.offset) {
		return "", errShortBuffer
	}
	b, err := r.take(int(n))
	return string(b), err
}

// count reads a batch length and checks it against the smallest possible
// element size so a corrupt header cannot force a huge allocation.
func (r *reader) count(minElem int) (int, error) {
	n, err := r.uint32()
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(minElem) > uint64(len(r.data)-r.offset) {
		return 0, errShortBuffer
	}
	return int(n), nil
}

func (r *reader) objectRef() (message.ObjectRef, error) {
	var ref message.ObjectRef
	var err error
	if ref.Module, err = r.str16(); err != nil {
		return ref, err
	}
	ref.LocalID, err = r.str16()
	return ref, err
}

func (r *reader) variableValues() ([]message.VariableValue, error) {
	n, err := r.count(2 + 2 + 2 + 4 + 8 + 1)
	if err != nil {
		return nil, err
	}
	vals := make([]message.VariableValue, n)
	for i := range vals {
		vv := &vals[i]
		if vv.Object, err = r.objectRef(); err != nil {
			return nil, err
		}
		if vv.Variable, err = r.str16(); err != nil {
			return nil, err
		}
		if vv.Value, err = r.str32(); err != nil {
			return nil, err
		}
		ts, err := r.take(8)
		if err != nil {
			return nil, err
		}
		vv.Time = time.Unix(0, int64(binary.BigEndian.Uint64(ts))).UTC()
		q, err := r.take(1)
		if err != nil {
			return nil, err
		}
		vv.Quality = message.Quality(q[0])
	}
	return vals, nil
}

func (r *reader) objectRefs() ([]message.ObjectRef, error) {
	n, err := r.count(2 + 2)
	if err != nil {
		return nil, err
	}
	refs := make([]message.ObjectRef, n)
	for i := range refs {
		if refs[i], err = r.objectRef(); err != nil {
			return nil, err
		}
	}
	return refs, nil
}
