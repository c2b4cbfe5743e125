package layout

import (
	"encoding/binary"
	"math"
	"time"
)

// FieldLocation is one field's raw bytes within a buffer owned by the
// extraction layer. A negative Len means the true length is -Len and the
// bytes contain escape sequences that need unescaping before conversion.
type FieldLocation struct {
	Start []byte
	Len   int
}

func (f FieldLocation) NeedsEscaping() bool {
	return f.Len < 0
}

func (f FieldLocation) TrueLen() int {
	if f.Len < 0 {
		return -f.Len
	}
	return f.Len
}

func (f FieldLocation) Bytes() []byte {
	return f.Start[:f.TrueLen()]
}

// StringRef is the in-tuple representation of a string slot: an offset into
// the owning batch's arena plus a byte length. Negative offsets address
// buffers attached to the arena without copying.
type StringRef struct {
	Off int64
	Len int64
}

// Tuple is one row's fixed-size storage: NullBytes null-indicator bytes
// followed by slot storage at fixed offsets.
type Tuple []byte

func (t Tuple) SetNull(s SlotDescriptor) {
	t[s.NullByte] |= s.NullMask
}

func (t Tuple) SetNotNull(s SlotDescriptor) {
	t[s.NullByte] &^= s.NullMask
}

func (t Tuple) IsNull(s SlotDescriptor) bool {
	return t[s.NullByte]&s.NullMask != 0
}

func (t Tuple) PutBool(s SlotDescriptor, v bool) {
	if v {
		t[s.ByteOffset] = 1
	} else {
		t[s.ByteOffset] = 0
	}
}

func (t Tuple) Bool(s SlotDescriptor) bool {
	return t[s.ByteOffset] != 0
}

func (t Tuple) PutInt64(s SlotDescriptor, v int64) {
	binary.LittleEndian.PutUint64(t[s.ByteOffset:], uint64(v))
}

func (t Tuple) Int64(s SlotDescriptor) int64 {
	return int64(binary.LittleEndian.Uint64(t[s.ByteOffset:]))
}

func (t Tuple) PutFloat64(s SlotDescriptor, v float64) {
	binary.LittleEndian.PutUint64(t[s.ByteOffset:], math.Float64bits(v))
}

func (t Tuple) Float64(s SlotDescriptor) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(t[s.ByteOffset:]))
}

func (t Tuple) PutTimestamp(s SlotDescriptor, v time.Time) {
	binary.LittleEndian.PutUint64(t[s.ByteOffset:], uint64(v.UnixNano()))
}

func (t Tuple) Timestamp(s SlotDescriptor) time.Time {
	return time.Unix(0, int64(binary.LittleEndian.Uint64(t[s.ByteOffset:]))).UTC()
}

func (t Tuple) PutStringRef(s SlotDescriptor, ref StringRef) {
	binary.LittleEndian.PutUint64(t[s.ByteOffset:], uint64(ref.Off))
	binary.LittleEndian.PutUint64(t[s.ByteOffset+8:], uint64(ref.Len))
}

func (t Tuple) StringRef(s SlotDescriptor) StringRef {
	return StringRef{
		Off: int64(binary.LittleEndian.Uint64(t[s.ByteOffset:])),
		Len: int64(binary.LittleEndian.Uint64(t[s.ByteOffset+8:])),
	}
}

func (t Tuple) ClearNullBytes(n int) {
	for i := 0; i < n; i++ {
		t[i] = 0
	}
}

// InitTuple prepares a fresh tuple for materialization: a copy of the
// template when partition keys are present, zeroed null indicators otherwise.
func InitTuple(template Tuple, t Tuple, nullBytes int) {
	if template != nil {
		copy(t, template)
		return
	}
	t.ClearNullBytes(nullBytes)
}

// TupleRow is a fixed-width array of tuple references indexed by tuple
// position. A scanner only ever sets its layout's TupleIndex.
type TupleRow []Tuple

func (r TupleRow) SetTuple(idx int, t Tuple) {
	r[idx] = t
}

func (r TupleRow) Tuple(idx int) Tuple {
	return r[idx]
}
