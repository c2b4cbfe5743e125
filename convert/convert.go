// Package convert turns raw field bytes into typed slot values inside a
// tuple's byte layout. It is the interpreted conversion substrate; the
// specialize package compiles per-slot variants with the same semantics.
package convert

import (
	"bytes"
	"strconv"
	"time"

	"github.com/scalarden/fray/batch"
	"github.com/scalarden/fray/layout"
)

// TextConverter converts delimited-text field bytes into slot storage.
// NullSentinel is the byte string the table uses to spell NULL (e.g. "\N");
// EscapeChar is the escape character fields may contain, 0 when none is
// configured.
type TextConverter struct {
	EscapeChar   byte
	NullSentinel []byte
}

func NewTextConverter(escapeChar byte, nullSentinel []byte) *TextConverter {
	return &TextConverter{
		EscapeChar:   escapeChar,
		NullSentinel: nullSentinel,
	}
}

// WriteSlot converts data into slot's typed representation, writing the
// result directly into tuple. Returns false if the bytes don't parse as the
// slot's type; the slot is left null in that case. copyData forces string
// slots to be copied into the pool's arena instead of attached.
func (c *TextConverter) WriteSlot(pool *batch.MemPool, slot layout.SlotDescriptor, tuple layout.Tuple, data []byte, copyData bool, needsEscape bool) bool {
	if c.NullSentinel != nil && bytes.Equal(data, c.NullSentinel) {
		tuple.SetNull(slot)
		return true
	}
	if needsEscape {
		data = Unescape(data, c.EscapeChar)
	}

	switch slot.Type {
	case layout.TypeBool:
		v, err := strconv.ParseBool(string(data))
		if err != nil {
			tuple.SetNull(slot)
			return false
		}
		tuple.PutBool(slot, v)
	case layout.TypeInt64:
		v, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			tuple.SetNull(slot)
			return false
		}
		tuple.PutInt64(slot, v)
	case layout.TypeFloat64:
		v, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			tuple.SetNull(slot)
			return false
		}
		tuple.PutFloat64(slot, v)
	case layout.TypeTimestamp:
		v, err := time.Parse(time.RFC3339Nano, string(data))
		if err != nil {
			tuple.SetNull(slot)
			return false
		}
		tuple.PutTimestamp(slot, v)
	case layout.TypeString:
		// Unescaped data already lives in a scratch copy, so attaching it
		// would alias a buffer nobody owns.
		if copyData || needsEscape {
			tuple.PutStringRef(slot, pool.AddString(data))
		} else {
			tuple.PutStringRef(slot, pool.AttachString(data))
		}
	default:
		panic("invalid slot type: " + slot.Type.String())
	}

	tuple.SetNotNull(slot)
	return true
}

// Unescape strips escapeChar from data, taking the following byte literally.
// Returns a fresh buffer; data is not modified.
func Unescape(data []byte, escapeChar byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == escapeChar && i+1 < len(data) {
			i++
		}
		out = append(out, data[i])
	}
	return out
}
