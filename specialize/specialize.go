// Package specialize builds, at query setup time, a fused per-row function
// replacing the scan package's interpreted path: slot conversions interleaved
// with conjunct evaluation in the planner's materialization order, compiled
// down to a single closure. Construction can fail for many reasons and every
// failure is non-fatal; the scanner just keeps its interpreted path.
package specialize

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"

	"github.com/scalarden/fray/batch"
	"github.com/scalarden/fray/convert"
	"github.com/scalarden/fray/layout"
	"github.com/scalarden/fray/scan"
)

// SlotWriterFn is a compiled single-slot conversion: same semantics as
// convert.TextConverter.WriteSlot for its slot, specialized to the slot's
// type and offsets.
type SlotWriterFn func(pool *batch.MemPool, tuple layout.Tuple, field layout.FieldLocation) bool

// CompileSlotConverter builds the compiled conversion routine for one slot.
// Temporal slots have no compiled form and report an error, which makes the
// whole fused writer ineligible.
func CompileSlotConverter(slot layout.SlotDescriptor, nullSentinel []byte, escapeChar byte) (SlotWriterFn, error) {
	// prep normalizes a field the way the interpreted converter does: null
	// sentinel first, then unescaping into a scratch copy.
	prep := func(field layout.FieldLocation) (data []byte, isNull bool, escaped bool) {
		data = field.Bytes()
		if nullSentinel != nil && bytes.Equal(data, nullSentinel) {
			return nil, true, false
		}
		if field.NeedsEscaping() {
			return convert.Unescape(data, escapeChar), false, true
		}
		return data, false, false
	}

	switch slot.Type {
	case layout.TypeBool:
		return func(pool *batch.MemPool, tuple layout.Tuple, field layout.FieldLocation) bool {
			data, isNull, _ := prep(field)
			if isNull {
				tuple.SetNull(slot)
				return true
			}
			v, err := strconv.ParseBool(string(data))
			if err != nil {
				tuple.SetNull(slot)
				return false
			}
			tuple.PutBool(slot, v)
			tuple.SetNotNull(slot)
			return true
		}, nil
	case layout.TypeInt64:
		return func(pool *batch.MemPool, tuple layout.Tuple, field layout.FieldLocation) bool {
			data, isNull, _ := prep(field)
			if isNull {
				tuple.SetNull(slot)
				return true
			}
			v, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil {
				tuple.SetNull(slot)
				return false
			}
			tuple.PutInt64(slot, v)
			tuple.SetNotNull(slot)
			return true
		}, nil
	case layout.TypeFloat64:
		return func(pool *batch.MemPool, tuple layout.Tuple, field layout.FieldLocation) bool {
			data, isNull, _ := prep(field)
			if isNull {
				tuple.SetNull(slot)
				return true
			}
			v, err := strconv.ParseFloat(string(data), 64)
			if err != nil {
				tuple.SetNull(slot)
				return false
			}
			tuple.PutFloat64(slot, v)
			tuple.SetNotNull(slot)
			return true
		}, nil
	case layout.TypeString:
		// Only reachable in noncompact mode; the fused path never copies
		// string data, so escaped data (which forces a copy) is handled by
		// the eligibility gate, not here.
		return func(pool *batch.MemPool, tuple layout.Tuple, field layout.FieldLocation) bool {
			data, isNull, escaped := prep(field)
			if isNull {
				tuple.SetNull(slot)
				return true
			}
			if escaped {
				tuple.PutStringRef(slot, pool.AddString(data))
			} else {
				tuple.PutStringRef(slot, pool.AttachString(data))
			}
			tuple.SetNotNull(slot)
			return true
		}, nil
	case layout.TypeTimestamp:
		return nil, errors.Errorf("no compiled conversion for %s slots", slot.Type)
	}
	return nil, errors.Errorf("no compiled conversion for type id %d", int(slot.Type))
}

// CompileFusedTupleWriter constructs the fused equivalent of the interpreted
// scan.Scanner.WriteCompleteTuple: the outer iteration runs over conjunct
// index 0..N inclusive, the inner over the slots scheduled at that index, so
// each slot is converted exactly once, at the earliest point any conjunct
// needs it. On the first rejecting conjunct the writer bails out immediately
// (unlike the interpreted path, which always converts everything); the final
// accept/reject outcome and tuple bytes are identical for eligible inputs.
func CompileFusedTupleWriter(node *scan.ScanNode) (scan.WriteTupleFn, error) {
	l := node.Layout

	if node.CopyStrings && l.HasStringSlots() {
		return nil, errors.New("string slots need a compacting copy, which conflicts with fused in-place writes")
	}
	if node.EscapeChar != 0 && l.HasStringSlots() {
		return nil, errors.New("escaped string data needs a copy, which conflicts with fused in-place writes")
	}

	compiled := make([]scan.PredicateFn, len(node.Conjuncts))
	for i := range node.Conjuncts {
		if node.Conjuncts[i].Compiled == nil {
			return nil, errors.Errorf("conjunct %d has no compiled form", i)
		}
		if node.Conjuncts[i].ScratchSize > 0 {
			return nil, errors.Errorf("conjunct %d needs %d bytes of scratch storage", i, node.Conjuncts[i].ScratchSize)
		}
		compiled[i] = node.Conjuncts[i].Compiled
	}

	slotFns := make([]SlotWriterFn, len(l.Slots))
	for i := range l.Slots {
		fn, err := CompileSlotConverter(l.Slots[i], node.NullSentinel, node.EscapeChar)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't compile converter for slot %d", i)
		}
		slotFns[i] = fn
	}

	groups := node.Order.Groups(len(node.Conjuncts))
	nullBytes := l.NullBytes
	tupleIdx := l.TupleIndex

	return func(pool *batch.MemPool, fields []layout.FieldLocation, tuple layout.Tuple, row layout.TupleRow, template layout.Tuple, errFields []bool) (bool, bool) {
		layout.InitTuple(template, tuple, nullBytes)
		row.SetTuple(tupleIdx, tuple)

		errInRow := false
		for conjunctIdx := 0; conjunctIdx <= len(compiled); conjunctIdx++ {
			// Slots scheduled at earlier conjunct indices are already
			// materialized by prior iterations, so by the time a conjunct
			// runs, everything it references is in place.
			for _, slotIdx := range groups[conjunctIdx] {
				ok := slotFns[slotIdx](pool, tuple, fields[slotIdx])
				errFields[slotIdx] = !ok
				errInRow = errInRow || !ok
			}
			if conjunctIdx == len(compiled) {
				// Slots past the last conjunct are materialized only for
				// rows that survived every conjunct.
				return true, errInRow
			}
			if !compiled[conjunctIdx](row, pool) {
				return false, false
			}
		}
		panic("unreachable")
	}, nil
}
