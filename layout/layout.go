package layout

import (
	"fmt"

	"github.com/pkg/errors"
)

type TypeID int

const (
	TypeBool TypeID = iota
	TypeInt64
	TypeFloat64
	TypeString
	TypeTimestamp
)

func (t TypeID) String() string {
	switch t {
	case TypeBool:
		return "Bool"
	case TypeInt64:
		return "Int64"
	case TypeFloat64:
		return "Float64"
	case TypeString:
		return "String"
	case TypeTimestamp:
		return "Timestamp"
	}
	panic(fmt.Sprintf("invalid type id: %d", int(t)))
}

// ByteSize is the fixed width of this type's slot storage inside a tuple.
// String slots hold an arena reference (offset + length), not the bytes themselves.
func (t TypeID) ByteSize() int {
	switch t {
	case TypeBool:
		return 1
	case TypeInt64, TypeFloat64, TypeTimestamp:
		return 8
	case TypeString:
		return 16
	}
	panic(fmt.Sprintf("invalid type id: %d", int(t)))
}

// SlotDescriptor describes one output column's storage within a tuple.
// Immutable for the lifetime of a query.
type SlotDescriptor struct {
	Type       TypeID
	ByteOffset int
	NullByte   int
	NullMask   byte
	// ColPos is the column's ordinal within the table row, partition keys included.
	ColPos int
}

// TupleLayout is the byte-layout contract for one scan's output tuples:
// a null-indicator byte region followed by fixed-offset slot storage.
type TupleLayout struct {
	ByteSize  int
	NullBytes int

	// Slots are the file-resident materialized slots, in the order the
	// extraction layer produces their field locations.
	Slots []SlotDescriptor

	// PartitionSlots are materialized partition-key slots, pre-set in the
	// template tuple rather than converted per row.
	PartitionSlots []SlotDescriptor

	// TupleIndex is the tuple's position within a TupleRow.
	TupleIndex int
}

func (l TupleLayout) HasStringSlots() bool {
	for i := range l.Slots {
		if l.Slots[i].Type == TypeString {
			return true
		}
	}
	return false
}

func (l TupleLayout) NumMaterializedPartitionKeys() int {
	return len(l.PartitionSlots)
}

// NewTupleLayout computes slot offsets and null bits for the given column
// types. The first numPartitionKeys columns become partition slots, the rest
// file-resident slots. All slots are nullable.
func NewTupleLayout(types []TypeID, numPartitionKeys int, tupleIndex int) TupleLayout {
	nullBytes := (len(types) + 7) / 8
	offset := nullBytes

	slots := make([]SlotDescriptor, len(types))
	for i, t := range types {
		slots[i] = SlotDescriptor{
			Type:       t,
			ByteOffset: offset,
			NullByte:   i / 8,
			NullMask:   1 << (i % 8),
			ColPos:     i,
		}
		offset += t.ByteSize()
	}

	return TupleLayout{
		ByteSize:       offset,
		NullBytes:      nullBytes,
		Slots:          slots[numPartitionKeys:],
		PartitionSlots: slots[:numPartitionKeys],
		TupleIndex:     tupleIndex,
	}
}

// MaterializationOrder maps each materialized slot to the index of the
// earliest conjunct referencing it. A slot referenced by no conjunct carries
// the value one past the last conjunct index and is materialized last.
type MaterializationOrder []int

func (o MaterializationOrder) Validate(numSlots, numConjuncts int) error {
	if len(o) != numSlots {
		return errors.Errorf("materialization order has %d entries for %d materialized slots", len(o), numSlots)
	}
	for i, conjunctIdx := range o {
		if conjunctIdx < 0 || conjunctIdx > numConjuncts {
			return errors.Errorf("slot %d scheduled at conjunct index %d, valid range is [0, %d]", i, conjunctIdx, numConjuncts)
		}
	}
	return nil
}

// Groups returns, per conjunct index 0..numConjuncts inclusive, the slot
// indices scheduled at that index.
func (o MaterializationOrder) Groups(numConjuncts int) [][]int {
	groups := make([][]int, numConjuncts+1)
	for slotIdx, conjunctIdx := range o {
		groups[conjunctIdx] = append(groups[conjunctIdx], slotIdx)
	}
	return groups
}
