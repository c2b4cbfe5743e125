// Package scan materializes rows out of raw field bytes: it converts field
// locations into typed tuples, filters them through the scan's conjuncts and
// assembles them into row batches handed off to the consumer. The
// per-row work runs either through the interpreted path in this package or
// through a fused writer built by the specialize package.
package scan

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/scalarden/fray/batch"
	"github.com/scalarden/fray/convert"
	"github.com/scalarden/fray/layout"
)

// PredicateFn evaluates one conjunct against a (possibly partially
// materialized) row. String slots resolve against the given pool.
type PredicateFn func(row layout.TupleRow, pool *batch.MemPool) bool

// Conjunct is one filter in the planner-ordered conjunct list. Eval is the
// expression engine's interpreted form and is always present. Compiled is the
// compiled form used by fused writers, nil when the expression engine
// couldn't compile it. ScratchSize is the auxiliary storage the compiled form
// needs; anything above zero disqualifies it from fusion.
type Conjunct struct {
	ID          string
	Eval        PredicateFn
	Compiled    PredicateFn
	ScratchSize int
}

// EvalConjuncts evaluates the full ordered conjunct list against row,
// returning true iff every conjunct accepts it.
func EvalConjuncts(conjuncts []Conjunct, row layout.TupleRow, pool *batch.MemPool) bool {
	for i := range conjuncts {
		if !conjuncts[i].Eval(row, pool) {
			return false
		}
	}
	return true
}

type FileFormat int

const (
	FormatText FileFormat = iota
	FormatSequence
)

func (f FileFormat) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatSequence:
		return "sequence"
	}
	return "unknown"
}

// ScanNode is the per-query, coordinator-owned state shared by all scanner
// instances of one file scan operator. Everything except the counters is
// immutable once scanning starts.
type ScanNode struct {
	ID        int
	Layout    layout.TupleLayout
	Conjuncts []Conjunct

	// Order is planner-supplied: per materialized slot, the earliest conjunct
	// index needing it.
	Order layout.MaterializationOrder

	// Template holds partition-key-derived slot values shared across a
	// split's rows; nil when no partition keys are materialized.
	Template     layout.Tuple
	TemplatePool *batch.MemPool

	// CopyStrings forces string slot data to be copied into the batch arena
	// instead of referencing the extraction layer's buffers.
	CopyStrings  bool
	EscapeChar   byte
	NullSentinel []byte

	BatchSize   int
	MaxBatchMem int64
	Tracker     *batch.MemTracker

	// Deliver receives every sealed batch, final and non-final. Ownership of
	// the batch's arena transfers with the call.
	Deliver func(*batch.RowBatch)

	numScannersCodegenEnabled  int64
	numScannersCodegenDisabled int64
}

func (n *ScanNode) Validate() error {
	if n.BatchSize <= 0 {
		return errors.Errorf("invalid batch size: %d", n.BatchSize)
	}
	if n.Deliver == nil {
		return errors.New("scan node has no batch consumer")
	}
	if err := n.Order.Validate(len(n.Layout.Slots), len(n.Conjuncts)); err != nil {
		return errors.Wrap(err, "invalid materialization order")
	}
	for i := range n.Conjuncts {
		if n.Conjuncts[i].Eval == nil {
			return errors.Errorf("conjunct %d has no interpreted form", i)
		}
	}
	return nil
}

// HasNoncompactStrings reports whether string slot data will reference
// extraction-layer buffers instead of being copied.
func (n *ScanNode) HasNoncompactStrings() bool {
	return !n.CopyStrings && n.Layout.HasStringSlots()
}

// InitTemplateTuple converts the split's raw partition-key values into the
// shared template tuple. A nil value leaves that slot null. No-op when the
// layout materializes no partition keys.
func (n *ScanNode) InitTemplateTuple(conv *convert.TextConverter, partitionValues [][]byte) error {
	if len(n.Layout.PartitionSlots) == 0 {
		return nil
	}
	if len(partitionValues) != len(n.Layout.PartitionSlots) {
		return errors.Errorf("got %d partition key values for %d partition slots", len(partitionValues), len(n.Layout.PartitionSlots))
	}

	pool := batch.NewMemPool(nil)
	template := layout.Tuple(pool.Allocate(n.Layout.ByteSize))
	for i, slot := range n.Layout.PartitionSlots {
		if partitionValues[i] == nil {
			template.SetNull(slot)
			continue
		}
		if !conv.WriteSlot(pool, slot, template, partitionValues[i], true, false) {
			return errors.Errorf("couldn't convert partition key %d value %q to %s", i, partitionValues[i], slot.Type)
		}
	}

	n.Template = template
	n.TemplatePool = pool
	return nil
}

// AddMaterializedRowBatch hands a sealed batch to the consumer.
func (n *ScanNode) AddMaterializedRowBatch(b *batch.RowBatch) {
	n.Deliver(b)
}

func (n *ScanNode) IncNumScannersCodegenEnabled() {
	atomic.AddInt64(&n.numScannersCodegenEnabled, 1)
}

func (n *ScanNode) IncNumScannersCodegenDisabled() {
	atomic.AddInt64(&n.numScannersCodegenDisabled, 1)
}

func (n *ScanNode) NumScannersCodegenEnabled() int64 {
	return atomic.LoadInt64(&n.numScannersCodegenEnabled)
}

func (n *ScanNode) NumScannersCodegenDisabled() int64 {
	return atomic.LoadInt64(&n.numScannersCodegenDisabled)
}
