package batch

import (
	"fmt"

	"github.com/scalarden/fray/layout"
)

const InvalidRowIndex = -1

// RowBatch is a capacity-bounded, append-only sequence of tuple rows plus the
// arena owning their memory. It starts out Building; sealing makes it
// immutable and transfers arena ownership to the consumer.
type RowBatch struct {
	capacity    int
	rowWidth    int
	maxBatchMem int64

	rows    []layout.TupleRow
	numRows int

	pool    *MemPool
	tracker *MemTracker

	sealed bool
	final  bool
}

// NewRowBatch creates a Building batch. rowWidth is the number of tuple
// positions per row, maxBatchMem the per-batch memory threshold that forces
// an early seal (0 = none).
func NewRowBatch(rowWidth, capacity int, maxBatchMem int64, tracker *MemTracker) *RowBatch {
	return &RowBatch{
		capacity:    capacity,
		rowWidth:    rowWidth,
		maxBatchMem: maxBatchMem,
		rows:        make([]layout.TupleRow, capacity),
		pool:        NewMemPool(tracker),
		tracker:     tracker,
	}
}

// AddRow returns the index of the next uncommitted row, allocating its
// TupleRow storage on first use, or InvalidRowIndex when the batch is full.
// The same index is returned until the row is committed.
func (b *RowBatch) AddRow() int {
	if b.sealed {
		panic("AddRow on a sealed batch")
	}
	if b.numRows >= b.capacity {
		return InvalidRowIndex
	}
	if b.rows[b.numRows] == nil {
		b.rows[b.numRows] = make(layout.TupleRow, b.rowWidth)
	}
	return b.numRows
}

// AddRows pre-allocates storage for n rows starting at the commit cursor.
func (b *RowBatch) AddRows(n int) {
	if b.numRows+n > b.capacity {
		panic(fmt.Sprintf("AddRows(%d) over capacity: %d committed, capacity %d", n, b.numRows, b.capacity))
	}
	for i := b.numRows; i < b.numRows+n; i++ {
		if b.rows[i] == nil {
			b.rows[i] = make(layout.TupleRow, b.rowWidth)
		}
	}
}

func (b *RowBatch) Row(idx int) layout.TupleRow {
	return b.rows[idx]
}

// CommitRows advances the committed-row count by n.
func (b *RowBatch) CommitRows(n int) {
	if b.sealed {
		panic("CommitRows on a sealed batch")
	}
	if b.numRows+n > b.capacity {
		panic(fmt.Sprintf("CommitRows(%d) over capacity: %d committed, capacity %d", n, b.numRows, b.capacity))
	}
	b.numRows += n
}

func (b *RowBatch) CommitLastRow() {
	b.CommitRows(1)
}

func (b *RowBatch) NumRows() int {
	return b.numRows
}

func (b *RowBatch) Capacity() int {
	return b.capacity
}

func (b *RowBatch) IsFull() bool {
	return b.numRows >= b.capacity
}

// AtResourceLimit reports whether the batch has accumulated enough memory
// (owned arena plus attached buffers) that it should be handed off early.
func (b *RowBatch) AtResourceLimit() bool {
	if b.maxBatchMem > 0 && b.pool.TotalBytes() >= b.maxBatchMem {
		return true
	}
	return b.tracker != nil && b.tracker.LimitExceeded()
}

func (b *RowBatch) Pool() *MemPool {
	return b.pool
}

// Seal transitions the batch to Sealed, marking it final or not. Ownership of
// the arena transfers to whoever receives the batch; the producer must not
// touch it afterwards.
func (b *RowBatch) Seal(final bool) {
	if b.sealed {
		panic("Seal on an already sealed batch")
	}
	b.sealed = true
	b.final = final
}

func (b *RowBatch) Sealed() bool {
	return b.sealed
}

// Final reports whether this is the split's last batch.
func (b *RowBatch) Final() bool {
	return b.final
}
