package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalarden/fray/layout"
)

func TestMemTracker(t *testing.T) {
	tracker := NewMemTracker(100)
	assert.False(t, tracker.LimitExceeded())

	tracker.Consume(80)
	assert.False(t, tracker.LimitExceeded())
	tracker.Consume(30)
	assert.True(t, tracker.LimitExceeded())
	assert.Equal(t, int64(110), tracker.Consumption())

	tracker.Release(50)
	assert.False(t, tracker.LimitExceeded())

	unlimited := NewMemTracker(0)
	unlimited.Consume(1 << 40)
	assert.False(t, unlimited.LimitExceeded())
}

func TestMemPoolStrings(t *testing.T) {
	pool := NewMemPool(nil)

	copied := pool.AddString([]byte("hello"))
	assert.Equal(t, []byte("hello"), pool.Resolve(copied))

	buf := []byte("world")
	attached := pool.AttachString(buf)
	assert.Equal(t, []byte("world"), pool.Resolve(attached))
	buf[0] = 'W'
	assert.Equal(t, []byte("World"), pool.Resolve(attached))

	assert.Equal(t, int64(10), pool.TotalBytes())
}

func TestMemPoolTracksConsumption(t *testing.T) {
	tracker := NewMemTracker(0)
	pool := NewMemPool(tracker)

	pool.Allocate(64)
	pool.AddString([]byte("abcd"))
	assert.Equal(t, int64(68), tracker.Consumption())

	pool.FreeAll()
	assert.Equal(t, int64(0), tracker.Consumption())
	assert.Equal(t, int64(0), pool.TotalBytes())
}

func TestMemPoolInheritStrings(t *testing.T) {
	templatePool := NewMemPool(nil)
	ref := templatePool.AddString([]byte("part-key"))

	pool := NewMemPool(nil)
	pool.InheritStrings(templatePool)

	// References minted by the template pool stay valid in the inheriting
	// pool, and new allocations don't clobber them.
	assert.Equal(t, []byte("part-key"), pool.Resolve(ref))
	newRef := pool.AddString([]byte("row-data"))
	assert.Equal(t, []byte("part-key"), pool.Resolve(ref))
	assert.Equal(t, []byte("row-data"), pool.Resolve(newRef))
}

func TestRowBatchCommit(t *testing.T) {
	b := NewRowBatch(1, 3, 0, nil)

	assert.Equal(t, 3, b.Capacity())
	assert.False(t, b.IsFull())

	idx := b.AddRow()
	require.NotEqual(t, InvalidRowIndex, idx)
	// Uncommitted rows are returned again.
	assert.Equal(t, idx, b.AddRow())

	b.Row(idx).SetTuple(0, make(layout.Tuple, 8))
	b.CommitLastRow()
	assert.Equal(t, 1, b.NumRows())
	assert.NotEqual(t, idx, b.AddRow())

	b.CommitRows(2)
	assert.True(t, b.IsFull())
	assert.Equal(t, InvalidRowIndex, b.AddRow())
}

func TestRowBatchResourceLimit(t *testing.T) {
	b := NewRowBatch(1, 100, 64, nil)
	assert.False(t, b.AtResourceLimit())

	b.Pool().Allocate(64)
	assert.True(t, b.AtResourceLimit())

	tracker := NewMemTracker(32)
	b = NewRowBatch(1, 100, 0, tracker)
	assert.False(t, b.AtResourceLimit())
	b.Pool().Allocate(64)
	assert.True(t, b.AtResourceLimit())
}

func TestRowBatchSeal(t *testing.T) {
	b := NewRowBatch(1, 2, 0, nil)
	b.AddRow()
	b.CommitLastRow()

	b.Seal(false)
	assert.True(t, b.Sealed())
	assert.False(t, b.Final())
	assert.Equal(t, 1, b.NumRows())

	assert.Panics(t, func() { b.AddRow() })
	assert.Panics(t, func() { b.CommitRows(1) })
	assert.Panics(t, func() { b.Seal(true) })

	final := NewRowBatch(1, 2, 0, nil)
	final.Seal(true)
	assert.True(t, final.Final())
}
