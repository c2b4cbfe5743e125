package batch

import (
	"sync/atomic"

	"github.com/scalarden/fray/layout"
)

// MemTracker is a query-wide memory accounting handle shared by all scanners
// of a scan node. Updates are atomic; everything else about a scanner is
// single-threaded.
type MemTracker struct {
	limit    int64
	consumed int64
}

// NewMemTracker creates a tracker with the given byte limit. A limit of 0
// means unlimited.
func NewMemTracker(limit int64) *MemTracker {
	return &MemTracker{limit: limit}
}

func (t *MemTracker) Consume(n int64) {
	atomic.AddInt64(&t.consumed, n)
}

func (t *MemTracker) Release(n int64) {
	atomic.AddInt64(&t.consumed, -n)
}

func (t *MemTracker) Consumption() int64 {
	return atomic.LoadInt64(&t.consumed)
}

func (t *MemTracker) LimitExceeded() bool {
	return t.limit > 0 && t.Consumption() > t.limit
}

// MemPool is the arena owning a row batch's tuple storage and variable-length
// slot data. String slots reference it through layout.StringRef: non-negative
// offsets address copied data, negative offsets address attached buffers that
// the pool references without copying.
type MemPool struct {
	tracker  *MemTracker
	strData  []byte
	attached [][]byte
	total    int64
}

func NewMemPool(tracker *MemTracker) *MemPool {
	return &MemPool{tracker: tracker}
}

// Allocate returns a zeroed buffer owned by the pool.
func (p *MemPool) Allocate(n int) []byte {
	p.consume(int64(n))
	return make([]byte, n)
}

// AddString copies data into the arena and returns a reference to the copy.
func (p *MemPool) AddString(data []byte) layout.StringRef {
	off := int64(len(p.strData))
	p.strData = append(p.strData, data...)
	p.consume(int64(len(data)))
	return layout.StringRef{Off: off, Len: int64(len(data))}
}

// AttachString references data without copying it. The caller guarantees the
// underlying buffer stays valid until the owning batch is consumed.
func (p *MemPool) AttachString(data []byte) layout.StringRef {
	p.attached = append(p.attached, data)
	p.consume(int64(len(data)))
	return layout.StringRef{Off: -int64(len(p.attached)), Len: int64(len(data))}
}

// Resolve returns the bytes a string reference points at.
func (p *MemPool) Resolve(ref layout.StringRef) []byte {
	if ref.Off < 0 {
		return p.attached[-ref.Off-1][:ref.Len]
	}
	return p.strData[ref.Off : ref.Off+ref.Len]
}

// InheritStrings seeds this pool with another pool's string data so that
// references minted by that pool stay valid here. Used to carry template
// tuple strings into every batch of a split.
func (p *MemPool) InheritStrings(from *MemPool) {
	if from == nil {
		return
	}
	p.strData = append(p.strData[:0], from.strData...)
	p.attached = append(p.attached[:0], from.attached...)
	p.consume(int64(len(from.strData)))
}

// TotalBytes is the pool's memory footprint: owned allocations plus attached
// external buffers.
func (p *MemPool) TotalBytes() int64 {
	return p.total
}

// FreeAll releases the pool's consumption against the tracker. Called by the
// consumer once it is done with a delivered batch.
func (p *MemPool) FreeAll() {
	if p.tracker != nil {
		p.tracker.Release(p.total)
	}
	p.total = 0
	p.strData = nil
	p.attached = nil
}

func (p *MemPool) consume(n int64) {
	p.total += n
	if p.tracker != nil {
		p.tracker.Consume(n)
	}
}
