package specialize

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalarden/fray/batch"
	"github.com/scalarden/fray/layout"
	"github.com/scalarden/fray/scan"
)

type sliceSource struct {
	filename string
	rows     [][]string
	pos      int
}

func (s *sliceSource) Filename() string {
	return s.filename
}

func (s *sliceSource) GetNextFieldBatch(ctx context.Context, max int) ([][]layout.FieldLocation, error) {
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	var out [][]layout.FieldLocation
	for len(out) < max && s.pos < len(s.rows) {
		out = append(out, fieldsFor(s.rows[s.pos]...))
		s.pos++
	}
	return out, nil
}

func (s *sliceSource) DescribeRowContext(rowIdx int) string {
	return fmt.Sprintf("row %d", rowIdx)
}

func fieldsFor(row ...string) []layout.FieldLocation {
	fields := make([]layout.FieldLocation, len(row))
	for i := range row {
		data := []byte(row[i])
		fields[i] = layout.FieldLocation{Start: data, Len: len(data)}
	}
	return fields
}

func intGreater(l layout.TupleLayout, slot layout.SlotDescriptor, c int64) scan.Conjunct {
	pred := func(row layout.TupleRow, pool *batch.MemPool) bool {
		tuple := row.Tuple(l.TupleIndex)
		if tuple.IsNull(slot) {
			return false
		}
		return tuple.Int64(slot) > c
	}
	return scan.Conjunct{ID: fmt.Sprintf("slot%d>%d", slot.ColPos, c), Eval: pred, Compiled: pred}
}

func floatLess(l layout.TupleLayout, slot layout.SlotDescriptor, c float64) scan.Conjunct {
	pred := func(row layout.TupleRow, pool *batch.MemPool) bool {
		tuple := row.Tuple(l.TupleIndex)
		if tuple.IsNull(slot) {
			return false
		}
		return tuple.Float64(slot) < c
	}
	return scan.Conjunct{ID: fmt.Sprintf("slot%d<%g", slot.ColPos, c), Eval: pred, Compiled: pred}
}

func newNode(l layout.TupleLayout, conjuncts []scan.Conjunct, order layout.MaterializationOrder, delivered *[]*batch.RowBatch) *scan.ScanNode {
	return &scan.ScanNode{
		Layout:       l,
		Conjuncts:    conjuncts,
		Order:        order,
		NullSentinel: []byte(`\N`),
		BatchSize:    16,
		Deliver: func(b *batch.RowBatch) {
			*delivered = append(*delivered, b)
		},
	}
}

func TestCompileSlotConverter(t *testing.T) {
	l := layout.NewTupleLayout([]layout.TypeID{
		layout.TypeInt64,
		layout.TypeFloat64,
		layout.TypeBool,
		layout.TypeString,
	}, 0, 0)

	tests := []struct {
		name     string
		slot     int
		data     string
		ok       bool
		wantNull bool
	}{
		{name: "int", slot: 0, data: "42", ok: true},
		{name: "malformed int", slot: 0, data: "4x2", ok: false, wantNull: true},
		{name: "float", slot: 1, data: "2.5", ok: true},
		{name: "malformed float", slot: 1, data: "two", ok: false, wantNull: true},
		{name: "bool", slot: 2, data: "false", ok: true},
		{name: "string", slot: 3, data: "abc", ok: true},
		{name: "null sentinel", slot: 0, data: `\N`, ok: true, wantNull: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := CompileSlotConverter(l.Slots[tt.slot], []byte(`\N`), 0)
			require.NoError(t, err)

			pool := batch.NewMemPool(nil)
			tuple := make(layout.Tuple, l.ByteSize)
			data := []byte(tt.data)
			ok := fn(pool, tuple, layout.FieldLocation{Start: data, Len: len(data)})
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.wantNull, tuple.IsNull(l.Slots[tt.slot]))
		})
	}
}

func TestCompileSlotConverterEscapedNumeric(t *testing.T) {
	l := layout.NewTupleLayout([]layout.TypeID{layout.TypeInt64}, 0, 0)
	fn, err := CompileSlotConverter(l.Slots[0], nil, '\\')
	require.NoError(t, err)

	pool := batch.NewMemPool(nil)
	tuple := make(layout.Tuple, l.ByteSize)
	data := []byte(`\1\2`)
	require.True(t, fn(pool, tuple, layout.FieldLocation{Start: data, Len: -len(data)}))
	assert.Equal(t, int64(12), tuple.Int64(l.Slots[0]))
}

func TestCompileSlotConverterTimestamp(t *testing.T) {
	l := layout.NewTupleLayout([]layout.TypeID{layout.TypeTimestamp}, 0, 0)
	_, err := CompileSlotConverter(l.Slots[0], nil, 0)
	assert.Error(t, err)
}

// Interpreted and fused writers must agree on the accept/reject outcome and,
// for accepted rows, on the materialized tuple bytes. They deliberately differ
// in how much work rejected rows cost; that is covered separately below.
func TestFusedMatchesInterpreted(t *testing.T) {
	l := layout.NewTupleLayout([]layout.TypeID{layout.TypeInt64, layout.TypeFloat64, layout.TypeString}, 0, 0)
	conjuncts := []scan.Conjunct{
		intGreater(l, l.Slots[0], 5),
		floatLess(l, l.Slots[1], 10),
	}
	order := layout.MaterializationOrder{0, 1, 2}

	tests := []struct {
		name     string
		fields   []string
		accepted bool
	}{
		{name: "both pass", fields: []string{"7", "2.5", "abc"}, accepted: true},
		{name: "first rejects", fields: []string{"3", "2.5", "abc"}, accepted: false},
		{name: "second rejects", fields: []string{"7", "20", "abc"}, accepted: false},
		{name: "null rejects", fields: []string{`\N`, "2.5", "abc"}, accepted: false},
		{name: "malformed rejects via null", fields: []string{"junk", "2.5", "abc"}, accepted: false},
		{name: "empty string accepted", fields: []string{"8", "1", ""}, accepted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := func(writeTuple scan.WriteTupleFn) (bool, bool, layout.Tuple, []bool) {
				pool := batch.NewMemPool(nil)
				tuple := make(layout.Tuple, l.ByteSize)
				row := make(layout.TupleRow, 1)
				errFields := make([]bool, len(l.Slots))
				accepted, errInRow := writeTuple(pool, fieldsFor(tt.fields...), tuple, row, nil, errFields)
				return accepted, errInRow, tuple, errFields
			}

			var delivered []*batch.RowBatch
			node := newNode(l, conjuncts, order, &delivered)

			fused, err := CompileFusedTupleWriter(node)
			require.NoError(t, err)

			s := scan.NewScanner(node, scan.NewRuntimeState(16), &sliceSource{filename: "f"})
			require.NoError(t, s.Prepare())
			defer s.Close()

			interpAccepted, interpErr, interpTuple, interpErrFields := run(s.WriteCompleteTuple)
			fusedAccepted, fusedErr, fusedTuple, fusedErrFields := run(fused)

			assert.Equal(t, tt.accepted, interpAccepted)
			assert.Equal(t, interpAccepted, fusedAccepted)
			if fusedAccepted {
				assert.Equal(t, interpTuple, fusedTuple)
				assert.Equal(t, interpErr, fusedErr)
				assert.Equal(t, interpErrFields, fusedErrFields)
			}
		})
	}
}

func TestFusedSkipsSlotsAfterRejection(t *testing.T) {
	l := layout.NewTupleLayout([]layout.TypeID{layout.TypeInt64, layout.TypeInt64}, 0, 0)
	conjuncts := []scan.Conjunct{intGreater(l, l.Slots[0], 5)}
	// Slot 1 is scheduled after the only conjunct.
	order := layout.MaterializationOrder{0, 1}

	var delivered []*batch.RowBatch
	node := newNode(l, conjuncts, order, &delivered)
	fused, err := CompileFusedTupleWriter(node)
	require.NoError(t, err)

	pool := batch.NewMemPool(nil)
	tuple := make(layout.Tuple, l.ByteSize)
	row := make(layout.TupleRow, 1)
	errFields := make([]bool, 2)

	// Slot 1 is malformed, but the rejecting conjunct only needs slot 0: the
	// fused writer bails before ever touching slot 1.
	accepted, errInRow := fused(pool, fieldsFor("3", "garbage"), tuple, row, nil, errFields)
	assert.False(t, accepted)
	assert.False(t, errInRow)
	assert.Equal(t, []bool{false, false}, errFields)

	// For an accepted row the late slot does get converted and its failure
	// surfaces.
	accepted, errInRow = fused(pool, fieldsFor("7", "garbage"), tuple, row, nil, errFields)
	assert.True(t, accepted)
	assert.True(t, errInRow)
	assert.Equal(t, []bool{false, true}, errFields)
}

func TestCompileFusedTupleWriterEligibility(t *testing.T) {
	var delivered []*batch.RowBatch

	t.Run("timestamp slot", func(t *testing.T) {
		l := layout.NewTupleLayout([]layout.TypeID{layout.TypeTimestamp}, 0, 0)
		node := newNode(l, nil, layout.MaterializationOrder{0}, &delivered)
		_, err := CompileFusedTupleWriter(node)
		assert.Error(t, err)
	})

	t.Run("copied strings", func(t *testing.T) {
		l := layout.NewTupleLayout([]layout.TypeID{layout.TypeString}, 0, 0)
		node := newNode(l, nil, layout.MaterializationOrder{0}, &delivered)
		node.CopyStrings = true
		_, err := CompileFusedTupleWriter(node)
		assert.Error(t, err)
	})

	t.Run("escaped strings", func(t *testing.T) {
		l := layout.NewTupleLayout([]layout.TypeID{layout.TypeString}, 0, 0)
		node := newNode(l, nil, layout.MaterializationOrder{0}, &delivered)
		node.EscapeChar = '\\'
		_, err := CompileFusedTupleWriter(node)
		assert.Error(t, err)
	})

	t.Run("conjunct without compiled form", func(t *testing.T) {
		l := layout.NewTupleLayout([]layout.TypeID{layout.TypeInt64}, 0, 0)
		c := intGreater(l, l.Slots[0], 5)
		c.Compiled = nil
		node := newNode(l, []scan.Conjunct{c}, layout.MaterializationOrder{0}, &delivered)
		_, err := CompileFusedTupleWriter(node)
		assert.Error(t, err)
	})

	t.Run("conjunct needing scratch storage", func(t *testing.T) {
		l := layout.NewTupleLayout([]layout.TypeID{layout.TypeInt64}, 0, 0)
		c := intGreater(l, l.Slots[0], 5)
		c.ScratchSize = 16
		node := newNode(l, []scan.Conjunct{c}, layout.MaterializationOrder{0}, &delivered)
		_, err := CompileFusedTupleWriter(node)
		assert.Error(t, err)
	})
}

func TestSpliceCallSite(t *testing.T) {
	noop := func(pool *batch.MemPool, fields []layout.FieldLocation, tuple layout.Tuple, row layout.TupleRow, template layout.Tuple, errFields []bool) (bool, bool) {
		return true, false
	}

	fn, err := SpliceCallSite(WriteAlignedTuplesTemplate(), "WriteCompleteTuple", noop)
	require.NoError(t, err)
	assert.Equal(t, "WriteAlignedTuples", fn.Name)
	assert.NotNil(t, Jit(fn))

	_, err = SpliceCallSite(WriteAlignedTuplesTemplate(), "NoSuchCallSite", noop)
	assert.Error(t, err)
}

func TestFnCacheGetOrBuild(t *testing.T) {
	cache, err := NewFnCache()
	require.NoError(t, err)

	built := &CompiledFn{Name: "test"}
	fn, err := cache.GetOrBuild("key", func() (*CompiledFn, error) {
		return built, nil
	})
	require.NoError(t, err)
	assert.Equal(t, built, fn)

	_, err = cache.GetOrBuild("other", func() (*CompiledFn, error) {
		return nil, errors.New("compile failed")
	})
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	l := layout.NewTupleLayout([]layout.TypeID{layout.TypeInt64, layout.TypeString}, 0, 0)
	var delivered []*batch.RowBatch

	base := func() *scan.ScanNode {
		return newNode(l, []scan.Conjunct{intGreater(l, l.Slots[0], 5)}, layout.MaterializationOrder{0, 1}, &delivered)
	}

	assert.Equal(t, Fingerprint(base()), Fingerprint(base()))

	reordered := base()
	reordered.Order = layout.MaterializationOrder{0, 0}
	assert.NotEqual(t, Fingerprint(base()), Fingerprint(reordered))

	differentConjunct := base()
	differentConjunct.Conjuncts = []scan.Conjunct{intGreater(l, l.Slots[0], 9)}
	assert.NotEqual(t, Fingerprint(base()), Fingerprint(differentConjunct))

	copying := base()
	copying.CopyStrings = true
	assert.NotEqual(t, Fingerprint(base()), Fingerprint(copying))
}

func TestInitializeWriteTuplesFn(t *testing.T) {
	cache, err := NewFnCache()
	require.NoError(t, err)
	var delivered []*batch.RowBatch

	t.Run("eligible", func(t *testing.T) {
		l := layout.NewTupleLayout([]layout.TypeID{layout.TypeInt64}, 0, 0)
		node := newNode(l, []scan.Conjunct{intGreater(l, l.Slots[0], 5)}, layout.MaterializationOrder{0}, &delivered)
		fn := InitializeWriteTuplesFn(node, cache)
		assert.NotNil(t, fn)
		assert.Equal(t, int64(1), node.NumScannersCodegenEnabled())
		assert.Equal(t, int64(0), node.NumScannersCodegenDisabled())
	})

	t.Run("gated out by escaped strings", func(t *testing.T) {
		l := layout.NewTupleLayout([]layout.TypeID{layout.TypeString}, 0, 0)
		node := newNode(l, nil, layout.MaterializationOrder{0}, &delivered)
		node.EscapeChar = '\\'
		fn := InitializeWriteTuplesFn(node, cache)
		assert.Nil(t, fn)
		assert.Equal(t, int64(1), node.NumScannersCodegenDisabled())
	})

	t.Run("compile failure falls back", func(t *testing.T) {
		l := layout.NewTupleLayout([]layout.TypeID{layout.TypeTimestamp}, 0, 0)
		node := newNode(l, nil, layout.MaterializationOrder{0}, &delivered)
		fn := InitializeWriteTuplesFn(node, cache)
		assert.Nil(t, fn)
		assert.Equal(t, int64(1), node.NumScannersCodegenDisabled())
	})
}

// Full scans through the specialized and interpreted paths produce the same
// committed rows.
func TestFusedScanEndToEnd(t *testing.T) {
	l := layout.NewTupleLayout([]layout.TypeID{layout.TypeInt64, layout.TypeString}, 0, 0)
	rows := [][]string{
		{"7", "keep"},
		{"3", "drop"},
		{"10", "keep too"},
		{`\N`, "null drops"},
		{"6", "keep as well"},
	}

	scanValues := func(specialized bool) []string {
		var delivered []*batch.RowBatch
		node := newNode(l, []scan.Conjunct{intGreater(l, l.Slots[0], 5)}, layout.MaterializationOrder{0, 1}, &delivered)

		s := scan.NewScanner(node, scan.NewRuntimeState(16), &sliceSource{filename: "f", rows: rows})
		require.NoError(t, s.Prepare())
		defer s.Close()

		if specialized {
			cache, err := NewFnCache()
			require.NoError(t, err)
			fn := InitializeWriteTuplesFn(node, cache)
			require.NotNil(t, fn)
			s.SetBatchWriter(fn)
		}

		require.NoError(t, s.Scan(context.Background()))

		var out []string
		for _, b := range delivered {
			for r := 0; r < b.NumRows(); r++ {
				tuple := b.Row(r).Tuple(0)
				out = append(out, fmt.Sprintf("%d:%s", tuple.Int64(l.Slots[0]), b.Pool().Resolve(tuple.StringRef(l.Slots[1]))))
			}
		}
		return out
	}

	want := []string{"7:keep", "10:keep too", "6:keep as well"}
	assert.Equal(t, want, scanValues(false))
	assert.Equal(t, want, scanValues(true))
}
