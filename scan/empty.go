package scan

import (
	"github.com/scalarden/fray/batch"
	"github.com/scalarden/fray/layout"
)

// WriteEmptyTuples handles the case where no slots are materialized from the
// file. With no template tuple either (count-only scans) rows are committed
// without tuples. Otherwise the template is the complete tuple: the conjuncts
// are evaluated once against the first stamped row and, since they can only
// see constant template values, the remaining n-1 rows are stamped without
// re-evaluation. Returns the number of rows committed: 0 or n.
func (s *Scanner) WriteEmptyTuples(b *batch.RowBatch, n int) int {
	if n == 0 {
		return 0
	}

	if s.template == nil {
		b.AddRows(n)
		b.CommitRows(n)
		return n
	}

	idx := b.AddRow()
	row := b.Row(idx)
	row.SetTuple(s.node.Layout.TupleIndex, s.template)
	if !EvalConjuncts(s.conjuncts, row, b.Pool()) {
		return 0
	}
	b.CommitLastRow()

	for i := 1; i < n; i++ {
		idx = b.AddRow()
		b.Row(idx).SetTuple(s.node.Layout.TupleIndex, s.template)
		b.CommitLastRow()
	}
	return n
}

// StampTemplateRows is the row-cursor variant of WriteEmptyTuples for callers
// that walk row memory directly. With no template the conjuncts depend only
// on constant expressions and are evaluated once against the first row.
// Returns the number of rows to keep: 0 or len(rows).
func (s *Scanner) StampTemplateRows(pool *batch.MemPool, rows []layout.TupleRow) int {
	if len(rows) == 0 {
		return 0
	}

	if s.template == nil {
		if !EvalConjuncts(s.conjuncts, rows[0], pool) {
			return 0
		}
		return len(rows)
	}

	rows[0].SetTuple(s.node.Layout.TupleIndex, s.template)
	if !EvalConjuncts(s.conjuncts, rows[0], pool) {
		return 0
	}
	for i := 1; i < len(rows); i++ {
		rows[i].SetTuple(s.node.Layout.TupleIndex, s.template)
	}
	return len(rows)
}
