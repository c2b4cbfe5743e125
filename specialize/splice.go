package specialize

import (
	"context"

	"github.com/pkg/errors"

	"github.com/scalarden/fray/layout"
	"github.com/scalarden/fray/scan"
)

// CompiledFn is a constructed-but-not-yet-resolved batch-level function. Jit
// resolves it to its callable entry point.
type CompiledFn struct {
	Name  string
	entry scan.BatchWriterFn
}

// Template is a batch-driving routine with named placeholder call sites
// awaiting replacement by a fused tuple writer.
type Template struct {
	Name  string
	sites map[string]int
	bind  func(scan.WriteTupleFn) scan.BatchWriterFn
}

// WriteAlignedTuplesTemplate is the template for the batch-level driving
// loop: iterate an array of field-location groups, write each tuple through
// the (to-be-spliced) tuple writer and commit accepted rows.
func WriteAlignedTuplesTemplate() *Template {
	return &Template{
		Name:  "WriteAlignedTuples",
		sites: map[string]int{"WriteCompleteTuple": 1},
		bind: func(writeTuple scan.WriteTupleFn) scan.BatchWriterFn {
			return func(ctx context.Context, s *scan.Scanner, fieldGroups [][]layout.FieldLocation) (int, error) {
				return s.WriteAlignedTuples(ctx, fieldGroups, writeTuple)
			}
		},
	}
}

// SpliceCallSite replaces the template's placeholder call site with the given
// tuple writer. Exactly one matching site must exist, or splicing fails and
// the caller falls back to the interpreted path.
func SpliceCallSite(t *Template, placeholder string, replacement scan.WriteTupleFn) (*CompiledFn, error) {
	count := t.sites[placeholder]
	if count != 1 {
		return nil, errors.Errorf("expected exactly one %q call site in %s, found %d", placeholder, t.Name, count)
	}
	return &CompiledFn{
		Name:  t.Name,
		entry: t.bind(replacement),
	}, nil
}

// Jit resolves a compiled function to its callable entry point.
func Jit(fn *CompiledFn) scan.BatchWriterFn {
	return fn.entry
}
