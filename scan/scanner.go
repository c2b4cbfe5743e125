package scan

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/scalarden/fray/batch"
	"github.com/scalarden/fray/convert"
	"github.com/scalarden/fray/layout"
)

// FormatSource is the format-specific collaborator a scanner is driven by:
// it extracts field locations from the split's bytes and can describe a row
// for error messages. Implementations exist per file format (text, sequence).
type FormatSource interface {
	Filename() string

	// GetNextFieldBatch returns up to max rows' field locations, one group
	// per row with one entry per materialized slot. Returns (nil, nil) at end
	// of split. Returned locations stay valid until the next call.
	GetNextFieldBatch(ctx context.Context, max int) ([][]layout.FieldLocation, error)

	// DescribeRowContext renders row-level context (record bytes, line
	// number) for the error log.
	DescribeRowContext(rowIdx int) string
}

// WriteTupleFn materializes one row: it converts fields into tuple, attaches
// the tuple to row and evaluates the conjuncts. errFields receives per-slot
// conversion failures. The interpreted and fused writers share this contract
// so the driving loop can invoke either interchangeably.
type WriteTupleFn func(pool *batch.MemPool, fields []layout.FieldLocation, tuple layout.Tuple, row layout.TupleRow, template layout.Tuple, errFields []bool) (accepted bool, errInRow bool)

// BatchWriterFn drives a whole array of field-location groups through a
// tuple writer, committing accepted rows. Produced by call-site splicing in
// the specialize package.
type BatchWriterFn func(ctx context.Context, s *Scanner, fieldGroups [][]layout.FieldLocation) (int, error)

// Scanner materializes one file split. It is driven synchronously by its
// caller and owns the current Building batch until sealed.
type Scanner struct {
	id     string
	node   *ScanNode
	state  *RuntimeState
	source FormatSource
	conv   *convert.TextConverter

	conjuncts     []Conjunct
	template      layout.Tuple
	tupleByteSize int

	batch    *batch.RowBatch
	tupleMem []byte

	// batchWriter is the specialized driving loop, nil when running the
	// interpreted path.
	batchWriter BatchWriterFn

	numErrorsInFile int
	parseStatus     error
	rowsSeen        int
}

func NewScanner(node *ScanNode, state *RuntimeState, source FormatSource) *Scanner {
	return &Scanner{
		id:     ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		node:   node,
		state:  state,
		source: source,
	}
}

func (s *Scanner) ID() string {
	return s.id
}

// Prepare binds the scanner to its split: acquires the conjuncts and template
// tuple from the node and starts the first row batch.
func (s *Scanner) Prepare() error {
	if err := s.node.Validate(); err != nil {
		return errors.Wrap(err, "invalid scan node")
	}
	s.conv = convert.NewTextConverter(s.node.EscapeChar, s.node.NullSentinel)
	s.conjuncts = s.node.Conjuncts
	s.template = s.node.Template
	s.tupleByteSize = s.node.Layout.ByteSize
	s.StartNewRowBatch()
	return nil
}

// SetBatchWriter installs a specialized driving loop; the scanner keeps using
// the interpreted path when none is set.
func (s *Scanner) SetBatchWriter(fn BatchWriterFn) {
	s.batchWriter = fn
}

// Close releases the current batch if the split was abandoned before
// AddFinalRowBatch.
func (s *Scanner) Close() {
	if s.batch != nil {
		s.batch.Pool().FreeAll()
		s.batch = nil
		s.tupleMem = nil
	}
	s.conjuncts = nil
}

// StartNewRowBatch allocates a fresh Building batch plus the tuple memory for
// a full batch of rows.
func (s *Scanner) StartNewRowBatch() {
	s.batch = batch.NewRowBatch(s.node.Layout.TupleIndex+1, s.state.BatchSize, s.node.MaxBatchMem, s.node.Tracker)
	if s.template != nil {
		s.batch.Pool().InheritStrings(s.node.TemplatePool)
	}
	s.tupleMem = s.batch.Pool().Allocate(s.state.BatchSize * s.tupleByteSize)
}

// GetMemory exposes the current batch's write position: the arena, the tuple
// buffer for the next row, the next row and the remaining capacity. The same
// position is returned until the row is committed.
func (s *Scanner) GetMemory() (*batch.MemPool, layout.Tuple, layout.TupleRow, int) {
	idx := s.batch.AddRow()
	tuple := layout.Tuple(s.tupleMem[:s.tupleByteSize])
	return s.batch.Pool(), tuple, s.batch.Row(idx), s.batch.Capacity() - s.batch.NumRows()
}

// CommitRows commits n rows into the current batch and advances the tuple
// cursor. A full or memory-pressured batch is sealed and handed off, and a
// fresh one started, before the cancellation and query health polls.
func (s *Scanner) CommitRows(ctx context.Context, n int) error {
	s.batch.CommitRows(n)
	s.tupleMem = s.tupleMem[n*s.tupleByteSize:]
	return s.postCommit(ctx)
}

func (s *Scanner) postCommit(ctx context.Context) error {
	// Hand the batch off if we accumulated too much memory even before
	// filling up; this can happen under highly selective conjuncts.
	if s.batch.IsFull() || s.batch.AtResourceLimit() {
		s.batch.Seal(false)
		s.node.AddMaterializedRowBatch(s.batch)
		s.StartNewRowBatch()
	}

	if ctx.Err() != nil {
		return ErrCancelled
	}
	if err := s.state.CheckQueryHealth(); err != nil {
		return errors.Wrap(err, "query state check failed")
	}
	return nil
}

// AddFinalRowBatch seals and delivers the current batch marked final,
// regardless of fill level. The scanner must not touch its memory afterwards.
func (s *Scanner) AddFinalRowBatch() {
	s.batch.Seal(true)
	s.node.AddMaterializedRowBatch(s.batch)
	s.batch = nil
	s.tupleMem = nil
}

// WriteCompleteTuple is the interpreted tuple writer: it initializes tuple
// from the template, converts every materialized slot (always all of them,
// recording per-slot failures without aborting), attaches the tuple to row
// and evaluates the full conjunct list. errInRow is independent of the
// accept/reject outcome.
func (s *Scanner) WriteCompleteTuple(pool *batch.MemPool, fields []layout.FieldLocation, tuple layout.Tuple, row layout.TupleRow, template layout.Tuple, errFields []bool) (accepted bool, errInRow bool) {
	layout.InitTuple(template, tuple, s.node.Layout.NullBytes)

	for i := range s.node.Layout.Slots {
		f := fields[i]
		ok := s.conv.WriteSlot(pool, s.node.Layout.Slots[i], tuple, f.Bytes(), s.node.CopyStrings, f.NeedsEscaping())
		errFields[i] = !ok
		errInRow = errInRow || !ok
	}

	row.SetTuple(s.node.Layout.TupleIndex, tuple)
	return EvalConjuncts(s.conjuncts, row, pool), errInRow
}

// WriteAlignedTuples drives fieldGroups through writeTuple, committing
// accepted rows and reporting rows with conversion errors. Returns the
// number of rows committed; stops early on sticky parse failure,
// cancellation or an unhealthy query.
func (s *Scanner) WriteAlignedTuples(ctx context.Context, fieldGroups [][]layout.FieldLocation, writeTuple WriteTupleFn) (int, error) {
	committed := 0
	errFields := make([]bool, len(s.node.Layout.Slots))

	for _, fields := range fieldGroups {
		pool, tuple, row, _ := s.GetMemory()
		accepted, errInRow := writeTuple(pool, fields, tuple, row, s.template, errFields)
		rowIdx := s.rowsSeen
		s.rowsSeen++

		if errInRow {
			if !s.ReportTupleParseError(fields, errFields, rowIdx) {
				return committed, errors.Wrap(s.parseStatus, "parse failed")
			}
		}
		if accepted {
			committed++
			if err := s.CommitRows(ctx, 1); err != nil {
				return committed, err
			}
		}
	}
	return committed, nil
}

// Scan drives the whole split: pulls field batches from the format source,
// materializes them through the specialized or interpreted path and delivers
// the final batch at end of split.
func (s *Scanner) Scan(ctx context.Context) error {
	for {
		remaining := s.batch.Capacity() - s.batch.NumRows()
		fieldGroups, err := s.source.GetNextFieldBatch(ctx, remaining)
		if err != nil {
			return errors.Wrap(err, "couldn't get next field batch")
		}
		if fieldGroups == nil {
			break
		}

		if len(s.node.Layout.Slots) == 0 {
			s.WriteEmptyTuples(s.batch, len(fieldGroups))
			s.rowsSeen += len(fieldGroups)
			if err := s.postCommit(ctx); err != nil {
				return err
			}
			continue
		}

		if s.batchWriter != nil {
			_, err = s.batchWriter(ctx, s, fieldGroups)
		} else {
			_, err = s.WriteAlignedTuples(ctx, fieldGroups, s.WriteCompleteTuple)
		}
		if err != nil {
			return err
		}
	}

	s.AddFinalRowBatch()
	return nil
}

// NumErrorsInFile is the running count of rows with conversion errors.
func (s *Scanner) NumErrorsInFile() int {
	return s.numErrorsInFile
}

// ParseStatus is the sticky parse state: nil while healthy, the first fatal
// conversion error under abort-on-error otherwise. Never reset once set.
func (s *Scanner) ParseStatus() error {
	return s.parseStatus
}
