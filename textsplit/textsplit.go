// Package textsplit extracts field locations from delimited text. It is the
// minimal stand-in for the format-specific byte extraction layer the scanner
// is driven by; real deployments plug their own scan.FormatSource in.
package textsplit

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/scalarden/fray/layout"
)

// Source splits an in-memory buffer into rows and field locations. Field
// locations reference the buffer directly; fields containing the escape
// character carry the negative-length sentinel so the converter unescapes
// them.
type Source struct {
	filename  string
	data      []byte
	pos       int
	delimiter byte
	escape    byte
	numFields int

	rowsReturned  int
	lastBatchBase int
	lastBatchRows [][]byte
}

func NewSource(filename string, r io.Reader, delimiter, escape byte, numFields int) (*Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read split data")
	}
	return &Source{
		filename:  filename,
		data:      data,
		delimiter: delimiter,
		escape:    escape,
		numFields: numFields,
	}, nil
}

func (s *Source) Filename() string {
	return s.filename
}

// GetNextFieldBatch returns up to max rows' field locations, (nil, nil) once
// the buffer is exhausted.
func (s *Source) GetNextFieldBatch(ctx context.Context, max int) ([][]layout.FieldLocation, error) {
	if s.pos >= len(s.data) {
		return nil, nil
	}

	s.lastBatchBase = s.rowsReturned
	s.lastBatchRows = s.lastBatchRows[:0]

	var out [][]layout.FieldLocation
	for len(out) < max && s.pos < len(s.data) {
		line := s.nextLine()
		s.lastBatchRows = append(s.lastBatchRows, line)
		out = append(out, s.splitFields(line))
		s.rowsReturned++
	}
	return out, nil
}

func (s *Source) nextLine() []byte {
	start := s.pos
	for s.pos < len(s.data) {
		if s.data[s.pos] == s.escape && s.escape != 0 && s.pos+1 < len(s.data) {
			s.pos += 2
			continue
		}
		if s.data[s.pos] == '\n' {
			line := s.data[start:s.pos]
			s.pos++
			return line
		}
		s.pos++
	}
	return s.data[start:]
}

func (s *Source) splitFields(line []byte) []layout.FieldLocation {
	fields := make([]layout.FieldLocation, 0, s.numFields)

	fieldStart := 0
	escaped := false
	i := 0
	for i < len(line) {
		if s.escape != 0 && line[i] == s.escape {
			escaped = true
			i += 2
			continue
		}
		if line[i] == s.delimiter {
			fields = append(fields, fieldLocation(line, fieldStart, i, escaped))
			fieldStart = i + 1
			escaped = false
		}
		i++
	}
	fields = append(fields, fieldLocation(line, fieldStart, len(line), escaped))

	// Missing trailing fields parse as empty, matching how short rows behave
	// in delimited files.
	for len(fields) < s.numFields {
		fields = append(fields, layout.FieldLocation{Start: line[len(line):], Len: 0})
	}
	return fields[:s.numFields]
}

func fieldLocation(line []byte, start, end int, escaped bool) layout.FieldLocation {
	length := end - start
	if escaped {
		length = -length
	}
	return layout.FieldLocation{Start: line[start:], Len: length}
}

// DescribeRowContext renders the raw record for the error log. rowIdx is the
// split-wide row index the scanner tracks.
func (s *Source) DescribeRowContext(rowIdx int) string {
	i := rowIdx - s.lastBatchBase
	if i < 0 || i >= len(s.lastBatchRows) {
		return fmt.Sprintf("row %d", rowIdx)
	}
	return fmt.Sprintf("row %d: %s", rowIdx, s.lastBatchRows[i])
}
