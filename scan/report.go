package scan

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/scalarden/fray/layout"
)

// ReportTupleParseError logs one message per slot flagged in errs, clearing
// each flag, then appends the format source's row-level context if log
// capacity remains. The per-file error counter always increments; under
// abort-on-error the failure also registers against file-level reporting and
// the parse status turns sticky-failed. Returns whether the scanner is still
// healthy.
func (s *Scanner) ReportTupleParseError(fields []layout.FieldLocation, errs []bool, rowIdx int) bool {
	for i := range s.node.Layout.Slots {
		if errs[i] {
			s.reportColumnParseError(s.node.Layout.Slots[i], fields[i])
			errs[i] = false
		}
	}

	if s.state.LogHasSpace() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "file: %s\n", s.source.Filename())
		fmt.Fprintf(&sb, "record: %s", s.source.DescribeRowContext(rowIdx))
		s.state.LogError(sb.String())
	}

	s.numErrorsInFile++
	if s.state.AbortOnError {
		s.state.ReportFileErrors(s.source.Filename(), 1)
	}
	return s.parseStatus == nil
}

func (s *Scanner) reportColumnParseError(slot layout.SlotDescriptor, field layout.FieldLocation) {
	if !s.state.LogHasSpace() && !s.state.AbortOnError {
		return
	}

	// field.Bytes() already normalizes the escape-sentinel length; the escape
	// characters themselves don't matter for the message.
	msg := fmt.Sprintf("Error converting column: %d TO %s (Data is: %s)",
		slot.ColPos-s.node.Layout.NumMaterializedPartitionKeys(), slot.Type, field.Bytes())

	if s.state.LogHasSpace() {
		s.state.LogError(msg)
	}
	if s.state.AbortOnError && s.parseStatus == nil {
		s.parseStatus = errors.New(msg)
	}
}
