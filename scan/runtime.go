package scan

import (
	"github.com/pkg/errors"
)

// ErrCancelled is returned once a scanner observes cancellation; no further
// rows are produced for the split afterwards.
var ErrCancelled = errors.New("scan cancelled")

// RuntimeState is the per-query runtime the scanners report into: a bounded
// error log, per-file error registration and a periodic health check.
type RuntimeState struct {
	BatchSize    int
	AbortOnError bool
	MaxErrorLogs int

	// HealthCheck is polled after every batch commit; a non-nil result stops
	// the scanner. Nil means always healthy.
	HealthCheck func() error

	errorLog   []string
	fileErrors map[string]int
}

func NewRuntimeState(batchSize int) *RuntimeState {
	return &RuntimeState{
		BatchSize:    batchSize,
		MaxErrorLogs: 100,
		fileErrors:   map[string]int{},
	}
}

func (s *RuntimeState) LogHasSpace() bool {
	return len(s.errorLog) < s.MaxErrorLogs
}

func (s *RuntimeState) LogError(msg string) {
	if !s.LogHasSpace() {
		return
	}
	s.errorLog = append(s.errorLog, msg)
}

func (s *RuntimeState) ErrorLog() []string {
	return s.errorLog
}

func (s *RuntimeState) ReportFileErrors(filename string, count int) {
	s.fileErrors[filename] += count
}

func (s *RuntimeState) FileErrors(filename string) int {
	return s.fileErrors[filename]
}

func (s *RuntimeState) CheckQueryHealth() error {
	if s.HealthCheck == nil {
		return nil
	}
	return s.HealthCheck()
}
