package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// LoggerSink writes audit records to a structured logger. It is the
// default sink when no durable audit storage is configured.
type LoggerSink struct {
	log zerolog.Logger
}

// NewLoggerSink creates a sink writing to log.
func NewLoggerSink(log zerolog.Logger) *LoggerSink {
	return &LoggerSink{log: log}
}

// Write logs the record at info level.
func (s *LoggerSink) Write(ctx context.Context, rec Record) error {
	s.log.Info().
		Int64("segment_id", rec.SegmentID).
		Int64("project_id", rec.ProjectID).
		Time("occurred_at", rec.OccurredAt).
		Msg(rec.Message)
	return nil
}

// MemorySink collects records in memory for tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the record.
func (s *MemorySink) Write(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
