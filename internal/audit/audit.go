// Package audit records human-readable change descriptions for segment
// mutations. The core generates the messages; this package queues and
// persists them without blocking the request path.
package audit

import (
	"context"
	"time"
)

// Record is one audit entry: a generated message tied to a segment.
type Record struct {
	Message    string    `json:"message"`
	SegmentID  int64     `json:"segmentId"`
	ProjectID  int64     `json:"projectId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Sink persists audit records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
