package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/gosegmentd/internal/audit"
	"github.com/TimurManjosov/gosegmentd/internal/authz"
	"github.com/TimurManjosov/gosegmentd/internal/segments"
	"github.com/TimurManjosov/gosegmentd/internal/store"
	"github.com/TimurManjosov/gosegmentd/internal/versioning"
)

// DefaultLimits are the validation bounds used by test services.
var DefaultLimits = segments.Limits{
	ConditionValueLimit:  1000,
	RulesConditionsLimit: 100,
}

// NewTestService creates a versioning service over an in-memory store and
// an in-memory audit sink for testing. The audit service is closed via
// t.Cleanup so queued records are flushed before assertions run against
// the sink.
func NewTestService(t *testing.T) (*versioning.Service, *store.MemoryStore, *audit.MemorySink) {
	t.Helper()
	memStore := store.NewMemoryStore()
	sink := audit.NewMemorySink()
	auditSvc := audit.NewService(sink, nil, zerolog.Nop(), 64)
	t.Cleanup(func() { _ = auditSvc.Close() })
	svc := versioning.NewService(memStore, authz.AllowAll{}, auditSvc, zerolog.Nop(), DefaultLimits)
	return svc, memStore, sink
}

// WaitForRecords polls the sink until it holds at least want records, then
// returns them. The audit worker writes asynchronously, so assertions about
// recorded messages go through this instead of reading the sink directly.
func WaitForRecords(t *testing.T, sink *audit.MemorySink, want int) []audit.Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		records := sink.Records()
		if len(records) >= want {
			return records
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit sink has %d records after 2s, want at least %d", len(records), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
