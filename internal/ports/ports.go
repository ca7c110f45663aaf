package ports

import (
	"context"
	"net/http"
	"time"

	"DataHarvester/internal/domain"
)

// Response is the raw outcome of one authenticated API call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Requester issues authenticated HTTP calls on behalf of the harvester.
// Credential mechanics live entirely behind this interface.
type Requester interface {
	Request(ctx context.Context, method, url string, params map[string]string) (*Response, error)
}

// Limiter gates every outbound call behind the single shared token budget.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// RecordMapper turns a raw endpoint payload into ordered field/value records
// plus any pagination signals the payload carries.
type RecordMapper interface {
	MapRaw(payload []byte) ([]domain.Record, domain.PageMeta, error)
}

// RecordSink buffers records and lands them as segments of one run's output.
type RecordSink interface {
	Append(rec domain.Record) error
	Finalize() error
	Abort() error
}

// SinkFactory opens a fresh sink for one extraction run.
type SinkFactory interface {
	NewSink(desc domain.EndpointDescriptor) (RecordSink, error)
}

// MetadataStore records finished runs and answers freshness queries.
type MetadataStore interface {
	RecordRun(desc domain.EndpointDescriptor, run domain.ExtractionRun) error
	GetIncompleteEndpoints() []string
	GetStaleEndpoints(maxAge time.Duration) []string
	ShouldExtractIncremental(endpointID string, maxAge time.Duration) (bool, time.Time)
}
