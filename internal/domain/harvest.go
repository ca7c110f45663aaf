package domain

import "time"

// PaginationMode selects how an endpoint's result set is traversed.
type PaginationMode string

const (
	// ModePaged walks the result set with explicit offset/limit pages.
	ModePaged PaginationMode = "paged"
	// ModeSingleShot requests the entire result set in one call.
	ModeSingleShot PaginationMode = "single-shot"
)

// EndpointDescriptor is the immutable configuration of one harvestable
// resource. Descriptors are registered once at startup and never mutated.
type EndpointDescriptor struct {
	ID         string
	Category   string
	OutputName string
	Mode       PaginationMode
	PageSize   int
	// DocumentedCap is the API's documented result-size ceiling. A single-shot
	// response of exactly this many records is treated as truncated.
	DocumentedCap int
	URL           string
	Mapper        string
	MapperOptions map[string]string
	Params        map[string]string
	OffsetParam   string
	LimitParam    string
	// AssumeCompleteOnFullPage relaxes the conservative truncation default for
	// APIs known to terminate pagination with a full final page.
	AssumeCompleteOnFullPage bool
}

// Field is one named value of a record.
type Field struct {
	Name  string
	Value string
}

// Record is a single extracted row as an ordered list of fields.
type Record []Field

// PageMeta carries pagination signals a mapper recovered from a raw payload.
type PageMeta struct {
	LastPage bool
	Signaled bool
}

// Page is the result of one paginated fetch. It lives only for a single loop
// iteration of its extractor.
type Page struct {
	RequestedSize int
	Returned      int
	Records       []Record
	LastPage      bool
	Signaled      bool
	NextOffset    int
}

// RunStatus enumerates terminal states of an extraction run.
type RunStatus string

const (
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	// StatusAborted marks a cancelled run. Aborted runs are never persisted
	// into extraction history.
	StatusAborted RunStatus = "ABORTED"
)

// ExtractionRun is one full harvesting attempt for one endpoint.
type ExtractionRun struct {
	ID                string
	EndpointID        string
	StartedAt         time.Time
	FinishedAt        time.Time
	TotalPages        int
	TotalRecords      int
	IsComplete        bool
	CompletenessNotes []string
	Status            RunStatus
	Error             string
}

// Duration reports the wall-clock span of the run.
func (r ExtractionRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunRecord is the persisted form of one finished extraction run.
type RunRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	TotalRecords      int       `json:"total_records"`
	TotalPages        int       `json:"total_pages"`
	IsComplete        bool      `json:"is_complete"`
	CompletenessNotes []string  `json:"completeness_notes,omitempty"`
	DurationSeconds   float64   `json:"duration_seconds"`
	Error             string    `json:"error,omitempty"`
}

// EndpointHistory is the bounded per-endpoint record of past runs, newest
// last, plus convenience fields describing the most recent one.
type EndpointHistory struct {
	Category         string      `json:"category"`
	Filename         string      `json:"filename"`
	LastExtraction   time.Time   `json:"last_extraction"`
	LastTotalRecords int         `json:"total_records"`
	LastIsComplete   bool        `json:"is_complete"`
	History          []RunRecord `json:"history"`
}
