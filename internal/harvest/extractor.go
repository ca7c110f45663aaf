package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"DataHarvester/internal/completeness"
	"DataHarvester/internal/domain"
	"DataHarvester/internal/fetch"
	"DataHarvester/internal/ports"
)

// DefaultMaxPages is the defensive ceiling protecting against misbehaving or
// infinite-pagination upstreams.
const DefaultMaxPages = 1000

// PageSource issues one gated page fetch; *fetch.PageFetcher is the
// production implementation.
type PageSource interface {
	Fetch(ctx context.Context, desc domain.EndpointDescriptor, mapper ports.RecordMapper, req fetch.PageRequest) (domain.Page, error)
}

// Extractor drives the fetch, write, detect loop for one endpoint.
type Extractor struct {
	entry    Entry
	source   PageSource
	maxPages int
	logger   *slog.Logger
	now      func() time.Time
}

// NewExtractor builds the run loop for one registered endpoint.
func NewExtractor(entry Entry, source PageSource, maxPages int, logger *slog.Logger) *Extractor {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Extractor{
		entry:    entry,
		source:   source,
		maxPages: maxPages,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one extraction attempt. The returned run is terminal
// (COMPLETED or FAILED) unless the context was cancelled, in which case it
// is ABORTED and must not be recorded into history. The sink is finalized on
// success only; aborting a failed sink is the caller's job.
func (e *Extractor) Run(ctx context.Context, sink ports.RecordSink) domain.ExtractionRun {
	desc := e.entry.Descriptor
	run := domain.ExtractionRun{
		ID:         uuid.NewString(),
		EndpointID: desc.ID,
		StartedAt:  e.now().UTC(),
	}

	stats := completeness.RunStats{
		Mode:                     desc.Mode,
		DocumentedCap:            desc.DocumentedCap,
		AssumeCompleteOnFullPage: desc.AssumeCompleteOnFullPage,
	}
	var notes []string

	offset := 0
	for pageIndex := 1; ; pageIndex++ {
		req := fetch.PageRequest{Index: pageIndex, Offset: offset, Size: desc.PageSize}
		if desc.Mode == domain.ModeSingleShot {
			req.Size = 0
		}

		page, err := e.source.Fetch(ctx, desc, e.entry.Mapper, req)
		if err != nil {
			if ctx.Err() != nil {
				return e.abort(run)
			}
			return e.fail(run, err)
		}

		for _, rec := range page.Records {
			if err := sink.Append(rec); err != nil {
				return e.fail(run, err)
			}
		}

		run.TotalPages++
		run.TotalRecords += page.Returned
		stats.LastRequested = page.RequestedSize
		stats.LastReturned = page.Returned
		stats.LastPageSignaled = page.Signaled && page.LastPage

		if desc.Mode == domain.ModeSingleShot {
			break
		}
		if page.Signaled && page.LastPage {
			break
		}
		if page.Returned < page.RequestedSize {
			break
		}
		if pageIndex >= e.maxPages {
			notes = append(notes, fmt.Sprintf(
				"stopped at the defensive ceiling of %d pages; upstream may hold more data", e.maxPages))
			break
		}
		offset = page.NextOffset
	}

	if err := sink.Finalize(); err != nil {
		return e.fail(run, err)
	}

	stats.TotalRecords = run.TotalRecords
	complete, detectorNotes := completeness.Evaluate(stats)
	// The ceiling overrides any optimistic verdict.
	if len(notes) > 0 {
		complete = false
	}
	run.IsComplete = complete
	run.CompletenessNotes = append(notes, detectorNotes...)
	run.Status = domain.StatusCompleted
	run.FinishedAt = e.now().UTC()

	e.debug("extraction completed",
		"endpoint", desc.ID, "pages", run.TotalPages,
		"records", run.TotalRecords, "complete", run.IsComplete)
	return run
}

func (e *Extractor) fail(run domain.ExtractionRun, err error) domain.ExtractionRun {
	run.Status = domain.StatusFailed
	run.Error = err.Error()
	run.FinishedAt = e.now().UTC()
	if e.logger != nil {
		e.logger.Warn("extraction failed",
			"endpoint", run.EndpointID, "pages", run.TotalPages,
			"records", run.TotalRecords, "error", err)
	}
	return run
}

func (e *Extractor) abort(run domain.ExtractionRun) domain.ExtractionRun {
	run.Status = domain.StatusAborted
	run.FinishedAt = e.now().UTC()
	e.debug("extraction aborted", "endpoint", run.EndpointID, "pages", run.TotalPages)
	return run
}

func (e *Extractor) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
