package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"DataHarvester/internal/domain"
	"DataHarvester/internal/harvest"
	"DataHarvester/internal/metrics"
	"DataHarvester/internal/ports"
)

const defaultConcurrency = 4

// SelectionKind names a way of choosing endpoints for one harvest.
type SelectionKind string

const (
	SelectAll      SelectionKind = "all"
	SelectCategory SelectionKind = "category"
	SelectIDs      SelectionKind = "ids"
	// SelectStale refreshes only endpoints the metadata store considers in
	// need of extraction (never run, incomplete, or older than MaxAge).
	SelectStale SelectionKind = "stale"
)

// Selection describes which endpoints one harvest covers.
type Selection struct {
	Kind     SelectionKind
	Category string
	IDs      []string
	MaxAge   time.Duration
}

// EndpointResult is one endpoint's terminal state in a harvest summary.
type EndpointResult struct {
	EndpointID   string
	Status       domain.RunStatus
	TotalRecords int
	IsComplete   bool
	Notes        []string
	Error        string
	Duration     time.Duration
}

// Summary reports the outcome of every selected endpoint. No failure is
// merged into a generic done status.
type Summary struct {
	Results []EndpointResult
}

// Counts tallies results by terminal status.
func (s Summary) Counts() (completed, failed, aborted int) {
	for _, res := range s.Results {
		switch res.Status {
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed:
			failed++
		default:
			aborted++
		}
	}
	return completed, failed, aborted
}

// Deps wires the driven components into the orchestrator.
type Deps struct {
	Registry    *harvest.Registry
	Source      harvest.PageSource
	Sinks       ports.SinkFactory
	Store       ports.MetadataStore
	Logger      *slog.Logger
	Concurrency int
	MaxPages    int
}

// Orchestrator resolves a selection of endpoints and drives their extractors,
// several at a time. Every fetch funnels through the single shared rate
// limiter behind the page source, so the aggregate call rate across all
// concurrent runs stays under the external ceiling.
type Orchestrator struct {
	registry    *harvest.Registry
	source      harvest.PageSource
	sinks       ports.SinkFactory
	store       ports.MetadataStore
	logger      *slog.Logger
	concurrency int
	maxPages    int
}

// NewOrchestrator constructs the harvest driver.
func NewOrchestrator(deps Deps) *Orchestrator {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Orchestrator{
		registry:    deps.Registry,
		source:      deps.Source,
		sinks:       deps.Sinks,
		store:       deps.Store,
		logger:      deps.Logger,
		concurrency: concurrency,
		maxPages:    deps.MaxPages,
	}
}

// Run executes one harvest over the selection. A failed run for one endpoint
// never halts sibling runs; only COMPLETED and FAILED runs are recorded into
// extraction history.
func (o *Orchestrator) Run(ctx context.Context, sel Selection) (Summary, error) {
	entries, err := o.resolve(sel)
	if err != nil {
		return Summary{}, err
	}

	results := make([]EndpointResult, len(entries))
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry harvest.Entry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.runOne(ctx, entry)
		}(i, entry)
	}
	wg.Wait()

	summary := Summary{Results: results}
	completed, failed, aborted := summary.Counts()
	o.info("harvest finished", "completed", completed, "failed", failed, "aborted", aborted)
	return summary, nil
}

func (o *Orchestrator) runOne(ctx context.Context, entry harvest.Entry) EndpointResult {
	desc := entry.Descriptor

	sink, err := o.sinks.NewSink(desc)
	if err != nil {
		// The run failed before its first fetch; record it like any other
		// failure so it is not silently dropped.
		now := time.Now().UTC()
		run := domain.ExtractionRun{
			ID:         uuid.NewString(),
			EndpointID: desc.ID,
			StartedAt:  now,
			FinishedAt: now,
			Status:     domain.StatusFailed,
			Error:      fmt.Sprintf("open sink: %v", err),
		}
		o.record(desc, run)
		return resultOf(run)
	}

	extractor := harvest.NewExtractor(entry, o.source, o.maxPages, o.logger)
	run := extractor.Run(ctx, sink)

	switch run.Status {
	case domain.StatusCompleted:
		// The extractor finalized the sink already.
	case domain.StatusAborted:
		// Cancelled runs leave no metadata trace. Row groups already flushed
		// stay on disk under the sink's partial name.
		_ = sink.Abort()
		return resultOf(run)
	default:
		_ = sink.Abort()
	}

	o.record(desc, run)
	return resultOf(run)
}

func (o *Orchestrator) record(desc domain.EndpointDescriptor, run domain.ExtractionRun) {
	metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	if err := o.store.RecordRun(desc, run); err != nil {
		o.warn("recording run failed", "endpoint", desc.ID, "error", err)
	}
	o.info("run finished",
		"endpoint", desc.ID, "status", string(run.Status),
		"records", run.TotalRecords, "pages", run.TotalPages,
		"complete", run.IsComplete, "duration", run.Duration())
}

func resultOf(run domain.ExtractionRun) EndpointResult {
	return EndpointResult{
		EndpointID:   run.EndpointID,
		Status:       run.Status,
		TotalRecords: run.TotalRecords,
		IsComplete:   run.IsComplete,
		Notes:        run.CompletenessNotes,
		Error:        run.Error,
		Duration:     run.Duration(),
	}
}

func (o *Orchestrator) resolve(sel Selection) ([]harvest.Entry, error) {
	switch sel.Kind {
	case SelectAll, "":
		return o.registry.All(), nil

	case SelectCategory:
		entries := o.registry.ByCategory(sel.Category)
		if len(entries) == 0 {
			return nil, fmt.Errorf("no endpoints registered in category %q", sel.Category)
		}
		return entries, nil

	case SelectIDs:
		entries := make([]harvest.Entry, 0, len(sel.IDs))
		for _, id := range sel.IDs {
			entry, err := o.registry.Resolve(id)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		return entries, nil

	case SelectStale:
		if sel.MaxAge <= 0 {
			return nil, fmt.Errorf("stale selection requires a positive max age")
		}
		var entries []harvest.Entry
		for _, entry := range o.registry.All() {
			if need, _ := o.store.ShouldExtractIncremental(entry.Descriptor.ID, sel.MaxAge); need {
				entries = append(entries, entry)
			}
		}
		return entries, nil

	default:
		return nil, fmt.Errorf("unknown selection kind %q", sel.Kind)
	}
}

func (o *Orchestrator) info(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}
}

func (o *Orchestrator) warn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}
