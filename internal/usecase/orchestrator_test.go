package usecase

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"DataHarvester/internal/domain"
	"DataHarvester/internal/fetch"
	"DataHarvester/internal/harvest"
	"DataHarvester/internal/metastore"
	"DataHarvester/internal/ports"
)

type endpointScript struct {
	pageSizes []int
	err       error
}

// scriptedSource serves per-endpoint page scripts.
type scriptedSource struct {
	mu      sync.Mutex
	scripts map[string]endpointScript
	calls   map[string]int
}

func (s *scriptedSource) Fetch(ctx context.Context, desc domain.EndpointDescriptor, mapper ports.RecordMapper, req fetch.PageRequest) (domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return domain.Page{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	script := s.scripts[desc.ID]
	if script.err != nil {
		return domain.Page{}, script.err
	}

	call := s.calls[desc.ID]
	s.calls[desc.ID]++
	if call >= len(script.pageSizes) {
		return domain.Page{RequestedSize: req.Size}, nil
	}

	n := script.pageSizes[call]
	records := make([]domain.Record, n)
	for i := range records {
		records[i] = domain.Record{{Name: "seq", Value: strconv.Itoa(req.Offset + i)}}
	}
	return domain.Page{
		RequestedSize: req.Size,
		Returned:      n,
		Records:       records,
		NextOffset:    req.Offset + n,
	}, nil
}

type memorySink struct{ records int }

func (m *memorySink) Append(domain.Record) error { m.records++; return nil }
func (m *memorySink) Finalize() error            { return nil }
func (m *memorySink) Abort() error               { return nil }

type memorySinkFactory struct{}

func (memorySinkFactory) NewSink(domain.EndpointDescriptor) (ports.RecordSink, error) {
	return &memorySink{}, nil
}

func testRegistry(t *testing.T, descs ...domain.EndpointDescriptor) *harvest.Registry {
	t.Helper()

	r := harvest.NewRegistry()
	r.RegisterMapper("nop", func(map[string]string) (ports.RecordMapper, error) {
		return nil, nil
	})
	for _, d := range descs {
		if err := r.AddEndpoint(d); err != nil {
			t.Fatalf("add endpoint %s: %v", d.ID, err)
		}
	}
	return r
}

func descFor(id, category string) domain.EndpointDescriptor {
	return domain.EndpointDescriptor{
		ID:         id,
		Category:   category,
		OutputName: id,
		Mode:       domain.ModePaged,
		PageSize:   2,
		Mapper:     "nop",
	}
}

func newTestOrchestrator(t *testing.T, source harvest.PageSource, descs ...domain.EndpointDescriptor) (*Orchestrator, *metastore.Store) {
	t.Helper()

	store := metastore.Open(filepath.Join(t.TempDir(), "metadata.json"), 10, nil)
	o := NewOrchestrator(Deps{
		Registry:    testRegistry(t, descs...),
		Source:      source,
		Sinks:       memorySinkFactory{},
		Store:       store,
		Concurrency: 2,
	})
	return o, store
}

func TestRunIsolatesEndpointFailures(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{scripts: map[string]endpointScript{
		"orders":    {pageSizes: []int{2, 1}},
		"customers": {err: &fetch.PermanentFetchError{Endpoint: "customers", PageIndex: 1, Status: 403}},
		"refunds":   {pageSizes: []int{1}},
	}}
	o, store := newTestOrchestrator(t, source,
		descFor("orders", "sales"), descFor("customers", "crm"), descFor("refunds", "sales"))

	summary, err := o.Run(context.Background(), Selection{Kind: SelectAll})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Results) != 3 {
		t.Fatalf("every selected endpoint must appear in the summary, got %d", len(summary.Results))
	}

	byID := map[string]EndpointResult{}
	for _, res := range summary.Results {
		byID[res.EndpointID] = res
	}
	if byID["orders"].Status != domain.StatusCompleted || byID["orders"].TotalRecords != 3 {
		t.Fatalf("orders should complete with 3 records: %+v", byID["orders"])
	}
	if byID["refunds"].Status != domain.StatusCompleted {
		t.Fatalf("a sibling failure must not halt refunds: %+v", byID["refunds"])
	}
	failed := byID["customers"]
	if failed.Status != domain.StatusFailed || failed.Error == "" {
		t.Fatalf("customers must fail with its error text: %+v", failed)
	}

	// Both terminal kinds land in history.
	for _, id := range []string{"orders", "customers", "refunds"} {
		if _, ok := store.History(id); !ok {
			t.Fatalf("expected recorded history for %s", id)
		}
	}
}

func TestRunByCategory(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{scripts: map[string]endpointScript{
		"orders":  {pageSizes: []int{1}},
		"refunds": {pageSizes: []int{1}},
	}}
	o, _ := newTestOrchestrator(t, source,
		descFor("orders", "sales"), descFor("customers", "crm"), descFor("refunds", "sales"))

	summary, err := o.Run(context.Background(), Selection{Kind: SelectCategory, Category: "sales"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("expected the 2 sales endpoints, got %d", len(summary.Results))
	}

	if _, err := o.Run(context.Background(), Selection{Kind: SelectCategory, Category: "warehouse"}); err == nil {
		t.Fatal("an unknown category must be an error")
	}
}

func TestRunByIDsRejectsUnknown(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{scripts: map[string]endpointScript{"orders": {pageSizes: []int{1}}}}
	o, _ := newTestOrchestrator(t, source, descFor("orders", "sales"))

	if _, err := o.Run(context.Background(), Selection{Kind: SelectIDs, IDs: []string{"orders", "ghost"}}); err == nil {
		t.Fatal("an unknown endpoint id must be an error")
	}

	summary, err := o.Run(context.Background(), Selection{Kind: SelectIDs, IDs: []string{"orders"}})
	if err != nil || len(summary.Results) != 1 {
		t.Fatalf("expected a single result, got %v (err %v)", summary.Results, err)
	}
}

func TestRunStaleSelection(t *testing.T) {
	t.Parallel()

	source := &scriptedSource{scripts: map[string]endpointScript{
		"orders":  {pageSizes: []int{1}},
		"refunds": {pageSizes: []int{1}},
	}}
	o, store := newTestOrchestrator(t, source, descFor("orders", "sales"), descFor("refunds", "sales"))

	// Seed history: orders was just extracted completely, refunds never ran.
	run := domain.ExtractionRun{
		ID:           "seed",
		EndpointID:   "orders",
		StartedAt:    time.Now().UTC().Add(-time.Minute),
		FinishedAt:   time.Now().UTC(),
		TotalPages:   1,
		TotalRecords: 1,
		IsComplete:   true,
		Status:       domain.StatusCompleted,
	}
	if err := store.RecordRun(descFor("orders", "sales"), run); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	summary, err := o.Run(context.Background(), Selection{Kind: SelectStale, MaxAge: 24 * time.Hour})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.Results) != 1 || summary.Results[0].EndpointID != "refunds" {
		t.Fatalf("only the never-extracted endpoint should be selected, got %+v", summary.Results)
	}

	if _, err := o.Run(context.Background(), Selection{Kind: SelectStale}); err == nil {
		t.Fatal("stale selection without a max age must be an error")
	}
}

func TestRunCancelledLeavesNoTrace(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &scriptedSource{scripts: map[string]endpointScript{"orders": {pageSizes: []int{2, 2}}}}
	o, store := newTestOrchestrator(t, source, descFor("orders", "sales"))

	summary, err := o.Run(ctx, Selection{Kind: SelectAll})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Results[0].Status != domain.StatusAborted {
		t.Fatalf("expected ABORTED result, got %+v", summary.Results[0])
	}
	if _, ok := store.History("orders"); ok {
		t.Fatal("cancelled runs must be invisible to history")
	}
}

func TestRunIdempotentReRun(t *testing.T) {
	t.Parallel()

	descs := []domain.EndpointDescriptor{descFor("orders", "sales")}
	var summaries []Summary
	for i := 0; i < 2; i++ {
		source := &scriptedSource{scripts: map[string]endpointScript{"orders": {pageSizes: []int{2, 2, 1}}}}
		o, _ := newTestOrchestrator(t, source, descs...)
		summary, err := o.Run(context.Background(), Selection{Kind: SelectAll})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		summaries = append(summaries, summary)
	}

	first, second := summaries[0].Results[0], summaries[1].Results[0]
	if first.TotalRecords != second.TotalRecords || first.IsComplete != second.IsComplete {
		t.Fatalf("re-running unchanged upstream must be idempotent: %+v vs %+v", first, second)
	}
}
