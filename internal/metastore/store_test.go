package metastore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"DataHarvester/internal/domain"
)

func storeDescriptor() domain.EndpointDescriptor {
	return domain.EndpointDescriptor{
		ID:         "invoices",
		Category:   "finance",
		OutputName: "invoices",
		Mode:       domain.ModePaged,
	}
}

func terminalRun(id int, finished time.Time, complete bool) domain.ExtractionRun {
	return domain.ExtractionRun{
		ID:           "run-" + strconv.Itoa(id),
		EndpointID:   "invoices",
		StartedAt:    finished.Add(-time.Minute),
		FinishedAt:   finished,
		TotalPages:   3,
		TotalRecords: 100 + id,
		IsComplete:   complete,
		Status:       domain.StatusCompleted,
	}
}

func TestRecordRunBoundsHistory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadata.json")
	s := Open(path, 10, nil)

	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		run := terminalRun(i, base.Add(time.Duration(i)*time.Hour), true)
		if err := s.RecordRun(storeDescriptor(), run); err != nil {
			t.Fatalf("record run %d: %v", i, err)
		}
	}

	hist, ok := s.History("invoices")
	if !ok {
		t.Fatal("expected history for invoices")
	}
	if len(hist.History) != 10 {
		t.Fatalf("expected 10 entries after 15 runs, got %d", len(hist.History))
	}
	for i, rec := range hist.History {
		want := base.Add(time.Duration(i+5) * time.Hour)
		if !rec.Timestamp.Equal(want) {
			t.Fatalf("entry %d: expected timestamp %v (chronological, newest last), got %v", i, want, rec.Timestamp)
		}
	}
	if hist.LastTotalRecords != 114 {
		t.Fatalf("expected last_total_records from the newest run, got %d", hist.LastTotalRecords)
	}
}

func TestRecordRunPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadata.json")
	s := Open(path, 10, nil)
	run := terminalRun(1, time.Date(2026, time.May, 2, 10, 0, 0, 0, time.UTC), false)
	if err := s.RecordRun(storeDescriptor(), run); err != nil {
		t.Fatalf("record run: %v", err)
	}

	reopened := Open(path, 10, nil)
	hist, ok := reopened.History("invoices")
	if !ok {
		t.Fatal("history must survive a reopen")
	}
	if hist.Category != "finance" || hist.Filename != "invoices.parquet" {
		t.Fatalf("unexpected endpoint metadata: %+v", hist)
	}
	if hist.LastIsComplete {
		t.Fatal("completeness flag lost across reopen")
	}
}

func TestRecordRunRejectsNonTerminalRuns(t *testing.T) {
	t.Parallel()

	s := Open(filepath.Join(t.TempDir(), "metadata.json"), 10, nil)
	run := terminalRun(1, time.Now(), true)
	run.Status = domain.StatusAborted
	if err := s.RecordRun(storeDescriptor(), run); err == nil {
		t.Fatal("aborted runs must leave no metadata trace")
	}
	if _, ok := s.History("invoices"); ok {
		t.Fatal("no history entry expected after a rejected run")
	}
}

func TestOpenToleratesCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	s := Open(path, 10, nil)
	if ids := s.GetIncompleteEndpoints(); len(ids) != 0 {
		t.Fatalf("corrupt store must start fresh, got %v", ids)
	}

	// A subsequent record begins a fresh, valid history.
	if err := s.RecordRun(storeDescriptor(), terminalRun(1, time.Now().UTC(), true)); err != nil {
		t.Fatalf("record after corruption: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var decoded map[string]domain.EndpointHistory
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("persisted metadata must be valid JSON: %v", err)
	}
	if _, ok := decoded["invoices"]; !ok {
		t.Fatal("expected fresh history for invoices")
	}
}

func TestOpenToleratesEmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("seed empty file: %v", err)
	}
	s := Open(path, 10, nil)
	if err := s.RecordRun(storeDescriptor(), terminalRun(1, time.Now().UTC(), true)); err != nil {
		t.Fatalf("record after empty file: %v", err)
	}
}

func TestRecordRunRollsBackWhenPersistFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "meta")
	if err := os.WriteFile(blocker, []byte("in the way"), 0o644); err != nil {
		t.Fatalf("seed blocking file: %v", err)
	}
	// The metadata path sits below a plain file, so every persist fails.
	path := filepath.Join(blocker, "metadata.json")

	s := Open(path, 10, nil)
	if err := s.RecordRun(storeDescriptor(), terminalRun(1, time.Now().UTC(), true)); err == nil {
		t.Fatal("expected persist failure")
	}
	if _, ok := s.History("invoices"); ok {
		t.Fatal("an unpersisted run must not linger in memory")
	}
	if ids := s.GetStaleEndpoints(0); len(ids) != 0 {
		t.Fatalf("queries must not see the rolled-back run, got %v", ids)
	}

	// Once the path is writable again, recording resumes cleanly.
	if err := os.Remove(blocker); err != nil {
		t.Fatalf("remove blocking file: %v", err)
	}
	if err := s.RecordRun(storeDescriptor(), terminalRun(2, time.Now().UTC(), true)); err != nil {
		t.Fatalf("record after recovery: %v", err)
	}
	hist, ok := s.History("invoices")
	if !ok || len(hist.History) != 1 {
		t.Fatalf("expected exactly the recovered run in history, got %+v", hist)
	}
}

func TestFreshnessQueries(t *testing.T) {
	t.Parallel()

	s := Open(filepath.Join(t.TempDir(), "metadata.json"), 10, nil)
	now := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	fresh := storeDescriptor()
	stale := domain.EndpointDescriptor{ID: "vendors", Category: "finance", OutputName: "vendors", Mode: domain.ModePaged}
	truncated := domain.EndpointDescriptor{ID: "payments", Category: "finance", OutputName: "payments", Mode: domain.ModePaged}

	record := func(desc domain.EndpointDescriptor, finished time.Time, complete bool) {
		run := terminalRun(1, finished, complete)
		run.EndpointID = desc.ID
		if err := s.RecordRun(desc, run); err != nil {
			t.Fatalf("record %s: %v", desc.ID, err)
		}
	}
	record(fresh, now.Add(-time.Hour), true)
	record(stale, now.Add(-48*time.Hour), true)
	record(truncated, now.Add(-time.Hour), false)

	if got := s.GetIncompleteEndpoints(); len(got) != 1 || got[0] != "payments" {
		t.Fatalf("expected [payments], got %v", got)
	}
	if got := s.GetStaleEndpoints(24 * time.Hour); len(got) != 1 || got[0] != "vendors" {
		t.Fatalf("expected [vendors], got %v", got)
	}

	if need, _ := s.ShouldExtractIncremental("invoices", 24*time.Hour); need {
		t.Fatal("fresh complete endpoint must not need extraction")
	}
	if need, last := s.ShouldExtractIncremental("vendors", 24*time.Hour); !need || !last.Equal(now.Add(-48*time.Hour)) {
		t.Fatalf("stale endpoint must need extraction with its last timestamp, got need=%v last=%v", need, last)
	}
	if need, _ := s.ShouldExtractIncremental("payments", 24*time.Hour); !need {
		t.Fatal("incomplete endpoint must need extraction")
	}
	if need, last := s.ShouldExtractIncremental("unknown", 24*time.Hour); !need || !last.IsZero() {
		t.Fatalf("never-extracted endpoint must need extraction with zero timestamp, got need=%v last=%v", need, last)
	}
}
