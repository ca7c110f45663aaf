package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"DataHarvester/internal/domain"
	"DataHarvester/internal/ports"
)

// DefaultHistoryCapacity bounds per-endpoint history to the ten most recent
// runs.
const DefaultHistoryCapacity = 10

// Store is the durable, bounded history of past extraction runs. One Store
// owns one metadata file; every load-mutate-write cycle is serialized behind
// a single mutex even though extraction runs proceed concurrently.
type Store struct {
	path     string
	capacity int
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	endpoints map[string]*domain.EndpointHistory
}

var _ ports.MetadataStore = (*Store)(nil)

// Open loads prior history from path. A missing, unreadable, or corrupt file
// is not fatal: the condition is logged and the store starts fresh.
func Open(path string, capacity int, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	s := &Store{
		path:      path,
		capacity:  capacity,
		logger:    logger,
		now:       time.Now,
		endpoints: map[string]*domain.EndpointHistory{},
	}
	s.load()
	return s
}

func (s *Store) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.warn("metadata file unreadable, starting fresh", "path", s.path, "error", err)
		}
		return
	}

	var endpoints map[string]*domain.EndpointHistory
	if err := json.Unmarshal(raw, &endpoints); err != nil {
		s.warn("metadata file corrupt, starting fresh", "path", s.path, "error", err)
		return
	}
	if endpoints != nil {
		s.endpoints = endpoints
	}
}

// RecordRun appends a terminal run to the endpoint's bounded history,
// refreshes the last_* convenience fields, and persists atomically. Runs
// that are not COMPLETED or FAILED are rejected.
func (s *Store) RecordRun(desc domain.EndpointDescriptor, run domain.ExtractionRun) error {
	if run.Status != domain.StatusCompleted && run.Status != domain.StatusFailed {
		return fmt.Errorf("run %s for endpoint %s is not terminal (%s)", run.ID, desc.ID, run.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.endpoints[desc.ID]
	hist := &domain.EndpointHistory{}
	if existed {
		copied := *prev
		copied.History = append([]domain.RunRecord(nil), prev.History...)
		hist = &copied
	}
	hist.Category = desc.Category
	hist.Filename = desc.OutputName + ".parquet"
	hist.LastExtraction = run.FinishedAt
	hist.LastTotalRecords = run.TotalRecords
	hist.LastIsComplete = run.IsComplete

	hist.History = append(hist.History, domain.RunRecord{
		Timestamp:         run.FinishedAt,
		TotalRecords:      run.TotalRecords,
		TotalPages:        run.TotalPages,
		IsComplete:        run.IsComplete,
		CompletenessNotes: run.CompletenessNotes,
		DurationSeconds:   run.Duration().Seconds(),
		Error:             run.Error,
	})
	if overflow := len(hist.History) - s.capacity; overflow > 0 {
		hist.History = append(hist.History[:0:0], hist.History[overflow:]...)
	}

	// The run commits in memory only once it is durable, so queries never
	// report a run the file does not have.
	s.endpoints[desc.ID] = hist
	if err := s.persist(); err != nil {
		if existed {
			s.endpoints[desc.ID] = prev
		} else {
			delete(s.endpoints, desc.ID)
		}
		return err
	}
	return nil
}

// persist writes the whole map to a temporary file in the same directory and
// renames it into place, so a crash mid-write cannot corrupt prior history.
func (s *Store) persist() error {
	raw, err := json.MarshalIndent(s.endpoints, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp metadata: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace metadata file: %w", err)
	}
	return nil
}

// History returns a copy of one endpoint's recorded history.
func (s *Store) History(endpointID string) (domain.EndpointHistory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist, ok := s.endpoints[endpointID]
	if !ok {
		return domain.EndpointHistory{}, false
	}
	out := *hist
	out.History = append([]domain.RunRecord(nil), hist.History...)
	return out, true
}

// GetIncompleteEndpoints lists endpoints whose most recent run may have been
// truncated.
func (s *Store) GetIncompleteEndpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, hist := range s.endpoints {
		if !hist.LastIsComplete {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetStaleEndpoints lists endpoints whose last extraction is older than
// maxAge.
func (s *Store) GetStaleEndpoints(maxAge time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	var ids []string
	for id, hist := range s.endpoints {
		if hist.LastExtraction.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ShouldExtractIncremental reports whether the endpoint needs a refresh: it
// was never extracted, its last run was possibly incomplete, or its last
// extraction is older than maxAge. The second return value is the last
// extraction timestamp, zero when the endpoint has no history.
func (s *Store) ShouldExtractIncremental(endpointID string, maxAge time.Duration) (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist, ok := s.endpoints[endpointID]
	if !ok {
		return true, time.Time{}
	}
	if !hist.LastIsComplete {
		return true, hist.LastExtraction
	}
	if s.now().Sub(hist.LastExtraction) > maxAge {
		return true, hist.LastExtraction
	}
	return false, hist.LastExtraction
}

func (s *Store) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
