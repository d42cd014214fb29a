package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

const runsDir = "runs"

// HistoryStore is the append-only record of comparison runs. A run may be
// written while still in progress, but once its status is terminal the
// record never changes again.
type HistoryStore struct {
	root string

	mu   sync.RWMutex
	runs map[string]*model.ComparisonRun
}

// OpenHistoryStore loads every run record under root/runs.
func OpenHistoryStore(root string) (*HistoryStore, error) {
	dir := filepath.Join(root, runsDir)
	if err := os.MkdirAll(dir, logger.DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	s := &HistoryStore{root: root, runs: make(map[string]*model.ComparisonRun)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read run record %s: %w", entry.Name(), err)
		}
		var run model.ComparisonRun
		if err := sonic.Unmarshal(data, &run); err != nil {
			return nil, fmt.Errorf("failed to decode run record %s: %w", entry.Name(), err)
		}
		s.runs[run.ComparisonID] = &run
	}

	logger.Logger.Debug("Run history opened", "root", root, "runs", len(s.runs))
	return s, nil
}

// Save writes a run record. Writing a run whose stored copy is already in a
// terminal status is rejected; history is immutable once a run finishes.
func (s *HistoryStore) Save(run model.ComparisonRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.runs[run.ComparisonID]; ok && existing.Status.Terminal() {
		return fmt.Errorf("comparison run %q is already %s and cannot be modified", run.ComparisonID, existing.Status)
	}

	data, err := sonic.MarshalIndent(&run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run %q: %w", run.ComparisonID, err)
	}

	path := filepath.Join(s.root, runsDir, run.ComparisonID+".json")
	if err := os.WriteFile(path, data, logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write run %q: %w", run.ComparisonID, err)
	}
	s.runs[run.ComparisonID] = &run

	logger.Logger.Debug("Comparison run saved", "comparison_id", run.ComparisonID, "status", run.Status)
	return nil
}

// GetComparisonRun returns the full record of one run.
func (s *HistoryStore) GetComparisonRun(comparisonID string) (*model.ComparisonRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[comparisonID]
	if !ok {
		return nil, fmt.Errorf("comparison run %q not found", comparisonID)
	}
	out := *run
	return &out, nil
}

// GetComparisonHistory returns run summaries, most recent first. A limit of
// zero or less returns everything.
func (s *HistoryStore) GetComparisonHistory(limit int) []model.ComparisonRunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ComparisonRunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Summarize())
	}
	// order by completion time; in-flight runs fall back to their start time
	orderKey := func(s model.ComparisonRunSummary) time.Time {
		if s.CompletedAt != nil {
			return *s.CompletedAt
		}
		return s.StartedAt
	}
	sort.Slice(out, func(i, j int) bool {
		return orderKey(out[i]).After(orderKey(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
