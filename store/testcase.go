// Package store provides the durable records of the engine: versioned test
// cases and the append-only comparison run history. Records are JSON
// documents, one file per record, under a root directory.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/life4/genesis/slices"

	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

const casesDir = "cases"

// TestCaseStore is the source of truth for test case records. Reads are
// safe for concurrent use; the in-memory index mirrors the files on disk.
type TestCaseStore struct {
	root string

	mu    sync.RWMutex
	cases map[string]*model.TestCase
}

// OpenTestCaseStore loads every record under root/cases into the index,
// creating the directory if needed.
func OpenTestCaseStore(root string) (*TestCaseStore, error) {
	dir := filepath.Join(root, casesDir)
	if err := os.MkdirAll(dir, logger.DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create case store directory: %w", err)
	}

	s := &TestCaseStore{root: root, cases: make(map[string]*model.TestCase)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read case store directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read case record %s: %w", entry.Name(), err)
		}
		var tc model.TestCase
		if err := sonic.Unmarshal(data, &tc); err != nil {
			return nil, fmt.Errorf("failed to decode case record %s: %w", entry.Name(), err)
		}
		s.cases[tc.CaseID] = &tc
	}

	logger.Logger.Debug("Test case store opened", "root", root, "cases", len(s.cases))
	return s, nil
}

// Create validates and persists a new test case. The caseId must be unique
// among all existing records, archived ones included: archived records are
// kept forever, so their ids stay taken.
func (s *TestCaseStore) Create(tc model.TestCase) (*model.TestCase, []model.ValidationError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := s.validateLocked(tc, "")
	if len(errs) > 0 {
		return nil, errs, nil
	}

	tc.Version = 1
	tc.CreatedAt = time.Now().UTC()
	tc.UpdatedAt = tc.CreatedAt

	if err := s.writeLocked(&tc); err != nil {
		return nil, nil, err
	}
	s.cases[tc.CaseID] = &tc

	logger.Logger.Info("Test case created", "case_id", tc.CaseID, "name", tc.Name)
	return &tc, nil, nil
}

// Update validates and persists a changed test case, bumping its version.
// The caseId is immutable after creation.
func (s *TestCaseStore) Update(tc model.TestCase) (*model.TestCase, []model.ValidationError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cases[tc.CaseID]
	if !ok {
		return nil, nil, fmt.Errorf("test case %q not found", tc.CaseID)
	}

	errs := s.validateLocked(tc, tc.CaseID)
	if len(errs) > 0 {
		return nil, errs, nil
	}

	tc.Version = existing.Version + 1
	tc.CreatedAt = existing.CreatedAt
	tc.UpdatedAt = time.Now().UTC()

	if err := s.writeLocked(&tc); err != nil {
		return nil, nil, err
	}
	s.cases[tc.CaseID] = &tc

	logger.Logger.Info("Test case updated", "case_id", tc.CaseID, "version", tc.Version)
	return &tc, nil, nil
}

// Clone deep-copies an existing record under a fresh caseId with version 1.
func (s *TestCaseStore) Clone(caseID string) (*model.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("test case %q not found", caseID)
	}

	clone := src.Clone()
	clone.CreatedAt = time.Now().UTC()
	clone.UpdatedAt = clone.CreatedAt

	if err := s.writeLocked(&clone); err != nil {
		return nil, err
	}
	s.cases[clone.CaseID] = &clone

	logger.Logger.Info("Test case cloned", "source", caseID, "clone", clone.CaseID)
	return &clone, nil
}

// Archive marks a record archived. History referencing it stays intact; the
// record itself is never deleted.
func (s *TestCaseStore) Archive(caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("test case %q not found", caseID)
	}
	if tc.IsArchived {
		return nil
	}

	updated := *tc
	updated.IsArchived = true
	updated.UpdatedAt = time.Now().UTC()

	if err := s.writeLocked(&updated); err != nil {
		return err
	}
	s.cases[caseID] = &updated

	logger.Logger.Info("Test case archived", "case_id", caseID)
	return nil
}

// Get returns one record by id.
func (s *TestCaseStore) Get(caseID string) (*model.TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tc, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("test case %q not found", caseID)
	}
	out := *tc
	return &out, nil
}

// List returns records sorted by caseId, optionally including archived ones.
func (s *TestCaseStore) List(includeArchived bool) []model.TestCase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TestCase, 0, len(s.cases))
	for _, tc := range s.cases {
		if tc.IsArchived && !includeArchived {
			continue
		}
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CaseID < out[j].CaseID })
	return out
}

// Validate runs the full rule set against a candidate record without
// persisting anything.
func (s *TestCaseStore) Validate(tc model.TestCase) []model.ValidationError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateLocked(tc, tc.CaseID)
}

// validateLocked collects every field-level finding. selfID exempts the
// record's own id from the uniqueness check on update.
func (s *TestCaseStore) validateLocked(tc model.TestCase, selfID string) []model.ValidationError {
	var errs []model.ValidationError

	add := func(field, format string, args ...interface{}) {
		errs = append(errs, model.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !model.ValidCaseID(tc.CaseID) {
		add("caseId", "must match ^[a-z0-9][a-z0-9-]{2,63}$")
	} else if _, ok := s.cases[tc.CaseID]; ok && tc.CaseID != selfID {
		add("caseId", "already in use by an existing test case")
	}

	if strings.TrimSpace(tc.Name) == "" {
		add("name", "is required")
	}

	switch tc.Category {
	case model.CategoryHappyPath, model.CategoryEdgeCase, model.CategoryErrorHandling, "":
	default:
		add("category", "unknown category %q", tc.Category)
	}

	if len(tc.Steps) == 0 {
		add("steps", "at least one step is required")
	}
	hasMessage := slices.Any(tc.Steps, func(st model.Step) bool {
		return strings.TrimSpace(st.UserMessage) != ""
	})
	if len(tc.Steps) > 0 && !hasMessage {
		add("steps", "at least one step needs a non-empty user_message")
	}

	for i, st := range tc.Steps {
		stepField := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(st.UserMessage) == "" {
			add(stepField+".userMessage", "is required")
		}
		for j, p := range st.ExpectedPatterns {
			if _, err := regexp.Compile(p); err != nil {
				add(fmt.Sprintf("%s.expectedPatterns[%d]", stepField, j), "invalid regex: %v", err)
			}
		}
		for j, p := range st.UnexpectedPatterns {
			if _, err := regexp.Compile(p); err != nil {
				add(fmt.Sprintf("%s.unexpectedPatterns[%d]", stepField, j), "invalid regex: %v", err)
			}
		}
		if st.Timeout != "" {
			if _, err := time.ParseDuration(st.Timeout); err != nil {
				add(stepField+".timeout", "invalid duration %q", st.Timeout)
			}
		}
		if st.Delay != "" {
			if _, err := time.ParseDuration(st.Delay); err != nil {
				add(stepField+".delay", "invalid duration %q", st.Delay)
			}
		}
	}

	for i, g := range tc.Goals {
		switch g.Type {
		case model.GoalDataCollection, model.GoalBookingConfirmed, model.GoalEscalationOffer, model.GoalNoWrongInfo:
		default:
			add(fmt.Sprintf("goals[%d].type", i), "unknown goal type %q", g.Type)
		}
		if g.Type == model.GoalDataCollection && len(g.RequiredFields) == 0 {
			add(fmt.Sprintf("goals[%d].requiredFields", i), "data_collection goals need at least one required field")
		}
	}

	for i, c := range tc.Constraints {
		field := fmt.Sprintf("constraints[%d]", i)
		switch c.Type {
		case model.ConstraintMaxTurns:
			if c.MaxTurns <= 0 {
				add(field+".maxTurns", "must be positive")
			}
		case model.ConstraintMaxTime:
			if c.MaxTime == "" {
				add(field+".maxTime", "is required for max_time constraints")
			} else if _, err := time.ParseDuration(c.MaxTime); err != nil {
				add(field+".maxTime", "invalid duration %q", c.MaxTime)
			}
		case model.ConstraintMustHappen, model.ConstraintMustNotHappen:
			if strings.TrimSpace(c.Description) == "" {
				add(field+".description", "is required for behavioural constraints")
			}
		default:
			add(field+".type", "unknown constraint type %q", c.Type)
		}
	}

	errs = append(errs, validateInventory(tc.Persona.Inventory)...)
	return errs
}

// validateInventory checks that every dynamic field's constraints match its
// field type's accepted shape.
func validateInventory(inv model.DataInventory) []model.ValidationError {
	var errs []model.ValidationError

	check := func(field string, v model.FieldValue) {
		if v.Dynamic == nil {
			return
		}
		if err := v.Dynamic.CheckConstraints(); err != nil {
			errs = append(errs, model.ValidationError{
				Field:   "persona.inventory." + field,
				Message: err.Error(),
			})
		}
	}

	check("parentName", inv.ParentName)
	check("parentPhone", inv.ParentPhone)
	check("parentEmail", inv.ParentEmail)
	check("insuranceProvider", inv.InsuranceProvider)
	check("preferredLocation", inv.PreferredLocation)
	check("preferredTime", inv.PreferredTime)
	check("previousPatient", inv.PreviousPatient)

	for i, child := range inv.Children {
		prefix := fmt.Sprintf("children[%d].", i)
		check(prefix+"firstName", child.FirstName)
		check(prefix+"lastName", child.LastName)
		check(prefix+"dateOfBirth", child.DateOfBirth)
		check(prefix+"isNewPatient", child.IsNewPatient)
		check(prefix+"hadBracesBefore", child.HadBracesBefore)
		check(prefix+"specialNeeds", child.SpecialNeeds)
	}

	return errs
}

func (s *TestCaseStore) writeLocked(tc *model.TestCase) error {
	data, err := sonic.MarshalIndent(tc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode test case %q: %w", tc.CaseID, err)
	}

	path := filepath.Join(s.root, casesDir, tc.CaseID+".json")
	if err := os.WriteFile(path, data, logger.FilePermission); err != nil {
		return fmt.Errorf("failed to write test case %q: %w", tc.CaseID, err)
	}
	return nil
}
