package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

func validCase(id string) model.TestCase {
	return model.TestCase{
		CaseID:   id,
		Name:     "New patient books a checkup",
		Category: model.CategoryHappyPath,
		Steps: []model.Step{
			{UserMessage: "Hi, I'd like to book a checkup", ExpectedPatterns: []string{"name|help"}},
		},
		Persona: model.Persona{Name: "busy-parent"},
	}
}

func openStore(t *testing.T) *TestCaseStore {
	t.Helper()
	s, err := OpenTestCaseStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := openStore(t)

	created, verrs, err := s.Create(validCase("booking-basic"))
	require.NoError(t, err)
	require.Empty(t, verrs)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.Get("booking-basic")
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	s := openStore(t)

	_, verrs, err := s.Create(validCase("booking-basic"))
	require.NoError(t, err)
	require.Empty(t, verrs)

	_, verrs, err = s.Create(validCase("booking-basic"))
	require.NoError(t, err)
	require.Len(t, verrs, 1)
	assert.Equal(t, "caseId", verrs[0].Field)
}

func TestUpdateBumpsVersion(t *testing.T) {
	s := openStore(t)

	created, _, err := s.Create(validCase("booking-basic"))
	require.NoError(t, err)

	updated := *created
	updated.Name = "renamed"
	after, verrs, err := s.Update(updated)
	require.NoError(t, err)
	require.Empty(t, verrs)

	assert.Equal(t, 2, after.Version)
	assert.Equal(t, created.CreatedAt, after.CreatedAt)
	assert.True(t, after.UpdatedAt.After(created.UpdatedAt) || after.UpdatedAt.Equal(created.UpdatedAt))
}

func TestUpdateUnknownCaseFails(t *testing.T) {
	s := openStore(t)
	_, _, err := s.Update(validCase("never-created"))
	assert.Error(t, err)
}

func TestCloneGetsFreshIdentity(t *testing.T) {
	s := openStore(t)

	created, _, err := s.Create(validCase("booking-basic"))
	require.NoError(t, err)

	// advance the source's version first
	bumped := *created
	_, _, err = s.Update(bumped)
	require.NoError(t, err)

	clone, err := s.Clone("booking-basic")
	require.NoError(t, err)

	assert.NotEqual(t, "booking-basic", clone.CaseID)
	assert.Equal(t, 1, clone.Version)
	assert.Equal(t, created.Name, clone.Name)

	// both records are retrievable independently
	_, err = s.Get("booking-basic")
	assert.NoError(t, err)
	_, err = s.Get(clone.CaseID)
	assert.NoError(t, err)
}

func TestArchive(t *testing.T) {
	s := openStore(t)

	_, _, err := s.Create(validCase("booking-basic"))
	require.NoError(t, err)
	require.NoError(t, s.Archive("booking-basic"))

	t.Run("archived cases stay retrievable", func(t *testing.T) {
		got, err := s.Get("booking-basic")
		require.NoError(t, err)
		assert.True(t, got.IsArchived)
	})

	t.Run("default listing hides archived cases", func(t *testing.T) {
		assert.Empty(t, s.List(false))
		assert.Len(t, s.List(true), 1)
	})

	t.Run("archived id cannot be reused", func(t *testing.T) {
		replacement := validCase("booking-basic")
		replacement.Name = "a different case"
		_, verrs, err := s.Create(replacement)
		require.NoError(t, err)
		require.Len(t, verrs, 1)
		assert.Equal(t, "caseId", verrs[0].Field)

		// the archived record survives untouched
		got, err := s.Get("booking-basic")
		require.NoError(t, err)
		assert.True(t, got.IsArchived)
		assert.Equal(t, "New patient books a checkup", got.Name)
	})
}

func TestValidation(t *testing.T) {
	s := openStore(t)

	t.Run("bad regex is a field-level error", func(t *testing.T) {
		tc := validCase("bad-regex")
		tc.Steps[0].ExpectedPatterns = []string{"([unclosed"}
		verrs := s.Validate(tc)
		require.Len(t, verrs, 1)
		assert.Equal(t, "steps[0].expectedPatterns[0]", verrs[0].Field)
		assert.Contains(t, verrs[0].Message, "invalid regex")
	})

	t.Run("multiple findings accumulate", func(t *testing.T) {
		tc := model.TestCase{CaseID: "BAD ID", Steps: nil}
		verrs := s.Validate(tc)
		fields := make(map[string]bool)
		for _, ve := range verrs {
			fields[ve.Field] = true
		}
		assert.True(t, fields["caseId"])
		assert.True(t, fields["name"])
		assert.True(t, fields["steps"])
	})

	t.Run("bad durations are rejected", func(t *testing.T) {
		tc := validCase("bad-durations")
		tc.Steps[0].Timeout = "banana"
		tc.Steps[0].Delay = "-5x"
		verrs := s.Validate(tc)
		assert.Len(t, verrs, 2)
	})

	t.Run("data collection goal needs fields", func(t *testing.T) {
		tc := validCase("goal-shape")
		tc.Goals = []model.Goal{{Type: model.GoalDataCollection, Required: true}}
		verrs := s.Validate(tc)
		require.Len(t, verrs, 1)
		assert.Equal(t, "goals[0].requiredFields", verrs[0].Field)
	})

	t.Run("dynamic constraint shapes are checked", func(t *testing.T) {
		tc := validCase("bad-inventory")
		p := 1.5
		tc.Persona.Inventory.PreviousPatient = model.Dynamicf(model.FieldTypeBoolean, model.FieldConstraints{Probability: &p})
		verrs := s.Validate(tc)
		require.Len(t, verrs, 1)
		assert.Equal(t, "persona.inventory.previousPatient", verrs[0].Field)
	})
}

func TestStoreReload(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenTestCaseStore(dir)
	require.NoError(t, err)
	_, _, err = s.Create(validCase("booking-basic"))
	require.NoError(t, err)

	reopened, err := OpenTestCaseStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get("booking-basic")
	require.NoError(t, err)
	assert.Equal(t, "New patient books a checkup", got.Name)
}

// ===== HISTORY =====

func sampleRun(id string, status model.RunStatus, startedAt time.Time) model.ComparisonRun {
	return model.ComparisonRun{
		ComparisonID: id,
		Status:       status,
		StartedAt:    startedAt,
		Config:       model.ComparisonConfig{RunProduction: true},
		TestResults:  []model.TestComparisonResult{{TestID: "booking-basic"}},
	}
}

func TestHistoryAppendAndGet(t *testing.T) {
	s, err := OpenHistoryStore(t.TempDir())
	require.NoError(t, err)

	run := sampleRun("run-1", model.RunRunning, time.Now().UTC())
	require.NoError(t, s.Save(run))

	got, err := s.GetComparisonRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, got.Status)

	_, err = s.GetComparisonRun("run-2")
	assert.Error(t, err)
}

func TestHistoryImmutableAfterTerminalStatus(t *testing.T) {
	s, err := OpenHistoryStore(t.TempDir())
	require.NoError(t, err)

	run := sampleRun("run-1", model.RunRunning, time.Now().UTC())
	require.NoError(t, s.Save(run))

	run.Status = model.RunCompleted
	require.NoError(t, s.Save(run))

	t.Run("completed runs reject writes", func(t *testing.T) {
		run.Status = model.RunRunning
		err := s.Save(run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be modified")
	})

	t.Run("failed runs reject writes too", func(t *testing.T) {
		failed := sampleRun("run-2", model.RunFailed, time.Now().UTC())
		require.NoError(t, s.Save(failed))
		assert.Error(t, s.Save(failed))
	})
}

func TestHistoryOrderingAndLimit(t *testing.T) {
	s, err := OpenHistoryStore(t.TempDir())
	require.NoError(t, err)

	base := time.Now().UTC()
	finished := func(run model.ComparisonRun, at time.Time) model.ComparisonRun {
		run.CompletedAt = &at
		return run
	}
	require.NoError(t, s.Save(finished(sampleRun("run-old", model.RunCompleted, base.Add(-2*time.Hour)), base.Add(-90*time.Minute))))
	require.NoError(t, s.Save(finished(sampleRun("run-mid", model.RunCompleted, base.Add(-1*time.Hour)), base.Add(-30*time.Minute))))
	require.NoError(t, s.Save(finished(sampleRun("run-new", model.RunCompleted, base), base.Add(time.Minute))))

	all := s.GetComparisonHistory(0)
	require.Len(t, all, 3)
	assert.Equal(t, "run-new", all[0].ComparisonID)
	assert.Equal(t, "run-old", all[2].ComparisonID)

	limited := s.GetComparisonHistory(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "run-new", limited[0].ComparisonID)

	t.Run("completion time outranks start time", func(t *testing.T) {
		// started before run-new but finished after it
		slow := finished(sampleRun("run-slow", model.RunCompleted, base.Add(-3*time.Hour)), base.Add(2*time.Minute))
		require.NoError(t, s.Save(slow))
		all := s.GetComparisonHistory(0)
		require.Len(t, all, 4)
		assert.Equal(t, "run-slow", all[0].ComparisonID)
	})

	t.Run("in-flight runs order by start time", func(t *testing.T) {
		running := sampleRun("run-live", model.RunRunning, base.Add(3*time.Minute))
		require.NoError(t, s.Save(running))
		all := s.GetComparisonHistory(0)
		assert.Equal(t, "run-live", all[0].ComparisonID)
	})
}
