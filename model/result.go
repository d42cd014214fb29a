package model

import (
	"time"
)

// ============================================================================
// TRANSCRIPT
// ============================================================================

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one conversation turn as recorded by the driver.
type TranscriptEntry struct {
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ResponseTimeMs int64     `json:"responseTimeMs,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ToolOutput is a structured tool invocation surfaced by the chat endpoint
// alongside the assistant reply (e.g. a booking tool's JSON result).
type ToolOutput struct {
	Tool   string `json:"tool"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// ============================================================================
// CONVERSATION RUN STATE
// ============================================================================

type ConversationState string

const (
	StateNotStarted ConversationState = "not_started"
	StateRunning    ConversationState = "running"
	StateCompleted  ConversationState = "completed"
	StateFailed     ConversationState = "failed"
	StateTimedOut   ConversationState = "timed_out"
)

// StepOutcome records what happened to one scripted step.
type StepOutcome struct {
	StepID      string `json:"stepId,omitempty"`
	StepIndex   int    `json:"stepIndex"`
	Sent        bool   `json:"sent"`
	ReplyTurn   int    `json:"replyTurn"` // transcript index of the assistant reply, -1 if none
	TimedOut    bool   `json:"timedOut"`
	SkippedGap  bool   `json:"skippedGap"` // optional step timed out and was skipped
	ElapsedMs   int64  `json:"elapsedMs"`
	UserMessage string `json:"userMessage"`
}

// ConversationResult is the driver's raw output for one (testCase, endpoint)
// pair, before evaluation.
type ConversationResult struct {
	CaseID      string            `json:"caseId"`
	Endpoint    EndpointKey       `json:"endpoint"`
	State       ConversationState `json:"state"`
	Transcript  []TranscriptEntry `json:"transcript"`
	ToolOutputs []ToolOutput      `json:"toolOutputs,omitempty"`
	Steps       []StepOutcome     `json:"steps"`
	Inventory   ConcreteInventory `json:"inventory"`
	TurnCount   int               `json:"turnCount"`
	DurationMs  int64             `json:"durationMs"`
	StartedAt   time.Time         `json:"startedAt"`
	Error       string            `json:"error,omitempty"`
}

// ============================================================================
// VERDICT
// ============================================================================

// Issue is a non-fatal or fatal observation attached to a verdict.
type Issue struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	TurnNumber  int    `json:"turnNumber,omitempty"`
}

// ConstraintViolation records a matched negative expectation or a broken
// constraint, with the severity deciding whether it blocks the test.
type ConstraintViolation struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	TurnNumber  int      `json:"turnNumber,omitempty"`
	Severity    Severity `json:"severity"`
}

// GoalResult reports one goal's evaluation.
type GoalResult struct {
	GoalID        string             `json:"goalId,omitempty"`
	Type          GoalType           `json:"type"`
	Priority      int                `json:"priority"`
	Required      bool               `json:"required"`
	Achieved      bool               `json:"achieved"`
	Detail        string             `json:"detail,omitempty"`
	MissingFields []CollectableField `json:"missingFields,omitempty"`
}

// DetailedEndpointResult is the full scored outcome of running one test case
// against one endpoint.
type DetailedEndpointResult struct {
	Passed               bool                  `json:"passed"`
	TurnCount            int                   `json:"turnCount"`
	DurationMs           int64                 `json:"durationMs"`
	Transcript           []TranscriptEntry     `json:"transcript"`
	GoalResults          []GoalResult          `json:"goalResults,omitempty"`
	ConstraintViolations []ConstraintViolation `json:"constraintViolations,omitempty"`
	Issues               []Issue               `json:"issues,omitempty"`
	Summary              string                `json:"summary,omitempty"`
	RanAt                time.Time             `json:"ranAt"`
}

// ============================================================================
// COMPARISON RUN
// ============================================================================

type EndpointKey string

const (
	EndpointProduction EndpointKey = "production"
	EndpointSandboxA   EndpointKey = "sandboxA"
	EndpointSandboxB   EndpointKey = "sandboxB"
)

// EndpointOrder is the fixed execution and reporting order.
var EndpointOrder = []EndpointKey{EndpointProduction, EndpointSandboxA, EndpointSandboxB}

// EndpointConfig addresses one chat prediction endpoint.
type EndpointConfig struct {
	URL    string `yaml:"url" json:"url" validate:"omitempty,url"`
	APIKey string `yaml:"api_key,omitempty" json:"apiKey,omitempty"`
}

// ComparisonConfig selects which of the three endpoint slots take part.
type ComparisonConfig struct {
	RunProduction bool `json:"runProduction"`
	RunSandboxA   bool `json:"runSandboxA"`
	RunSandboxB   bool `json:"runSandboxB"`
}

// Enabled reports whether the given slot is selected.
func (c ComparisonConfig) Enabled(key EndpointKey) bool {
	switch key {
	case EndpointProduction:
		return c.RunProduction
	case EndpointSandboxA:
		return c.RunSandboxA
	case EndpointSandboxB:
		return c.RunSandboxB
	}
	return false
}

// EnabledCount returns how many slots are selected.
func (c ComparisonConfig) EnabledCount() int {
	n := 0
	for _, key := range EndpointOrder {
		if c.Enabled(key) {
			n++
		}
	}
	return n
}

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// TestComparisonResult holds one test's outcome per endpoint slot. A nil
// slot means the endpoint did not run that test.
type TestComparisonResult struct {
	TestID     string                  `json:"testId"`
	TestName   string                  `json:"testName,omitempty"`
	Production *DetailedEndpointResult `json:"production,omitempty"`
	SandboxA   *DetailedEndpointResult `json:"sandboxA,omitempty"`
	SandboxB   *DetailedEndpointResult `json:"sandboxB,omitempty"`
}

// Result returns the slot for the given endpoint key.
func (r *TestComparisonResult) Result(key EndpointKey) *DetailedEndpointResult {
	switch key {
	case EndpointProduction:
		return r.Production
	case EndpointSandboxA:
		return r.SandboxA
	case EndpointSandboxB:
		return r.SandboxB
	}
	return nil
}

// SetResult assigns the slot for the given endpoint key.
func (r *TestComparisonResult) SetResult(key EndpointKey, res *DetailedEndpointResult) {
	switch key {
	case EndpointProduction:
		r.Production = res
	case EndpointSandboxA:
		r.SandboxA = res
	case EndpointSandboxB:
		r.SandboxB = res
	}
}

// OutcomeDiff names a test whose sandbox outcome differs from the
// production baseline.
type OutcomeDiff struct {
	TestID   string      `json:"testId"`
	Endpoint EndpointKey `json:"endpoint"`
}

// ComparisonSummary aggregates pass rates and the baseline diff. Pass rates
// are percentages rounded to one decimal; nil means the endpoint did not run.
type ComparisonSummary struct {
	ProductionPassRate *float64      `json:"productionPassRate,omitempty"`
	SandboxAPassRate   *float64      `json:"sandboxAPassRate,omitempty"`
	SandboxBPassRate   *float64      `json:"sandboxBPassRate,omitempty"`
	Improvements       []OutcomeDiff `json:"improvements"`
	Regressions        []OutcomeDiff `json:"regressions"`
	Message            string        `json:"message,omitempty"`
}

// PassRate returns the slot's pass rate pointer.
func (s *ComparisonSummary) PassRate(key EndpointKey) *float64 {
	switch key {
	case EndpointProduction:
		return s.ProductionPassRate
	case EndpointSandboxA:
		return s.SandboxAPassRate
	case EndpointSandboxB:
		return s.SandboxBPassRate
	}
	return nil
}

// SetPassRate assigns the slot's pass rate.
func (s *ComparisonSummary) SetPassRate(key EndpointKey, rate float64) {
	switch key {
	case EndpointProduction:
		s.ProductionPassRate = &rate
	case EndpointSandboxA:
		s.SandboxAPassRate = &rate
	case EndpointSandboxB:
		s.SandboxBPassRate = &rate
	}
}

// ComparisonRun is the durable record of one comparison: configuration,
// per-test detail and the aggregated summary. Immutable once Status is
// terminal.
type ComparisonRun struct {
	ComparisonID string                 `json:"comparisonId"`
	Status       RunStatus              `json:"status"`
	StartedAt    time.Time              `json:"startedAt"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
	Config       ComparisonConfig       `json:"config"`
	TestResults  []TestComparisonResult `json:"testResults"`
	Summary      ComparisonSummary      `json:"summary"`
}

// Summarize projects the run down to its list-view form.
func (r *ComparisonRun) Summarize() ComparisonRunSummary {
	return ComparisonRunSummary{
		ComparisonID: r.ComparisonID,
		Status:       r.Status,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		TestCount:    len(r.TestResults),
		Summary:      r.Summary,
	}
}

// ComparisonRunSummary is the list-view projection of a run.
type ComparisonRunSummary struct {
	ComparisonID string            `json:"comparisonId"`
	Status       RunStatus         `json:"status"`
	StartedAt    time.Time         `json:"startedAt"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	TestCount    int               `json:"testCount"`
	Summary      ComparisonSummary `json:"summary"`
}

// ProgressEvent is emitted after each test completes on an endpoint. Events
// for a single endpoint are strictly ordered.
type ProgressEvent struct {
	ComparisonID string      `json:"comparisonId"`
	Stage        EndpointKey `json:"stage"`
	TestIndex    int         `json:"testIndex"`
	TotalTests   int         `json:"totalTests"`
	TestID       string      `json:"testId"`
}
