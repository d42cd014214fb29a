package model

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// TEST CASE
// ============================================================================

type Category string

const (
	CategoryHappyPath     Category = "happy-path"
	CategoryEdgeCase      Category = "edge-case"
	CategoryErrorHandling Category = "error-handling"
)

var caseIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,63}$`)

// TestCase is one scripted conversation scenario: a persona, the ordered
// user turns to play, and the expectations, goals and constraints the
// resulting transcript is scored against.
type TestCase struct {
	CaseID       string                 `yaml:"case_id" json:"caseId"`
	Name         string                 `yaml:"name" json:"name"`
	Description  string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Category     Category               `yaml:"category" json:"category"`
	Tags         []string               `yaml:"tags,omitempty" json:"tags,omitempty"`
	IsArchived   bool                   `yaml:"is_archived,omitempty" json:"isArchived"`
	Version      int                    `yaml:"version" json:"version"`
	Steps        []Step                 `yaml:"steps" json:"steps"`
	Expectations []SemanticExpectation  `yaml:"expectations,omitempty" json:"expectations,omitempty"`
	Goals        []Goal                 `yaml:"goals,omitempty" json:"goals,omitempty"`
	Constraints  []Constraint           `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Persona      Persona                `yaml:"persona" json:"persona"`
	CreatedAt    time.Time              `yaml:"created_at,omitempty" json:"createdAt"`
	UpdatedAt    time.Time              `yaml:"updated_at,omitempty" json:"updatedAt"`
}

// Clone returns a deep copy of the test case under a fresh caseId with the
// version reset to 1. Archival state is not carried over.
func (tc TestCase) Clone() TestCase {
	out := tc
	out.CaseID = fmt.Sprintf("%s-copy-%s", tc.CaseID, uuid.New().String()[:8])
	out.Version = 1
	out.IsArchived = false

	out.Tags = append([]string(nil), tc.Tags...)

	out.Steps = make([]Step, len(tc.Steps))
	for i, s := range tc.Steps {
		out.Steps[i] = s.Clone()
	}

	out.Expectations = append([]SemanticExpectation(nil), tc.Expectations...)

	out.Goals = make([]Goal, len(tc.Goals))
	for i, g := range tc.Goals {
		out.Goals[i] = g.Clone()
	}

	out.Constraints = append([]Constraint(nil), tc.Constraints...)
	out.Persona = tc.Persona.Clone()
	return out
}

// ============================================================================
// STEP
// ============================================================================

// Step is one scripted user turn. Ordering within TestCase.Steps drives the
// conversation sequence; Timeout and Delay are duration strings ("30s").
type Step struct {
	ID                   string                `yaml:"id,omitempty" json:"id,omitempty"`
	Description          string                `yaml:"description,omitempty" json:"description,omitempty"`
	UserMessage          string                `yaml:"user_message" json:"userMessage"`
	ExpectedPatterns     []string              `yaml:"expected_patterns,omitempty" json:"expectedPatterns,omitempty"`
	UnexpectedPatterns   []string              `yaml:"unexpected_patterns,omitempty" json:"unexpectedPatterns,omitempty"`
	SemanticExpectations []SemanticExpectation `yaml:"semantic_expectations,omitempty" json:"semanticExpectations,omitempty"`
	NegativeExpectations []SemanticExpectation `yaml:"negative_expectations,omitempty" json:"negativeExpectations,omitempty"`
	Optional             bool                  `yaml:"optional,omitempty" json:"optional"`
	Timeout              string                `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Delay                string                `yaml:"delay,omitempty" json:"delay,omitempty"`
}

func (s Step) Clone() Step {
	out := s
	out.ExpectedPatterns = append([]string(nil), s.ExpectedPatterns...)
	out.UnexpectedPatterns = append([]string(nil), s.UnexpectedPatterns...)
	out.SemanticExpectations = append([]SemanticExpectation(nil), s.SemanticExpectations...)
	out.NegativeExpectations = append([]SemanticExpectation(nil), s.NegativeExpectations...)
	return out
}

// ============================================================================
// SEMANTIC EXPECTATION
// ============================================================================

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Blocking reports whether a violation at this severity fails the test.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// SemanticExpectation is a natural-language criterion checked by the LLM
// judge rather than a regex. Type names a preset criterion; "custom" uses
// CustomCriteria verbatim. Severity applies to negative expectations only.
type SemanticExpectation struct {
	Type           string   `yaml:"type" json:"type"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	CustomCriteria string   `yaml:"custom_criteria,omitempty" json:"customCriteria,omitempty"`
	Severity       Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// Preset semantic expectation types. Anything else is treated as custom.
const (
	ExpectGreeting        = "greeting"
	ExpectAsksForName     = "asks_for_name"
	ExpectAsksForPhone    = "asks_for_phone"
	ExpectOffersSlots     = "offers_slots"
	ExpectConfirmsBooking = "confirms_booking"
	ExpectPolitetone      = "polite_tone"
	ExpectCustom          = "custom"
)

var presetCriteria = map[string]string{
	ExpectGreeting:        "The assistant greets the caller and offers help with scheduling.",
	ExpectAsksForName:     "The assistant asks for the caller's or the patient's name.",
	ExpectAsksForPhone:    "The assistant asks for a callback phone number.",
	ExpectOffersSlots:     "The assistant offers at least one concrete appointment date or time.",
	ExpectConfirmsBooking: "The assistant clearly confirms that an appointment has been booked.",
	ExpectPolitetone:      "The assistant maintains a polite, professional tone throughout.",
}

// Criteria resolves the judge criteria text for this expectation.
func (e SemanticExpectation) Criteria() string {
	if e.CustomCriteria != "" {
		return e.CustomCriteria
	}
	if c, ok := presetCriteria[e.Type]; ok {
		return c
	}
	return e.Description
}

// ============================================================================
// GOAL
// ============================================================================

type GoalType string

const (
	GoalDataCollection   GoalType = "data_collection"
	GoalBookingConfirmed GoalType = "booking_confirmed"
	GoalEscalationOffer  GoalType = "escalation_offered"
	GoalNoWrongInfo      GoalType = "no_wrong_info"
)

// CollectableField names a datum the agent under test is expected to gather
// from the caller during the conversation.
type CollectableField string

const (
	FieldParentName        CollectableField = "parentName"
	FieldParentPhone       CollectableField = "parentPhone"
	FieldParentEmail       CollectableField = "parentEmail"
	FieldChildName         CollectableField = "childName"
	FieldChildDOB          CollectableField = "childDateOfBirth"
	FieldInsuranceProvider CollectableField = "insuranceProvider"
	FieldPreferredLocation CollectableField = "preferredLocation"
	FieldPreferredTime     CollectableField = "preferredTime"
	FieldIsNewPatient      CollectableField = "isNewPatient"
)

const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
)

// Goal is a conversation outcome the test expects. Priority 1 failures are
// surfaced before priority 3 ones in the verdict summary.
type Goal struct {
	ID             string                      `yaml:"id,omitempty" json:"id,omitempty"`
	Type           GoalType                    `yaml:"type" json:"type"`
	Description    string                      `yaml:"description,omitempty" json:"description,omitempty"`
	Priority       int                         `yaml:"priority,omitempty" json:"priority,omitempty"`
	Required       bool                        `yaml:"required,omitempty" json:"required"`
	RequiredFields []CollectableField          `yaml:"required_fields,omitempty" json:"requiredFields,omitempty"`
	FieldDefaults  map[CollectableField]string `yaml:"field_defaults,omitempty" json:"fieldDefaults,omitempty"`
}

func (g Goal) Clone() Goal {
	out := g
	out.RequiredFields = append([]CollectableField(nil), g.RequiredFields...)
	if g.FieldDefaults != nil {
		out.FieldDefaults = make(map[CollectableField]string, len(g.FieldDefaults))
		for k, v := range g.FieldDefaults {
			out.FieldDefaults[k] = v
		}
	}
	return out
}

// EffectivePriority normalizes an unset priority to normal.
func (g Goal) EffectivePriority() int {
	if g.Priority < PriorityCritical || g.Priority > PriorityNormal {
		return PriorityNormal
	}
	return g.Priority
}

// ============================================================================
// CONSTRAINT
// ============================================================================

type ConstraintType string

const (
	ConstraintMustHappen    ConstraintType = "must_happen"
	ConstraintMustNotHappen ConstraintType = "must_not_happen"
	ConstraintMaxTurns      ConstraintType = "max_turns"
	ConstraintMaxTime       ConstraintType = "max_time"
)

// Constraint is a bounding rule over the whole conversation. MaxTurns and
// MaxTime carry the type-specific bound; the behavioural types carry their
// criteria in Description.
type Constraint struct {
	Type        ConstraintType `yaml:"type" json:"type"`
	Severity    Severity       `yaml:"severity,omitempty" json:"severity,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	MaxTurns    int            `yaml:"max_turns,omitempty" json:"maxTurns,omitempty"`
	MaxTime     string         `yaml:"max_time,omitempty" json:"maxTime,omitempty"`
}

// MaxTimeDuration parses the max_time bound; zero means unbounded.
func (c Constraint) MaxTimeDuration() time.Duration {
	if c.MaxTime == "" {
		return 0
	}
	d, err := time.ParseDuration(c.MaxTime)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ============================================================================
// YAML PARSER
// ============================================================================

func ParseTestCase(filename string) (*TestCase, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ParseTestCaseFromBytes(data)
}

func ParseTestCaseFromBytes(data []byte) (*TestCase, error) {
	var tc TestCase
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse test case YAML: %w", err)
	}
	return &tc, nil
}

// ValidCaseID reports whether id matches the case id pattern.
func ValidCaseID(id string) bool {
	return caseIDPattern.MatchString(id)
}
