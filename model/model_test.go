package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleCaseYAML = `
case_id: new-patient-booking
name: New patient books a checkup
category: happy-path
tags: [booking, new-patient]
steps:
  - user_message: "Hi, I'd like to book a checkup for my son {{childFirstName}}"
    expected_patterns:
      - "name|help"
  - user_message: "His name is {{childFirstName}} {{childLastName}}"
    semantic_expectations:
      - type: asks_for_phone
    delay: 500ms
    timeout: 20s
  - user_message: "Anything else you need?"
    optional: true
goals:
  - type: data_collection
    required: true
    required_fields: [childName, parentPhone]
  - type: booking_confirmed
    priority: 1
constraints:
  - type: max_turns
    max_turns: 10
persona:
  name: busy-parent
  inventory:
    parent_name: "Maria Lopez"
    parent_phone:
      type: phone
    children:
      - first_name:
          type: firstName
        date_of_birth:
          type: dateOfBirth
          constraints:
            min_age: 9
            max_age: 12
`

func TestParseTestCaseFromBytes(t *testing.T) {
	tc, err := ParseTestCaseFromBytes([]byte(sampleCaseYAML))
	require.NoError(t, err)

	assert.Equal(t, "new-patient-booking", tc.CaseID)
	assert.Equal(t, CategoryHappyPath, tc.Category)
	require.Len(t, tc.Steps, 3)
	assert.True(t, tc.Steps[2].Optional)
	assert.Equal(t, "500ms", tc.Steps[1].Delay)

	t.Run("fixed and dynamic field values", func(t *testing.T) {
		inv := tc.Persona.Inventory
		assert.Equal(t, "Maria Lopez", inv.ParentName.Fixed)
		assert.Nil(t, inv.ParentName.Dynamic)

		require.NotNil(t, inv.ParentPhone.Dynamic)
		assert.Equal(t, FieldTypePhone, inv.ParentPhone.Dynamic.FieldType)

		require.Len(t, inv.Children, 1)
		dob := inv.Children[0].DateOfBirth
		require.NotNil(t, dob.Dynamic)
		require.NotNil(t, dob.Dynamic.Constraints.MinAge)
		assert.Equal(t, 9, *dob.Dynamic.Constraints.MinAge)
	})

	t.Run("goals and constraints", func(t *testing.T) {
		require.Len(t, tc.Goals, 2)
		assert.Equal(t, GoalDataCollection, tc.Goals[0].Type)
		assert.True(t, tc.Goals[0].Required)
		assert.Equal(t, PriorityCritical, tc.Goals[1].EffectivePriority())

		require.Len(t, tc.Constraints, 1)
		assert.Equal(t, ConstraintMaxTurns, tc.Constraints[0].Type)
		assert.Equal(t, 10, tc.Constraints[0].MaxTurns)
	})
}

func TestFieldValueYAML(t *testing.T) {
	t.Run("scalar becomes fixed", func(t *testing.T) {
		var v FieldValue
		require.NoError(t, yaml.Unmarshal([]byte(`"Delta Dental"`), &v))
		assert.Equal(t, "Delta Dental", v.Fixed)
		assert.Nil(t, v.Dynamic)
	})

	t.Run("mapping becomes dynamic", func(t *testing.T) {
		var v FieldValue
		require.NoError(t, yaml.Unmarshal([]byte("type: insuranceProvider\nconstraints:\n  options: [Cigna, Aetna]"), &v))
		require.NotNil(t, v.Dynamic)
		assert.Equal(t, FieldTypeInsurance, v.Dynamic.FieldType)
		assert.Equal(t, []string{"Cigna", "Aetna"}, v.Dynamic.Constraints.Options)
	})

	t.Run("mapping without type is rejected", func(t *testing.T) {
		var v FieldValue
		err := yaml.Unmarshal([]byte("constraints:\n  options: [a]"), &v)
		assert.Error(t, err)
	})
}

func TestClone(t *testing.T) {
	tc, err := ParseTestCaseFromBytes([]byte(sampleCaseYAML))
	require.NoError(t, err)
	tc.Version = 7

	clone := tc.Clone()

	assert.NotEqual(t, tc.CaseID, clone.CaseID)
	assert.True(t, strings.HasPrefix(clone.CaseID, tc.CaseID+"-copy-"), "clone id %q should carry the source id", clone.CaseID)
	assert.Equal(t, 1, clone.Version)
	assert.Equal(t, tc.Name, clone.Name)

	t.Run("deep copy does not alias the source", func(t *testing.T) {
		clone.Steps[0].UserMessage = "changed"
		clone.Goals[0].RequiredFields[0] = FieldParentEmail
		assert.NotEqual(t, clone.Steps[0].UserMessage, tc.Steps[0].UserMessage)
		assert.Equal(t, FieldChildName, tc.Goals[0].RequiredFields[0])
	})

	t.Run("dynamic inventory specs do not alias the source", func(t *testing.T) {
		minAge, maxAge := 7, 12
		src := TestCase{
			CaseID: "inventory-clone",
			Persona: Persona{Inventory: DataInventory{
				PreviousPatient: Dynamicf(FieldTypeBoolean, FieldConstraints{}),
				Children: []ChildSpec{{
					DateOfBirth:  Dynamicf(FieldTypeDateOfBirth, FieldConstraints{MinAge: &minAge, MaxAge: &maxAge}),
					SpecialNeeds: Dynamicf(FieldTypeSpecial, FieldConstraints{Options: []string{"none"}}),
				}},
			}},
		}

		clone := src.Clone()
		cloneChild := &clone.Persona.Inventory.Children[0]
		*cloneChild.DateOfBirth.Dynamic.Constraints.MinAge = 99
		cloneChild.DateOfBirth.Dynamic.FieldType = FieldTypeBoolean
		cloneChild.SpecialNeeds.Dynamic.Constraints.Options[0] = "mutated"
		clone.Persona.Inventory.PreviousPatient.Dynamic.FieldType = FieldTypePhone

		srcChild := src.Persona.Inventory.Children[0]
		assert.Equal(t, 7, *srcChild.DateOfBirth.Dynamic.Constraints.MinAge)
		assert.Equal(t, FieldTypeDateOfBirth, srcChild.DateOfBirth.Dynamic.FieldType)
		assert.Equal(t, "none", srcChild.SpecialNeeds.Dynamic.Constraints.Options[0])
		assert.Equal(t, FieldTypeBoolean, src.Persona.Inventory.PreviousPatient.Dynamic.FieldType)
	})
}

func TestValidCaseID(t *testing.T) {
	valid := []string{"abc", "new-patient-booking", "case-007", "0abc"}
	for _, id := range valid {
		assert.True(t, ValidCaseID(id), id)
	}
	invalid := []string{"", "ab", "-leading-dash", "Has-Upper", "under_score", strings.Repeat("a", 65)}
	for _, id := range invalid {
		assert.False(t, ValidCaseID(id), id)
	}
}

func TestSeverityBlocking(t *testing.T) {
	assert.True(t, SeverityCritical.Blocking())
	assert.True(t, SeverityHigh.Blocking())
	assert.False(t, SeverityMedium.Blocking())
	assert.False(t, SeverityLow.Blocking())
}

func TestSemanticExpectationCriteria(t *testing.T) {
	t.Run("preset", func(t *testing.T) {
		e := SemanticExpectation{Type: ExpectConfirmsBooking}
		assert.Contains(t, e.Criteria(), "confirms")
	})
	t.Run("custom wins over preset", func(t *testing.T) {
		e := SemanticExpectation{Type: ExpectGreeting, CustomCriteria: "says hello in Spanish"}
		assert.Equal(t, "says hello in Spanish", e.Criteria())
	})
}

func TestRenderTemplate(t *testing.T) {
	inv := ConcreteInventory{
		ParentName:  "Maria Lopez",
		ParentPhone: "555-0100",
		Children: []Child{
			{FirstName: "Diego", LastName: "Lopez", DateOfBirth: "2015-04-02"},
		},
	}
	ctx := PersonaContext(inv)

	t.Run("substitutes persona values", func(t *testing.T) {
		out := RenderTemplate("My son {{childFirstName}} was born {{childDateOfBirth}}", ctx)
		assert.Equal(t, "My son Diego was born 2015-04-02", out)
	})

	t.Run("text without placeholders passes through", func(t *testing.T) {
		out := RenderTemplate("just a plain sentence", ctx)
		assert.Equal(t, "just a plain sentence", out)
	})

	t.Run("env vars are available in the context", func(t *testing.T) {
		t.Setenv("CLINIC_REGION", "north")
		out := RenderTemplate("calling the {{CLINIC_REGION}} office", PersonaContext(inv))
		assert.Equal(t, "calling the north office", out)
	})

	t.Run("persona fields shadow env vars", func(t *testing.T) {
		t.Setenv("parentName", "Someone Else")
		out := RenderTemplate("this is {{parentName}}", PersonaContext(inv))
		assert.Equal(t, "this is Maria Lopez", out)
	})
}
