package persona

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestResolveFixedPassthrough(t *testing.T) {
	r := NewSeededResolver(1)
	got, err := r.Resolve(model.Fixedf("Maria Lopez"), model.FieldTypeFirstName)
	require.NoError(t, err)
	assert.Equal(t, "Maria Lopez", got)
}

func TestDateOfBirthStaysInsideAgeRange(t *testing.T) {
	r := NewSeededResolver(42)
	spec := model.Dynamicf(model.FieldTypeDateOfBirth, model.FieldConstraints{
		MinAge: intPtr(9),
		MaxAge: intPtr(12),
	})

	now := time.Now()
	for i := 0; i < 1000; i++ {
		got, err := r.Resolve(spec, "")
		require.NoError(t, err)

		dob, err := time.Parse("2006-01-02", got)
		require.NoError(t, err, "resolved DOB %q is not a date", got)

		age := ageAt(dob, now)
		assert.GreaterOrEqual(t, age, 9, "DOB %s is too young", got)
		assert.LessOrEqual(t, age, 12, "DOB %s is too old", got)
	}
}

func TestDateOfBirthDefaultRange(t *testing.T) {
	r := NewSeededResolver(7)
	now := time.Now()
	for i := 0; i < 200; i++ {
		got, err := r.Resolve(model.Dynamicf(model.FieldTypeDateOfBirth, model.FieldConstraints{}), "")
		require.NoError(t, err)
		dob, err := time.Parse("2006-01-02", got)
		require.NoError(t, err)

		age := ageAt(dob, now)
		assert.GreaterOrEqual(t, age, DefaultMinAge)
		assert.LessOrEqual(t, age, DefaultMaxAge)
	}
}

func TestDateOfBirthOnLeapDay(t *testing.T) {
	r := NewSeededResolver(42)
	r.now = func() time.Time {
		return time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC)
	}
	spec := model.Dynamicf(model.FieldTypeDateOfBirth, model.FieldConstraints{
		MinAge: intPtr(7),
		MaxAge: intPtr(18),
	})

	for i := 0; i < 1000; i++ {
		got, err := r.Resolve(spec, "")
		require.NoError(t, err)
		dob, err := time.Parse("2006-01-02", got)
		require.NoError(t, err)

		age := ageAt(dob, r.now())
		assert.GreaterOrEqual(t, age, 7, "DOB %s is too young on a leap day", got)
		assert.LessOrEqual(t, age, 18, "DOB %s is too old on a leap day", got)
	}
}

func ageAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}

func TestOptionPools(t *testing.T) {
	r := NewSeededResolver(3)

	t.Run("constrained pool only yields its options", func(t *testing.T) {
		spec := model.Dynamicf(model.FieldTypeInsurance, model.FieldConstraints{
			Options: []string{"Cigna", "Aetna"},
		})
		for i := 0; i < 100; i++ {
			got, err := r.Resolve(spec, "")
			require.NoError(t, err)
			assert.Contains(t, []string{"Cigna", "Aetna"}, got)
		}
	})

	t.Run("unconstrained pool falls back to the built-in one", func(t *testing.T) {
		spec := model.Dynamicf(model.FieldTypeLocation, model.FieldConstraints{})
		got, err := r.Resolve(spec, "")
		require.NoError(t, err)
		assert.Contains(t, DefaultLocationPool, got)
	})
}

func TestBooleanProbabilityExtremes(t *testing.T) {
	r := NewSeededResolver(11)

	for i := 0; i < 100; i++ {
		always, err := r.Resolve(model.Dynamicf(model.FieldTypeBoolean, model.FieldConstraints{
			Probability: floatPtr(1.0),
		}), "")
		require.NoError(t, err)
		assert.Equal(t, "true", always)

		never, err := r.Resolve(model.Dynamicf(model.FieldTypeBoolean, model.FieldConstraints{
			Probability: floatPtr(0.0),
		}), "")
		require.NoError(t, err)
		assert.Equal(t, "false", never)
	}
}

func TestResolveRejectsBadConstraintShapes(t *testing.T) {
	r := NewSeededResolver(5)

	cases := []model.FieldValue{
		model.Dynamicf(model.FieldTypePhone, model.FieldConstraints{Options: []string{"x"}}),
		model.Dynamicf(model.FieldTypeBoolean, model.FieldConstraints{Options: []string{"x"}}),
		model.Dynamicf(model.FieldTypeBoolean, model.FieldConstraints{Probability: floatPtr(1.5)}),
		model.Dynamicf(model.FieldTypeDateOfBirth, model.FieldConstraints{MinAge: intPtr(14), MaxAge: intPtr(10)}),
		model.Dynamicf(model.FieldTypeInsurance, model.FieldConstraints{MinAge: intPtr(3)}),
	}
	for i, v := range cases {
		_, err := r.Resolve(v, "")
		assert.Error(t, err, fmt.Sprintf("case %d should be rejected", i))
	}
}

func TestResolveInventoryFillsOmittedIdentity(t *testing.T) {
	r := NewSeededResolver(99)

	inv := model.DataInventory{
		ParentName: model.Fixedf("Maria Lopez"),
		Children: []model.ChildSpec{
			{FirstName: model.Dynamicf(model.FieldTypeFirstName, model.FieldConstraints{})},
		},
	}

	out, err := r.ResolveInventory(inv)
	require.NoError(t, err)

	assert.Equal(t, "Maria Lopez", out.ParentName)
	assert.NotEmpty(t, out.ParentPhone, "omitted phone should be generated")
	assert.NotEmpty(t, out.ParentEmail, "omitted email should be generated")

	require.Len(t, out.Children, 1)
	assert.NotEmpty(t, out.Children[0].FirstName)
	assert.NotEmpty(t, out.Children[0].LastName, "omitted last name should be generated")
	assert.NotEmpty(t, out.Children[0].DateOfBirth)
}

func TestSeededResolverIsDeterministic(t *testing.T) {
	a := NewSeededResolver(1234)
	b := NewSeededResolver(1234)

	spec := model.Dynamicf(model.FieldTypeFirstName, model.FieldConstraints{})
	for i := 0; i < 20; i++ {
		va, err := a.Resolve(spec, "")
		require.NoError(t, err)
		vb, err := b.Resolve(spec, "")
		require.NoError(t, err)
		assert.Equal(t, va, vb)
	}
}
