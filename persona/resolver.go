// Package persona resolves DataInventory specs to concrete values. Fixed
// fields pass through unchanged; dynamic fields are drawn fresh on every
// call so repeated runs of the same test case exercise different values.
package persona

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

const (
	DefaultMinAge = 7
	DefaultMaxAge = 18

	defaultProbability = 0.5
)

// Built-in pools used when a dynamic field carries no options constraint.
var (
	DefaultInsurancePool = []string{
		"Delta Dental", "Cigna", "MetLife", "Aetna", "Guardian",
		"United Concordia", "Humana", "self-pay",
	}
	DefaultLocationPool = []string{
		"Downtown", "Northside", "Westgate", "Riverbend",
	}
	DefaultSpecialNeedsPool = []string{
		"", "mild dental anxiety", "sensory sensitivity", "wheelchair access needed",
	}
	DefaultPreferredTimePool = []string{
		"weekday mornings", "weekday afternoons", "after school", "Saturday",
	}
)

// Resolver draws dynamic field values. The zero value is not usable; build
// one with NewResolver or NewSeededResolver.
type Resolver struct {
	faker *gofakeit.Faker
	now   func() time.Time
}

// NewResolver returns a resolver with a randomly seeded source.
func NewResolver() *Resolver {
	return &Resolver{faker: gofakeit.New(0), now: time.Now}
}

// NewSeededResolver returns a deterministic resolver for callers that need
// reproducible runs.
func NewSeededResolver(seed uint64) *Resolver {
	return &Resolver{faker: gofakeit.New(seed), now: time.Now}
}

// Resolve produces the concrete value for one field. Fixed values are
// returned verbatim; dynamic specs are generated per their field type.
func (r *Resolver) Resolve(v model.FieldValue, fallback model.FieldType) (string, error) {
	if v.Dynamic == nil {
		return v.Fixed, nil
	}

	spec := *v.Dynamic
	if spec.FieldType == "" {
		spec.FieldType = fallback
	}
	if err := spec.CheckConstraints(); err != nil {
		return "", fmt.Errorf("invalid dynamic field %s: %w", spec.FieldType, err)
	}

	switch spec.FieldType {
	case model.FieldTypeFirstName:
		return r.faker.FirstName(), nil
	case model.FieldTypeLastName:
		return r.faker.LastName(), nil
	case model.FieldTypePhone:
		return r.faker.PhoneFormatted(), nil
	case model.FieldTypeEmail:
		return r.faker.Email(), nil
	case model.FieldTypeDateOfBirth:
		return r.dateOfBirth(spec.Constraints), nil
	case model.FieldTypeInsurance:
		return r.pick(spec.Constraints.Options, DefaultInsurancePool), nil
	case model.FieldTypeLocation:
		return r.pick(spec.Constraints.Options, DefaultLocationPool), nil
	case model.FieldTypeSpecial:
		return r.pick(spec.Constraints.Options, DefaultSpecialNeedsPool), nil
	case model.FieldTypeTime:
		return r.pick(spec.Constraints.Options, DefaultPreferredTimePool), nil
	case model.FieldTypeBoolean:
		return strconv.FormatBool(r.boolean(spec.Constraints)), nil
	default:
		return "", fmt.Errorf("unknown field type: %s", spec.FieldType)
	}
}

// ResolveInventory resolves every field of the inventory for one test run.
func (r *Resolver) ResolveInventory(inv model.DataInventory) (model.ConcreteInventory, error) {
	out := model.ConcreteInventory{}

	var err error
	if out.ParentName, err = r.resolveOr(inv.ParentName, model.FieldTypeFirstName, r.faker.Name); err != nil {
		return out, err
	}
	if out.ParentPhone, err = r.resolveOr(inv.ParentPhone, model.FieldTypePhone, r.faker.PhoneFormatted); err != nil {
		return out, err
	}
	if out.ParentEmail, err = r.resolveOr(inv.ParentEmail, model.FieldTypeEmail, r.faker.Email); err != nil {
		return out, err
	}
	if out.InsuranceProvider, err = r.Resolve(inv.InsuranceProvider, model.FieldTypeInsurance); err != nil {
		return out, err
	}
	if out.PreferredLocation, err = r.Resolve(inv.PreferredLocation, model.FieldTypeLocation); err != nil {
		return out, err
	}
	if out.PreferredTime, err = r.Resolve(inv.PreferredTime, model.FieldTypeTime); err != nil {
		return out, err
	}

	prev, err := r.Resolve(inv.PreviousPatient, model.FieldTypeBoolean)
	if err != nil {
		return out, err
	}
	out.PreviousPatient = prev == "true"

	for i, spec := range inv.Children {
		child, err := r.resolveChild(spec)
		if err != nil {
			return out, fmt.Errorf("child %d: %w", i+1, err)
		}
		out.Children = append(out.Children, child)
	}

	return out, nil
}

func (r *Resolver) resolveChild(spec model.ChildSpec) (model.Child, error) {
	child := model.Child{}

	var err error
	if child.FirstName, err = r.resolveOr(spec.FirstName, model.FieldTypeFirstName, r.faker.FirstName); err != nil {
		return child, err
	}
	if child.LastName, err = r.resolveOr(spec.LastName, model.FieldTypeLastName, r.faker.LastName); err != nil {
		return child, err
	}
	if child.DateOfBirth, err = r.resolveOr(spec.DateOfBirth, model.FieldTypeDateOfBirth, func() string {
		return r.dateOfBirth(model.FieldConstraints{})
	}); err != nil {
		return child, err
	}

	newPatient, err := r.Resolve(spec.IsNewPatient, model.FieldTypeBoolean)
	if err != nil {
		return child, err
	}
	child.IsNewPatient = newPatient == "true"

	braces, err := r.Resolve(spec.HadBracesBefore, model.FieldTypeBoolean)
	if err != nil {
		return child, err
	}
	child.HadBracesBefore = braces == "true"

	if child.SpecialNeeds, err = r.Resolve(spec.SpecialNeeds, model.FieldTypeSpecial); err != nil {
		return child, err
	}

	return child, nil
}

// resolveOr resolves the field, generating from gen when the field was
// omitted entirely.
func (r *Resolver) resolveOr(v model.FieldValue, ft model.FieldType, gen func() string) (string, error) {
	if v.IsZero() {
		return gen(), nil
	}
	return r.Resolve(v, ft)
}

// dateOfBirth draws a uniform-random calendar date whose age relative to
// now falls inside [minAge, maxAge] inclusive.
func (r *Resolver) dateOfBirth(c model.FieldConstraints) string {
	minAge, maxAge := DefaultMinAge, DefaultMaxAge
	if c.MinAge != nil {
		minAge = *c.MinAge
	}
	if c.MaxAge != nil {
		maxAge = *c.MaxAge
	}
	if minAge > maxAge {
		minAge, maxAge = maxAge, minAge
	}

	now := r.now()
	// Youngest acceptable birth date: exactly minAge years old today.
	// Oldest: the day after turning maxAge+1 would make them too old, so one
	// day after (maxAge+1) years ago.
	latest := addYears(now, -minAge)
	earliest := addYears(now, -(maxAge + 1)).AddDate(0, 0, 1)

	span := int(latest.Sub(earliest).Hours() / 24)
	if span <= 0 {
		return latest.Format("2006-01-02")
	}

	offset := r.faker.IntRange(0, span)
	return earliest.AddDate(0, 0, offset).Format("2006-01-02")
}

// addYears shifts t by whole years. AddDate normalizes a Feb 29 anchor to
// Mar 1 in non-leap years, which would push an age bound a day past the
// anchor; clamp back to Feb 28 instead.
func addYears(t time.Time, years int) time.Time {
	out := t.AddDate(years, 0, 0)
	if out.Day() != t.Day() {
		out = out.AddDate(0, 0, -1)
	}
	return out
}

func (r *Resolver) pick(options, fallback []string) string {
	pool := options
	if len(pool) == 0 {
		pool = fallback
	}
	if len(pool) == 0 {
		return ""
	}
	return strings.TrimSpace(pool[r.faker.IntRange(0, len(pool)-1)])
}

func (r *Resolver) boolean(c model.FieldConstraints) bool {
	p := defaultProbability
	if c.Probability != nil {
		p = *c.Probability
	}
	return r.faker.Float64Range(0, 1) < p
}
