package model

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// PERSONA
// ============================================================================

type Verbosity string

const (
	VerbosityLow    Verbosity = "low"
	VerbosityNormal Verbosity = "normal"
	VerbosityHigh   Verbosity = "high"
)

// Persona is the synthetic caller profile that drives a scripted
// conversation: a parent, their children, and scheduling preferences.
type Persona struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Inventory   DataInventory `yaml:"inventory" json:"inventory"`
	Traits      PersonaTraits `yaml:"traits,omitempty" json:"traits,omitempty"`
}

type PersonaTraits struct {
	Verbosity         Verbosity `yaml:"verbosity,omitempty" json:"verbosity,omitempty"`
	PatienceLevel     int       `yaml:"patience_level,omitempty" json:"patienceLevel,omitempty"`
	ProvidesExtraInfo bool      `yaml:"provides_extra_info,omitempty" json:"providesExtraInfo"`
}

func (p Persona) Clone() Persona {
	out := p
	out.Inventory = p.Inventory.Clone()
	return out
}

// DataInventory holds the facts the persona knows. Each field is either a
// fixed literal or a dynamic spec resolved to a fresh value every run.
type DataInventory struct {
	ParentName        FieldValue  `yaml:"parent_name,omitempty" json:"parentName,omitempty"`
	ParentPhone       FieldValue  `yaml:"parent_phone,omitempty" json:"parentPhone,omitempty"`
	ParentEmail       FieldValue  `yaml:"parent_email,omitempty" json:"parentEmail,omitempty"`
	Children          []ChildSpec `yaml:"children,omitempty" json:"children,omitempty"`
	InsuranceProvider FieldValue  `yaml:"insurance_provider,omitempty" json:"insuranceProvider,omitempty"`
	PreferredLocation FieldValue  `yaml:"preferred_location,omitempty" json:"preferredLocation,omitempty"`
	PreferredTime     FieldValue  `yaml:"preferred_time,omitempty" json:"preferredTime,omitempty"`
	PreviousPatient   FieldValue  `yaml:"previous_patient,omitempty" json:"previousPatient,omitempty"`
}

func (d DataInventory) Clone() DataInventory {
	out := d
	out.ParentName = d.ParentName.Clone()
	out.ParentPhone = d.ParentPhone.Clone()
	out.ParentEmail = d.ParentEmail.Clone()
	out.InsuranceProvider = d.InsuranceProvider.Clone()
	out.PreferredLocation = d.PreferredLocation.Clone()
	out.PreferredTime = d.PreferredTime.Clone()
	out.PreviousPatient = d.PreviousPatient.Clone()
	out.Children = make([]ChildSpec, len(d.Children))
	for i, child := range d.Children {
		out.Children[i] = child.Clone()
	}
	return out
}

// ChildSpec describes one child in the inventory.
type ChildSpec struct {
	FirstName       FieldValue `yaml:"first_name,omitempty" json:"firstName,omitempty"`
	LastName        FieldValue `yaml:"last_name,omitempty" json:"lastName,omitempty"`
	DateOfBirth     FieldValue `yaml:"date_of_birth,omitempty" json:"dateOfBirth,omitempty"`
	IsNewPatient    FieldValue `yaml:"is_new_patient,omitempty" json:"isNewPatient,omitempty"`
	HadBracesBefore FieldValue `yaml:"had_braces_before,omitempty" json:"hadBracesBefore,omitempty"`
	SpecialNeeds    FieldValue `yaml:"special_needs,omitempty" json:"specialNeeds,omitempty"`
}

func (c ChildSpec) Clone() ChildSpec {
	return ChildSpec{
		FirstName:       c.FirstName.Clone(),
		LastName:        c.LastName.Clone(),
		DateOfBirth:     c.DateOfBirth.Clone(),
		IsNewPatient:    c.IsNewPatient.Clone(),
		HadBracesBefore: c.HadBracesBefore.Clone(),
		SpecialNeeds:    c.SpecialNeeds.Clone(),
	}
}

// ============================================================================
// FIELD VALUE (fixed | dynamic)
// ============================================================================

type FieldType string

const (
	FieldTypeFirstName   FieldType = "firstName"
	FieldTypeLastName    FieldType = "lastName"
	FieldTypePhone       FieldType = "phone"
	FieldTypeEmail       FieldType = "email"
	FieldTypeDateOfBirth FieldType = "dateOfBirth"
	FieldTypeInsurance   FieldType = "insuranceProvider"
	FieldTypeLocation    FieldType = "location"
	FieldTypeSpecial     FieldType = "specialNeeds"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeTime        FieldType = "preferredTime"
)

// FieldConstraints is the union of constraint shapes a dynamic field may
// carry. Which members are legal depends on the field type; see
// DynamicFieldSpec.CheckConstraints.
type FieldConstraints struct {
	MinAge      *int     `yaml:"min_age,omitempty" json:"minAge,omitempty"`
	MaxAge      *int     `yaml:"max_age,omitempty" json:"maxAge,omitempty"`
	Options     []string `yaml:"options,omitempty" json:"options,omitempty"`
	Probability *float64 `yaml:"probability,omitempty" json:"probability,omitempty"`
}

func (c FieldConstraints) empty() bool {
	return c.MinAge == nil && c.MaxAge == nil && len(c.Options) == 0 && c.Probability == nil
}

// DynamicFieldSpec asks the resolver to generate a value at run time.
type DynamicFieldSpec struct {
	FieldType   FieldType        `yaml:"type" json:"fieldType"`
	Constraints FieldConstraints `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// CheckConstraints verifies that the constraint members match the accepted
// shape of the field type: age range for dateOfBirth, option pool for the
// pool-backed fields, probability for booleans. Name/contact fields accept
// no constraints at all.
func (s DynamicFieldSpec) CheckConstraints() error {
	c := s.Constraints
	switch s.FieldType {
	case FieldTypeDateOfBirth:
		if len(c.Options) > 0 || c.Probability != nil {
			return fmt.Errorf("dateOfBirth accepts only min_age/max_age constraints")
		}
		if c.MinAge != nil && c.MaxAge != nil && *c.MinAge > *c.MaxAge {
			return fmt.Errorf("min_age %d exceeds max_age %d", *c.MinAge, *c.MaxAge)
		}
	case FieldTypeInsurance, FieldTypeLocation, FieldTypeSpecial, FieldTypeTime:
		if c.MinAge != nil || c.MaxAge != nil || c.Probability != nil {
			return fmt.Errorf("%s accepts only an options pool", s.FieldType)
		}
	case FieldTypeBoolean:
		if c.MinAge != nil || c.MaxAge != nil || len(c.Options) > 0 {
			return fmt.Errorf("boolean accepts only a probability constraint")
		}
		if c.Probability != nil && (*c.Probability < 0 || *c.Probability > 1) {
			return fmt.Errorf("probability %v out of [0,1]", *c.Probability)
		}
	case FieldTypeFirstName, FieldTypeLastName, FieldTypePhone, FieldTypeEmail:
		if !c.empty() {
			return fmt.Errorf("%s accepts no constraints", s.FieldType)
		}
	default:
		return fmt.Errorf("unknown field type: %s", s.FieldType)
	}
	return nil
}

// FieldValue is the fixed-or-dynamic sum type for inventory fields. In YAML
// and JSON a bare scalar means a fixed value; a mapping with a "type" key is
// a dynamic spec.
type FieldValue struct {
	Fixed   string
	Dynamic *DynamicFieldSpec
}

// Fixedf builds a fixed FieldValue.
func Fixedf(format string, args ...interface{}) FieldValue {
	return FieldValue{Fixed: fmt.Sprintf(format, args...)}
}

// Dynamicf builds a dynamic FieldValue.
func Dynamicf(ft FieldType, constraints FieldConstraints) FieldValue {
	return FieldValue{Dynamic: &DynamicFieldSpec{FieldType: ft, Constraints: constraints}}
}

// Clone deep-copies the value, so mutating a clone's dynamic spec never
// touches the source.
func (v FieldValue) Clone() FieldValue {
	if v.Dynamic == nil {
		return v
	}
	spec := *v.Dynamic
	if v.Dynamic.Constraints.MinAge != nil {
		n := *v.Dynamic.Constraints.MinAge
		spec.Constraints.MinAge = &n
	}
	if v.Dynamic.Constraints.MaxAge != nil {
		n := *v.Dynamic.Constraints.MaxAge
		spec.Constraints.MaxAge = &n
	}
	if v.Dynamic.Constraints.Probability != nil {
		p := *v.Dynamic.Constraints.Probability
		spec.Constraints.Probability = &p
	}
	if len(v.Dynamic.Constraints.Options) > 0 {
		spec.Constraints.Options = append([]string(nil), v.Dynamic.Constraints.Options...)
	}
	return FieldValue{Dynamic: &spec}
}

// IsZero reports whether the field was omitted entirely.
func (v FieldValue) IsZero() bool {
	return v.Fixed == "" && v.Dynamic == nil
}

func (v *FieldValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v.Dynamic = nil
		return node.Decode(&v.Fixed)
	case yaml.MappingNode:
		var spec DynamicFieldSpec
		if err := node.Decode(&spec); err != nil {
			return err
		}
		if spec.FieldType == "" {
			return fmt.Errorf("dynamic field spec requires a type")
		}
		v.Fixed = ""
		v.Dynamic = &spec
		return nil
	default:
		return fmt.Errorf("field value must be a scalar or a dynamic spec mapping")
	}
}

func (v FieldValue) MarshalYAML() (interface{}, error) {
	if v.Dynamic != nil {
		return v.Dynamic, nil
	}
	return v.Fixed, nil
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		var spec DynamicFieldSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return err
		}
		if spec.FieldType == "" {
			return fmt.Errorf("dynamic field spec requires a fieldType")
		}
		v.Fixed = ""
		v.Dynamic = &spec
		return nil
	}
	v.Dynamic = nil
	return json.Unmarshal(data, &v.Fixed)
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.Dynamic != nil {
		return json.Marshal(v.Dynamic)
	}
	return json.Marshal(v.Fixed)
}

// ============================================================================
// RESOLVED INVENTORY
// ============================================================================

// Child is a fully resolved child record.
type Child struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	DateOfBirth     string `json:"dateOfBirth"` // YYYY-MM-DD
	IsNewPatient    bool   `json:"isNewPatient"`
	HadBracesBefore bool   `json:"hadBracesBefore"`
	SpecialNeeds    string `json:"specialNeeds,omitempty"`
}

// ConcreteInventory is a DataInventory with every field resolved to a
// concrete value for one test run.
type ConcreteInventory struct {
	ParentName        string  `json:"parentName"`
	ParentPhone       string  `json:"parentPhone"`
	ParentEmail       string  `json:"parentEmail"`
	Children          []Child `json:"children,omitempty"`
	InsuranceProvider string  `json:"insuranceProvider,omitempty"`
	PreferredLocation string  `json:"preferredLocation,omitempty"`
	PreferredTime     string  `json:"preferredTime,omitempty"`
	PreviousPatient   bool    `json:"previousPatient"`
}
