package model

import (
	"fmt"
	"os"
	"strings"

	"github.com/aymerick/raymond"
)

// RenderTemplate renders a Handlebars template against the given context.
// On any parse or exec error the raw input is returned unchanged, so a
// literal "{{" in a step message degrades gracefully instead of failing the
// run.
func RenderTemplate(input string, ctx map[string]string) string {
	if input == "" || !strings.Contains(input, "{{") {
		return input
	}

	t, err := raymond.Parse(input)
	if err != nil {
		return input
	}

	rendered, err := t.Exec(ctx)
	if err != nil {
		return input
	}

	return rendered
}

// PersonaContext flattens a resolved inventory into the template context
// used to render step messages. The process environment seeds the context so
// step messages can reference deployment values; persona fields shadow any
// env var of the same name. Children are exposed both indexed
// (child1FirstName, child2FirstName, ...) and under the bare childFirstName
// aliases for the first child, which covers the common single-child case.
func PersonaContext(inv ConcreteInventory) map[string]string {
	ctx := GetAllEnv()
	for k, v := range map[string]string{
		"parentName":        inv.ParentName,
		"parentPhone":       inv.ParentPhone,
		"parentEmail":       inv.ParentEmail,
		"insuranceProvider": inv.InsuranceProvider,
		"preferredLocation": inv.PreferredLocation,
		"preferredTime":     inv.PreferredTime,
		"previousPatient":   fmt.Sprintf("%t", inv.PreviousPatient),
	} {
		ctx[k] = v
	}

	for i, child := range inv.Children {
		prefix := fmt.Sprintf("child%d", i+1)
		ctx[prefix+"FirstName"] = child.FirstName
		ctx[prefix+"LastName"] = child.LastName
		ctx[prefix+"DateOfBirth"] = child.DateOfBirth
		ctx[prefix+"IsNewPatient"] = fmt.Sprintf("%t", child.IsNewPatient)
		ctx[prefix+"HadBracesBefore"] = fmt.Sprintf("%t", child.HadBracesBefore)
		ctx[prefix+"SpecialNeeds"] = child.SpecialNeeds
	}

	if len(inv.Children) > 0 {
		first := inv.Children[0]
		ctx["childFirstName"] = first.FirstName
		ctx["childLastName"] = first.LastName
		ctx["childDateOfBirth"] = first.DateOfBirth
		ctx["childSpecialNeeds"] = first.SpecialNeeds
	}

	return ctx
}

// GetAllEnv returns the process environment as a template context.
func GetAllEnv() map[string]string {
	ctx := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			ctx[kv[:i]] = kv[i+1:]
		}
	}
	return ctx
}
