// Package evaluator scores a finished conversation against a test case's
// patterns, semantic expectations, goals and constraints.
package evaluator

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yalp/jsonpath"

	"github.com/mdwoicke/dentix-ortho-sub013/judge"
	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
)

// Evaluator runs two passes over a transcript: a deterministic pass for
// regex patterns and turn/time counters, then a judge pass for semantic
// expectations, goals and behavioural constraints.
type Evaluator struct {
	judge judge.Judge
}

func NewEvaluator(j judge.Judge) *Evaluator {
	return &Evaluator{judge: j}
}

// Evaluate scores one conversation. A nil judge downgrades every semantic
// check to an inconclusive issue instead of a failure.
func (e *Evaluator) Evaluate(ctx context.Context, tc model.TestCase, conv *model.ConversationResult) *model.DetailedEndpointResult {
	res := &model.DetailedEndpointResult{
		TurnCount:  conv.TurnCount,
		DurationMs: conv.DurationMs,
		Transcript: conv.Transcript,
		RanAt:      time.Now().UTC(),
	}

	hardFail := conv.State != model.StateCompleted
	if hardFail && conv.Error != "" {
		res.Issues = append(res.Issues, model.Issue{
			Type:        "conversation-" + string(conv.State),
			Description: conv.Error,
		})
	}

	// ----- pass 1: deterministic checks -----
	patternsOK := e.evalPatterns(tc, conv, res)
	e.evalCounters(tc, conv, res)

	// ----- pass 2: judge-backed checks -----
	judgeBlocked := e.evalExpectations(ctx, tc, conv, res)
	requiredGoalsOK := e.evalGoals(ctx, tc, conv, res)
	e.evalBehaviouralConstraints(ctx, tc, conv, res)

	// violations block only at critical or high severity
	blockingViolation := false
	for _, v := range res.ConstraintViolations {
		if v.Severity.Blocking() {
			blockingViolation = true
			break
		}
	}

	res.Passed = !hardFail && patternsOK && !judgeBlocked &&
		requiredGoalsOK && !blockingViolation
	res.Summary = e.summarize(res)

	logger.Logger.Debug("Conversation evaluated",
		"case_id", tc.CaseID,
		"endpoint", conv.Endpoint,
		"passed", res.Passed,
		"issues", len(res.Issues),
		"violations", len(res.ConstraintViolations))
	return res
}

// ===== PASS 1: PATTERNS AND COUNTERS =====

// evalPatterns checks each step's expected and unexpected regexes against
// the assistant reply for that step. Matching is case-insensitive.
func (e *Evaluator) evalPatterns(tc model.TestCase, conv *model.ConversationResult, res *model.DetailedEndpointResult) bool {
	ok := true
	for i, step := range tc.Steps {
		reply, turn := replyForStep(conv, i)
		if turn < 0 {
			if !step.Optional && (len(step.ExpectedPatterns) > 0 || len(step.UnexpectedPatterns) > 0) && stepReached(conv, i) {
				res.Issues = append(res.Issues, model.Issue{
					Type:        "missing-reply",
					Description: fmt.Sprintf("step %d got no assistant reply to check patterns against", i),
				})
				ok = false
			}
			continue
		}

		for _, p := range step.ExpectedPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				// store validation should have rejected this case
				res.Issues = append(res.Issues, model.Issue{
					Type:        "invalid-pattern",
					Description: fmt.Sprintf("step %d pattern %q does not compile: %v", i, p, err),
				})
				ok = false
				continue
			}
			if !re.MatchString(reply) {
				res.Issues = append(res.Issues, model.Issue{
					Type:        "missing-pattern",
					Description: fmt.Sprintf("step %d reply did not match expected pattern %q", i, p),
					TurnNumber:  turn,
				})
				ok = false
			}
		}

		for _, p := range step.UnexpectedPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				res.Issues = append(res.Issues, model.Issue{
					Type:        "invalid-pattern",
					Description: fmt.Sprintf("step %d pattern %q does not compile: %v", i, p, err),
				})
				ok = false
				continue
			}
			if re.MatchString(reply) {
				res.Issues = append(res.Issues, model.Issue{
					Type:        "unexpected-pattern",
					Description: fmt.Sprintf("step %d reply matched forbidden pattern %q", i, p),
					TurnNumber:  turn,
				})
				ok = false
			}
		}
	}
	return ok
}

// evalCounters enforces max_turns and max_time constraints.
func (e *Evaluator) evalCounters(tc model.TestCase, conv *model.ConversationResult, res *model.DetailedEndpointResult) {
	for _, c := range tc.Constraints {
		switch c.Type {
		case model.ConstraintMaxTurns:
			if c.MaxTurns > 0 && conv.TurnCount > c.MaxTurns {
				res.ConstraintViolations = append(res.ConstraintViolations, model.ConstraintViolation{
					Type:        string(model.ConstraintMaxTurns),
					Description: fmt.Sprintf("conversation took %d turns, limit is %d", conv.TurnCount, c.MaxTurns),
					Severity:    severityOrDefault(c.Severity),
				})
			}
		case model.ConstraintMaxTime:
			limit := c.MaxTimeDuration()
			if limit > 0 && time.Duration(conv.DurationMs)*time.Millisecond > limit {
				res.ConstraintViolations = append(res.ConstraintViolations, model.ConstraintViolation{
					Type:        string(model.ConstraintMaxTime),
					Description: fmt.Sprintf("conversation ran %dms, limit is %s", conv.DurationMs, limit),
					Severity:    severityOrDefault(c.Severity),
				})
			}
		}
	}
}

// ===== PASS 2: JUDGE-BACKED CHECKS =====

// evalExpectations runs step-level and test-level semantic expectations.
// Returns true when a blocking negative expectation matched.
func (e *Evaluator) evalExpectations(ctx context.Context, tc model.TestCase, conv *model.ConversationResult, res *model.DetailedEndpointResult) bool {
	blocked := false

	for i, step := range tc.Steps {
		reply, turn := replyForStep(conv, i)
		if turn < 0 {
			continue
		}

		for _, exp := range step.SemanticExpectations {
			verdict, unavailable := e.ask(ctx, reply, exp.Criteria(), res)
			if unavailable {
				continue
			}
			if !verdict.Pass {
				res.Issues = append(res.Issues, model.Issue{
					Type:        "semantic-expectation",
					Description: fmt.Sprintf("step %d: %s (%s)", i, exp.Criteria(), verdict.Rationale),
					TurnNumber:  turn,
				})
				blocked = true
			}
		}

		for _, exp := range step.NegativeExpectations {
			criteria := exp.Criteria()
			verdict, unavailable := e.ask(ctx, reply, criteria, res)
			if unavailable {
				continue
			}
			// for a negative expectation a Pass verdict means the
			// undesired behaviour happened
			if verdict.Pass {
				sev := severityOrDefault(exp.Severity)
				res.ConstraintViolations = append(res.ConstraintViolations, model.ConstraintViolation{
					Type:        "negative-expectation",
					Description: fmt.Sprintf("step %d: %s (%s)", i, criteria, verdict.Rationale),
					TurnNumber:  turn,
					Severity:    sev,
				})
			}
		}
	}

	if len(tc.Expectations) > 0 {
		transcript := transcriptText(conv.Transcript)
		for _, exp := range tc.Expectations {
			verdict, unavailable := e.ask(ctx, transcript, exp.Criteria(), res)
			if unavailable {
				continue
			}
			if !verdict.Pass {
				res.Issues = append(res.Issues, model.Issue{
					Type:        "semantic-expectation",
					Description: fmt.Sprintf("%s (%s)", exp.Criteria(), verdict.Rationale),
				})
				blocked = true
			}
		}
	}

	return blocked
}

// evalGoals scores every goal. Returns false when a required goal was
// conclusively missed.
func (e *Evaluator) evalGoals(ctx context.Context, tc model.TestCase, conv *model.ConversationResult, res *model.DetailedEndpointResult) bool {
	ok := true
	for _, g := range tc.Goals {
		gr := model.GoalResult{
			GoalID:   g.ID,
			Type:     g.Type,
			Priority: g.EffectivePriority(),
			Required: g.Required,
		}

		switch g.Type {
		case model.GoalDataCollection:
			gr.MissingFields = e.missingFields(g, conv)
			gr.Achieved = len(gr.MissingFields) == 0
			if !gr.Achieved {
				gr.Detail = fmt.Sprintf("%d of %d required fields not collected", len(gr.MissingFields), len(g.RequiredFields))
			}
			if g.Required && !gr.Achieved {
				ok = false
			}

		default:
			criteria := goalCriteria(g)
			verdict, unavailable := e.ask(ctx, transcriptText(conv.Transcript), criteria, res)
			if unavailable {
				gr.Detail = "inconclusive: judge unavailable"
				gr.Achieved = false
				// an inconclusive required goal does not fail the test
			} else {
				gr.Achieved = verdict.Pass
				gr.Detail = verdict.Rationale
				if g.Required && !gr.Achieved {
					ok = false
				}
			}
		}

		res.GoalResults = append(res.GoalResults, gr)
	}

	// report highest-priority misses first
	sort.SliceStable(res.GoalResults, func(i, j int) bool {
		return res.GoalResults[i].Priority < res.GoalResults[j].Priority
	})
	return ok
}

// evalBehaviouralConstraints enforces must_happen and must_not_happen over
// the full transcript.
func (e *Evaluator) evalBehaviouralConstraints(ctx context.Context, tc model.TestCase, conv *model.ConversationResult, res *model.DetailedEndpointResult) {
	transcript := transcriptText(conv.Transcript)

	for _, c := range tc.Constraints {
		switch c.Type {
		case model.ConstraintMustHappen:
			verdict, unavailable := e.ask(ctx, transcript, c.Description, res)
			if unavailable {
				continue
			}
			if !verdict.Pass {
				res.ConstraintViolations = append(res.ConstraintViolations, model.ConstraintViolation{
					Type:        string(model.ConstraintMustHappen),
					Description: fmt.Sprintf("%s (%s)", c.Description, verdict.Rationale),
					Severity:    severityOrDefault(c.Severity),
				})
			}
		case model.ConstraintMustNotHappen:
			verdict, unavailable := e.ask(ctx, transcript, c.Description, res)
			if unavailable {
				continue
			}
			if verdict.Pass {
				res.ConstraintViolations = append(res.ConstraintViolations, model.ConstraintViolation{
					Type:        string(model.ConstraintMustNotHappen),
					Description: fmt.Sprintf("%s (%s)", c.Description, verdict.Rationale),
					Severity:    severityOrDefault(c.Severity),
				})
			}
		}
	}
}

// ask wraps a judge call. A judge failure is downgraded to a single
// judge-unavailable issue per evaluation; the check itself is skipped.
func (e *Evaluator) ask(ctx context.Context, content, criteria string, res *model.DetailedEndpointResult) (*judge.Verdict, bool) {
	if e.judge == nil {
		e.noteJudgeDown(res, "no judge configured")
		return nil, true
	}
	verdict, err := e.judge.Judge(ctx, content, criteria)
	if err != nil {
		logger.Logger.Warn("Judge call failed", "error", err)
		e.noteJudgeDown(res, err.Error())
		return nil, true
	}
	return verdict, false
}

func (e *Evaluator) noteJudgeDown(res *model.DetailedEndpointResult, detail string) {
	for _, iss := range res.Issues {
		if iss.Type == "judge-unavailable" {
			return
		}
	}
	res.Issues = append(res.Issues, model.Issue{
		Type:        "judge-unavailable",
		Description: "semantic checks skipped: " + detail,
	})
}

// ===== DATA COLLECTION =====

// toolFieldPaths maps a collectable field to the jsonpath expressions tried
// against each tool payload.
var toolFieldPaths = map[model.CollectableField][]string{
	model.FieldParentName:        {"$.parentName", "$.parent_name", "$.callerName"},
	model.FieldParentPhone:       {"$.parentPhone", "$.parent_phone", "$.phone", "$.phoneNumber"},
	model.FieldParentEmail:       {"$.parentEmail", "$.parent_email", "$.email"},
	model.FieldChildName:         {"$.childName", "$.child_name", "$.patientName"},
	model.FieldChildDOB:          {"$.childDateOfBirth", "$.dateOfBirth", "$.dob"},
	model.FieldInsuranceProvider: {"$.insuranceProvider", "$.insurance_provider", "$.insurance"},
	model.FieldPreferredLocation: {"$.preferredLocation", "$.location"},
	model.FieldPreferredTime:     {"$.preferredTime", "$.preferred_time"},
	model.FieldIsNewPatient:      {"$.isNewPatient", "$.is_new_patient", "$.newPatient"},
}

// missingFields reports which required fields never showed up in a tool
// payload or, failing that, in a user turn carrying the persona's value.
func (e *Evaluator) missingFields(g model.Goal, conv *model.ConversationResult) []model.CollectableField {
	var missing []model.CollectableField
	for _, field := range g.RequiredFields {
		if fieldInToolOutputs(field, conv.ToolOutputs) {
			continue
		}
		want := g.FieldDefaults[field]
		if want == "" {
			want = inventoryValue(field, conv.Inventory)
		}
		if want != "" && transcriptMentions(conv.Transcript, want) {
			continue
		}
		missing = append(missing, field)
	}
	return missing
}

// fieldInToolOutputs looks for the field in structured tool payloads.
func fieldInToolOutputs(field model.CollectableField, outputs []model.ToolOutput) bool {
	paths := toolFieldPaths[field]
	for _, out := range outputs {
		for _, payload := range []string{out.Input, out.Output} {
			if payload == "" {
				continue
			}
			var doc interface{}
			if err := sonic.Unmarshal([]byte(payload), &doc); err != nil {
				continue
			}
			for _, path := range paths {
				v, err := jsonpath.Read(doc, path)
				if err != nil || v == nil {
					continue
				}
				if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
					continue
				}
				return true
			}
		}
	}
	return false
}

// inventoryValue returns the persona's concrete value for a field, used to
// confirm the caller actually said it.
func inventoryValue(field model.CollectableField, inv model.ConcreteInventory) string {
	switch field {
	case model.FieldParentName:
		return inv.ParentName
	case model.FieldParentPhone:
		return inv.ParentPhone
	case model.FieldParentEmail:
		return inv.ParentEmail
	case model.FieldInsuranceProvider:
		return inv.InsuranceProvider
	case model.FieldPreferredLocation:
		return inv.PreferredLocation
	case model.FieldPreferredTime:
		return inv.PreferredTime
	case model.FieldChildName:
		if len(inv.Children) > 0 {
			return inv.Children[0].FirstName
		}
	case model.FieldChildDOB:
		if len(inv.Children) > 0 {
			return inv.Children[0].DateOfBirth
		}
	}
	return ""
}

func transcriptMentions(transcript []model.TranscriptEntry, value string) bool {
	needle := strings.ToLower(value)
	for _, entry := range transcript {
		if entry.Role != model.RoleUser {
			continue
		}
		if strings.Contains(strings.ToLower(entry.Content), needle) {
			return true
		}
	}
	return false
}

// ===== HELPERS =====

// goalCriteria renders the judge criterion for a non-data goal.
func goalCriteria(g model.Goal) string {
	if g.Description != "" {
		return g.Description
	}
	switch g.Type {
	case model.GoalBookingConfirmed:
		return "The assistant clearly confirms that an appointment has been booked, including a date or time."
	case model.GoalEscalationOffer:
		return "The assistant offers to escalate to a human or take a message when it cannot help."
	case model.GoalNoWrongInfo:
		return "The assistant never states factually wrong information about the clinic, its locations or its services."
	}
	return string(g.Type)
}

// replyForStep returns the assistant reply recorded for a step and its
// transcript index, or -1 when the step produced none.
func replyForStep(conv *model.ConversationResult, stepIndex int) (string, int) {
	for _, s := range conv.Steps {
		if s.StepIndex != stepIndex {
			continue
		}
		if s.ReplyTurn < 0 || s.ReplyTurn >= len(conv.Transcript) {
			return "", -1
		}
		return conv.Transcript[s.ReplyTurn].Content, s.ReplyTurn
	}
	return "", -1
}

// stepReached reports whether the driver got as far as this step.
func stepReached(conv *model.ConversationResult, stepIndex int) bool {
	for _, s := range conv.Steps {
		if s.StepIndex == stepIndex {
			return true
		}
	}
	return false
}

// transcriptText flattens a transcript for the judge.
func transcriptText(transcript []model.TranscriptEntry) string {
	var b strings.Builder
	for _, entry := range transcript {
		b.WriteString(string(entry.Role))
		b.WriteString(": ")
		b.WriteString(entry.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func severityOrDefault(s model.Severity) model.Severity {
	switch s {
	case model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow:
		return s
	}
	return model.SeverityHigh
}

// summarize writes the one-line outcome, leading with the worst finding.
func (e *Evaluator) summarize(res *model.DetailedEndpointResult) string {
	if res.Passed {
		return fmt.Sprintf("passed in %d turns", res.TurnCount)
	}

	for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow} {
		for _, v := range res.ConstraintViolations {
			if v.Severity == sev {
				return "failed: " + v.Description
			}
		}
	}
	for _, gr := range res.GoalResults {
		if gr.Required && !gr.Achieved && gr.Detail != "" {
			return "failed: " + gr.Detail
		}
	}
	if len(res.Issues) > 0 {
		return "failed: " + res.Issues[0].Description
	}
	return "failed"
}
