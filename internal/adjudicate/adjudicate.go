// Package adjudicate classifies supplier declarations against a
// per-framework ruleset. It is pure: the same declaration, ruleset, and
// submitted-service count always yield the same result.
package adjudicate

import (
	"fmt"
	"sort"

	"dmlifecycle/internal/domain"
)

// Outcome of adjudicating one declaration.
type Outcome string

const (
	Pass          Outcome = "pass"
	Fail          Outcome = "fail"
	Discretionary Outcome = "discretionary"
	Incomplete    Outcome = "incomplete"
)

// QuestionFailure names one question that caused a Fail or Discretionary
// classification, with the reason. Feeds adjudication exports and emails.
type QuestionFailure struct {
	QuestionID string
	Reason     string
}

// Result is the full classification of one supplier's declaration.
type Result struct {
	Outcome       Outcome
	Failures      []QuestionFailure
	Discretionary []QuestionFailure
}

// Classify evaluates a declaration against the ruleset. submittedServices
// is the supplier's count of submitted drafts on the framework: without at
// least one, an otherwise-Pass becomes Fail, while an otherwise-
// Discretionary stays Discretionary for human review.
func Classify(decl domain.Declaration, rules *RuleSchema, submittedServices int) Result {
	if decl.Status != domain.DeclarationComplete {
		return Result{Outcome: Incomplete}
	}

	var failures, discretionary []QuestionFailure

	for _, q := range rules.MustBeTrue {
		// Identity comparison: only the boolean literal passes; the
		// string "true" is an answer of the wrong kind and fails.
		if v, ok := decl.Answer(q); !ok || v != true {
			failures = append(failures, QuestionFailure{q, describeExpectation(v, ok, "true")})
		}
	}
	for _, q := range rules.MustBeFalse {
		if v, ok := decl.Answer(q); !ok || v != false {
			failures = append(failures, QuestionFailure{q, describeExpectation(v, ok, "false")})
		}
	}
	for _, q := range rules.MustBeYesOrNA {
		v, ok := decl.Answer(q)
		if s, isString := v.(string); !ok || !isString || (s != "Yes" && s != "Not applicable") {
			failures = append(failures, QuestionFailure{q, describeExpectation(v, ok, `"Yes" or "Not applicable"`)})
		}
	}
	for _, q := range rules.ShouldBeFalse {
		if v, ok := decl.Answer(q); !ok || v != false {
			discretionary = append(discretionary, QuestionFailure{q, describeExpectation(v, ok, "false")})
		}
	}

	if rules.DefinitePass != nil {
		baseline := rules.DefinitePass.Baseline
		if baseline != nil {
			if viols := conformObject(baseline, decl.Answers); len(viols) > 0 {
				failures = append(failures, viols...)
			}
		}
		if viols := conformObject(rules.DefinitePass, decl.Answers); len(viols) > 0 {
			if baseline == nil {
				failures = append(failures, viols...)
			} else if conforms(baseline, decl.Answers) {
				// Passed baseline but not the strict schema: operator
				// discretion applies rather than automatic failure.
				discretionary = append(discretionary, viols...)
			}
		}
	}

	sortFailures(failures)
	sortFailures(discretionary)

	switch {
	case len(failures) > 0:
		return Result{Outcome: Fail, Failures: failures, Discretionary: discretionary}
	case len(discretionary) > 0:
		return Result{Outcome: Discretionary, Discretionary: discretionary}
	case submittedServices == 0:
		return Result{Outcome: Fail, Failures: []QuestionFailure{{
			QuestionID: "services",
			Reason:     "no submitted services on the framework",
		}}}
	default:
		return Result{Outcome: Pass}
	}
}

func describeExpectation(v any, answered bool, want string) string {
	if !answered {
		return fmt.Sprintf("unanswered, expected %s", want)
	}
	return fmt.Sprintf("answered %#v, expected %s", v, want)
}

func sortFailures(fs []QuestionFailure) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].QuestionID < fs[j].QuestionID })
}

// conformObject evaluates a schema node against the declaration's answer
// map and reports the top-level property violations.
func conformObject(node *SchemaNode, answers map[string]any) []QuestionFailure {
	var out []QuestionFailure
	for _, q := range node.Required {
		if v, ok := answers[q]; !ok || v == nil {
			out = append(out, QuestionFailure{q, "required answer missing"})
		}
	}
	for q, sub := range node.Properties {
		v, ok := answers[q]
		if !ok {
			// Absent non-required properties do not fail.
			continue
		}
		if !conformValue(sub, v) {
			out = append(out, QuestionFailure{q, "answer does not conform to schema"})
		}
	}
	for _, sub := range node.AllOf {
		out = append(out, conformObject(sub, answers)...)
	}
	if len(node.OneOf) > 0 {
		matched := false
		for _, branch := range node.OneOf {
			if conforms(branch, answers) {
				matched = true
				break
			}
		}
		// An unmatched branch does not fail on its own internals; only
		// the absence of any matching branch does.
		if !matched {
			out = append(out, QuestionFailure{"oneOf", "no branch matched"})
		}
	}
	return out
}

// conforms reports whether the answers structurally satisfy the node.
func conforms(node *SchemaNode, answers map[string]any) bool {
	return len(conformObject(node, answers)) == 0
}

// conformValue checks one answer against a leaf (or nested) schema.
func conformValue(node *SchemaNode, v any) bool {
	if node == nil {
		return true
	}
	if len(node.Enum) > 0 {
		found := false
		for _, allowed := range node.Enum {
			if v == allowed {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	switch node.Type {
	case "":
	case "boolean":
		if _, ok := v.(bool); !ok {
			return false
		}
	case "string":
		if _, ok := v.(string); !ok {
			return false
		}
	case "number":
		switch v.(type) {
		case int, int64, float64:
		default:
			return false
		}
	case "array":
		if _, ok := v.([]any); !ok {
			return false
		}
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return false
		}
		if !conforms(node, obj) {
			return false
		}
	default:
		return false
	}
	if node.Type != "object" {
		if obj, ok := v.(map[string]any); ok && (len(node.Required) > 0 || len(node.Properties) > 0 || len(node.AllOf) > 0 || len(node.OneOf) > 0) {
			return conforms(node, obj)
		}
	}
	return true
}
