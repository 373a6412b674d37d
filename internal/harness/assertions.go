package harness

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// AssertionTypeMissingDependency tags failures caused by a result that
// reported the guarded missing-module reason.
const AssertionTypeMissingDependency = "missing_dependency"

// AssertionError is returned when an assertion fails.
// It includes the captured result to help debug the failure.
type AssertionError struct {
	Type     string            // Assertion type for categorization
	Result   string            // Capture name the assertion read
	Field    string            // Field within the capture, empty for scalars
	Expected string            // Human-readable expected outcome
	Actual   string            // Human-readable actual outcome
	Captured InteractionResult // Full captured result for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	target := e.Result
	if e.Field != "" {
		target += "." + e.Field
	}
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, target)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)

	if e.Captured.Name != "" {
		fmt.Fprintf(&buf, "\n  Captured: %s %s", e.Captured.Name, e.Captured.String())
	}

	return buf.String()
}

// EvaluateAssertions checks each assertion against the captured results and
// returns one message per failure, in declaration order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		captured, ok := result.Lookup(assertion.Result)
		switch {
		case !ok:
			err = &AssertionError{
				Type:     assertion.Type,
				Result:   assertion.Result,
				Field:    assertion.Field,
				Expected: "a captured result",
				Actual:   "nothing captured under that name",
			}
		case captured.MissingModule():
			err = &AssertionError{
				Type:     AssertionTypeMissingDependency,
				Result:   assertion.Result,
				Expected: "the page module to be loaded",
				Actual:   "reason " + ReasonMissingModule,
				Captured: captured,
			}
		default:
			err = evaluateAssertion(i, captured, assertion)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func evaluateAssertion(index int, captured InteractionResult, assertion Assertion) error {
	field, ok := captured.Field(assertion.Field)
	if !ok {
		return &AssertionError{
			Type:     assertion.Type,
			Result:   assertion.Result,
			Field:    assertion.Field,
			Expected: "field present",
			Actual:   "field missing",
			Captured: captured,
		}
	}

	fail := func(expected string) error {
		return &AssertionError{
			Type:     assertion.Type,
			Result:   assertion.Result,
			Field:    assertion.Field,
			Expected: expected,
			Actual:   string(field.Value),
			Captured: captured,
		}
	}

	actual := field.Text()
	switch assertion.Type {
	case AssertContains:
		if !strings.Contains(actual, assertion.Value) {
			return fail(fmt.Sprintf("contains %q", assertion.Value))
		}
	case AssertNotContains:
		if strings.Contains(actual, assertion.Value) {
			return fail(fmt.Sprintf("does not contain %q", assertion.Value))
		}
	case AssertEquals:
		if actual != assertion.Value {
			return fail(fmt.Sprintf("%q", assertion.Value))
		}
	case AssertEqualsFold:
		if !equalFold(actual, assertion.Value) {
			return fail(fmt.Sprintf("%q (case-insensitive)", assertion.Value))
		}
	case AssertTruthy:
		if !field.Truthy() {
			return fail("a truthy value")
		}
	default:
		return fmt.Errorf("assertion[%d]: unknown assertion type %q", index, assertion.Type)
	}
	return nil
}

// equalFold compares using full Unicode case folding.
func equalFold(a, b string) bool {
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}
