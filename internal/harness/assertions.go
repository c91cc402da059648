package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/parsekit/internal/devserver"
	"github.com/roach88/parsekit/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", i+1, event.Label(), event.Status)
			if event.Code != 0 {
				fmt.Fprintf(&buf, " (code %d)", event.Code)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// requestMatches reports whether event is a request to method and path.
// An empty method matches any.
func requestMatches(event TraceEvent, method, path string) bool {
	return (method == "" || event.Method == method) && event.Path == path
}

// assertRequestContains checks the trace for a request matching method,
// path, every query parameter exactly and the body as a subset.
func assertRequestContains(trace []TraceEvent, assertion Assertion) error {
	expectedBody, err := toValue(assertion.Body)
	if err != nil {
		return fmt.Errorf("request_contains body: %w", err)
	}

	for _, event := range trace {
		if !requestMatches(event, assertion.Method, assertion.Path) {
			continue
		}
		if !matchQuery(event.Query, assertion.Query) {
			continue
		}
		if len(assertion.Body) > 0 && !matchBody(event.Body, expectedBody.(value.Object)) {
			continue
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertRequestContains,
		Expected: fmt.Sprintf("%s %s with query %v and body %v", methodOrAny(assertion.Method), assertion.Path, assertion.Query, assertion.Body),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

func methodOrAny(method string) string {
	if method == "" {
		return "*"
	}
	return method
}

func matchQuery(actual, expected map[string]string) bool {
	for k, want := range expected {
		if got, ok := actual[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// matchBody reports whether every expected key is in body with an equal
// value. Extra keys in body are ignored.
func matchBody(body any, expected value.Object) bool {
	v, err := value.FromJSON(body)
	if err != nil {
		return false
	}
	obj, ok := v.(value.Object)
	if !ok {
		return false
	}
	for k, want := range expected {
		got, ok := obj[k]
		if !ok || !value.Equal(got, want) {
			return false
		}
	}
	return true
}

// assertRequestOrder checks that the labelled requests appear in the given
// order. Requests don't need to be consecutive.
func assertRequestOrder(trace []TraceEvent, assertion Assertion) error {
	// Find first position of each expected request
	positions := make(map[string]int)
	for i, event := range trace {
		label := event.Label()
		if slices.Contains(assertion.Requests, label) && positions[label] == 0 {
			positions[label] = i + 1 // 1-indexed for readability
		}
	}

	for _, label := range assertion.Requests {
		if positions[label] == 0 {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("all requests present: %v", assertion.Requests),
				Actual:   fmt.Sprintf("missing request: %s", label),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Requests); i++ {
		prev := assertion.Requests[i-1]
		curr := assertion.Requests[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("requests in order: %v", assertion.Requests),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertRequestCount checks the number of requests to method and path.
func assertRequestCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if requestMatches(event, assertion.Method, assertion.Path) {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d requests to %s %s", *assertion.Count, methodOrAny(assertion.Method), assertion.Path),
			Actual:   fmt.Sprintf("%d requests", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the objects stored by the emulator. The objects of
// the class are filtered by Where (exact values). With Expect, exactly one
// object must match and contain the expected values; otherwise the number
// of matches must equal Count.
func assertFinalState(ctx context.Context, st *devserver.Store, assertion Assertion) error {
	where, err := toValue(assertion.Where)
	if err != nil {
		return fmt.Errorf("final_state where: %w", err)
	}
	expect, err := toValue(assertion.Expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}

	rows, err := st.List(ctx, assertion.Class)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("read class %s", assertion.Class),
			Actual:   fmt.Sprintf("store error: %v", err),
		}
	}

	var matched []value.Object
	for _, row := range rows {
		obj := row.Object()
		if objectContains(obj, where) {
			matched = append(matched, obj)
		}
	}

	whereDesc := formatWhere(assertion.Where)
	if len(assertion.Expect) == 0 {
		if len(matched) != *assertion.Count {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%d objects in %s where %s", *assertion.Count, assertion.Class, whereDesc),
				Actual:   fmt.Sprintf("%d objects", len(matched)),
			}
		}
		return nil
	}

	switch len(matched) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("object in %s where %s", assertion.Class, whereDesc),
			Actual:   "object not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one object in %s where %s", assertion.Class, whereDesc),
			Actual:   "multiple objects matched (assertion is ambiguous)",
		}
	}

	obj := matched[0]
	want := expect.(value.Object)
	for _, key := range slices.Sorted(maps.Keys(want)) {
		got, ok := obj[key]
		if !ok {
			got = value.Null{}
		}
		if !value.Equal(got, want[key]) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %s", key, describe(want[key])),
				Actual:   fmt.Sprintf("field %q = %s", key, describe(got)),
			}
		}
	}
	return nil
}

// objectContains reports whether obj has every key of subset with an equal
// value. A null in subset matches a missing key.
func objectContains(obj value.Object, subset value.Value) bool {
	want, _ := subset.(value.Object)
	for k, v := range want {
		got, ok := obj[k]
		if !ok {
			got = value.Null{}
		}
		if !value.Equal(got, v) {
			return false
		}
	}
	return true
}

// formatWhere creates a human-readable description of where conditions.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := slices.Sorted(maps.Keys(where))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *devserver.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides emulator access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRequestContains:
			err = assertRequestContains(result.Trace, assertion)
		case AssertRequestOrder:
			err = assertRequestOrder(result.Trace, assertion)
		case AssertRequestCount:
			if assertion.Count == nil {
				err = fmt.Errorf("assertion[%d]: request_count requires count", i)
			} else {
				err = assertRequestCount(result.Trace, assertion)
			}
		case AssertFinalState:
			switch {
			case actx == nil || actx.Store == nil:
				err = fmt.Errorf("assertion[%d]: final_state requires a store", i)
			case len(assertion.Expect) == 0 && assertion.Count == nil:
				err = fmt.Errorf("assertion[%d]: final_state requires expect or count", i)
			default:
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
