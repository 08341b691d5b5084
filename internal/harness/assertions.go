package harness

import (
	"fmt"
	"strings"
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
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event.Message)
		}
	}
	return buf.String()
}

// matches reports whether event satisfies the message, category and
// contains filters of assertion. Empty filters match anything.
func matches(event TraceEvent, assertion Assertion) bool {
	if assertion.Message != "" && event.Message != assertion.Message {
		return false
	}
	if assertion.Category != "" && event.Category != assertion.Category {
		return false
	}
	if assertion.Contains != "" && !strings.Contains(event.Message, assertion.Contains) {
		return false
	}
	return true
}

// assertNotificationContains checks that some notification matches.
func assertNotificationContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertNotificationContains,
		Expected: describe(assertion),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertNotificationOrder checks that the messages appear in order.
// Messages don't need to be consecutive (intervening notifications are
// allowed).
func assertNotificationOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Messages) && event.Message == assertion.Messages[next] {
			next++
		}
	}
	if next == len(assertion.Messages) {
		return nil
	}

	return &AssertionError{
		Type:     AssertNotificationOrder,
		Expected: fmt.Sprintf("notifications in order: %q", assertion.Messages),
		Actual:   fmt.Sprintf("missing or out of order: %q", assertion.Messages[next]),
		Trace:    trace,
	}
}

// assertNotificationCount checks the exact number of matching notifications.
func assertNotificationCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertNotificationCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describe(assertion)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks one configuration value.
func assertFinalState(result *Result, assertion Assertion) error {
	key := assertion.Module + "." + assertion.Key
	got, ok := result.State[key]
	if ok && got == assertion.Value {
		return nil
	}

	actual := "not set"
	if ok {
		actual = fmt.Sprintf("%q", got)
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s = %q", key, assertion.Value),
		Actual:   actual,
	}
}

func assertFinalStatus(result *Result, assertion Assertion) error {
	if result.Status == assertion.Status {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalStatus,
		Expected: assertion.Status,
		Actual:   result.Status,
	}
}

func assertLogContains(result *Result, assertion Assertion) error {
	for _, line := range result.Logs {
		if strings.Contains(line, assertion.Contains) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertLogContains,
		Expected: fmt.Sprintf("log line containing %q", assertion.Contains),
		Actual:   fmt.Sprintf("%d lines, none matching", len(result.Logs)),
	}
}

func describe(a Assertion) string {
	var parts []string
	if a.Message != "" {
		parts = append(parts, fmt.Sprintf("message %q", a.Message))
	}
	if a.Category != "" {
		parts = append(parts, "category "+a.Category)
	}
	if a.Contains != "" {
		parts = append(parts, fmt.Sprintf("containing %q", a.Contains))
	}
	return strings.Join(parts, ", ")
}

// EvaluateAssertions runs all assertions against the result.
// Returns one error message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertNotificationContains:
			err = assertNotificationContains(result.Trace, assertion)
		case AssertNotificationOrder:
			err = assertNotificationOrder(result.Trace, assertion)
		case AssertNotificationCount:
			err = assertNotificationCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertFinalStatus:
			err = assertFinalStatus(result, assertion)
		case AssertLogContains:
			err = assertLogContains(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i+1, err))
		}
	}
	return errs
}
