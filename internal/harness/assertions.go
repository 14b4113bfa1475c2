package harness

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/phosphoros/internal/ir"
	"github.com/roach88/phosphoros/internal/store"
)

// validIdentifier matches column names usable in a where clause.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Call trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nCall trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s session=%s handle=%d %s", event.Seq, event.Op, event.SessionID, event.Handle, event.Outcome)
			if event.Error != "" {
				fmt.Fprintf(&buf, " (%s)", event.Error)
			}
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// callsFor returns the call events, optionally restricted to one session.
func callsFor(trace []TraceEvent, session string) []TraceEvent {
	var out []TraceEvent
	for _, event := range trace {
		if event.Type != EventCall {
			continue
		}
		if session != "" && event.SessionID != session {
			continue
		}
		out = append(out, event)
	}
	return out
}

// assertTraceContains checks if the trace contains a call matching the op,
// args (subset match) and outcome.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	calls := callsFor(trace, assertion.Session)

	expected, err := ir.FromGo(orEmpty(assertion.Args))
	if err != nil {
		return fmt.Errorf("trace_contains args: %w", err)
	}
	expectedArgs, _ := expected.(ir.IRObject)

	for _, event := range calls {
		if string(event.Op) != assertion.Op {
			continue
		}
		if assertion.Outcome != "" && event.Outcome != assertion.Outcome {
			continue
		}
		if matchArgs(event.Args, expectedArgs) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("op %s with args %v%s", assertion.Op, assertion.Args, outcomeDesc(assertion.Outcome)),
		Actual:   "not found in trace",
		Trace:    calls,
	}
}

func outcomeDesc(outcome string) string {
	if outcome == "" {
		return ""
	}
	return " and outcome " + outcome
}

// assertTraceOrder checks that the listed ops appear in the trace as a
// subsequence. Intervening calls are allowed; repeated ops each need their
// own occurrence.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	calls := callsFor(trace, assertion.Session)

	next := 0
	for _, event := range calls {
		if next < len(assertion.Ops) && string(event.Op) == assertion.Ops[next] {
			next++
		}
	}

	if next < len(assertion.Ops) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
			Actual:   fmt.Sprintf("matched %v, then no %s", assertion.Ops[:next], assertion.Ops[next]),
			Trace:    calls,
		}
	}

	return nil
}

// assertTraceCount checks if the op appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	calls := callsFor(trace, assertion.Session)

	count := 0
	for _, event := range calls {
		if string(event.Op) == assertion.Op {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    calls,
		}
	}

	return nil
}

// stateTables are the store tables final_state may query.
var stateTables = []string{"calls", "sessions"}

// assertFinalState checks that exactly one row of a store table matches
// Where and carries the Expect values (subset semantics).
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	// Identifiers can't be parameterized; only the store's own tables are queryable.
	if !slices.Contains(stateTables, assertion.Table) {
		return fmt.Errorf("invalid table name %q: want one of %v", assertion.Table, stateTables)
	}

	// Build WHERE clause with parameterized SQL; values are never interpolated
	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err // Identifier validation failed
	}

	// Build SELECT query (table name validated above)
	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	// Execute query
	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	// Get column names
	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	// Scan the first row
	if !rows.Next() {
		// Row not found
		whereDesc := formatWhereClause(assertion.Where)
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	}

	// Prepare scan destinations
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Check for multiple matching rows (would indicate ambiguous assertion)
	if rows.Next() {
		whereDesc := formatWhereClause(assertion.Where)
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	// Build map of column -> value
	actualRow := make(map[string]interface{})
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	// Check each expected field (subset semantics - only check fields in Expect)
	for key, expectedValue := range assertion.Expect {
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	// Sort keys for deterministic query generation
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		// Validate column name to prevent SQL injection
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML scalar to a query argument.
func toSQLValue(v interface{}) interface{} {
	switch val := normalizeState(v).(type) {
	case string, int64, float64, nil:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	// Sort keys for deterministic output
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected value with a SQLite column value.
func stateValuesEqual(expected, actual interface{}) bool {
	return reflect.DeepEqual(normalizeState(expected), normalizeState(actual))
}

// normalizeState maps YAML and SQLite scalars onto one representation.
// YAML decodes small integers as int, SQLite returns int64 for INTEGER
// columns (booleans included) and may return TEXT as []byte.
func normalizeState(v interface{}) interface{} {
	switch val := v.(type) {
	case ir.IRValue:
		return normalizeState(ir.ToGo(val))
	case []byte:
		return string(val)
	case int:
		return int64(val)
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case float64:
		if val == math.Trunc(val) {
			return int64(val)
		}
	}
	return v
}

// matchArgs checks if actual args contain all expected args (subset match).
// Nested objects match by subset too, so a partial config can be asserted.
// Extra keys in actual are ignored.
func matchArgs(actual, expected ir.IRObject) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two IR values, recursing into objects with subset
// semantics.
func valuesEqual(actual, expected ir.IRValue) bool {
	if a, ok := actual.(ir.IRObject); ok {
		if e, ok := expected.(ir.IRObject); ok {
			return matchArgs(a, e)
		}
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Trace assertions see renderer calls only; flow steps are ignored.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
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
