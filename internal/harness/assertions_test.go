package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phosphoros/internal/ir"
	"github.com/roach88/phosphoros/internal/store"
)

func call(seq int64, op ir.Op, session string, args ir.IRObject) TraceEvent {
	return TraceEvent{Type: EventCall, Seq: seq, Op: op, SessionID: session, Handle: 1, Args: args, Outcome: ir.OutcomeOK}
}

func sampleTrace() []TraceEvent {
	config := ir.IRObject{
		"samples_per_pixel":    ir.IRInt(4),
		"paths_per_sample":     ir.IRInt(9),
		"max_path_depth":       ir.IRInt(9),
		"render_diffuse_scene": ir.IRBool(false),
	}
	failed := call(9, ir.OpRender, "session-1", ir.IRObject{"dependency_graph": ir.IRString("Depsgraph")})
	failed.Outcome = ir.OutcomeError
	failed.Error = "device lost"

	return []TraceEvent{
		{Type: EventStep, Seq: 1, Invoke: InvokeRegister, Case: CaseOK},
		call(2, ir.OpInit, "", ir.IRObject{"headless": ir.IRBool(true)}),
		{Type: EventStep, Seq: 3, Invoke: InvokeUpdate, Engine: "final", Case: CaseOK},
		call(4, ir.OpCreate, "session-1", ir.IRObject{
			"scene_data": ir.IRString("Scene"),
			"preview":    ir.IRBool(false),
			"config":     config,
		}),
		call(6, ir.OpCreate, "session-2", ir.IRObject{"scene_data": ir.IRString("Scene")}),
		call(7, ir.OpRender, "session-1", ir.IRObject{"dependency_graph": ir.IRString("Depsgraph")}),
		failed,
		call(11, ir.OpFree, "session-2", ir.IRObject{}),
	}
}

func TestAssertTraceContains_Found(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type: AssertTraceContains,
		Op:   "create",
		Args: map[string]interface{}{"scene_data": "Scene", "preview": false},
	})
	assert.NoError(t, err)
}

func TestAssertTraceContains_NestedSubset(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type: AssertTraceContains,
		Op:   "create",
		Args: map[string]interface{}{"config": map[string]interface{}{"samples_per_pixel": 4}},
	})
	assert.NoError(t, err)

	err = assertTraceContains(sampleTrace(), Assertion{
		Type: AssertTraceContains,
		Op:   "create",
		Args: map[string]interface{}{"config": map[string]interface{}{"samples_per_pixel": 9}},
	})
	assert.Error(t, err)
}

func TestAssertTraceContains_NotFound(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type: AssertTraceContains,
		Op:   "reset",
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, AssertTraceContains, assertErr.Type)
	assert.Contains(t, assertErr.Expected, "reset")
	assert.Equal(t, "not found in trace", assertErr.Actual)
}

func TestAssertTraceContains_WrongArgs(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type: AssertTraceContains,
		Op:   "create",
		Args: map[string]interface{}{"scene_data": "Other"},
	})
	assert.Error(t, err)
}

func TestAssertTraceContains_Outcome(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace(), Assertion{Op: "render", Outcome: ir.OutcomeError}))
	assert.NoError(t, assertTraceContains(sampleTrace(), Assertion{Op: "render", Outcome: ir.OutcomeOK}))
	assert.Error(t, assertTraceContains(sampleTrace(), Assertion{Op: "create", Outcome: ir.OutcomeError}))
}

func TestAssertTraceContains_Session(t *testing.T) {
	assert.NoError(t, assertTraceContains(sampleTrace(), Assertion{Op: "free", Session: "session-2"}))
	assert.Error(t, assertTraceContains(sampleTrace(), Assertion{Op: "free", Session: "session-1"}))
}

func TestAssertTraceContains_IgnoresSteps(t *testing.T) {
	// "update" is a step, never a call.
	assert.Error(t, assertTraceContains(sampleTrace(), Assertion{Op: "update"}))
}

func TestAssertTraceContains_FloatArgsRejected(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Op:   "create",
		Args: map[string]interface{}{"scale": 0.5},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")
}

func TestAssertTraceOrder(t *testing.T) {
	tests := []struct {
		name    string
		ops     []string
		session string
		wantErr string
	}{
		{name: "full order", ops: []string{"init", "create", "create", "render", "render", "free"}},
		{name: "gaps allowed", ops: []string{"init", "render", "free"}},
		{name: "one session", ops: []string{"create", "render", "render"}, session: "session-1"},
		{name: "wrong order", ops: []string{"free", "create"}, wantErr: "then no create"},
		{name: "repeats need their own occurrence", ops: []string{"free", "free"}, wantErr: "then no free"},
		{name: "missing op", ops: []string{"init", "reset"}, wantErr: "then no reset"},
		{name: "filtered session", ops: []string{"init"}, session: "session-1", wantErr: "then no init"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(sampleTrace(), Assertion{Type: AssertTraceOrder, Ops: tt.ops, Session: tt.session})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		session string
		count   int
		wantErr bool
	}{
		{name: "create twice", op: "create", count: 2},
		{name: "create per session", op: "create", session: "session-2", count: 1},
		{name: "never reset", op: "reset", count: 0},
		{name: "wrong count", op: "render", count: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceCount(sampleTrace(), Assertion{Type: AssertTraceCount, Op: tt.op, Session: tt.session, Count: tt.count})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "occurrences")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEvaluateAssertions_MultipleErrors(t *testing.T) {
	result := &Result{Trace: sampleTrace()}

	errors := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Op: "create"},
		{Type: AssertTraceContains, Op: "reset"},
		{Type: AssertTraceCount, Op: "init", Count: 3},
	}, nil)

	require.Len(t, errors, 2)
	assert.Contains(t, errors[0], "reset")
	assert.Contains(t, errors[1], "3 occurrences")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errors := EvaluateAssertions(&Result{}, []Assertion{{Type: "unknown_assertion_type"}}, nil)
	require.Len(t, errors, 1)
	assert.Contains(t, errors[0], "unknown assertion type")
}

func TestEvaluateAssertions_FinalStateNeedsStore(t *testing.T) {
	errors := EvaluateAssertions(&Result{}, []Assertion{{
		Type:   AssertFinalState,
		Table:  "sessions",
		Expect: map[string]interface{}{"state": "Freed"},
	}}, nil)
	require.Len(t, errors, 1)
	assert.Contains(t, errors[0], "requires database context")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceContains,
		Expected: "op reset with args map[]",
		Actual:   "not found in trace",
		Trace:    callsFor(sampleTrace(), ""),
	}

	errorStr := err.Error()
	assert.Contains(t, errorStr, "Assertion failed: trace_contains")
	assert.Contains(t, errorStr, "Expected: op reset")
	assert.Contains(t, errorStr, "Actual: not found in trace")
	assert.Contains(t, errorStr, "Call trace:")
	assert.Contains(t, errorStr, "[9] render session=session-1 handle=1 error (device lost)")
}

// Final State Assertion Tests

func TestBuildWhereClause_Empty(t *testing.T) {
	sql, args, err := buildWhereClause(nil)
	require.NoError(t, err)
	assert.Equal(t, "", sql)
	assert.Nil(t, args)
}

func TestBuildWhereClause_MultipleKeys_SortedDeterministic(t *testing.T) {
	where := map[string]interface{}{
		"state": "Freed",
		"owner": "final",
	}
	sql, args, err := buildWhereClause(where)
	require.NoError(t, err)
	assert.Equal(t, "owner = ? AND state = ?", sql)
	assert.Equal(t, []interface{}{"final", "Freed"}, args)
}

func TestBuildWhereClause_NoInterpolation(t *testing.T) {
	where := map[string]interface{}{
		"owner": "final'; DROP TABLE calls; --",
	}
	sql, args, err := buildWhereClause(where)
	require.NoError(t, err)
	assert.NotContains(t, sql, "final")
	assert.NotContains(t, sql, "DROP TABLE")
	assert.Contains(t, args, "final'; DROP TABLE calls; --")
}

func TestBuildWhereClause_InvalidColumnName(t *testing.T) {
	tests := []struct {
		name   string
		column string
	}{
		{"sql_injection", "owner; DROP TABLE calls; --"},
		{"starts_with_number", "1column"},
		{"contains_space", "updated seq"},
		{"contains_hyphen", "session-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := buildWhereClause(map[string]interface{}{tt.column: "value"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid column name")
		})
	}
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected interface{}
		actual   interface{}
		want     bool
	}{
		{"string", "Freed", "Freed", true},
		{"string mismatch", "Freed", "Synced", false},
		{"yaml int vs sqlite int64", 0, int64(0), true},
		{"int64", int64(3), int64(3), true},
		{"ir int", ir.IRInt(2), int64(2), true},
		{"bool stored as int", true, int64(1), true},
		{"false stored as int", false, int64(1), false},
		{"text as bytes", "final", []byte("final"), true},
		{"integral float", float64(2), int64(2), true},
		{"nil vs value", nil, "x", false},
		{"both nil", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestAssertFinalState(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.UpsertSession(ctx, ir.SessionRecord{ID: "session-1", Owner: "final", State: "Freed", Handle: 0, UpdatedSeq: 9}))
	require.NoError(t, st.UpsertSession(ctx, ir.SessionRecord{ID: "session-2", Owner: "viewport", State: "Synced", Handle: 2, UpdatedSeq: 10}))
	require.NoError(t, st.UpsertSession(ctx, ir.SessionRecord{ID: "session-3", Owner: "viewport", State: "Created", Handle: 3, UpdatedSeq: 11}))
	create := ir.Call{SessionID: "session-3", Op: ir.OpCreate, Handle: 7, Args: ir.IRObject{}, Outcome: ir.OutcomeOK, Seq: 5}
	create.ID = ir.MustCallID(create.SessionID, create.Op, create.Args, create.Seq)
	require.NoError(t, st.WriteCall(ctx, create))

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{
			name: "match",
			assertion: Assertion{
				Table:  "sessions",
				Where:  map[string]interface{}{"owner": "final"},
				Expect: map[string]interface{}{"state": "Freed", "handle": 0},
			},
		},
		{
			name: "value mismatch",
			assertion: Assertion{
				Table:  "sessions",
				Where:  map[string]interface{}{"id": "session-2"},
				Expect: map[string]interface{}{"state": "Freed"},
			},
			wantErr: `field "state" = Synced`,
		},
		{
			name: "row not found",
			assertion: Assertion{
				Table:  "sessions",
				Where:  map[string]interface{}{"owner": "nobody"},
				Expect: map[string]interface{}{"state": "Freed"},
			},
			wantErr: "row not found",
		},
		{
			name: "ambiguous",
			assertion: Assertion{
				Table:  "sessions",
				Where:  map[string]interface{}{"owner": "viewport"},
				Expect: map[string]interface{}{"state": "Synced"},
			},
			wantErr: "multiple rows matched",
		},
		{
			name: "unknown column",
			assertion: Assertion{
				Table:  "sessions",
				Where:  map[string]interface{}{"id": "session-1"},
				Expect: map[string]interface{}{"status": "Freed"},
			},
			wantErr: `field "status" not present`,
		},
		{
			name: "calls table",
			assertion: Assertion{
				Table:  "calls",
				Where:  map[string]interface{}{"op": "create"},
				Expect: map[string]interface{}{"handle": 7},
			},
		},
		{
			name: "invalid table",
			assertion: Assertion{
				Table:  "sessions; DROP TABLE calls",
				Expect: map[string]interface{}{"state": "Freed"},
			},
			wantErr: "invalid table name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertFinalState
			err := assertFinalState(ctx, st, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
