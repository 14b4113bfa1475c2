package harness

import "github.com/roach88/phosphoros/internal/ir"

// Trace event types.
const (
	EventStep = "step" // a host hook driven by the scenario
	EventCall = "call" // a renderer call the hook produced
)

// TraceEvent is one entry of a scenario trace: either a flow step or a
// renderer call. Call events carry the recorded call minus its content hash,
// so traces stay readable in golden files.
type TraceEvent struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`

	// Step fields.
	Invoke string `json:"invoke,omitempty"`
	Engine string `json:"engine,omitempty"`
	Case   string `json:"case,omitempty"`

	// Call fields.
	Op        ir.Op       `json:"op,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Handle    uint64      `json:"handle,omitempty"`
	Args      ir.IRObject `json:"args,omitempty"`
	Outcome   string      `json:"outcome,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains all steps and renderer calls in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Frames is the number of frames the renderer delivered.
	Frames int `json:"frames"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace adds a flow step to the trace.
func (r *Result) AddStepTrace(invoke, engineName, outcome string, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventStep,
		Seq:    seq,
		Invoke: invoke,
		Engine: engineName,
		Case:   outcome,
	})
}

// AddCallTrace adds a renderer call to the trace.
func (r *Result) AddCallTrace(c ir.Call) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:      EventCall,
		Seq:       c.Seq,
		Op:        c.Op,
		SessionID: c.SessionID,
		Handle:    c.Handle,
		Args:      c.Args,
		Outcome:   c.Outcome,
		Error:     c.Error,
	})
}

// Calls returns only the call events, in order.
func (r *Result) Calls() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventCall {
			out = append(out, e)
		}
	}
	return out
}
