package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/phosphoros/internal/ir"
)

// Scenario defines a conformance test scenario.
// Scenarios drive the host hooks in order and assert on the renderer calls
// they produce and on the final session states.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Context sets up the three context directories. Optional; by default all
	// three exist and the context is headless.
	Context *ContextSetup `yaml:"context,omitempty"`

	// Scene is the scene every engine renders. Optional.
	Scene *SceneSetup `yaml:"scene,omitempty"`

	// Settings overrides the default render settings. Validated against the
	// settings schema before the flow runs.
	Settings map[string]interface{} `yaml:"settings,omitempty"`

	// Fail injects backend faults from the start, keyed by op
	// (create, reset, render) with the error message as value.
	Fail map[string]string `yaml:"fail,omitempty"`

	// Flow contains the host hooks to drive, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// ContextSetup describes the context directories. Paths are relative to a
// fresh temporary root.
type ContextSetup struct {
	Headless *bool `yaml:"headless,omitempty"`

	// Missing lists directories not to create: install, resources, user_config.
	Missing []string `yaml:"missing,omitempty"`

	// NotDir lists directories to create as plain files instead.
	NotDir []string `yaml:"not_dir,omitempty"`
}

// SceneSetup is the initial scene.
type SceneSetup struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Lights int `yaml:"lights"`
}

// FlowStep represents one host hook.
type FlowStep struct {
	// Invoke is the hook: register, unregister, new_engine, update, render,
	// free, fail or heal.
	Invoke string `yaml:"invoke"`

	// Args contains the hook arguments. Most hooks take "engine", the name
	// given at new_engine.
	Args map[string]interface{} `yaml:"args"`

	// Expect specifies the expected outcome.
	// If nil, no validation is performed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a hook.
type ExpectClause struct {
	// Case is "ok" or an error code (e.g. "USE_AFTER_FREE").
	Case string `yaml:"case"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check an op appears in the trace with args
	// - "trace_order": Check ops appear in order
	// - "trace_count": Check an op appears exactly N times
	// - "final_state": Query a table and verify expected values
	Type string `yaml:"type"`

	// Op is the renderer op (used by trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Session restricts trace assertions to one session id. Optional.
	Session string `yaml:"session,omitempty"`

	// Args are the expected call arguments (used by trace_contains).
	// Subset match - only specified fields are validated.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Outcome is the expected call outcome, "ok" or "error"
	// (used by trace_contains). Optional.
	Outcome string `yaml:"outcome,omitempty"`

	// Table is the state table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Ops is the expected op order (used by trace_order).
	Ops []string `yaml:"ops,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Flow hooks.
const (
	InvokeRegister   = "register"
	InvokeUnregister = "unregister"
	InvokeNewEngine  = "new_engine"
	InvokeUpdate     = "update"
	InvokeRender     = "render"
	InvokeFree       = "free"
	InvokeFail       = "fail"
	InvokeHeal       = "heal"
)

// CaseOK is the expect case of a hook that returned no error.
const CaseOK = "ok"

var (
	contextDirs = []string{"install", "resources", "user_config"}
	faultOps    = []string{string(ir.OpInit), string(ir.OpCreate), string(ir.OpReset), string(ir.OpRender), string(ir.OpFree)}
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if c := s.Context; c != nil {
		for _, d := range append(slices.Clone(c.Missing), c.NotDir...) {
			if !slices.Contains(contextDirs, d) {
				return fmt.Errorf("context: unknown directory %q (want one of %v)", d, contextDirs)
			}
		}
	}

	if sc := s.Scene; sc != nil {
		if sc.Width <= 0 || sc.Height <= 0 {
			return fmt.Errorf("scene: width and height must be positive")
		}
		if sc.Lights < 0 {
			return fmt.Errorf("scene: lights must be non-negative")
		}
	}

	for op := range s.Fail {
		if !slices.Contains(faultOps, op) {
			return fmt.Errorf("fail: unknown op %q", op)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(i int, step *FlowStep) error {
	switch step.Invoke {
	case "":
		return fmt.Errorf("flow[%d]: invoke is required", i)
	case InvokeRegister, InvokeUnregister:
	case InvokeNewEngine, InvokeUpdate, InvokeRender, InvokeFree:
		if _, ok := step.Args["engine"].(string); !ok {
			return fmt.Errorf("flow[%d]: %s requires args.engine", i, step.Invoke)
		}
	case InvokeFail, InvokeHeal:
		op, _ := step.Args["op"].(string)
		if !slices.Contains(faultOps, op) {
			return fmt.Errorf("flow[%d]: %s requires args.op, one of %v", i, step.Invoke, faultOps)
		}
	default:
		return fmt.Errorf("flow[%d]: unknown invoke %q", i, step.Invoke)
	}

	if step.Expect != nil && step.Expect.Case == "" {
		return fmt.Errorf("flow[%d].expect: case is required", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
