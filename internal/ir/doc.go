// Package ir provides the constrained value types used to describe renderer
// calls in traces and in the call log.
//
// Every renderer call the bridge issues is recorded as a Call whose arguments
// are an IRObject. Arguments are restricted to strings, integers, booleans,
// arrays and objects so the canonical JSON form is stable across runs and
// platforms; call ids are content-addressed over that form.
//
// Key design constraints:
//   - NO float types (render settings are integers; opaque references are labels)
//   - Logical clocks (seq) only, never wall-clock timestamps
//   - All JSON tags use snake_case
//
// ir imports nothing internal.
package ir
